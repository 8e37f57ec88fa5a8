// Package dbtest starts a disposable Postgres for tests built with the
// integration tag. Set OPD_TEST_DATABASE_URL to reuse an existing database
// instead of starting a container. Tests truncate the tables, so a shared
// database needs go test -p 1.
package dbtest
