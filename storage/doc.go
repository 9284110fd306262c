// Package storage is the relational persistence layer. A single Store backs
// the trace, session, history and registry interfaces of package core, the
// banking ledger and the read-only query tool.
//
// SQLite (modernc.org/sqlite, pure Go) is the default backend; Postgres is
// reached through the pgx stdlib driver. Queries are written with '?'
// placeholders and rebound per dialect by sqlx. Timestamps are stored as
// unix milliseconds so both backends share one schema.
package storage
