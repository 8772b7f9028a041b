package migrations

import (
	"database/sql"

	"github.com/pressly/goose"
)

func init() {
	goose.AddMigration(upCreateClientsAndJobs, downCreateClientsAndJobs)
}

// Timestamps are unix milliseconds so the same DDL runs on Postgres and SQLite.
func upCreateClientsAndJobs(tx *sql.Tx) error {
	stmts := []string{
		`create table clients (
			id                 text primary key,
			full_name          text not null,
			contact_channel    text not null default '',
			contact_handle     text not null default '',
			timezone           text not null default '',
			portal_url         text not null,
			username           text not null,
			password           text not null,
			target_cities      text not null default '',
			target_months      text not null default '',
			auto_book          integer not null default 0,
			notes              text not null default '',
			monitoring_enabled integer not null default 1,
			last_check_at      bigint,
			last_result        text not null default '',
			created_at         bigint not null,
			updated_at         bigint not null
		)`,
		`create table jobs (
			id               text primary key,
			client_id        text not null,
			kind             text not null,
			payload          text not null,
			status           text not null,
			result           text,
			created_at       bigint not null,
			started_at       bigint,
			finished_at      bigint,
			lease_expires_at bigint
		)`,
		`create index jobs_claim_idx on jobs (status, created_at, id)`,
		`create index jobs_client_idx on jobs (client_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func downCreateClientsAndJobs(tx *sql.Tx) error {
	for _, stmt := range []string{`drop table jobs`, `drop table clients`} {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
