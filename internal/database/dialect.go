package database

import (
	"database/sql"
	"strconv"
	"strings"
)

// dialect captures the few places SQLite and PostgreSQL differ.
type dialect struct {
	name string
	// schema is executed as one multi-statement Exec.
	schema string
	// lockRows is appended to cluster reads.
	lockRows string
	// advisoryLock takes a transaction-scoped lock on one text key; empty
	// when the engine already serialises writers.
	advisoryLock string
	txOptions    *sql.TxOptions
}

var sqliteDialect = dialect{
	name: "sqlite",
	schema: `
CREATE TABLE IF NOT EXISTS contacts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    phone_number TEXT,
    email TEXT,
    linked_id INTEGER,
    link_precedence TEXT NOT NULL CHECK(link_precedence IN ('primary', 'secondary')),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at DATETIME,
    FOREIGN KEY (linked_id) REFERENCES contacts(id)
);

CREATE INDEX IF NOT EXISTS idx_phone ON contacts(phone_number);
CREATE INDEX IF NOT EXISTS idx_email ON contacts(email);
CREATE INDEX IF NOT EXISTS idx_linked_id ON contacts(linked_id);
`,
}

var postgresDialect = dialect{
	name: "postgres",
	schema: `
CREATE TABLE IF NOT EXISTS contacts (
    id BIGSERIAL PRIMARY KEY,
    phone_number TEXT,
    email TEXT,
    linked_id BIGINT REFERENCES contacts(id),
    link_precedence TEXT NOT NULL CHECK(link_precedence IN ('primary', 'secondary')),
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    deleted_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_phone ON contacts(phone_number);
CREATE INDEX IF NOT EXISTS idx_email ON contacts(email);
CREATE INDEX IF NOT EXISTS idx_linked_id ON contacts(linked_id);
`,
	lockRows:     " FOR UPDATE",
	advisoryLock: `SELECT pg_advisory_xact_lock(hashtext($1))`,
	txOptions:    &sql.TxOptions{Isolation: sql.LevelReadCommitted},
}

// placeholders renders n numbered parameters starting at $start.
func placeholders(start, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("$")
		b.WriteString(strconv.Itoa(start + i))
	}
	return b.String()
}
