// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Ledger archives completed usage days to SQLite so quota history
// survives restarts and can be reported on.
type Ledger struct {
	db *sql.DB
}

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS usage_days (
	day      TEXT NOT NULL,
	model    TEXT NOT NULL,
	requests INTEGER NOT NULL,
	tokens   INTEGER NOT NULL,
	PRIMARY KEY (day, model)
);
CREATE INDEX IF NOT EXISTS idx_usage_days_day ON usage_days(day);
`

// OpenLedger opens (creating if needed) the usage ledger at path.
func OpenLedger(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(ledgerSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// Record upserts the final counters for one model on one day. Repeated
// archives of the same day accumulate, so a same-day restart does not
// lose earlier counts.
func (l *Ledger) Record(day, model string, requests, tokens int) error {
	_, err := l.db.Exec(`
		INSERT INTO usage_days (day, model, requests, tokens)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(day, model) DO UPDATE SET
			requests = requests + excluded.requests,
			tokens   = tokens + excluded.tokens`,
		day, model, requests, tokens)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// DayRow is one archived (day, model) usage entry.
type DayRow struct {
	Day      string `json:"day"`
	Model    string `json:"model"`
	Requests int    `json:"requests"`
	Tokens   int    `json:"tokens"`
}

// Summary returns the most recent archived days, newest first, capped
// at limit rows.
func (l *Ledger) Summary(ctx context.Context, limit int) ([]DayRow, error) {
	if limit <= 0 {
		limit = 30
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT day, model, requests, tokens
		FROM usage_days
		ORDER BY day DESC, model ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage summary: %w", err)
	}
	defer rows.Close()

	var out []DayRow
	for rows.Next() {
		var r DayRow
		if err := rows.Scan(&r.Day, &r.Model, &r.Requests, &r.Tokens); err != nil {
			return nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
