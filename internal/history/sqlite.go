// Package history indexes finished campaigns in a local SQLite database.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/shineum/mailmerge-lite/internal/evidence"
)

// ErrNoPath is returned by Open when no database file is given.
var ErrNoPath = errors.New("history database path is empty")

// Store is the campaign index. It serializes access over one connection.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database file at path, creating its parent
// directory when needed, in WAL mode with foreign keys enforced.
func Open(ctx context.Context, path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrNoPath
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create history directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureSchema creates the campaigns and deliveries tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS campaigns (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            directory TEXT NOT NULL UNIQUE,
            method TEXT NOT NULL,
            sender TEXT NOT NULL,
            subject TEXT NOT NULL,
            started_at INTEGER NOT NULL,
            finished_at INTEGER NOT NULL,
            total INTEGER NOT NULL,
            sent INTEGER NOT NULL,
            failed INTEGER NOT NULL
        );`,
		`CREATE TABLE IF NOT EXISTS deliveries (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            campaign_id INTEGER NOT NULL,
            email TEXT NOT NULL,
            status TEXT NOT NULL,
            message TEXT NOT NULL,
            provider_message_id TEXT,
            message_id TEXT,
            raw_sha256 TEXT,
            eml_path TEXT,
            sent_at INTEGER NOT NULL,
            FOREIGN KEY(campaign_id) REFERENCES campaigns(id) ON DELETE CASCADE
        );`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_campaign ON deliveries(campaign_id);`,
		`CREATE INDEX IF NOT EXISTS idx_deliveries_email ON deliveries(email);`,
		`CREATE INDEX IF NOT EXISTS idx_campaigns_started ON campaigns(started_at, id);`,
	}

	for _, statement := range statements {
		if _, err := s.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// RecordCampaign stores a finalized campaign summary and its ledger.
func (s *Store) RecordCampaign(ctx context.Context, summary evidence.Summary) (int64, error) {
	finished := summary.StartedAt
	if summary.FinishedAt != nil {
		finished = *summary.FinishedAt
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO campaigns
        (name, directory, method, sender, subject, started_at, finished_at, total, sent, failed)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		summary.Campaign,
		summary.Directory,
		summary.Method,
		summary.Sender,
		summary.Subject,
		summary.StartedAt.Unix(),
		finished.Unix(),
		summary.Total,
		summary.Sent,
		summary.Failed,
	)
	if err != nil {
		return 0, fmt.Errorf("insert campaign: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("campaign id: %w", err)
	}

	for _, e := range summary.Entries {
		_, err = tx.ExecContext(ctx, `INSERT INTO deliveries
            (campaign_id, email, status, message, provider_message_id, message_id, raw_sha256, eml_path, sent_at)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);`,
			id,
			e.Email,
			e.Status,
			e.Message,
			e.ProviderMessageID,
			e.MessageID,
			e.RawSHA256,
			e.EMLPath,
			e.Timestamp.Unix(),
		)
		if err != nil {
			return 0, fmt.Errorf("insert delivery: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit campaign: %w", err)
	}
	return id, nil
}

// ListCampaigns returns the most recent campaigns first.
func (s *Store) ListCampaigns(ctx context.Context, limit int) ([]Campaign, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, directory, method, sender, subject,
        started_at, finished_at, total, sent, failed
        FROM campaigns
        ORDER BY started_at DESC, id DESC
        LIMIT ?;`, limit)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []Campaign
	for rows.Next() {
		var c Campaign
		var started, finished int64
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.Directory,
			&c.Method,
			&c.Sender,
			&c.Subject,
			&started,
			&finished,
			&c.Total,
			&c.Sent,
			&c.Failed,
		); err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		c.StartedAt = time.Unix(started, 0)
		c.FinishedAt = time.Unix(finished, 0)
		campaigns = append(campaigns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	return campaigns, nil
}

// Deliveries returns the ledger of one campaign in send order.
func (s *Store) Deliveries(ctx context.Context, campaignID int64) ([]Delivery, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, campaign_id, email, status, message,
        COALESCE(provider_message_id, ''), COALESCE(message_id, ''), COALESCE(raw_sha256, ''),
        COALESCE(eml_path, ''), sent_at
        FROM deliveries
        WHERE campaign_id = ?
        ORDER BY id ASC;`, campaignID)
	if err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var deliveries []Delivery
	for rows.Next() {
		var d Delivery
		var sentAt int64
		if err := rows.Scan(
			&d.ID,
			&d.CampaignID,
			&d.Email,
			&d.Status,
			&d.Message,
			&d.ProviderMessageID,
			&d.MessageID,
			&d.RawSHA256,
			&d.EMLPath,
			&sentAt,
		); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		d.Timestamp = time.Unix(sentAt, 0)
		deliveries = append(deliveries, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list deliveries: %w", err)
	}
	return deliveries, nil
}
