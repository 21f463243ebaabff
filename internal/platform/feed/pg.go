package feed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/chw/followup/internal/platform/db"
)

// PGSource reads the feeds from the tables created by 001_feeds.sql.
type PGSource struct {
	conn   db.Querier
	logger zerolog.Logger
}

func NewPGSource(conn db.Querier, logger zerolog.Logger) *PGSource {
	return &PGSource{conn: conn, logger: logger}
}

func (s *PGSource) Load(ctx context.Context) (*Bundle, error) {
	b := &Bundle{}

	regs, err := queryPayloads[registrationWire](ctx, s.conn,
		`SELECT id, payload FROM registration_submission ORDER BY received_at, id`, s.logger)
	if err != nil {
		return nil, fmt.Errorf("load registrations: %w", err)
	}
	for _, w := range regs {
		b.Registrations = append(b.Registrations, w.model())
	}

	events, err := queryPayloads[completionWire](ctx, s.conn,
		`SELECT id, payload FROM completion_event ORDER BY received_at, id`, s.logger)
	if err != nil {
		return nil, fmt.Errorf("load completions: %w", err)
	}
	for _, w := range events {
		b.Completions = append(b.Completions, w.model())
	}

	rows, err := s.conn.Query(ctx, `SELECT username FROM active_worker ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("load active workers: %w", err)
	}
	b.ActiveWorkers, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan active workers: %w", err)
	}

	return b, nil
}

func queryPayloads[W any](ctx context.Context, conn db.Querier, sql string, logger zerolog.Logger) ([]W, error) {
	rows, err := conn.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []W
	for rows.Next() {
		var id int64
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		var w W
		if err := json.Unmarshal(payload, &w); err != nil {
			logger.Warn().Int64("id", id).Err(err).Msg("skipping undecodable feed payload")
			continue
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// PGWriter stores feed bundles.
type PGWriter struct {
	db db.TxBeginner
}

func NewPGWriter(conn db.TxBeginner) *PGWriter {
	return &PGWriter{db: conn}
}

// ImportStats counts the rows written by Import.
type ImportStats struct {
	Registrations int `json:"registrations"`
	Completions   int `json:"completions"`
	ActiveWorkers int `json:"active_workers"`
}

// Import appends a bundle in one transaction. When the bundle carries an
// allowlist it replaces the stored one.
func (w *PGWriter) Import(ctx context.Context, b *Bundle) (ImportStats, error) {
	var stats ImportStats

	tx, err := w.db.Begin(ctx)
	if err != nil {
		return stats, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for i := range b.Registrations {
		r := &b.Registrations[i]
		if err := insertPayload(ctx, tx, "registration_submission", r.ID, r.Worker, r); err != nil {
			return stats, err
		}
		stats.Registrations++
	}
	for i := range b.Completions {
		e := &b.Completions[i]
		if err := insertPayload(ctx, tx, "completion_event", e.ID, e.Worker, e); err != nil {
			return stats, err
		}
		stats.Completions++
	}

	if len(b.ActiveWorkers) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM active_worker`); err != nil {
			return stats, fmt.Errorf("clear active workers: %w", err)
		}
		for _, name := range b.ActiveWorkers {
			if _, err := tx.Exec(ctx,
				`INSERT INTO active_worker (username) VALUES ($1) ON CONFLICT (username) DO NOTHING`, name); err != nil {
				return stats, fmt.Errorf("insert active worker: %w", err)
			}
			stats.ActiveWorkers++
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return stats, fmt.Errorf("commit import: %w", err)
	}
	return stats, nil
}

func insertPayload(ctx context.Context, tx pgx.Tx, table, sourceID, worker string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", table, err)
	}
	var src interface{}
	if sourceID != "" {
		src = sourceID
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO `+table+` (source_id, worker, payload) VALUES ($1, $2, $3)`,
		src, worker, payload); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}
