package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/chw/followup/internal/domain/followup"
	"github.com/chw/followup/internal/platform/db"
)

// pgRunRepository stores runs in the followup_run table.
type pgRunRepository struct {
	conn db.Querier
}

func NewPGRunRepository(conn db.Querier) RunRepository {
	return &pgRunRepository{conn: conn}
}

const runCols = `id, reference_date, fingerprint, cached, created_at, result`

func (r *pgRunRepository) scanRun(row pgx.Row) (*Run, error) {
	var run Run
	var raw []byte
	if err := row.Scan(&run.ID, &run.ReferenceDate, &run.Fingerprint, &run.Cached, &run.CreatedAt, &raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	var res followup.Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", run.ID, err)
	}
	run.Result = &res
	return &run, nil
}

func (r *pgRunRepository) Save(ctx context.Context, run *Run) error {
	raw, err := json.Marshal(run.Result)
	if err != nil {
		return fmt.Errorf("encode run result: %w", err)
	}
	_, err = r.conn.Exec(ctx, `
		INSERT INTO followup_run (id, reference_date, fingerprint, cached, created_at, result)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, run.ReferenceDate, run.Fingerprint, run.Cached, run.CreatedAt, raw)
	return err
}

func (r *pgRunRepository) Get(ctx context.Context, id uuid.UUID) (*Run, error) {
	return r.scanRun(r.conn.QueryRow(ctx, `SELECT `+runCols+` FROM followup_run WHERE id = $1`, id))
}

func (r *pgRunRepository) Latest(ctx context.Context) (*Run, error) {
	return r.scanRun(r.conn.QueryRow(ctx, `SELECT `+runCols+` FROM followup_run ORDER BY created_at DESC LIMIT 1`))
}

// summaryResult projects only the parts of the stored result that a
// RunSummary reads, so listing never decodes per-visit detail.
const summaryResult = `jsonb_build_object(
	'active_workers', result->'active_workers',
	'fallback_used', result->'fallback_used',
	'distribution', result->'distribution',
	'unowned', result->'unowned',
	'diagnostics', jsonb_build_object(
		'matched', result#>'{diagnostics,matched}',
		'unmapped', result#>'{diagnostics,unmapped}'))`

// List returns runs newest first. Their Result holds only the summary fields.
func (r *pgRunRepository) List(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	var total int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM followup_run`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn.Query(ctx, `
		SELECT id, reference_date, fingerprint, cached, created_at, `+summaryResult+`
		FROM followup_run ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*Run
	for rows.Next() {
		run, err := r.scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, run)
	}
	return out, total, rows.Err()
}
