package observation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	domain "github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
)

const timeFormat = time.RFC3339Nano

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

const observationColumns = `id, source_id, product_id, price, currency, available, rating, review_count, confidence, captured_at, created_at`

func (r *Repository) Save(ctx context.Context, o *domain.Observation) error {
	const query = `INSERT INTO observations
		(source_id, product_id, price, currency, available, rating, review_count, confidence, captured_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var rating sql.NullFloat64
	if o.Rating != nil {
		rating = sql.NullFloat64{Float64: *o.Rating, Valid: true}
	}
	var reviews sql.NullInt64
	if o.ReviewCount != nil {
		reviews = sql.NullInt64{Int64: *o.ReviewCount, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		o.SourceID, o.ProductID, o.Price, o.Currency, o.Available,
		rating, reviews, o.Confidence,
		o.CapturedAt.UTC().Format(timeFormat),
		o.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("save observation: %w", err)
	}

	o.ID, _ = res.LastInsertId()
	return nil
}

func (r *Repository) Latest(ctx context.Context, productID, sourceID string) (*domain.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM observations
		WHERE product_id = ? AND source_id = ?
		ORDER BY captured_at DESC, id DESC
		LIMIT 1`

	o, err := scanObservation(r.db.QueryRowContext(ctx, query, productID, sourceID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest observation: %w", err)
	}
	return &o, nil
}

func (r *Repository) History(ctx context.Context, productID string, days int) ([]domain.Observation, error) {
	query := `SELECT ` + observationColumns + ` FROM observations
		WHERE product_id = ? AND captured_at >= ?
		ORDER BY captured_at ASC, id ASC`

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	rows, err := r.db.QueryContext(ctx, query, productID, cutoff.Format(timeFormat))
	if err != nil {
		return nil, fmt.Errorf("observation history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectObservations(rows)
}

func (r *Repository) LatestPerSource(ctx context.Context, productID string) ([]domain.Observation, error) {
	// id is monotonic per insert, so MAX(id) per source is the newest
	// reading from that source.
	query := `SELECT ` + observationColumns + ` FROM observations
		WHERE id IN (
			SELECT MAX(id) FROM observations WHERE product_id = ? GROUP BY source_id
		)
		ORDER BY source_id ASC`

	rows, err := r.db.QueryContext(ctx, query, productID)
	if err != nil {
		return nil, fmt.Errorf("latest per source: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectObservations(rows)
}

func (r *Repository) Prune(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM observations WHERE captured_at < ?`

	res, err := r.db.ExecContext(ctx, query, before.UTC().Format(timeFormat))
	if err != nil {
		return 0, fmt.Errorf("prune observations: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObservation(row rowScanner) (domain.Observation, error) {
	var (
		o           domain.Observation
		rating      sql.NullFloat64
		reviews     sql.NullInt64
		capturedStr string
		createdStr  string
	)
	if err := row.Scan(&o.ID, &o.SourceID, &o.ProductID, &o.Price, &o.Currency,
		&o.Available, &rating, &reviews, &o.Confidence, &capturedStr, &createdStr); err != nil {
		return domain.Observation{}, err
	}
	if rating.Valid {
		o.Rating = &rating.Float64
	}
	if reviews.Valid {
		o.ReviewCount = &reviews.Int64
	}
	o.CapturedAt, _ = time.Parse(timeFormat, capturedStr)
	o.CreatedAt, _ = time.Parse(timeFormat, createdStr)
	return o, nil
}

func collectObservations(rows *sql.Rows) ([]domain.Observation, error) {
	var out []domain.Observation
	for rows.Next() {
		o, err := scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
