package target

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/source"
)

const timeFormat = time.RFC3339Nano

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Save upserts on the (product, source) pair so re-registering a target
// refreshes its URL and reference price without duplicating rows.
func (r *Repository) Save(ctx context.Context, t *source.Target) error {
	const query = `INSERT INTO targets (id, org_id, product_id, source_id, url, your_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (product_id, source_id) DO UPDATE SET
			org_id = excluded.org_id,
			url = excluded.url,
			your_price = excluded.your_price`

	var yourPrice sql.NullFloat64
	if t.YourPrice != nil {
		yourPrice = sql.NullFloat64{Float64: *t.YourPrice, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		t.ID, t.OrgID, t.ProductID, t.SourceID, t.URL, yourPrice,
		t.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("save target: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context) ([]source.Target, error) {
	const query = `SELECT id, org_id, product_id, source_id, url, your_price, created_at
		FROM targets
		ORDER BY created_at ASC, id ASC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var targets []source.Target
	for rows.Next() {
		var (
			t          source.Target
			yourPrice  sql.NullFloat64
			createdStr string
		)
		if err := rows.Scan(&t.ID, &t.OrgID, &t.ProductID, &t.SourceID,
			&t.URL, &yourPrice, &createdStr); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		if yourPrice.Valid {
			t.YourPrice = &yourPrice.Float64
		}
		t.CreatedAt, _ = time.Parse(timeFormat, createdStr)
		targets = append(targets, t)
	}

	return targets, rows.Err()
}

func (r *Repository) DeleteByProduct(ctx context.Context, productID string) (int64, error) {
	const query = `DELETE FROM targets WHERE product_id = ?`

	res, err := r.db.ExecContext(ctx, query, productID)
	if err != nil {
		return 0, fmt.Errorf("delete targets: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
