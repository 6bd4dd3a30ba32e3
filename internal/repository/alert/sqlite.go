package alert

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	domain "github.com/rishicmhs2026/revsnap-saas-sub000/internal/alert"
)

const timeFormat = time.RFC3339Nano

const defaultLimit = 50

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Save(ctx context.Context, a *domain.Alert) error {
	const query = `INSERT INTO alerts
		(id, product_id, source_id, old_price, new_price, change_percent, severity, triggered_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.ProductID, a.SourceID,
		a.OldPrice, a.NewPrice, a.ChangePercent, string(a.Severity),
		a.TriggeredAt.UTC().Format(timeFormat),
		a.CreatedAt.UTC().Format(timeFormat),
	)
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

// ListByProduct returns the product's alerts, newest first.
func (r *Repository) ListByProduct(ctx context.Context, productID string, limit int) ([]domain.Alert, error) {
	const query = `SELECT id, product_id, source_id, old_price, new_price, change_percent, severity, triggered_at, created_at
		FROM alerts
		WHERE product_id = ?
		ORDER BY triggered_at DESC, id DESC
		LIMIT ?`

	if limit <= 0 {
		limit = defaultLimit
	}

	rows, err := r.db.QueryContext(ctx, query, productID, limit)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var alerts []domain.Alert
	for rows.Next() {
		var (
			a            domain.Alert
			severity     string
			triggeredStr string
			createdStr   string
		)
		if err := rows.Scan(&a.ID, &a.ProductID, &a.SourceID,
			&a.OldPrice, &a.NewPrice, &a.ChangePercent, &severity,
			&triggeredStr, &createdStr); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = domain.Severity(severity)
		a.TriggeredAt, _ = time.Parse(timeFormat, triggeredStr)
		a.CreatedAt, _ = time.Parse(timeFormat, createdStr)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}
