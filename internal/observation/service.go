package observation

import (
	"context"
	"log/slog"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/apperror"
)

// RetentionDays bounds the historical buffer used by market analysis.
const RetentionDays = 30

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Latest(ctx context.Context, productID, sourceID string) (*Observation, error) {
	return s.repo.Latest(ctx, productID, sourceID)
}

func (s *Service) History(ctx context.Context, productID string, days int) ([]Observation, error) {
	if productID == "" {
		return nil, apperror.New(apperror.BadRequest, "productId is required")
	}
	if days <= 0 || days > RetentionDays {
		days = RetentionDays
	}
	return s.repo.History(ctx, productID, days)
}

func (s *Service) CurrentCrossSection(ctx context.Context, productID string) ([]Observation, error) {
	if productID == "" {
		return nil, apperror.New(apperror.BadRequest, "productId is required")
	}
	return s.repo.LatestPerSource(ctx, productID)
}

// RunRetention periodically evicts observations older than RetentionDays.
// Blocks until ctx is cancelled.
func (s *Service) RunRetention(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -RetentionDays)
			n, err := s.repo.Prune(ctx, cutoff)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("retention: prune observations", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("retention: pruned observations", "count", n, "cutoff", cutoff.Format(time.RFC3339))
			}
		}
	}
}
