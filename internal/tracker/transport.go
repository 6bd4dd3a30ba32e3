package tracker

import "github.com/rishicmhs2026/revsnap-saas-sub000/internal/apperror"

// TargetSpec names one source to track a product against.
type TargetSpec struct {
	SourceID string `json:"sourceId"`
	URL      string `json:"url"`
}

type StartTrackingRequest struct {
	OrgID     string       `json:"orgId"`
	ProductID string       `json:"productId"`
	YourPrice *float64     `json:"yourPrice,omitempty"`
	Targets   []TargetSpec `json:"targets"`
}

func (r StartTrackingRequest) Validate() *apperror.AppError {
	if r.OrgID == "" {
		return apperror.New(apperror.BadRequest, "orgId is required")
	}
	if r.ProductID == "" {
		return apperror.New(apperror.BadRequest, "productId is required")
	}
	if len(r.Targets) == 0 {
		return apperror.New(apperror.BadRequest, "at least one target is required")
	}
	for _, t := range r.Targets {
		if t.SourceID == "" {
			return apperror.New(apperror.BadRequest, "target sourceId is required")
		}
	}
	if r.YourPrice != nil && *r.YourPrice <= 0 {
		return apperror.New(apperror.BadRequest, "yourPrice must be positive")
	}
	return nil
}

type ListJobsRequest struct {
	ProductID string
	OrgID     string
}

func (r ListJobsRequest) Validate() *apperror.AppError {
	return nil
}
