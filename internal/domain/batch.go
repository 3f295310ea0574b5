package domain

import (
	"encoding/json"
	"time"
)

// Batch run statuses.
const (
	BatchPending   = "PENDING"
	BatchCompleted = "COMPLETED"
	BatchFailed    = "FAILED"
)

// BatchRun is a persisted batch evaluation.
type BatchRun struct {
	ID            string          `json:"id"`
	InputName     string          `json:"inputName"`
	Status        string          `json:"status"`
	CouponCount   int             `json:"couponCount"`
	EligibleCount int             `json:"eligibleCount"`
	RecordCount   int             `json:"recordCount"`
	Error         string          `json:"error,omitempty"`
	Summary       json.RawMessage `json:"summary,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
}

// BatchRequest is the payload published for asynchronous batch runs.
type BatchRequest struct {
	BatchID   string          `json:"batchId"`
	InputName string          `json:"inputName"`
	Coupons   []CouponPayload `json:"coupons"`
}

// BatchCompletedEvent is published when a batch run finishes.
type BatchCompletedEvent struct {
	BatchID       string `json:"batchId"`
	Status        string `json:"status"`
	CouponCount   int    `json:"couponCount"`
	EligibleCount int    `json:"eligibleCount"`
	RecordCount   int    `json:"recordCount"`
	Error         string `json:"error,omitempty"`
}
