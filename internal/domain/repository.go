// Package domain defines the core types and collaborator interfaces for tern.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for contract and batch persistence.
type Repository interface {
	// Contract documents, listed in catalog order.
	SaveContract(ctx context.Context, cfg *ContractConfig) error
	GetContract(ctx context.Context, id string) (*ContractConfig, error)
	ListContracts(ctx context.Context) ([]*ContractConfig, error)
	DeleteContract(ctx context.Context, id string) error

	// Batch runs and their output records, in input order.
	SaveBatch(ctx context.Context, run *BatchRun, records []OutputRecord) error
	GetBatch(ctx context.Context, id string) (*BatchRun, error)
	ListBatchRecords(ctx context.Context, batchID string) ([]StoredRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// StoredRecord is an output record as read back from storage.
type StoredRecord struct {
	BatchID            string           `json:"batchId"`
	Seq                int              `json:"seq"`
	CouponID           string           `json:"coupon_id"`
	Attributes         map[string]any   `json:"attributes"`
	AirlineEligibility bool             `json:"airline_eligibility"`
	ContractID         string           `json:"contract_id"`
	ContractName       string           `json:"contract_name"`
	ContractVersion    string           `json:"contract_version"`
	ContractStart      string           `json:"contract_start_date"`
	ContractEnd        string           `json:"contract_end_date"`
	Reason             string           `json:"trigger_eligibility_reason"`
	AddonID            string           `json:"addon_id"`
	TriggerValue       string           `json:"trigger_value"`
	PayoutEligibility  bool             `json:"payout_eligibility"`
	PayoutReason       string           `json:"payout_eligibility_reason"`
	Payouts            [MaxTiers]string `json:"tier_payouts"`
	Percents           [MaxTiers]string `json:"tier_percents"`
	ProcessingError    string           `json:"processing_error"`
	ProcessedAtUTC     time.Time        `json:"processed_time_utc"`
	ProcessedAtIST     string           `json:"processed_time_ist"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
