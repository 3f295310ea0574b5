// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/tern/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
	now    func() time.Time
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	db, err := open(cfg)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
		now:    func() time.Time { return time.Now().UTC() },
	}

	if err := migrate(db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

// SaveContract inserts or replaces a contract document. A new contract goes
// to the end of the catalog; a replaced one keeps its position.
func (r *SQLRepository) SaveContract(ctx context.Context, cfg *domain.ContractConfig) error {
	if cfg == nil || strings.TrimSpace(cfg.ID) == "" {
		return fmt.Errorf("%w: contract id is required", ErrInvalidInput)
	}

	document, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	enabled := 0
	if cfg.IsEnabled() {
		enabled = 1
	}

	now := r.now()

	query := `
		INSERT INTO contracts (
			id, name, version, enabled, position, document, created_at, updated_at
		) VALUES (?, ?, ?, ?, (SELECT COALESCE(MAX(position), 0) + 1 FROM contracts), ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			version = excluded.version,
			enabled = excluded.enabled,
			document = excluded.document,
			updated_at = excluded.updated_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		cfg.ID, cfg.Name, cfg.Version, enabled,
		string(document), now, now,
	)
	return err
}

// GetContract retrieves a contract document by id.
func (r *SQLRepository) GetContract(ctx context.Context, id string) (*domain.ContractConfig, error) {
	query := `SELECT document FROM contracts WHERE id = ?`

	var document string
	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(&document)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var cfg domain.ContractConfig
	if err := json.Unmarshal([]byte(document), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse contract %s: %w", id, err)
	}
	return &cfg, nil
}

// ListContracts retrieves every contract document in catalog order,
// disabled ones included.
func (r *SQLRepository) ListContracts(ctx context.Context) ([]*domain.ContractConfig, error) {
	query := `SELECT id, document FROM contracts ORDER BY position`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.ContractConfig
	for rows.Next() {
		var id, document string
		if err := rows.Scan(&id, &document); err != nil {
			return nil, err
		}

		var cfg domain.ContractConfig
		if err := json.Unmarshal([]byte(document), &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse contract %s: %w", id, err)
		}
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// DeleteContract removes a contract document.
func (r *SQLRepository) DeleteContract(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM contracts WHERE id = ?`), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	return nil
}

// SaveBatch upserts a batch run and replaces its records in one transaction.
func (r *SQLRepository) SaveBatch(ctx context.Context, run *domain.BatchRun, records []domain.OutputRecord) (err error) {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: batch id is required", ErrInvalidInput)
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = r.now()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var summary sql.NullString
	if len(run.Summary) > 0 {
		summary = sql.NullString{String: string(run.Summary), Valid: true}
	}
	var completedAt sql.NullTime
	if run.CompletedAt != nil {
		completedAt = sql.NullTime{Time: run.CompletedAt.UTC(), Valid: true}
	}

	batchQuery := `
		INSERT INTO batches (
			id, input_name, status, coupon_count, eligible_count, record_count,
			error, summary, created_at, completed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			coupon_count = excluded.coupon_count,
			eligible_count = excluded.eligible_count,
			record_count = excluded.record_count,
			error = excluded.error,
			summary = excluded.summary,
			completed_at = excluded.completed_at
	`
	if _, err = tx.ExecContext(ctx, r.rebind(batchQuery),
		run.ID, run.InputName, run.Status,
		run.CouponCount, run.EligibleCount, run.RecordCount,
		run.Error, summary, run.CreatedAt.UTC(), completedAt,
	); err != nil {
		return fmt.Errorf("failed to save batch %s: %w", run.ID, err)
	}

	if _, err = tx.ExecContext(ctx, r.rebind(`DELETE FROM batch_records WHERE batch_id = ?`), run.ID); err != nil {
		return fmt.Errorf("failed to clear records of batch %s: %w", run.ID, err)
	}

	if len(records) > 0 {
		var stmt *sql.Stmt
		stmt, err = tx.PrepareContext(ctx, r.rebind(`
			INSERT INTO batch_records (
				batch_id, seq, coupon_id, coupon, airline_eligibility, contract_id,
				contract_name, contract_version, contract_start, contract_end, reason,
				addon_id, trigger_value, payout_eligibility, payout_reason, payouts,
				tier_percents, processing_error, processed_at, processed_ist
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`))
		if err != nil {
			return fmt.Errorf("failed to prepare record insert: %w", err)
		}
		defer stmt.Close()

		for i := range records {
			rec := &records[i]

			var payouts, percents []byte
			if payouts, err = json.Marshal(rec.Payouts); err != nil {
				return err
			}
			if percents, err = json.Marshal(rec.Percents); err != nil {
				return err
			}

			couponID := ""
			coupon := []byte("{}")
			if rec.Coupon != nil {
				couponID = rec.Coupon.ID()
				if coupon, err = json.Marshal(rec.Coupon.Payload().Attributes); err != nil {
					return fmt.Errorf("failed to encode coupon %s: %w", couponID, err)
				}
			}

			if _, err = stmt.ExecContext(ctx,
				run.ID, i, couponID, string(coupon), boolInt(rec.AirlineEligibility),
				rec.ContractID, rec.ContractName, rec.ContractVersion,
				rec.ContractStart, rec.ContractEnd, rec.Reason, rec.AddonID,
				rec.TriggerValue, boolInt(rec.PayoutEligibility), rec.PayoutReason,
				string(payouts), string(percents), rec.ProcessingError,
				rec.ProcessedAtUTC.UTC(), rec.ProcessedAtIST,
			); err != nil {
				return fmt.Errorf("failed to save record %d of batch %s: %w", i, run.ID, err)
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch %s: %w", run.ID, err)
	}
	return nil
}

// GetBatch retrieves a batch run by id.
func (r *SQLRepository) GetBatch(ctx context.Context, id string) (*domain.BatchRun, error) {
	query := `
		SELECT id, input_name, status, coupon_count, eligible_count, record_count,
			   error, summary, created_at, completed_at
		FROM batches
		WHERE id = ?
	`

	var run domain.BatchRun
	var errText, summary sql.NullString
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, r.rebind(query), id).Scan(
		&run.ID, &run.InputName, &run.Status,
		&run.CouponCount, &run.EligibleCount, &run.RecordCount,
		&errText, &summary, &run.CreatedAt, &completedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.Error = errText.String
	if summary.Valid {
		run.Summary = json.RawMessage(summary.String)
	}
	if completedAt.Valid {
		t := completedAt.Time.UTC()
		run.CompletedAt = &t
	}
	run.CreatedAt = run.CreatedAt.UTC()

	return &run, nil
}

// ListBatchRecords retrieves the records of a batch in input order.
func (r *SQLRepository) ListBatchRecords(ctx context.Context, batchID string) ([]domain.StoredRecord, error) {
	if _, err := r.GetBatch(ctx, batchID); err != nil {
		return nil, err
	}

	query := `
		SELECT batch_id, seq, coupon_id, coupon, airline_eligibility, contract_id,
			   contract_name, contract_version, contract_start, contract_end, reason,
			   addon_id, trigger_value, payout_eligibility, payout_reason, payouts,
			   tier_percents, processing_error, processed_at, processed_ist
		FROM batch_records
		WHERE batch_id = ?
		ORDER BY seq
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.StoredRecord
	for rows.Next() {
		var rec domain.StoredRecord
		var eligible, payable int
		var coupon, payouts, percents string

		if err := rows.Scan(
			&rec.BatchID, &rec.Seq, &rec.CouponID, &coupon, &eligible,
			&rec.ContractID, &rec.ContractName, &rec.ContractVersion,
			&rec.ContractStart, &rec.ContractEnd, &rec.Reason, &rec.AddonID,
			&rec.TriggerValue, &payable, &rec.PayoutReason, &payouts,
			&percents, &rec.ProcessingError,
			&rec.ProcessedAtUTC, &rec.ProcessedAtIST,
		); err != nil {
			return nil, err
		}

		rec.AirlineEligibility = eligible == 1
		rec.PayoutEligibility = payable == 1
		rec.ProcessedAtUTC = rec.ProcessedAtUTC.UTC()
		if err := json.Unmarshal([]byte(coupon), &rec.Attributes); err != nil {
			return nil, fmt.Errorf("failed to parse coupon of record %d: %w", rec.Seq, err)
		}
		if err := json.Unmarshal([]byte(payouts), &rec.Payouts); err != nil {
			return nil, fmt.Errorf("failed to parse payouts of record %d: %w", rec.Seq, err)
		}
		if err := json.Unmarshal([]byte(percents), &rec.Percents); err != nil {
			return nil, fmt.Errorf("failed to parse percents of record %d: %w", rec.Seq, err)
		}
		records = append(records, rec)
	}

	return records, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
