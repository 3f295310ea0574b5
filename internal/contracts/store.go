package contracts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/tern/internal/cache"
	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/rules"
)

// Store serves contract documents from the repository through a cached
// snapshot. It implements rules.ConfigSource.
type Store struct {
	repo   domain.Repository
	cache  domain.Cache
	ttl    time.Duration
	logger *slog.Logger
}

// NewStore creates a store. A nil cache reads the repository every time.
func NewStore(repo domain.Repository, c domain.Cache, ttl time.Duration, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, cache: c, ttl: ttl, logger: logger}
}

// Contracts returns the stored documents in catalog order.
func (s *Store) Contracts(ctx context.Context) ([]*domain.ContractConfig, error) {
	if s.cache != nil {
		var cached []*domain.ContractConfig
		found, err := cache.GetJSON(ctx, s.cache, domain.CacheKeyContracts, &cached)
		switch {
		case err != nil:
			s.logger.Warn("failed to read contract snapshot from cache", "error", err)
		case found:
			return cached, nil
		}
	}

	configs, err := s.repo.ListContracts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list contracts: %w", err)
	}

	if s.cache != nil {
		if err := cache.SetJSON(ctx, s.cache, domain.CacheKeyContracts, configs, s.ttl); err != nil {
			s.logger.Warn("failed to cache contract snapshot", "error", err)
		}
	}
	return configs, nil
}

// Get returns one stored document.
func (s *Store) Get(ctx context.Context, id string) (*domain.ContractConfig, error) {
	return s.repo.GetContract(ctx, id)
}

// Save stores a document and drops the cached snapshot.
func (s *Store) Save(ctx context.Context, cfg *domain.ContractConfig) error {
	if err := s.repo.SaveContract(ctx, cfg); err != nil {
		return fmt.Errorf("failed to save contract %s: %w", cfg.ID, err)
	}
	return s.Invalidate(ctx)
}

// Delete removes a document and drops the cached snapshot.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.repo.DeleteContract(ctx, id); err != nil {
		return fmt.Errorf("failed to delete contract %s: %w", id, err)
	}
	return s.Invalidate(ctx)
}

// Invalidate drops the cached snapshot so the next read hits the repository.
func (s *Store) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Delete(ctx, domain.CacheKeyContracts); err != nil {
		return fmt.Errorf("failed to invalidate contract snapshot: %w", err)
	}
	return nil
}

// Seed validates a contracts file and saves every schema-valid document.
// Documents failing the schema are returned and not saved.
func (s *Store) Seed(ctx context.Context, v *Validator, path string) (int, []*rules.LoadError, error) {
	configs, schemaErrs, err := v.LoadFile(path)
	if err != nil {
		return 0, nil, err
	}

	for _, cfg := range configs {
		if err := s.repo.SaveContract(ctx, cfg); err != nil {
			return 0, schemaErrs, fmt.Errorf("failed to seed contract %s: %w", cfg.ID, err)
		}
	}
	for _, le := range schemaErrs {
		s.logger.Warn("contract rejected by schema", "contract", le.ContractID, "error", le.Err)
	}

	s.logger.Info("seeded contracts", "path", path, "saved", len(configs), "rejected", len(schemaErrs))
	return len(configs), schemaErrs, s.Invalidate(ctx)
}
