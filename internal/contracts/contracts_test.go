package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/opensource-finance/tern/internal/cache"
	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/rules"
)

const validDoc = `{
	"id": "C1",
	"name": "Cabin promo",
	"version": "1",
	"currency": "EUR",
	"trigger_type": "FLOWN",
	"start_date": "2025-01-01",
	"end_date": "2025-12-31",
	"trigger_eligibility_criteria": {
		"IN":  {"Cabin": ["Economy"]},
		"OUT": {"Interline": true}
	},
	"addons": [{"id": "a1", "apply": "when_rejected", "trigger_eligibility_criteria": {"IN": {"RBD": ["Y"]}}}],
	"tiers": [{"tier": 1, "formula": "fare * 0.05"}, {"tier": 2, "fixed_amount": 10}]
}`

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("failed to create validator: %v", err)
	}
	return v
}

func TestValidate(t *testing.T) {
	v := newValidator(t)

	if err := v.Validate([]byte(validDoc)); err != nil {
		t.Fatalf("expected valid document, got: %v", err)
	}

	tests := []struct {
		name string
		doc  string
	}{
		{"MissingID", `{"name": "x"}`},
		{"BlankID", `{"id": "  "}`},
		{"NumericVersion", `{"id": "C", "version": 2}`},
		{"BadTriggerType", `{"id": "C", "trigger_type": "BOOKED"}`},
		{"BadDate", `{"id": "C", "start_date": "01/02/2025"}`},
		{"BadCurrency", `{"id": "C", "currency": "euro"}`},
		{"TierOutOfRange", `{"id": "C", "tiers": [{"tier": 11, "formula": "fare"}]}`},
		{"TierNotInteger", `{"id": "C", "tiers": [{"tier": 1.5, "formula": "fare"}]}`},
		{"BadApply", `{"id": "C", "addons": [{"id": "a", "apply": "sometimes"}]}`},
		{"BadTriggerComponent", `{"id": "C", "trigger_components": ["BASE", "FUEL"]}`},
		{"UnknownBlock", `{"id": "C", "trigger_eligibility_criteria": {"MAYBE": {}}}`},
		{"NotJSON", `{"id": `},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate([]byte(tt.doc))
			if !errors.Is(err, ErrSchema) {
				t.Errorf("expected ErrSchema, got: %v", err)
			}
		})
	}

	t.Run("ExtraFieldsAllowed", func(t *testing.T) {
		if err := v.Validate([]byte(`{"id": "C", "owner": "sales"}`)); err != nil {
			t.Errorf("expected extra fields to pass, got: %v", err)
		}
	})

	t.Run("NullBlocks", func(t *testing.T) {
		if err := v.Validate([]byte(`{"id": "C", "trigger_eligibility_criteria": {"IN": null, "OUT": null}}`)); err != nil {
			t.Errorf("expected null blocks to pass, got: %v", err)
		}
	})

	t.Run("NullOptionalFields", func(t *testing.T) {
		docs := []string{
			`{"id": "C", "tiers": [{"tier": 1, "formula": "fare * 0.05", "fixed_amount": null, "percent": null}]}`,
			`{"id": "C", "tiers": [{"tier": 1, "formula": null, "fixed_amount": 25}]}`,
			`{"id": "C", "name": null, "version": null, "currency": null, "start_date": null, "end_date": null}`,
			`{"id": "C", "addons": [{"id": "a", "apply": null, "grants": null}], "payout_eligibility_criteria": null}`,
		}
		for _, doc := range docs {
			if err := v.Validate([]byte(doc)); err != nil {
				t.Errorf("expected %s to pass, got: %v", doc, err)
			}
		}
	})
}

func TestDecode(t *testing.T) {
	v := newValidator(t)

	cfg, err := v.Decode([]byte(validDoc))
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if cfg.ID != "C1" || len(cfg.Tiers) != 2 || len(cfg.Addons) != 1 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if len(cfg.Criteria.In) != 1 || cfg.Criteria.In[0].Name != "Cabin" {
		t.Errorf("unexpected IN block: %+v", cfg.Criteria.In)
	}

	t.Run("NullTierFields", func(t *testing.T) {
		cfg, err := v.Decode([]byte(`{
			"id": "N1",
			"tiers": [
				{"tier": 1, "formula": "fare * 0.05", "fixed_amount": null},
				{"tier": 2, "formula": null, "fixed_amount": "12.5", "percent": null}
			]
		}`))
		if err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if len(cfg.Tiers) != 2 {
			t.Fatalf("expected 2 tiers, got %d", len(cfg.Tiers))
		}
		if cfg.Tiers[0].FixedAmount != nil || cfg.Tiers[0].Formula != "fare * 0.05" {
			t.Errorf("unexpected tier 1: %+v", cfg.Tiers[0])
		}
		if cfg.Tiers[1].Formula != "" || cfg.Tiers[1].Percent != nil {
			t.Errorf("unexpected tier 2: %+v", cfg.Tiers[1])
		}
		if cfg.Tiers[1].FixedAmount == nil || cfg.Tiers[1].FixedAmount.String() != "12.5" {
			t.Errorf("expected fixed amount 12.5, got %v", cfg.Tiers[1].FixedAmount)
		}

		catalog, report := rules.Compile([]*domain.ContractConfig{cfg}, rules.Options{})
		if report.Rejected != 0 || catalog.Len() != 1 {
			t.Errorf("expected null-bearing tiers to compile, got %+v", report.Errors)
		}
	})

	t.Run("PayoutAndTriggerFields", func(t *testing.T) {
		cfg, err := v.Decode([]byte(`{
			"id": "P1",
			"payout_eligibility_criteria": {"IN": {"RBD": ["Y"]}},
			"trigger_components": ["BASE", "YQ"],
			"trigger_cap": 500
		}`))
		if err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if cfg.PayoutCriteria == nil || len(cfg.PayoutCriteria.In) != 1 {
			t.Errorf("unexpected payout criteria: %+v", cfg.PayoutCriteria)
		}
		if len(cfg.TriggerComponents) != 2 || cfg.TriggerCap == nil || cfg.TriggerCap.String() != "500" {
			t.Errorf("unexpected trigger fields: %v %v", cfg.TriggerComponents, cfg.TriggerCap)
		}
	})
}

func TestParseDocuments(t *testing.T) {
	v := newValidator(t)

	t.Run("Array", func(t *testing.T) {
		data := `[` + validDoc + `, {"id": "BAD", "tiers": [{"tier": 0}]}, {"id": "C2"}]`
		configs, errs, err := v.ParseDocuments([]byte(data))
		if err != nil {
			t.Fatalf("failed to parse: %v", err)
		}
		if len(configs) != 2 || configs[0].ID != "C1" || configs[1].ID != "C2" {
			t.Errorf("expected C1 and C2 in order, got %d configs", len(configs))
		}
		if len(errs) != 1 {
			t.Fatalf("expected 1 schema error, got %d", len(errs))
		}
		if errs[0].ContractID != "BAD" || errs[0].Section != rules.SectionSchema || errs[0].Kind() != rules.KindSchema {
			t.Errorf("unexpected schema error: %+v", errs[0])
		}
	})

	t.Run("Wrapped", func(t *testing.T) {
		configs, errs, err := v.ParseDocuments([]byte(`{"contracts": [{"id": "W1"}]}`))
		if err != nil || len(errs) != 0 {
			t.Fatalf("unexpected failure: %v %v", err, errs)
		}
		if len(configs) != 1 || configs[0].ID != "W1" {
			t.Errorf("unexpected configs: %+v", configs)
		}
	})

	t.Run("Empty", func(t *testing.T) {
		configs, errs, err := v.ParseDocuments([]byte("  \n"))
		if err != nil || len(configs) != 0 || len(errs) != 0 {
			t.Errorf("expected nothing, got %v %v %v", configs, errs, err)
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		if _, _, err := v.ParseDocuments([]byte("id,name\n")); err == nil {
			t.Error("expected error for non-JSON input")
		}
	})
}

func TestLoadFile(t *testing.T) {
	v := newValidator(t)
	path := filepath.Join(t.TempDir(), "contracts.json")
	if err := os.WriteFile(path, []byte(`[`+validDoc+`]`), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	configs, errs, err := v.LoadFile(path)
	if err != nil || len(errs) != 0 || len(configs) != 1 {
		t.Fatalf("unexpected load result: %v %v %v", configs, errs, err)
	}

	if _, _, err := v.LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

// memRepo keeps contracts in memory and counts list calls.
type memRepo struct {
	mu        sync.Mutex
	order     []string
	contracts map[string]*domain.ContractConfig
	lists     int
}

func newMemRepo() *memRepo {
	return &memRepo{contracts: make(map[string]*domain.ContractConfig)}
}

func (r *memRepo) SaveContract(_ context.Context, cfg *domain.ContractConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.contracts[cfg.ID]; !ok {
		r.order = append(r.order, cfg.ID)
	}
	r.contracts[cfg.ID] = cfg
	return nil
}

func (r *memRepo) GetContract(_ context.Context, id string) (*domain.ContractConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.contracts[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return cfg, nil
}

func (r *memRepo) ListContracts(_ context.Context) ([]*domain.ContractConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
	out := make([]*domain.ContractConfig, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.contracts[id])
	}
	return out, nil
}

func (r *memRepo) DeleteContract(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.contracts, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *memRepo) SaveBatch(context.Context, *domain.BatchRun, []domain.OutputRecord) error {
	return nil
}
func (r *memRepo) GetBatch(context.Context, string) (*domain.BatchRun, error) { return nil, nil }
func (r *memRepo) ListBatchRecords(context.Context, string) ([]domain.StoredRecord, error) {
	return nil, nil
}
func (r *memRepo) Ping(context.Context) error { return nil }
func (r *memRepo) Close() error               { return nil }

func (r *memRepo) listCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lists
}

func TestStore(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	store := NewStore(repo, cache.NewLRUCache(10), time.Minute, nil)

	if err := store.Save(ctx, &domain.ContractConfig{ID: "A"}); err != nil {
		t.Fatalf("failed to save: %v", err)
	}

	t.Run("CachesSnapshot", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			configs, err := store.Contracts(ctx)
			if err != nil {
				t.Fatalf("failed to list: %v", err)
			}
			if len(configs) != 1 || configs[0].ID != "A" {
				t.Fatalf("unexpected contracts: %+v", configs)
			}
		}
		if n := repo.listCalls(); n != 1 {
			t.Errorf("expected 1 repository read, got %d", n)
		}
	})

	t.Run("SaveInvalidates", func(t *testing.T) {
		if err := store.Save(ctx, &domain.ContractConfig{ID: "B"}); err != nil {
			t.Fatalf("failed to save: %v", err)
		}
		configs, _ := store.Contracts(ctx)
		if len(configs) != 2 || configs[1].ID != "B" {
			t.Errorf("expected A, B after save, got %+v", configs)
		}
	})

	t.Run("DeleteInvalidates", func(t *testing.T) {
		if err := store.Delete(ctx, "A"); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		configs, _ := store.Contracts(ctx)
		if len(configs) != 1 || configs[0].ID != "B" {
			t.Errorf("expected only B after delete, got %+v", configs)
		}
	})

	t.Run("NoCache", func(t *testing.T) {
		plain := NewStore(repo, nil, 0, nil)
		before := repo.listCalls()
		_, _ = plain.Contracts(ctx)
		_, _ = plain.Contracts(ctx)
		if n := repo.listCalls() - before; n != 2 {
			t.Errorf("expected 2 repository reads without cache, got %d", n)
		}
	})
}

func TestSeed(t *testing.T) {
	ctx := context.Background()
	v := newValidator(t)
	repo := newMemRepo()
	store := NewStore(repo, cache.NewLRUCache(10), time.Minute, nil)

	path := filepath.Join(t.TempDir(), "seed.json")
	doc := `[` + validDoc + `, {"id": "BAD", "trigger_type": "LATER"}]`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	saved, schemaErrs, err := store.Seed(ctx, v, path)
	if err != nil {
		t.Fatalf("failed to seed: %v", err)
	}
	if saved != 1 || len(schemaErrs) != 1 || schemaErrs[0].ContractID != "BAD" {
		t.Errorf("expected 1 saved and BAD rejected, got %d %+v", saved, schemaErrs)
	}
	if _, err := repo.GetContract(ctx, "C1"); err != nil {
		t.Errorf("expected C1 stored: %v", err)
	}
}

// syncBus delivers published messages to subscribers inline.
type syncBus struct {
	mu        sync.Mutex
	handlers  map[string][]domain.MessageHandler
	published []string
}

func newSyncBus() *syncBus {
	return &syncBus{handlers: make(map[string][]domain.MessageHandler)}
}

func (b *syncBus) Publish(ctx context.Context, topic string, payload []byte) error {
	b.mu.Lock()
	b.published = append(b.published, topic)
	handlers := append([]domain.MessageHandler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, &domain.Message{Topic: topic, Payload: payload}); err != nil {
			return err
		}
	}
	return nil
}

func (b *syncBus) Subscribe(_ context.Context, topic string, h domain.MessageHandler) (domain.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
	return syncSub{topic: topic}, nil
}

func (b *syncBus) Request(context.Context, string, []byte) ([]byte, error) {
	return nil, errors.New("not supported")
}
func (b *syncBus) Ping(context.Context) error { return nil }
func (b *syncBus) Close() error               { return nil }

type syncSub struct{ topic string }

func (s syncSub) Unsubscribe() error { return nil }
func (s syncSub) Topic() string      { return s.topic }

type failingSource struct{}

func (failingSource) Contracts(context.Context) ([]*domain.ContractConfig, error) {
	return nil, errors.New("repository down")
}

func TestRefresher(t *testing.T) {
	ctx := context.Background()

	t.Run("RefreshLoadsAndPublishes", func(t *testing.T) {
		repo := newMemRepo()
		_ = repo.SaveContract(ctx, &domain.ContractConfig{ID: "A"})
		bus := newSyncBus()
		engine := rules.NewEngine(rules.Options{}, 2)

		r := NewRefresher(engine, NewStore(repo, nil, 0, nil), bus, nil, nil)
		report, err := r.Refresh(ctx)
		if err != nil {
			t.Fatalf("failed to refresh: %v", err)
		}
		if report.Loaded != 1 || engine.ContractsCount() != 1 {
			t.Errorf("expected 1 contract loaded, got %d/%d", report.Loaded, engine.ContractsCount())
		}
		if len(bus.published) != 1 || bus.published[0] != domain.TopicCatalogReloaded {
			t.Errorf("expected one reload event, got %v", bus.published)
		}
	})

	t.Run("FetchErrorKeepsCatalog", func(t *testing.T) {
		engine := rules.NewEngine(rules.Options{}, 2)
		engine.Load([]*domain.ContractConfig{{ID: "KEEP"}})

		r := NewRefresher(engine, failingSource{}, nil, nil, nil)
		if _, err := r.Refresh(ctx); err == nil {
			t.Fatal("expected refresh error")
		}
		if _, ok := engine.Catalog().Lookup("KEEP"); !ok {
			t.Error("expected previous catalog to stay active")
		}
	})

	t.Run("PeerReload", func(t *testing.T) {
		repo := newMemRepo()
		_ = repo.SaveContract(ctx, &domain.ContractConfig{ID: "A"})
		bus := newSyncBus()
		c := cache.NewLRUCache(10)

		engineA := rules.NewEngine(rules.Options{}, 2)
		engineB := rules.NewEngine(rules.Options{}, 2)
		a := NewRefresher(engineA, NewStore(repo, c, time.Minute, nil), bus, nil, nil)
		b := NewRefresher(engineB, NewStore(repo, c, time.Minute, nil), bus, nil, nil)

		if err := a.Listen(ctx); err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		if err := b.Listen(ctx); err != nil {
			t.Fatalf("failed to listen: %v", err)
		}
		defer a.Stop()
		defer b.Stop()

		if _, err := a.Refresh(ctx); err != nil {
			t.Fatalf("failed to refresh: %v", err)
		}
		if engineB.ContractsCount() != 1 {
			t.Errorf("expected peer to reload, got %d contracts", engineB.ContractsCount())
		}
		if len(bus.published) != 1 {
			t.Errorf("expected peer not to republish, got %v", bus.published)
		}
	})

	t.Run("ReloadedEventShape", func(t *testing.T) {
		bus := newSyncBus()
		var got ReloadedEvent
		_, _ = bus.Subscribe(ctx, domain.TopicCatalogReloaded, func(_ context.Context, msg *domain.Message) error {
			return json.Unmarshal(msg.Payload, &got)
		})

		r := NewRefresher(rules.NewEngine(rules.Options{}, 1), NewStore(newMemRepo(), nil, 0, nil), bus, nil, nil)
		if _, err := r.Refresh(ctx); err != nil {
			t.Fatalf("failed to refresh: %v", err)
		}
		if got.Instance != r.Instance() {
			t.Errorf("expected instance %s, got %s", r.Instance(), got.Instance)
		}
	})

	t.Run("Schedule", func(t *testing.T) {
		r := NewRefresher(rules.NewEngine(rules.Options{}, 1), NewStore(newMemRepo(), nil, 0, nil), nil, nil, nil)
		if err := r.Start(""); err != nil {
			t.Errorf("empty schedule should be a no-op, got: %v", err)
		}
		if err := r.Start("not a cron spec"); err == nil {
			t.Error("expected error for invalid schedule")
		}
		if err := r.Start("@every 1h"); err != nil {
			t.Fatalf("failed to start: %v", err)
		}
		r.Stop()
	})
}
