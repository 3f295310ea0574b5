package rules

import (
	"strings"
	"time"

	"github.com/opensource-finance/tern/internal/domain"
)

// DefaultPrecision is the number of decimal places payouts are rounded to.
const DefaultPrecision = 2

// wholeUnits marks an explicit precision of zero decimal places, since the
// zero value of Options selects DefaultPrecision.
const wholeUnits = -1

// Options control catalog compilation.
type Options struct {
	// Precision is the number of decimal places payouts are rounded to.
	// Zero selects DefaultPrecision; use WithPrecision(0) for whole units.
	Precision int
}

// WithPrecision returns options rounding payouts to n decimal places.
func WithPrecision(n int) Options {
	if n <= 0 {
		return Options{Precision: wholeUnits}
	}
	return Options{Precision: n}
}

func (o Options) withDefaults() Options {
	switch {
	case o.Precision == 0:
		o.Precision = DefaultPrecision
	case o.Precision < 0:
		o.Precision = 0
	}
	return o
}

// LoadReport summarizes a catalog compilation.
type LoadReport struct {
	Loaded   int          `json:"contracts_loaded"`
	Rejected int          `json:"contracts_rejected"`
	Skipped  int          `json:"contracts_skipped"`
	Errors   []*LoadError `json:"errors"`
	LoadedAt time.Time    `json:"loaded_at"`
}

// RejectedIDs returns the ids of contracts excluded by load errors, in
// first-error order.
func (r *LoadReport) RejectedIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, e := range r.Errors {
		if !seen[e.ContractID] {
			seen[e.ContractID] = true
			ids = append(ids, e.ContractID)
		}
	}
	return ids
}

// Reject records contracts excluded before compilation, such as documents
// that failed schema validation. Each distinct contract counts once.
func (r *LoadReport) Reject(errs ...*LoadError) {
	seen := make(map[string]bool)
	for _, e := range errs {
		if !seen[e.ContractID] {
			seen[e.ContractID] = true
			r.Rejected++
		}
		r.Errors = append(r.Errors, e)
	}
}

// ErrorKinds returns the kind of every load error, for metrics.
func (r *LoadReport) ErrorKinds() []string {
	kinds := make([]string, len(r.Errors))
	for i, e := range r.Errors {
		kinds[i] = e.Kind()
	}
	return kinds
}

// Catalog is an immutable, ordered set of compiled contracts. It is safe for
// concurrent use.
type Catalog struct {
	contracts []*Contract
	byID      map[string]*Contract
	precision int
	report    *LoadReport
}

// Compile validates and compiles contract documents in order. Invalid
// contracts are excluded and described in the report; disabled contracts
// are skipped.
func Compile(configs []*domain.ContractConfig, opts Options) (*Catalog, *LoadReport) {
	opts = opts.withDefaults()
	report := &LoadReport{Errors: []*LoadError{}, LoadedAt: time.Now().UTC()}
	cat := &Catalog{
		byID:      make(map[string]*Contract),
		precision: opts.Precision,
		report:    report,
	}

	for _, cfg := range configs {
		if cfg == nil {
			continue
		}
		if !cfg.IsEnabled() {
			report.Skipped++
			continue
		}

		c, errs := compileContract(cfg, opts)
		if len(errs) > 0 {
			report.Rejected++
			report.Errors = append(report.Errors, errs...)
			continue
		}
		if _, dup := cat.byID[c.ID]; dup {
			report.Rejected++
			report.Errors = append(report.Errors, &LoadError{ContractID: c.ID, Section: SectionContract, Item: "id", Err: ErrDuplicateContract})
			continue
		}

		cat.contracts = append(cat.contracts, c)
		cat.byID[c.ID] = c
		report.Loaded++
	}

	return cat, report
}

// EmptyCatalog returns a catalog with no contracts.
func EmptyCatalog() *Catalog {
	cat, _ := Compile(nil, Options{})
	return cat
}

// Contracts returns the compiled contracts in catalog order.
func (c *Catalog) Contracts() []*Contract {
	out := make([]*Contract, len(c.contracts))
	copy(out, c.contracts)
	return out
}

// Lookup returns a contract by id.
func (c *Catalog) Lookup(id string) (*Contract, bool) {
	ct, ok := c.byID[strings.TrimSpace(id)]
	return ct, ok
}

// Len returns the number of loaded contracts.
func (c *Catalog) Len() int { return len(c.contracts) }

// Precision returns the payout rounding precision.
func (c *Catalog) Precision() int { return c.precision }

// Report returns the load report the catalog was built with.
func (c *Catalog) Report() *LoadReport { return c.report }
