package rules

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/opensource-finance/tern/internal/criteria"
	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/formula"
)

// Block is a compiled IN/OUT pair. Order follows the contract document.
type Block struct {
	In  []*criteria.Compiled
	Out []*criteria.Compiled
}

// Addon is a compiled override rule.
type Addon struct {
	ID     string
	Name   string
	Apply  domain.AddonApply
	Grants bool
	Block  Block
}

// considered reports whether the addon runs given the base verdict.
func (a *Addon) considered(base Verdict) bool {
	switch a.Apply {
	case domain.ApplyWhenRejected:
		return !base.Eligible
	case domain.ApplyWhenEligible:
		return base.Eligible
	default:
		return true
	}
}

// Tier is one compiled payout slot.
type Tier struct {
	Number  int
	Fixed   *apd.Decimal
	Percent *apd.Decimal
	Program *formula.Program
}

// TriggerPrecision is the number of decimal places trigger values keep.
const TriggerPrecision = 4

// Contract is an immutable, validated contract.
type Contract struct {
	ID          string
	Name        string
	Version     string
	Currency    string
	TriggerType string
	Start       time.Time
	End         time.Time
	Criteria    Block
	Addons      []*Addon
	Tiers       [domain.MaxTiers]*Tier

	// Payout gates tier payouts. PayoutFromTrigger is set when the contract
	// has no payout criteria and the trigger verdict decides.
	Payout            Block
	PayoutFromTrigger bool

	// Trigger computes the trigger value; nil when none is defined.
	Trigger    *formula.Program
	TriggerCap *apd.Decimal

	config *domain.ContractConfig
}

// Config returns the document the contract was compiled from.
func (c *Contract) Config() *domain.ContractConfig { return c.config }

// TierCount returns the number of defined tiers.
func (c *Contract) TierCount() int {
	n := 0
	for _, t := range c.Tiers {
		if t != nil {
			n++
		}
	}
	return n
}

// inWindow reports whether the coupon's trigger date falls in the contract
// window. A coupon without the trigger date is treated as in window.
func (c *Contract) inWindow(coupon *domain.Coupon) bool {
	if c.Start.IsZero() && c.End.IsZero() {
		return true
	}
	attr := domain.AttrFlownDate
	if c.TriggerType == domain.TriggerSales {
		attr = domain.AttrSalesDate
	}
	d, ok := coupon.Date(attr)
	if !ok {
		return true
	}
	if !c.Start.IsZero() && d.Before(c.Start) {
		return false
	}
	if !c.End.IsZero() && d.After(c.End) {
		return false
	}
	return true
}

// compileContract validates a contract document. All problems are collected
// so one load report lists every defect of the contract.
func compileContract(cfg *domain.ContractConfig, opts Options) (*Contract, []*LoadError) {
	id := strings.TrimSpace(cfg.ID)
	var errs []*LoadError

	if id == "" {
		errs = append(errs, loadErrorf(id, SectionContract, "id", "contract id is required"))
	}

	c := &Contract{
		ID:          id,
		Name:        cfg.Name,
		Version:     cfg.Version,
		Currency:    cfg.Currency,
		TriggerType: strings.ToUpper(strings.TrimSpace(cfg.TriggerType)),
		config:      cfg,
	}
	if c.Name == "" {
		c.Name = id
	}

	switch c.TriggerType {
	case "":
		c.TriggerType = domain.TriggerFlown
	case domain.TriggerFlown, domain.TriggerSales:
	default:
		errs = append(errs, loadErrorf(id, SectionContract, "trigger_type", "unsupported trigger type %q", cfg.TriggerType))
	}

	var err *LoadError
	if c.Start, err = parseWindowDate(id, "start_date", cfg.StartDate); err != nil {
		errs = append(errs, err)
	}
	if c.End, err = parseWindowDate(id, "end_date", cfg.EndDate); err != nil {
		errs = append(errs, err)
	}
	if !c.Start.IsZero() && !c.End.IsZero() && c.End.Before(c.Start) {
		errs = append(errs, loadErrorf(id, SectionContract, "end_date", "end date %s precedes start date %s", cfg.EndDate, cfg.StartDate))
	}

	var blockErrs []*LoadError
	c.Criteria, blockErrs = compileBlock(id, "", cfg.Criteria)
	errs = append(errs, blockErrs...)

	if cfg.PayoutCriteria.IsEmpty() {
		c.PayoutFromTrigger = true
	} else {
		c.Payout, blockErrs = compileBlock(id, SectionPayout+".", *cfg.PayoutCriteria)
		errs = append(errs, blockErrs...)
	}

	var triggerErrs []*LoadError
	c.Trigger, c.TriggerCap, triggerErrs = compileTrigger(id, cfg)
	errs = append(errs, triggerErrs...)

	seenAddons := make(map[string]bool)
	for i := range cfg.Addons {
		a, addonErrs := compileAddon(id, i, &cfg.Addons[i])
		errs = append(errs, addonErrs...)
		if a == nil {
			continue
		}
		if seenAddons[a.ID] {
			errs = append(errs, loadErrorf(id, SectionAddon, a.ID, "duplicate addon id"))
			continue
		}
		seenAddons[a.ID] = true
		c.Addons = append(c.Addons, a)
	}

	for i := range cfg.Tiers {
		t, tierErr := compileTier(id, &cfg.Tiers[i], opts)
		if tierErr != nil {
			errs = append(errs, tierErr)
			continue
		}
		if c.Tiers[t.Number-1] != nil {
			errs = append(errs, loadErrorf(id, SectionTier, tierItem(t.Number), "tier defined more than once"))
			continue
		}
		c.Tiers[t.Number-1] = t
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return c, nil
}

func parseWindowDate(contractID, item, s string) (time.Time, *LoadError) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	t, ok := domain.AsDate(s)
	if !ok {
		return time.Time{}, loadErrorf(contractID, SectionContract, item, "invalid date %q, want YYYY-MM-DD", s)
	}
	return t, nil
}

// compileBlock compiles IN and OUT. Empty expected lists are dropped as
// unconstrained. prefix scopes sections for addons.
func compileBlock(contractID, prefix string, tc domain.TriggerCriteria) (Block, []*LoadError) {
	var (
		b    Block
		errs []*LoadError
	)
	compile := func(section string, entries domain.CriteriaBlock) []*criteria.Compiled {
		var out []*criteria.Compiled
		for _, e := range entries {
			cc, err := criteria.Compile(e.Name, e.Value)
			if errors.Is(err, criteria.ErrEmptySpec) {
				continue
			}
			if err != nil {
				errs = append(errs, &LoadError{ContractID: contractID, Section: prefix + section, Item: e.Name, Err: err})
				continue
			}
			out = append(out, cc)
		}
		return out
	}
	b.In = compile(SectionIn, tc.In)
	b.Out = compile(SectionOut, tc.Out)
	return b, errs
}

func compileAddon(contractID string, idx int, cfg *domain.AddonConfig) (*Addon, []*LoadError) {
	a := &Addon{
		ID:     strings.TrimSpace(cfg.ID),
		Name:   cfg.Name,
		Apply:  domain.AddonApply(strings.ToLower(strings.TrimSpace(string(cfg.Apply)))),
		Grants: cfg.GrantsEligibility(),
	}
	if a.ID == "" {
		a.ID = fmt.Sprintf("addon%d", idx+1)
	}

	var errs []*LoadError
	switch a.Apply {
	case "":
		a.Apply = domain.ApplyAlways
	case domain.ApplyAlways, domain.ApplyWhenRejected, domain.ApplyWhenEligible:
	default:
		errs = append(errs, loadErrorf(contractID, SectionAddon, a.ID, "unsupported apply policy %q", cfg.Apply))
	}

	var blockErrs []*LoadError
	a.Block, blockErrs = compileBlock(contractID, SectionAddon+":"+a.ID+".", cfg.Criteria)
	errs = append(errs, blockErrs...)
	if len(errs) > 0 {
		return nil, errs
	}
	return a, nil
}

func compileTier(contractID string, cfg *domain.TierConfig, opts Options) (*Tier, *LoadError) {
	item := tierItem(cfg.Tier)
	if cfg.Tier < 1 || cfg.Tier > domain.MaxTiers {
		return nil, loadErrorf(contractID, SectionTier, item, "tier must be between 1 and %d", domain.MaxTiers)
	}

	expr := strings.TrimSpace(cfg.Formula)
	hasFixed := cfg.FixedAmount != nil && strings.TrimSpace(cfg.FixedAmount.String()) != ""
	switch {
	case expr != "" && hasFixed:
		return nil, loadErrorf(contractID, SectionTier, item, "formula and fixed_amount are mutually exclusive")
	case expr == "" && !hasFixed:
		return nil, loadErrorf(contractID, SectionTier, item, "tier needs a formula or a fixed_amount")
	}

	t := &Tier{Number: cfg.Tier}
	if cfg.Percent != nil && strings.TrimSpace(cfg.Percent.String()) != "" {
		d, err := parseDecimal(cfg.Percent.String())
		if err != nil {
			return nil, loadErrorf(contractID, SectionTier, item, "invalid percent %q", cfg.Percent.String())
		}
		t.Percent = d
	}

	if hasFixed {
		d, err := parseDecimal(cfg.FixedAmount.String())
		if err != nil {
			return nil, loadErrorf(contractID, SectionTier, item, "invalid fixed_amount %q", cfg.FixedAmount.String())
		}
		if t.Fixed, err = formula.Quantize(d, opts.Precision); err != nil {
			return nil, loadErrorf(contractID, SectionTier, item, "fixed_amount %s: %v", d, err)
		}
		return t, nil
	}

	prog, err := formula.Compile(expr, formula.TierParams(t.Percent))
	if err != nil {
		return nil, &LoadError{ContractID: contractID, Section: SectionTier, Item: item, Err: err}
	}
	t.Program = prog
	return t, nil
}

// compileTrigger builds the trigger value program from the trigger formula,
// or from the summed trigger components when no formula is given.
func compileTrigger(contractID string, cfg *domain.ContractConfig) (*formula.Program, *apd.Decimal, []*LoadError) {
	var errs []*LoadError

	expr := strings.TrimSpace(cfg.TriggerFormula)
	item := "trigger_formula"
	if expr == "" && len(cfg.TriggerComponents) > 0 {
		item = "trigger_components"
		var (
			parts []string
			total bool
		)
		for _, comp := range cfg.TriggerComponents {
			switch name := strings.ToUpper(strings.TrimSpace(comp)); name {
			case "BASE", "YQ", "YR", "XT":
				parts = append(parts, name)
			case "NONE":
				total = true
			default:
				errs = append(errs, loadErrorf(contractID, SectionTrigger, item, "unknown trigger component %q", comp))
			}
		}
		if total {
			parts = []string{"TOTAL"}
		}
		expr = strings.Join(parts, " + ")
	}

	var capValue *apd.Decimal
	if cfg.TriggerCap != nil && strings.TrimSpace(cfg.TriggerCap.String()) != "" {
		d, err := parseDecimal(cfg.TriggerCap.String())
		if err != nil {
			errs = append(errs, loadErrorf(contractID, SectionTrigger, "trigger_cap", "invalid trigger_cap %q", cfg.TriggerCap.String()))
		}
		capValue = d
		if expr == "" && len(errs) == 0 {
			errs = append(errs, loadErrorf(contractID, SectionTrigger, "trigger_cap", "trigger_cap needs a trigger formula or components"))
		}
	}

	if len(errs) > 0 || expr == "" {
		return nil, nil, errs
	}

	prog, err := formula.Compile(expr, nil)
	if err != nil {
		return nil, nil, []*LoadError{{ContractID: contractID, Section: SectionTrigger, Item: item, Err: err}}
	}
	return prog, capValue, nil
}

func parseDecimal(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return nil, err
	}
	if d.Form != apd.Finite {
		return nil, fmt.Errorf("%s is not finite", s)
	}
	return d, nil
}

func tierItem(n int) string {
	return fmt.Sprintf("tier%d", n)
}
