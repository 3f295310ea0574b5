package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MaxTiers is the number of payout tiers a contract may define.
const MaxTiers = 10

// Trigger types select the coupon date a contract window applies to.
const (
	TriggerFlown = "FLOWN"
	TriggerSales = "SALES"
)

// ContractConfig is a contract document as authored. It is validated and
// compiled once into a rules.Contract before any coupon is evaluated.
type ContractConfig struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Version     string          `json:"version,omitempty"`
	Currency    string          `json:"currency,omitempty"`
	TriggerType string          `json:"trigger_type,omitempty"`
	StartDate   string          `json:"start_date,omitempty"`
	EndDate     string          `json:"end_date,omitempty"`
	Enabled     *bool           `json:"enabled,omitempty"`
	Criteria    TriggerCriteria `json:"trigger_eligibility_criteria"`
	Addons      []AddonConfig   `json:"addons,omitempty"`
	Tiers       []TierConfig    `json:"tiers,omitempty"`

	// PayoutCriteria gates the tier payouts of a trigger-eligible coupon.
	// Without IN or OUT entries the trigger verdict applies.
	PayoutCriteria *TriggerCriteria `json:"payout_eligibility_criteria,omitempty"`

	// TriggerFormula computes the trigger value. Without a formula the
	// value is the sum of TriggerComponents.
	TriggerFormula    string       `json:"trigger_formula,omitempty"`
	TriggerComponents []string     `json:"trigger_components,omitempty"`
	TriggerCap        *json.Number `json:"trigger_cap,omitempty"`
}

// IsEnabled reports whether the contract takes part in evaluation.
// A contract without an explicit flag is enabled.
func (c *ContractConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TriggerCriteria holds the inclusion and exclusion blocks.
type TriggerCriteria struct {
	In  CriteriaBlock `json:"IN"`
	Out CriteriaBlock `json:"OUT"`
}

// IsEmpty reports whether neither block has entries.
func (tc *TriggerCriteria) IsEmpty() bool {
	return tc == nil || (len(tc.In) == 0 && len(tc.Out) == 0)
}

// TriggerComponentNames are the revenue components a trigger value may sum.
// NONE selects the total revenue.
var TriggerComponentNames = []string{"BASE", "YQ", "YR", "XT", "NONE"}

// CriterionEntry is one criterion name with its expected-value spec.
type CriterionEntry struct {
	Name  string
	Value any
}

// CriteriaBlock is an ordered criterion mapping. Declared order is kept so
// verdict reasons are stable.
type CriteriaBlock []CriterionEntry

// UnmarshalJSON decodes a JSON object keeping key order. Numbers decode as
// json.Number.
func (b *CriteriaBlock) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*b = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("criteria block must be an object")
	}

	var entries CriteriaBlock
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("criteria block key must be a string")
		}
		var value any
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("criterion %s: %w", key, err)
		}
		entries = append(entries, CriterionEntry{Name: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}

	*b = entries
	return nil
}

// MarshalJSON encodes the block as an object in declared order.
func (b CriteriaBlock) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range b {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Name)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(e.Value)
		if err != nil {
			return nil, fmt.Errorf("criterion %s: %w", e.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// AddonApply controls when an addon is considered.
type AddonApply string

const (
	ApplyAlways       AddonApply = "always"
	ApplyWhenRejected AddonApply = "when_rejected"
	ApplyWhenEligible AddonApply = "when_eligible"
)

// AddonConfig is a contract-scoped override rule.
type AddonConfig struct {
	ID       string          `json:"id"`
	Name     string          `json:"name,omitempty"`
	Apply    AddonApply      `json:"apply,omitempty"`
	Grants   *bool           `json:"grants,omitempty"`
	Criteria TriggerCriteria `json:"trigger_eligibility_criteria"`
}

// GrantsEligibility reports the verdict the addon imposes when it matches.
func (a *AddonConfig) GrantsEligibility() bool {
	return a.Grants == nil || *a.Grants
}

// TierConfig is one payout slot: a formula or a fixed amount.
type TierConfig struct {
	Tier        int          `json:"tier"`
	Formula     string       `json:"formula,omitempty"`
	FixedAmount *json.Number `json:"fixed_amount,omitempty"`
	Percent     *json.Number `json:"percent,omitempty"`
}
