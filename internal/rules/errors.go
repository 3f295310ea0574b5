package rules

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/tern/internal/criteria"
	"github.com/opensource-finance/tern/internal/formula"
)

// Contract sections a load error can point at.
const (
	SectionSchema   = "schema"
	SectionContract = "contract"
	SectionIn       = "IN"
	SectionOut      = "OUT"
	SectionAddon    = "addon"
	SectionTier     = "tier"
	SectionPayout   = "payout"
	SectionTrigger  = "trigger"
)

// Load error kinds, used for reporting and metrics.
const (
	KindSchema        = "schema"
	KindCriterion     = "criterion"
	KindFormulaSyntax = "formula_syntax"
	KindFormulaField  = "formula_field"
	KindTier          = "tier"
	KindDuplicate     = "duplicate"
	KindInvalid       = "invalid"
)

// ErrDuplicateContract is recorded for a contract whose id was already loaded.
var ErrDuplicateContract = errors.New("duplicate contract id")

// LoadError describes why a contract was excluded from a catalog.
type LoadError struct {
	ContractID string
	Section    string
	Item       string
	Err        error
}

func (e *LoadError) Error() string {
	loc := e.Section
	if e.Item != "" {
		loc += "." + e.Item
	}
	return fmt.Sprintf("contract %s: %s: %v", e.ContractID, loc, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Kind classifies the underlying error.
func (e *LoadError) Kind() string {
	var (
		specErr   *criteria.SpecError
		syntaxErr *formula.SyntaxError
		fieldErr  *formula.FieldError
	)
	switch {
	case errors.As(e.Err, &specErr):
		return KindCriterion
	case errors.As(e.Err, &syntaxErr):
		return KindFormulaSyntax
	case errors.As(e.Err, &fieldErr):
		return KindFormulaField
	case errors.Is(e.Err, ErrDuplicateContract):
		return KindDuplicate
	case e.Section == SectionSchema:
		return KindSchema
	case e.Section == SectionTier:
		return KindTier
	default:
		return KindInvalid
	}
}

// MarshalJSON renders the error for catalog-load reports.
func (e *LoadError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ContractID string `json:"contract_id"`
		Section    string `json:"section"`
		Item       string `json:"item,omitempty"`
		Kind       string `json:"kind"`
		Message    string `json:"message"`
	}{e.ContractID, e.Section, e.Item, e.Kind(), e.Err.Error()})
}

func loadErrorf(contractID, section, item, format string, args ...any) *LoadError {
	return &LoadError{ContractID: contractID, Section: section, Item: item, Err: fmt.Errorf(format, args...)}
}
