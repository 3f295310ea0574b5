package domain

import (
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Verdict reasons that are not criterion names.
const (
	ReasonAllSatisfied   = "all_criteria_satisfied"
	ReasonContractWindow = "contract_window"
	AddonReasonPrefix    = "addon:"

	// ReasonTriggerNotEligible is the payout reason of a coupon the trigger
	// criteria rejected.
	ReasonTriggerNotEligible = "trigger_not_eligible"
)

// Absent tier reasons.
const (
	AbsentDivisionByZero = "division_by_zero"
	AbsentMissingField   = "missing_field"
	AbsentNotNumeric     = "not_numeric"
	AbsentArithmetic     = "arithmetic"

	// AbsentPayoutNotEligible marks tiers withheld by the payout criteria.
	AbsentPayoutNotEligible = "payout_not_eligible"
)

// TierPayout is the computed payout of one defined tier. A nil Amount is an
// explicit absent value, never zero.
type TierPayout struct {
	Tier         int          `json:"tier"`
	Amount       *apd.Decimal `json:"amount"`
	Percent      *apd.Decimal `json:"percent,omitempty"`
	AbsentReason string       `json:"absentReason,omitempty"`
}

// EvaluationResult is the outcome of one contract against one coupon.
type EvaluationResult struct {
	CouponID        string       `json:"couponId"`
	ContractID      string       `json:"contractId"`
	ContractName    string       `json:"contractName"`
	ContractVersion string       `json:"contractVersion,omitempty"`
	Eligible        bool         `json:"eligible"`
	Reason          string       `json:"reason"`
	AddonID         string       `json:"addonId,omitempty"`
	Payouts         []TierPayout `json:"payouts,omitempty"`

	ContractStart string `json:"contractStart,omitempty"`
	ContractEnd   string `json:"contractEnd,omitempty"`

	PayoutEligible bool   `json:"payoutEligible"`
	PayoutReason   string `json:"payoutReason"`

	// TriggerValue is nil when the contract defines no trigger value or it
	// could not be computed; TriggerAbsent carries the reason in that case.
	TriggerValue  *apd.Decimal `json:"triggerValue,omitempty"`
	TriggerAbsent string       `json:"triggerAbsentReason,omitempty"`
}

// Payout returns the payout of tier n (1-based) and whether the tier is defined.
func (r *EvaluationResult) Payout(n int) (TierPayout, bool) {
	for _, p := range r.Payouts {
		if p.Tier == n {
			return p, true
		}
	}
	return TierPayout{}, false
}

// EvaluateReply answers an evaluation requested over the event bus. Error is
// set instead of results when the coupon could not be evaluated.
type EvaluateReply struct {
	CouponID string             `json:"coupon_id"`
	Results  []EvaluationResult `json:"results"`
	Records  []OutputRecord     `json:"records"`
	Error    string             `json:"error,omitempty"`
}

// OutputRecord is one flattened output row: a coupon plus at most one
// eligible contract. Contract fields are empty strings when nothing matched.
type OutputRecord struct {
	Coupon             *Coupon          `json:"coupon"`
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
