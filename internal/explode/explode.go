// Package explode flattens per-contract evaluation results into output
// records: one record per eligible contract, or a single empty record when
// nothing matched.
package explode

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/tern/internal/domain"
)

// ISTLayout is the rendering of the IST processing time.
const ISTLayout = "2006-01-02 15:04:05 -07:00"

// IST is India Standard Time, UTC+05:30 with no daylight saving.
var IST = time.FixedZone("IST", 5*3600+30*60)

// Exploder turns evaluation results into output records.
type Exploder struct {
	// Now is the clock records are stamped with. Defaults to time.Now.
	Now func() time.Time
}

// NewExploder creates an exploder using clock, or time.Now when clock is nil.
func NewExploder(clock func() time.Time) *Exploder {
	if clock == nil {
		clock = time.Now
	}
	return &Exploder{Now: clock}
}

// Explode emits the records for one coupon. All records share one instant.
func (x *Exploder) Explode(coupon *domain.Coupon, results []domain.EvaluationResult) []domain.OutputRecord {
	now := x.Now()
	utc := now.UTC()
	ist := now.In(IST).Format(ISTLayout)

	var records []domain.OutputRecord
	for i := range results {
		r := &results[i]
		if !r.Eligible {
			continue
		}
		rec := domain.OutputRecord{
			Coupon:             coupon,
			AirlineEligibility: true,
			ContractID:         r.ContractID,
			ContractName:       r.ContractName,
			ContractVersion:    r.ContractVersion,
			ContractStart:      r.ContractStart,
			ContractEnd:        r.ContractEnd,
			Reason:             r.Reason,
			AddonID:            r.AddonID,
			PayoutEligibility:  r.PayoutEligible,
			PayoutReason:       r.PayoutReason,
			ProcessingError:    processingError(r),
			ProcessedAtUTC:     utc,
			ProcessedAtIST:     ist,
		}
		if r.TriggerValue != nil {
			rec.TriggerValue = r.TriggerValue.Text('f')
		}
		for _, p := range r.Payouts {
			if p.Tier < 1 || p.Tier > domain.MaxTiers {
				continue
			}
			if p.Percent != nil {
				rec.Percents[p.Tier-1] = p.Percent.Text('f')
			}
			if p.Amount != nil {
				rec.Payouts[p.Tier-1] = p.Amount.Text('f')
			}
		}
		records = append(records, rec)
	}

	if len(records) == 0 {
		records = append(records, domain.OutputRecord{
			Coupon:         coupon,
			ProcessedAtUTC: utc,
			ProcessedAtIST: ist,
		})
	}
	return records
}

// processingError lists the values that could not be computed, such as
// "tier2:division_by_zero". Withheld tiers are not errors.
func processingError(r *domain.EvaluationResult) string {
	var parts []string
	if r.TriggerAbsent != "" {
		parts = append(parts, "trigger:"+r.TriggerAbsent)
	}
	for _, p := range r.Payouts {
		if p.Amount == nil && p.AbsentReason != "" && p.AbsentReason != domain.AbsentPayoutNotEligible {
			parts = append(parts, fmt.Sprintf("tier%d:%s", p.Tier, p.AbsentReason))
		}
	}
	return strings.Join(parts, "; ")
}

// EligibleCount returns how many results carry an eligible verdict.
func EligibleCount(results []domain.EvaluationResult) int {
	n := 0
	for _, r := range results {
		if r.Eligible {
			n++
		}
	}
	return n
}
