package rules

import (
	"github.com/opensource-finance/tern/internal/criteria"
	"github.com/opensource-finance/tern/internal/domain"
)

// Verdict is the eligibility decision for one contract and coupon.
type Verdict struct {
	Eligible bool
	Reason   string
	AddonID  string
}

// Match applies a block to a coupon. Every IN criterion must match; any
// matching OUT criterion rejects. The reason names the first firing OUT
// criterion, else the first failing IN criterion, in declared order.
func Match(b Block, coupon *domain.Coupon) Verdict {
	failedIn := ""
	for _, c := range b.In {
		if criteria.Evaluate(c, coupon) != criteria.Match {
			failedIn = c.Criterion.Name()
			break
		}
	}

	for _, c := range b.Out {
		if criteria.Evaluate(c, coupon) == criteria.Match {
			return Verdict{Eligible: false, Reason: c.Criterion.Name()}
		}
	}

	if failedIn != "" {
		return Verdict{Eligible: false, Reason: failedIn}
	}
	return Verdict{Eligible: true, Reason: domain.ReasonAllSatisfied}
}

// ResolveAddons lets the first matching addon, in declared order, replace
// the base verdict.
func ResolveAddons(c *Contract, coupon *domain.Coupon, base Verdict) Verdict {
	for _, a := range c.Addons {
		if !a.considered(base) {
			continue
		}
		if Match(a.Block, coupon).Eligible {
			return Verdict{
				Eligible: a.Grants,
				Reason:   domain.AddonReasonPrefix + a.ID,
				AddonID:  a.ID,
			}
		}
	}
	return base
}
