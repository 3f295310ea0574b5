package rules

import (
	"github.com/cockroachdb/apd/v3"
	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/formula"
)

// Evaluate runs every contract in the catalog against a coupon and returns
// one result per contract in catalog order.
func Evaluate(cat *Catalog, coupon *domain.Coupon) []domain.EvaluationResult {
	results := make([]domain.EvaluationResult, 0, len(cat.contracts))
	for _, c := range cat.contracts {
		results = append(results, evaluateContract(c, coupon, cat.precision))
	}
	return results
}

// EvaluateContract runs a single contract against a coupon.
func EvaluateContract(c *Contract, coupon *domain.Coupon, precision int) domain.EvaluationResult {
	return evaluateContract(c, coupon, precision)
}

func evaluateContract(c *Contract, coupon *domain.Coupon, precision int) domain.EvaluationResult {
	res := domain.EvaluationResult{
		CouponID:        coupon.ID(),
		ContractID:      c.ID,
		ContractName:    c.Name,
		ContractVersion: c.Version,
		PayoutReason:    domain.ReasonTriggerNotEligible,
	}
	if !c.Start.IsZero() {
		res.ContractStart = c.Start.Format(domain.DateLayout)
	}
	if !c.End.IsZero() {
		res.ContractEnd = c.End.Format(domain.DateLayout)
	}
	res.TriggerValue, res.TriggerAbsent = triggerValue(c, coupon)

	if !c.inWindow(coupon) {
		res.Reason = domain.ReasonContractWindow
		return res
	}

	v := ResolveAddons(c, coupon, Match(c.Criteria, coupon))
	res.Eligible = v.Eligible
	res.Reason = v.Reason
	res.AddonID = v.AddonID
	if !res.Eligible {
		return res
	}

	pv := payoutVerdict(c, coupon, v)
	res.PayoutEligible = pv.Eligible
	res.PayoutReason = pv.Reason
	res.Payouts = payouts(c, coupon, precision, pv.Eligible)
	return res
}

// payoutVerdict decides payout eligibility of a trigger-eligible coupon.
func payoutVerdict(c *Contract, coupon *domain.Coupon, trigger Verdict) Verdict {
	if c.PayoutFromTrigger {
		return trigger
	}
	return Match(c.Payout, coupon)
}

// triggerValue computes the capped trigger value, or the absent reason.
func triggerValue(c *Contract, coupon *domain.Coupon) (*apd.Decimal, string) {
	if c.Trigger == nil {
		return nil, ""
	}
	v, err := c.Trigger.Eval(coupon)
	if err != nil {
		return nil, formula.AbsentReason(err)
	}
	if c.TriggerCap != nil && v.Cmp(c.TriggerCap) > 0 {
		v = new(apd.Decimal).Set(c.TriggerCap)
	}
	q, err := formula.Quantize(v, TriggerPrecision)
	if err != nil {
		return nil, domain.AbsentArithmetic
	}
	return q, ""
}

// payouts computes every defined tier independently. Tiers are withheld
// when the payout criteria reject the coupon.
func payouts(c *Contract, coupon *domain.Coupon, precision int, payable bool) []domain.TierPayout {
	var out []domain.TierPayout
	for _, t := range c.Tiers {
		if t == nil {
			continue
		}
		if !payable {
			out = append(out, domain.TierPayout{Tier: t.Number, Percent: t.Percent, AbsentReason: domain.AbsentPayoutNotEligible})
			continue
		}
		out = append(out, computeTier(t, coupon, precision))
	}
	return out
}

func computeTier(t *Tier, coupon *domain.Coupon, precision int) domain.TierPayout {
	p := domain.TierPayout{Tier: t.Number, Percent: t.Percent}
	if t.Fixed != nil {
		p.Amount = new(apd.Decimal).Set(t.Fixed)
		return p
	}

	v, err := t.Program.Eval(coupon)
	if err != nil {
		p.AbsentReason = formula.AbsentReason(err)
		return p
	}
	q, err := formula.Quantize(v, precision)
	if err != nil {
		p.AbsentReason = domain.AbsentArithmetic
		return p
	}
	p.Amount = q
	return p
}
