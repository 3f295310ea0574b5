package explode

import (
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"
	"github.com/opensource-finance/tern/internal/domain"
)

var fixedNow = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestExplodeNoEligible(t *testing.T) {
	x := NewExploder(fixedClock)
	coupon := domain.NewCoupon("T1_1", nil)
	results := []domain.EvaluationResult{
		{ContractID: "A", Reason: "Cabin"},
		{ContractID: "B", Reason: "Interline"},
		{ContractID: "C", Reason: domain.ReasonContractWindow},
	}

	records := x.Explode(coupon, results)
	if len(records) != 1 {
		t.Fatalf("expected exactly 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.AirlineEligibility {
		t.Error("expected airline_eligibility=false")
	}
	if rec.ContractID != "" || rec.ContractName != "" || rec.Reason != "" || rec.AddonID != "" {
		t.Errorf("expected empty contract fields, got %+v", rec)
	}
	for i, p := range rec.Payouts {
		if p != "" {
			t.Errorf("expected empty tier%d payout, got %q", i+1, p)
		}
	}
	if rec.Coupon != coupon {
		t.Error("record should carry the coupon")
	}
}

func TestExplodeEligible(t *testing.T) {
	x := NewExploder(fixedClock)
	coupon := domain.NewCoupon("T1_1", nil)
	results := []domain.EvaluationResult{
		{ContractID: "A", ContractName: "Alpha", Eligible: true, Reason: domain.ReasonAllSatisfied,
			Payouts: []domain.TierPayout{
				{Tier: 1, Amount: apd.New(5000, -2)},
				{Tier: 2, AbsentReason: domain.AbsentDivisionByZero},
				{Tier: 10, Amount: apd.New(-125, -2)},
			}},
		{ContractID: "B", Reason: "RBD"},
		{ContractID: "C", Eligible: true, Reason: "addon:corp", AddonID: "corp"},
	}

	records := x.Explode(coupon, results)
	if len(records) != EligibleCount(results) {
		t.Fatalf("expected %d records, got %d", EligibleCount(results), len(records))
	}

	if records[0].ContractID != "A" || records[1].ContractID != "C" {
		t.Errorf("records out of catalog order: %s, %s", records[0].ContractID, records[1].ContractID)
	}

	a := records[0]
	if !a.AirlineEligibility {
		t.Error("expected airline_eligibility=true")
	}
	if a.Payouts[0] != "50.00" {
		t.Errorf("expected tier1 50.00, got %q", a.Payouts[0])
	}
	if a.Payouts[1] != "" {
		t.Errorf("absent tier should be empty, got %q", a.Payouts[1])
	}
	if a.Payouts[9] != "-1.25" {
		t.Errorf("expected tier10 -1.25, got %q", a.Payouts[9])
	}

	if records[1].AddonID != "corp" || records[1].Reason != "addon:corp" {
		t.Errorf("expected addon fields carried, got %+v", records[1])
	}
}

func TestExplodePayoutAndTriggerFields(t *testing.T) {
	x := NewExploder(fixedClock)
	results := []domain.EvaluationResult{
		{
			ContractID: "A", Eligible: true, Reason: domain.ReasonAllSatisfied,
			ContractStart: "2025-01-01", ContractEnd: "2025-12-31",
			PayoutEligible: true, PayoutReason: domain.ReasonAllSatisfied,
			TriggerValue: apd.New(11505000, -4),
			Payouts: []domain.TierPayout{
				{Tier: 1, Amount: apd.New(5000, -2), Percent: apd.New(5, 0)},
				{Tier: 2, AbsentReason: domain.AbsentDivisionByZero},
			},
		},
		{
			ContractID: "B", Eligible: true, Reason: domain.ReasonAllSatisfied,
			PayoutReason: "RBD", TriggerAbsent: domain.AbsentMissingField,
			Payouts: []domain.TierPayout{
				{Tier: 1, Percent: apd.New(125, -1), AbsentReason: domain.AbsentPayoutNotEligible},
			},
		},
	}

	records := x.Explode(domain.NewCoupon("1", nil), results)
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	a := records[0]
	if a.ContractStart != "2025-01-01" || a.ContractEnd != "2025-12-31" {
		t.Errorf("unexpected window %s..%s", a.ContractStart, a.ContractEnd)
	}
	if !a.PayoutEligibility || a.PayoutReason != domain.ReasonAllSatisfied {
		t.Errorf("unexpected payout fields %v/%s", a.PayoutEligibility, a.PayoutReason)
	}
	if a.TriggerValue != "1150.5000" {
		t.Errorf("expected trigger value 1150.5000, got %q", a.TriggerValue)
	}
	if a.Percents[0] != "5" || a.Percents[1] != "" {
		t.Errorf("unexpected percents %v", a.Percents)
	}
	if a.ProcessingError != "tier2:division_by_zero" {
		t.Errorf("unexpected processing error %q", a.ProcessingError)
	}

	b := records[1]
	if b.PayoutEligibility || b.PayoutReason != "RBD" || b.Payouts[0] != "" {
		t.Errorf("expected withheld payout, got %+v", b)
	}
	if b.Percents[0] != "12.5" {
		t.Errorf("expected withheld tier to keep its percent, got %q", b.Percents[0])
	}
	if b.ProcessingError != "trigger:missing_field" {
		t.Errorf("unexpected processing error %q", b.ProcessingError)
	}
}

func TestExplodeTimestamps(t *testing.T) {
	x := NewExploder(fixedClock)
	results := []domain.EvaluationResult{
		{ContractID: "A", Eligible: true},
		{ContractID: "B", Eligible: true},
	}

	records := x.Explode(domain.NewCoupon("1", nil), results)
	for _, rec := range records {
		if !rec.ProcessedAtUTC.Equal(fixedNow) || rec.ProcessedAtUTC.Location() != time.UTC {
			t.Errorf("unexpected UTC stamp %v", rec.ProcessedAtUTC)
		}
		if rec.ProcessedAtIST != "2025-03-02 01:30:00 +05:30" {
			t.Errorf("unexpected IST stamp %q", rec.ProcessedAtIST)
		}
	}
}

func TestExplodeDeterministic(t *testing.T) {
	x := NewExploder(fixedClock)
	coupon := domain.NewCoupon("1", nil)
	results := []domain.EvaluationResult{
		{ContractID: "A", Eligible: true, Payouts: []domain.TierPayout{{Tier: 3, Amount: apd.New(1, 0)}}},
		{ContractID: "B", Eligible: false},
	}

	first := x.Explode(coupon, results)
	for i := 0; i < 10; i++ {
		again := x.Explode(coupon, results)
		if len(again) != len(first) || again[0] != first[0] {
			t.Fatalf("explode is not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestNewExploderDefaultsClock(t *testing.T) {
	x := NewExploder(nil)
	if x.Now == nil {
		t.Fatal("expected default clock")
	}
}
