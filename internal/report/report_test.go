package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/apd/v3"

	"github.com/opensource-finance/tern/internal/batch"
	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/explode"
	"github.com/opensource-finance/tern/internal/rules"
)

var fixedNow = time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)

func mustDecimal(t *testing.T, s string) *apd.Decimal {
	t.Helper()
	d, _, err := apd.NewFromString(s)
	if err != nil {
		t.Fatalf("failed to parse decimal %s: %v", s, err)
	}
	return d
}

func sampleOutcomes(t *testing.T) []batch.Outcome {
	t.Helper()
	x := explode.NewExploder(func() time.Time { return fixedNow })

	eligible := domain.NewCoupon("T1_1", map[string]any{
		domain.AttrTicketNumber: "T1",
		domain.AttrCouponNumber: "1",
		domain.AttrAirlineCode:  "XX",
		domain.AttrOrigin:       "DEL",
		domain.AttrDestination:  "BOM",
		domain.AttrFlownDate:    time.Date(2025, 2, 14, 0, 0, 0, 0, time.UTC),
	})
	eligibleResults := []domain.EvaluationResult{
		{
			CouponID:     "T1_1",
			ContractID:   "C1",
			ContractName: "Cabin promo",
			Eligible:       true,
			Reason:         domain.ReasonAllSatisfied,
			ContractStart:  "2025-01-01",
			ContractEnd:    "2025-12-31",
			PayoutEligible: true,
			PayoutReason:   domain.ReasonAllSatisfied,
			TriggerValue:   mustDecimal(t, "1150.5000"),
			Payouts: []domain.TierPayout{
				{Tier: 1, Amount: mustDecimal(t, "50.00"), Percent: mustDecimal(t, "5")},
				{Tier: 2, AbsentReason: domain.AbsentDivisionByZero},
			},
		},
		{CouponID: "T1_1", ContractID: "C2", ContractName: "Interline", Reason: "Interline"},
	}

	rejected := domain.NewCoupon("T2_1", nil)
	rejectedResults := []domain.EvaluationResult{
		{CouponID: "T2_1", ContractID: "C1", ContractName: "Cabin promo", Reason: "Cabin"},
	}

	return []batch.Outcome{
		{Coupon: eligible, Results: eligibleResults, Records: x.Explode(eligible, eligibleResults)},
		{Coupon: rejected, Results: rejectedResults, Records: x.Explode(rejected, rejectedResults)},
	}
}

func TestBuild(t *testing.T) {
	load := &rules.LoadReport{Loaded: 2, Rejected: 1}
	load.Errors = []*rules.LoadError{{ContractID: "BAD", Section: rules.SectionIn, Item: "Cabin", Err: errors.New("bad")}}

	rep := Build(Input{Name: "coupons.csv"}, sampleOutcomes(t), load, fixedNow)

	s := rep.Summary
	if s.InputFile != "coupons.csv" || s.CouponsInFile != 2 || s.CouponsProcessed != 2 {
		t.Errorf("unexpected input counts: %+v", s)
	}
	if s.CouponsEligible != 1 || s.OutputRecords != 2 {
		t.Errorf("expected 1 eligible coupon and 2 records, got %d/%d", s.CouponsEligible, s.OutputRecords)
	}
	if s.ContractsLoaded != 2 || s.ContractsRejected != 1 || len(rep.LoadErrors) != 1 {
		t.Errorf("unexpected contract counts: %+v", s)
	}
	if s.Timestamp != "2025-03-01T20:00:00Z" || s.EngineVersion != Version {
		t.Errorf("unexpected stamp: %s %s", s.Timestamp, s.EngineVersion)
	}
	if s.Environment.GoVersion == "" || s.Environment.Hostname == "" {
		t.Errorf("expected environment to be filled: %+v", s.Environment)
	}

	first := rep.Coupons[0]
	if first.Info.CouponID != "T1_1" || first.Info.Origin != "DEL" || first.Info.FlownDate != "2025-02-14" {
		t.Errorf("unexpected coupon info: %+v", first.Info)
	}
	if !first.AirlineEligibility || first.Processing.ContractsEvaluated != 2 || first.Processing.EligibleContracts != 1 {
		t.Errorf("unexpected processing summary: %+v", first)
	}

	second := rep.Coupons[1]
	if second.AirlineEligibility || second.ContractResults[0].Reason != "Cabin" {
		t.Errorf("unexpected rejected coupon: %+v", second)
	}
}

func TestBuildInputTotals(t *testing.T) {
	rep := Build(Input{Name: "x", Total: 5, Errors: 3}, sampleOutcomes(t), nil, fixedNow)
	if rep.Summary.CouponsInFile != 5 || rep.Summary.Errors != 3 {
		t.Errorf("expected explicit totals, got %+v", rep.Summary)
	}
	if rep.Summary.ContractsLoaded != 0 || rep.LoadErrors != nil {
		t.Errorf("expected no contract totals without a load report")
	}
}

func TestReportJSON(t *testing.T) {
	rep := Build(Input{Name: "coupons.csv"}, sampleOutcomes(t), nil, fixedNow)
	data, err := json.Marshal(rep)
	if err != nil {
		t.Fatalf("failed to marshal report: %v", err)
	}

	for _, want := range []string{
		`"batch_processing_summary":`,
		`"total_output_records":2`,
		`"tiers":{"tier1":"50.00","tier2":null}`,
		`"coupon_info":{"coupon_id":"T1_1"`,
		`"trigger_value":"1150.5000","payout_eligibility":true`,
		`"contract_start_date":"2025-01-01"`,
	} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("expected %s in %s", want, data)
		}
	}
	if bytes.Contains(data, []byte("contract_load_errors")) {
		t.Error("expected load errors to be omitted when empty")
	}
}

func TestTiersOrder(t *testing.T) {
	tiers := Tiers{
		{Tier: 1, Amount: mustDecimal(t, "1")},
		{Tier: 2, Amount: mustDecimal(t, "2")},
		{Tier: 10, Amount: mustDecimal(t, "10")},
	}
	data, err := json.Marshal(tiers)
	if err != nil {
		t.Fatalf("failed to marshal tiers: %v", err)
	}
	if string(data) != `{"tier1":"1","tier2":"2","tier10":"10"}` {
		t.Errorf("unexpected tiers encoding: %s", data)
	}

	empty, _ := json.Marshal(Tiers(nil))
	if string(empty) != "{}" {
		t.Errorf("expected {}, got %s", empty)
	}
}

func TestWriteRecordsCSV(t *testing.T) {
	var records []domain.OutputRecord
	for _, o := range sampleOutcomes(t) {
		records = append(records, o.Records...)
	}

	var buf bytes.Buffer
	if err := WriteRecordsCSV(&buf, records); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}

	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("failed to read back csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and 2 rows, got %d", len(rows))
	}

	header := rows[0]
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	wantAttrs := []string{
		domain.AttrCouponNumber, domain.AttrAirlineCode, domain.AttrDestination,
		domain.AttrFlownDate, domain.AttrOrigin, domain.AttrTicketNumber,
	}
	if len(header) != 1+len(wantAttrs)+len(RecordColumns) || header[0] != "Coupon_ID" {
		t.Fatalf("unexpected header: %v", header)
	}
	for i, name := range wantAttrs {
		if header[1+i] != name {
			t.Errorf("expected attribute column %d to be %s, got %s", 1+i, name, header[1+i])
		}
	}
	if header[1+len(wantAttrs)] != "Contract_ID" {
		t.Errorf("expected computed columns after attributes, got %s", header[1+len(wantAttrs)])
	}

	eligible := rows[1]
	for name, want := range map[string]string{
		"Coupon_ID":                  "T1_1",
		domain.AttrOrigin:            "DEL",
		domain.AttrFlownDate:         "2025-02-14",
		domain.AttrTicketNumber:      "T1",
		"Contract_ID":                "C1",
		"Contract_Start_Date":        "2025-01-01",
		"Contract_End_Date":          "2025-12-31",
		"Trigger_Value":              "1150.5000",
		"Payout_Eligibility":         "true",
		"Payout_Eligibility_Reason":  domain.ReasonAllSatisfied,
		"Tier1_payout":               "50.00",
		"Tier2_payout":               "",
		"Tier1_percent":              "5",
		"Processing_Error":           "tier2:division_by_zero",
		"Sector_Airline_Eligibility": "true",
		"Processed_Time_UTC":         "2025-03-01T20:00:00Z",
		"Processed_Time_IST":         "2025-03-02 01:30:00 +05:30",
	} {
		if got := eligible[col[name]]; got != want {
			t.Errorf("expected %s=%q, got %q", name, want, got)
		}
	}

	empty := rows[2]
	if empty[0] != "T2_1" || empty[col[domain.AttrOrigin]] != "" || empty[col["Contract_ID"]] != "" {
		t.Errorf("unexpected empty row: %v", empty)
	}
	if empty[col["Sector_Airline_Eligibility"]] != "false" || empty[col["Payout_Eligibility"]] != "false" {
		t.Errorf("unexpected empty row flags: %v", empty)
	}
}

func TestWriteRecordsCSVAttributes(t *testing.T) {
	x := explode.NewExploder(func() time.Time { return fixedNow })
	a := domain.NewCoupon("A_1", map[string]any{
		domain.AttrOrigin:      "DEL",
		domain.AttrRevenueBase: mustDecimal(t, "1000.50"),
		domain.AttrInterline:   true,
	})
	b := domain.NewCoupon("B_1", map[string]any{
		domain.AttrOrigin: "BOM",
		domain.AttrCabin:  "Y",
	})

	var records []domain.OutputRecord
	records = append(records, x.Explode(a, nil)...)
	records = append(records, x.Explode(b, nil)...)

	var buf bytes.Buffer
	if err := WriteRecordsCSV(&buf, records); err != nil {
		t.Fatalf("failed to write csv: %v", err)
	}
	rows, err := csv.NewReader(strings.NewReader(buf.String())).ReadAll()
	if err != nil {
		t.Fatalf("failed to read back csv: %v", err)
	}

	wantHeader := []string{"Coupon_ID", domain.AttrCabin, domain.AttrOrigin, domain.AttrRevenueBase, domain.AttrInterline}
	for i, name := range wantHeader {
		if rows[0][i] != name {
			t.Fatalf("expected header %v, got %v", wantHeader, rows[0][:len(wantHeader)])
		}
	}

	wantRows := [][]string{
		{"A_1", "", "DEL", "1000.50", "true"},
		{"B_1", "Y", "BOM", "", ""},
	}
	for i, want := range wantRows {
		got := rows[1+i][:len(want)]
		for j := range want {
			if got[j] != want[j] {
				t.Errorf("row %d: expected %v, got %v", i, want, got)
				break
			}
		}
	}
}
