package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

const contractsFile = `{"contracts": [
	{"id": "C1", "name": "Economy", "version": "2",
	 "trigger_eligibility_criteria": {"IN": {"Cabin": ["Economy"]}, "OUT": {"Interline": true}},
	 "tiers": [{"tier": 1, "formula": "fare * 0.05"}, {"tier": 2, "formula": "fare / 0"}]},
	{"id": "C2", "name": "Saver",
	 "trigger_eligibility_criteria": {"IN": {}, "OUT": {"Fare_Type": ["Flex"]}}},
	{"id": "C3", "name": "Business",
	 "trigger_eligibility_criteria": {"IN": {"Cabin": ["Business"]}},
	 "addons": [{"id": "corp", "apply": "when_rejected",
	             "trigger_eligibility_criteria": {"IN": {"Corporate_Code": ["ACME"]}}}]},
	{"id": "BAD", "currency": "usd"},
	{"id": "BROKEN", "tiers": [{"tier": 1, "formula": "fare * ("}]}
]}`

const couponsFile = `Ticket_Number,Coupon_Number,Cabin,Interline,Fare_Type,Corporate_Code,Fare
T1,1,Economy,N,Flex,,1000
T2,1,Economy,Y,Flex,,500
T3,1,First,N,Saver,,
T4,1,Economy,N,Flex,ACME,200
`

type batchReport struct {
	Summary struct {
		InputFile         string `json:"input_file"`
		CouponsInFile     int    `json:"total_coupons_in_file"`
		CouponsEligible   int    `json:"total_coupons_eligible"`
		OutputRecords     int    `json:"total_output_records"`
		ContractsLoaded   int    `json:"contracts_loaded"`
		ContractsRejected int    `json:"contracts_rejected"`
	} `json:"batch_processing_summary"`
	Coupons []struct {
		Info struct {
			CouponID string `json:"coupon_id"`
		} `json:"coupon_info"`
		AirlineEligibility bool `json:"airline_eligibility"`
		ContractResults    []struct {
			ContractID string             `json:"contract_id"`
			Eligible   bool               `json:"eligible"`
			Reason     string             `json:"reason"`
			Tiers      map[string]*string `json:"tiers"`
		} `json:"contract_results"`
	} `json:"coupons"`
	LoadErrors []struct {
		ContractID string `json:"contract_id"`
		Kind       string `json:"kind"`
	} `json:"contract_load_errors"`
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	opts := &options{
		coupons:   writeFile(t, dir, "coupons.csv", couponsFile),
		contracts: writeFile(t, dir, "rules.json", contractsFile),
		out:       filepath.Join(dir, "result.json"),
		records:   filepath.Join(dir, "records.csv"),
		workers:   2,
		precision: 2,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	if err := run(context.Background(), opts, logger); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	data, err := os.ReadFile(opts.out)
	if err != nil {
		t.Fatalf("failed to read report: %v", err)
	}
	var rep batchReport
	if err := json.Unmarshal(data, &rep); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}

	t.Run("Summary", func(t *testing.T) {
		s := rep.Summary
		if s.InputFile != "coupons.csv" || s.CouponsInFile != 4 {
			t.Errorf("unexpected input summary: %+v", s)
		}
		if s.CouponsEligible != 3 || s.OutputRecords != 5 {
			t.Errorf("expected 3 eligible coupons and 5 records, got %d/%d", s.CouponsEligible, s.OutputRecords)
		}
		if s.ContractsLoaded != 3 || s.ContractsRejected != 2 {
			t.Errorf("expected 3 loaded and 2 rejected, got %d/%d", s.ContractsLoaded, s.ContractsRejected)
		}

		kinds := map[string]string{}
		for _, e := range rep.LoadErrors {
			kinds[e.ContractID] = e.Kind
		}
		if kinds["BAD"] != "schema" || kinds["BROKEN"] != "formula_syntax" {
			t.Errorf("unexpected load errors: %+v", rep.LoadErrors)
		}
	})

	if len(rep.Coupons) != 4 {
		t.Fatalf("expected 4 coupons in input order, got %d", len(rep.Coupons))
	}

	verdict := func(coupon, contract int) (bool, string) {
		r := rep.Coupons[coupon].ContractResults[contract]
		return r.Eligible, r.Reason
	}

	t.Run("InclusionWithExclusionNotFiring", func(t *testing.T) {
		if ok, reason := verdict(0, 0); !ok || reason != "all_criteria_satisfied" {
			t.Errorf("expected C1 eligible, got %v/%s", ok, reason)
		}
		tiers := rep.Coupons[0].ContractResults[0].Tiers
		if tiers["tier1"] == nil || *tiers["tier1"] != "50.00" {
			t.Errorf("expected tier1 50.00, got %v", tiers["tier1"])
		}
		if v, ok := tiers["tier2"]; !ok || v != nil {
			t.Errorf("expected tier2 present and null, got %v", v)
		}
	})

	t.Run("ExclusionFires", func(t *testing.T) {
		if ok, reason := verdict(1, 0); ok || reason != "Interline" {
			t.Errorf("expected Interline exclusion, got %v/%s", ok, reason)
		}
	})

	t.Run("ZeroMatches", func(t *testing.T) {
		if rep.Coupons[1].AirlineEligibility {
			t.Error("expected T2_1 to match nothing")
		}
	})

	t.Run("EmptyInclusion", func(t *testing.T) {
		if ok, reason := verdict(2, 1); !ok || reason != "all_criteria_satisfied" {
			t.Errorf("expected Saver coupon eligible for C2, got %v/%s", ok, reason)
		}
	})

	t.Run("AddonOverride", func(t *testing.T) {
		if ok, reason := verdict(3, 2); !ok || reason != "addon:corp" {
			t.Errorf("expected addon to grant C3, got %v/%s", ok, reason)
		}
	})

	t.Run("RecordsCSV", func(t *testing.T) {
		f, err := os.Open(opts.records)
		if err != nil {
			t.Fatalf("failed to open records: %v", err)
		}
		defer f.Close()

		rows, err := csv.NewReader(f).ReadAll()
		if err != nil {
			t.Fatalf("failed to read records: %v", err)
		}
		if len(rows) != 6 {
			t.Fatalf("expected header plus 5 records, got %d rows", len(rows))
		}
		wantIDs := []string{"T1_1", "T2_1", "T3_1", "T4_1", "T4_1"}
		for i, want := range wantIDs {
			if rows[i+1][0] != want {
				t.Errorf("row %d: expected coupon %s, got %s", i+1, want, rows[i+1][0])
			}
		}
		contractCol := -1
		for i, name := range rows[0] {
			if name == "Contract_ID" {
				contractCol = i
			}
		}
		if contractCol < 0 {
			t.Fatalf("expected a Contract_ID column in %v", rows[0])
		}
		if rows[2][contractCol] != "" {
			t.Errorf("expected the unmatched coupon to have an empty contract, got %q", rows[2][contractCol])
		}
		if rows[0][1] != "cabin" {
			t.Errorf("expected coupon attributes ahead of computed columns, got %v", rows[0][:4])
		}
	})
}

func TestRunEmptyCoupons(t *testing.T) {
	dir := t.TempDir()
	opts := &options{
		coupons:   writeFile(t, dir, "coupons.csv", "Ticket_Number,Coupon_Number\n"),
		contracts: writeFile(t, dir, "rules.json", contractsFile),
		out:       filepath.Join(dir, "result.json"),
		workers:   1,
		precision: 2,
	}

	err := run(context.Background(), opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err == nil {
		t.Fatal("expected error for header-only input")
	}
	if _, statErr := os.Stat(opts.out); !errors.Is(statErr, os.ErrNotExist) {
		t.Error("no report should be written for aborted input")
	}
}

func TestParseFlags(t *testing.T) {
	t.Run("Valid", func(t *testing.T) {
		opts, err := parseFlags([]string{"-coupons", "c.csv", "-contracts", "r.json", "-out", "o.json", "-workers", "4", "-precision", "0"}, io.Discard)
		if err != nil {
			t.Fatalf("parseFlags failed: %v", err)
		}
		if opts.workers != 4 || opts.precision != 0 || opts.records != "" {
			t.Errorf("unexpected options: %+v", opts)
		}
	})

	tests := []struct {
		name string
		args []string
	}{
		{"MissingOut", []string{"-coupons", "c.csv", "-contracts", "r.json"}},
		{"NoWorkers", []string{"-coupons", "c.csv", "-contracts", "r.json", "-out", "o.json", "-workers", "0"}},
		{"PrecisionTooLarge", []string{"-coupons", "c.csv", "-contracts", "r.json", "-out", "o.json", "-precision", "7"}},
		{"UnknownFlag", []string{"-bogus"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stderr bytes.Buffer
			if _, err := parseFlags(tt.args, &stderr); err == nil {
				t.Error("expected error")
			}
		})
	}
}
