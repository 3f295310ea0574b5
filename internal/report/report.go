// Package report renders batch outcomes as the nested batch JSON document
// and as flat CSV records.
package report

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/opensource-finance/tern/internal/batch"
	"github.com/opensource-finance/tern/internal/domain"
	"github.com/opensource-finance/tern/internal/rules"
)

// Version is the engine version stamped into reports. Overridden at build
// time with -ldflags.
var Version = "1.2.0"

// Input describes the batch source.
type Input struct {
	Name string

	// Total is the number of coupons read from the source. Zero means the
	// number of outcomes.
	Total int

	// Errors counts input rows that could not be turned into coupons.
	Errors int
}

// Report is the batch JSON document.
type Report struct {
	Summary    Summary           `json:"batch_processing_summary"`
	Coupons    []CouponReport    `json:"coupons"`
	LoadErrors []*rules.LoadError `json:"contract_load_errors,omitempty"`
}

// Summary holds batch-level totals.
type Summary struct {
	InputFile         string      `json:"input_file"`
	CouponsInFile     int         `json:"total_coupons_in_file"`
	CouponsProcessed  int         `json:"total_coupons_processed"`
	CouponsEligible   int         `json:"total_coupons_eligible"`
	OutputRecords     int         `json:"total_output_records"`
	Errors            int         `json:"total_errors"`
	ContractsLoaded   int         `json:"contracts_loaded"`
	ContractsRejected int         `json:"contracts_rejected"`
	Timestamp         string      `json:"processing_timestamp"`
	EngineVersion     string      `json:"rule_engine_version"`
	Environment       Environment `json:"processing_environment"`
}

// Environment identifies the process that produced the report.
type Environment struct {
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	Hostname  string `json:"hostname"`
}

// CouponReport is the per-coupon section.
type CouponReport struct {
	Info               CouponInfo       `json:"coupon_info"`
	AirlineEligibility bool             `json:"airline_eligibility"`
	Processing         ProcessingInfo   `json:"processing_summary"`
	ContractResults    []ContractResult `json:"contract_results"`
}

// CouponInfo identifies a coupon.
type CouponInfo struct {
	CouponID     string `json:"coupon_id"`
	TicketNumber string `json:"ticket_number,omitempty"`
	CouponNumber string `json:"coupon_number,omitempty"`
	AirlineCode  string `json:"airline_code,omitempty"`
	Origin       string `json:"origin,omitempty"`
	Destination  string `json:"destination,omitempty"`
	FlownDate    string `json:"flown_date,omitempty"`

	Attributes map[string]any `json:"attributes,omitempty"`
}

// ProcessingInfo counts contracts for one coupon.
type ProcessingInfo struct {
	ContractsEvaluated int `json:"total_contracts_evaluated"`
	EligibleContracts  int `json:"eligible_contracts"`
}

// ContractResult is one contract verdict.
type ContractResult struct {
	ContractID      string `json:"contract_id"`
	ContractName    string `json:"contract_name"`
	ContractVersion string `json:"contract_version"`
	Eligible        bool   `json:"eligible"`
	Reason          string `json:"reason"`
	AddonID         string `json:"addon_id,omitempty"`
	ContractStart   string `json:"contract_start_date,omitempty"`
	ContractEnd     string `json:"contract_end_date,omitempty"`
	TriggerValue    string `json:"trigger_value,omitempty"`
	PayoutEligible  bool   `json:"payout_eligibility"`
	PayoutReason    string `json:"payout_eligibility_reason"`
	Tiers           Tiers  `json:"tiers"`
}

// Tiers holds the defined tier payouts. A defined tier without an amount is
// absent and encodes as null.
type Tiers []domain.TierPayout

// MarshalJSON encodes tiers as {"tier1": "50.00", "tier2": null, ...} in
// tier order.
func (t Tiers) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range t {
		if i > 0 {
			buf.WriteByte(',')
		}
		fmt.Fprintf(&buf, `"tier%d":`, p.Tier)
		if p.Amount == nil {
			buf.WriteString("null")
		} else {
			fmt.Fprintf(&buf, "%q", p.Amount.Text('f'))
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Build assembles the batch document. now stamps the summary.
func Build(input Input, outcomes []batch.Outcome, load *rules.LoadReport, now time.Time) *Report {
	rep := &Report{
		Coupons: make([]CouponReport, 0, len(outcomes)),
	}

	eligible, records := 0, 0
	for i := range outcomes {
		o := &outcomes[i]
		cr := couponReport(o)
		if cr.AirlineEligibility {
			eligible++
		}
		records += len(o.Records)
		rep.Coupons = append(rep.Coupons, cr)
	}

	total := input.Total
	if total == 0 {
		total = len(outcomes) + input.Errors
	}

	rep.Summary = Summary{
		InputFile:        input.Name,
		CouponsInFile:    total,
		CouponsProcessed: len(outcomes),
		CouponsEligible:  eligible,
		OutputRecords:    records,
		Errors:           input.Errors,
		Timestamp:        now.UTC().Format(time.RFC3339),
		EngineVersion:    Version,
		Environment:      environment(),
	}
	if load != nil {
		rep.Summary.ContractsLoaded = load.Loaded
		rep.Summary.ContractsRejected = load.Rejected
		rep.LoadErrors = load.Errors
	}
	return rep
}

func couponReport(o *batch.Outcome) CouponReport {
	c := o.Coupon
	info := CouponInfo{CouponID: c.ID(), Attributes: c.Payload().Attributes}
	info.TicketNumber, _ = c.String(domain.AttrTicketNumber)
	info.CouponNumber, _ = c.String(domain.AttrCouponNumber)
	info.AirlineCode, _ = c.String(domain.AttrAirlineCode)
	info.Origin, _ = c.String(domain.AttrOrigin)
	info.Destination, _ = c.String(domain.AttrDestination)
	if d, ok := c.Date(domain.AttrFlownDate); ok {
		info.FlownDate = d.Format(domain.DateLayout)
	}

	cr := CouponReport{
		Info: info,
		Processing: ProcessingInfo{
			ContractsEvaluated: len(o.Results),
		},
		ContractResults: make([]ContractResult, 0, len(o.Results)),
	}
	for _, r := range o.Results {
		if r.Eligible {
			cr.Processing.EligibleContracts++
		}
		res := ContractResult{
			ContractID:      r.ContractID,
			ContractName:    r.ContractName,
			ContractVersion: r.ContractVersion,
			Eligible:        r.Eligible,
			Reason:          r.Reason,
			AddonID:         r.AddonID,
			ContractStart:   r.ContractStart,
			ContractEnd:     r.ContractEnd,
			PayoutEligible:  r.PayoutEligible,
			PayoutReason:    r.PayoutReason,
			Tiers:           Tiers(r.Payouts),
		}
		if r.TriggerValue != nil {
			res.TriggerValue = r.TriggerValue.Text('f')
		}
		cr.ContractResults = append(cr.ContractResults, res)
	}
	cr.AirlineEligibility = cr.Processing.EligibleContracts > 0
	return cr
}

func environment() Environment {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return Environment{
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		Hostname:  host,
	}
}
