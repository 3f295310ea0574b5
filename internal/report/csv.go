package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/opensource-finance/tern/internal/domain"
)

// RecordColumns are the computed columns of the flat record file. They follow
// Coupon_ID and the coupon attribute columns.
var RecordColumns = recordColumns()

func recordColumns() []string {
	cols := []string{
		"Contract_ID", "Contract_Name", "Contract_Version",
		"Contract_Start_Date", "Contract_End_Date",
		"Trigger_Eligibility_Reason", "Addon_ID", "Trigger_Value",
		"Payout_Eligibility", "Payout_Eligibility_Reason",
	}
	for i := 1; i <= domain.MaxTiers; i++ {
		cols = append(cols, fmt.Sprintf("Tier%d_payout", i))
	}
	for i := 1; i <= domain.MaxTiers; i++ {
		cols = append(cols, fmt.Sprintf("Tier%d_percent", i))
	}
	return append(cols,
		"Sector_Airline_Eligibility", "Processing_Error",
		"Processed_Time_UTC", "Processed_Time_IST",
	)
}

// AttributeColumns returns the sorted union of coupon attribute names across
// records.
func AttributeColumns(records []domain.OutputRecord) []string {
	seen := make(map[string]struct{})
	for i := range records {
		if records[i].Coupon == nil {
			continue
		}
		for name := range records[i].Coupon.Payload().Attributes {
			seen[name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// WriteRecordsCSV writes one row per output record, in the order given. The
// header is Coupon_ID, the coupon attributes, then RecordColumns.
func WriteRecordsCSV(w io.Writer, records []domain.OutputRecord) error {
	attrCols := AttributeColumns(records)

	header := make([]string, 0, 1+len(attrCols)+len(RecordColumns))
	header = append(header, "Coupon_ID")
	header = append(header, attrCols...)
	header = append(header, RecordColumns...)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	row := make([]string, 0, len(header))
	for i := range records {
		rec := &records[i]
		row = row[:0]

		var attrs map[string]any
		couponID := ""
		if rec.Coupon != nil {
			p := rec.Coupon.Payload()
			couponID, attrs = p.ID, p.Attributes
		}
		row = append(row, couponID)
		for _, name := range attrCols {
			row = append(row, attributeCell(attrs[name]))
		}

		row = append(row,
			rec.ContractID, rec.ContractName, rec.ContractVersion,
			rec.ContractStart, rec.ContractEnd,
			rec.Reason, rec.AddonID, rec.TriggerValue,
			strconv.FormatBool(rec.PayoutEligibility), rec.PayoutReason,
		)
		row = append(row, rec.Payouts[:]...)
		row = append(row, rec.Percents[:]...)
		row = append(row,
			strconv.FormatBool(rec.AirlineEligibility),
			rec.ProcessingError,
			rec.ProcessedAtUTC.UTC().Format(time.RFC3339),
			rec.ProcessedAtIST,
		)

		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write record %d: %w", i, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func attributeCell(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := domain.AsString(v); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
