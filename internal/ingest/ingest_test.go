package ingest

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/opensource-finance/tern/internal/domain"
)

const sampleCSV = `ticket_number,coupon_number,Airline_Code,RBD,Cabin,Flight_Number,Interline,Code Share,cpn_flown_date,Sales_Date,fare,YQ,Marketing_Airline,notes
1761234567890,1,QR,Y,Economy,QR 0540,N,Y,15-Apr-2025,30MAY25,"1,000.50",25,,first
1761234567890,2,QR,B,Business,QR541,yes,false,2025-04-20,2025/03/01,abc,,EK,

,,,,,,,,,,,,,
`

func TestReadCSV(t *testing.T) {
	coupons, err := ReadCSV(strings.NewReader(sampleCSV), nil)
	if err != nil {
		t.Fatalf("failed to read csv: %v", err)
	}
	if len(coupons) != 2 {
		t.Fatalf("expected 2 coupons, got %d", len(coupons))
	}

	c := coupons[0]
	if c.ID() != "1761234567890_1" {
		t.Errorf("unexpected coupon id %q", c.ID())
	}

	if v, _ := c.String(domain.AttrRBD); v != "Y" {
		t.Errorf("expected RBD mapped to cpn_rbd, got %q", v)
	}
	if v, _ := c.String(domain.AttrFlightNumber); v != "QR 0540" {
		t.Errorf("expected flight number kept verbatim, got %q", v)
	}
	if v, ok := c.Get(domain.AttrInterline); !ok || v != false {
		t.Errorf("expected interline=false, got %v", v)
	}
	if v, ok := c.Get(domain.AttrCodeShare); !ok || v != true {
		t.Errorf("expected code_share=true, got %v", v)
	}

	flown, ok := c.Date(domain.AttrFlownDate)
	if !ok || !flown.Equal(time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected flown date %v", flown)
	}
	sales, ok := c.Date(domain.AttrSalesDate)
	if !ok || !sales.Equal(time.Date(2025, 5, 30, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected sales date %v", sales)
	}

	fare, err := c.Decimal(domain.AttrRevenueBase)
	if err != nil || fare.Text('f') != "1000.50" {
		t.Errorf("expected fare 1000.50, got %v (%v)", fare, err)
	}

	if v, _ := c.String(domain.AttrMarketingAirline); v != "QR" {
		t.Errorf("expected marketing airline to default to QR, got %q", v)
	}
	if v, _ := c.String(domain.AttrTicketingAirline); v != "QR" {
		t.Errorf("expected ticketing airline to default to QR, got %q", v)
	}
	if v, _ := c.String("notes"); v != "first" {
		t.Errorf("expected extra column kept, got %q", v)
	}

	second := coupons[1]
	if second.Has(domain.AttrRevenueBase) {
		t.Error("unparseable fare should be absent")
	}
	if second.Has(domain.AttrRevenueYQ) {
		t.Error("empty cell should be absent")
	}
	if v, _ := second.String(domain.AttrMarketingAirline); v != "EK" {
		t.Errorf("explicit marketing airline should win, got %q", v)
	}
	if v, _ := second.Get(domain.AttrInterline); v != true {
		t.Errorf("expected interline=true, got %v", v)
	}
}

func TestReadCSVErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"Empty", "", ErrEmptyInput},
		{"HeaderOnly", "ticket_number,coupon_number\n", ErrEmptyInput},
		{"BlankRows", "ticket_number\n\n , \n", ErrEmptyInput},
		{"BadQuote", "a,b\n\"unterminated,1\n", ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadCSV(strings.NewReader(tt.input), nil)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestCanonicalName(t *testing.T) {
	tests := map[string]string{
		"RBD":                 domain.AttrRBD,
		"Flight_Number":       domain.AttrFlightNumber,
		"  Code Share ":       domain.AttrCodeShare,
		"\ufeffticket_number": domain.AttrTicketNumber,
		"SITI/SOTO/SITO/SOTI": domain.AttrSITISOTO,
		"DomIntl":             domain.AttrInternational,
		"Travel-Date":         domain.AttrFlownDate,
		"Custom Column":       "custom_column",
	}
	for in, want := range tests {
		if got := CanonicalName(in); got != want {
			t.Errorf("CanonicalName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseDate(t *testing.T) {
	want := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	for _, in := range []string{
		"2025-04-15",
		"2025-04-15T10:30:00Z",
		"15APR2025",
		"15Apr25",
		"15-Apr-2025",
		"15-APR-25",
		"2025/04/15",
		"15/04/2025",
		"15-04-2025",
	} {
		got, ok := ParseDate(in)
		if !ok || !got.Equal(want) {
			t.Errorf("ParseDate(%q) = %v, %v", in, got, ok)
		}
	}

	if _, ok := ParseDate("15APR"); ok {
		t.Error("expected year-less date to be rejected")
	}
}

func TestDecodeJSON(t *testing.T) {
	input := `[
		{"id": "A", "attributes": {"cpn_rbd": "Y", "fare": 1200.5, "interline": true, "cpn_sales_date": "02/01/2025"}},
		{"attributes": {"ticket_number": "999", "coupon_number": 2}}
	]`
	coupons, err := DecodeJSON(strings.NewReader(input), nil)
	if err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if len(coupons) != 2 {
		t.Fatalf("expected 2 coupons, got %d", len(coupons))
	}

	a := coupons[0]
	if a.ID() != "A" {
		t.Errorf("expected id A, got %q", a.ID())
	}
	if fare, err := a.Decimal(domain.AttrRevenueBase); err != nil || fare.Text('f') != "1200.5" {
		t.Errorf("expected fare 1200.5, got %v (%v)", fare, err)
	}
	if d, ok := a.Date(domain.AttrSalesDate); !ok || d.Month() != time.January || d.Day() != 2 {
		t.Errorf("expected dd/mm/yyyy sales date, got %v", d)
	}
	if coupons[1].ID() != "999_2" {
		t.Errorf("expected derived id 999_2, got %q", coupons[1].ID())
	}

	if _, err := DecodeJSON(strings.NewReader("[]"), nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
	if _, err := DecodeJSON(strings.NewReader("{not json"), nil); !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	c, err := DecodeCoupon([]byte(`{"id": "X", "attributes": {"cpn_flown_date": "15-Apr-2025", "fare": "10.25", "ndc": "Y"}}`), nil)
	if err != nil {
		t.Fatalf("failed to decode coupon: %v", err)
	}

	again, err := FromPayloads([]domain.CouponPayload{c.Payload()}, nil)
	if err != nil {
		t.Fatalf("failed to convert payload: %v", err)
	}
	back := again[0]
	d1, _ := c.Date(domain.AttrFlownDate)
	d2, _ := back.Date(domain.AttrFlownDate)
	if d1.IsZero() || !d1.Equal(d2) {
		t.Errorf("date changed in round trip: %v vs %v", d1, d2)
	}
	if f, _ := back.Decimal(domain.AttrRevenueBase); f == nil || f.Text('f') != "10.25" {
		t.Errorf("fare changed in round trip: %v", f)
	}
	if v, _ := back.Get(domain.AttrNDC); v != true {
		t.Errorf("ndc changed in round trip: %v", v)
	}
}

func TestNewCouponDuplicateKeys(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		attr string
		want string
	}{
		{"CanonicalBeatsAlias", map[string]any{"Origin": "BOM", "cpn_origin": "DEL"}, domain.AttrOrigin, "DEL"},
		{"AliasesLexical", map[string]any{"fare": "10", "base": "20"}, domain.AttrRevenueBase, "20"},
		{"UnusableSkipped", map[string]any{"base": "abc", "fare": "30"}, domain.AttrRevenueBase, "30"},
		{"EmptySkipped", map[string]any{"airline": "", "Airline_Code": "QR"}, domain.AttrAirlineCode, "QR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for range 50 {
				c := NewCoupon("X", tt.raw, nil)
				got, ok := domain.AsString(c.Attributes()[tt.attr])
				if !ok || got != tt.want {
					t.Fatalf("expected %s=%s, got %v", tt.attr, tt.want, c.Attributes()[tt.attr])
				}
			}
		})
	}

	t.Run("CSVColumnOrderIrrelevant", func(t *testing.T) {
		for _, input := range []string{
			"ticket_number,Origin,cpn_origin\nT1,BOM,DEL\n",
			"ticket_number,cpn_origin,Origin\nT1,DEL,BOM\n",
		} {
			coupons, err := ReadCSV(strings.NewReader(input), nil)
			if err != nil {
				t.Fatalf("failed to read csv: %v", err)
			}
			if v, _ := coupons[0].String(domain.AttrOrigin); v != "DEL" {
				t.Errorf("expected canonical column to win, got %q for %q", v, input)
			}
		}
	})

	t.Run("CSVRepeatedHeader", func(t *testing.T) {
		coupons, err := ReadCSV(strings.NewReader("ticket_number,cabin,cabin\nT1,,Y\n"), nil)
		if err != nil {
			t.Fatalf("failed to read csv: %v", err)
		}
		if v, _ := coupons[0].String(domain.AttrCabin); v != "Y" {
			t.Errorf("expected the non-empty repeated cell, got %q", v)
		}
	})
}
