package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Canonical coupon attribute names.
const (
	AttrSourceSystem     = "source_system"
	AttrPCC              = "pcc"
	AttrTicketNumber     = "ticket_number"
	AttrCouponNumber     = "coupon_number"
	AttrAirlineCode      = "cpn_airline_code"
	AttrFareBasis        = "cpn_fare_basis"
	AttrRBD              = "cpn_rbd"
	AttrFareClass        = "fare_class"
	AttrIATA             = "iata"
	AttrCabin            = "cabin"
	AttrOrigin           = "cpn_origin"
	AttrDestination      = "cpn_destination"
	AttrFlightNumber     = "flight_number"
	AttrMarketingAirline = "marketing_airline"
	AttrOperatingAirline = "operating_airline"
	AttrTicketingAirline = "ticketing_airline"
	AttrCorporateCode    = "corporate_code"
	AttrTourCode         = "tour_code"
	AttrCityCodes        = "city_codes"
	AttrRoute            = "route"
	AttrItinerary        = "coupon_itinerary"
	AttrFareType         = "fare_type"
	AttrAlliance         = "alliance"
	AttrPOS              = "pos"
	AttrPOO              = "poo"
	AttrSITISOTO         = "siti_soto"
	AttrCodeShare        = "code_share"
	AttrInterline        = "interline"
	AttrNDC              = "ndc"
	AttrInternational    = "cpn_is_international"
	AttrSalesDate        = "cpn_sales_date"
	AttrFlownDate        = "cpn_flown_date"
	AttrRevenueBase      = "cpn_revenue_base"
	AttrRevenueYQ        = "cpn_revenue_yq"
	AttrRevenueYR        = "cpn_revenue_yr"
	AttrRevenueXT        = "cpn_revenue_xt"
	AttrTotalRevenue     = "cpn_total_revenue"
)

// FieldType is the value type of a coupon attribute.
type FieldType int

const (
	FieldString FieldType = iota
	FieldBool
	FieldDate
	FieldDecimal
)

func (t FieldType) String() string {
	switch t {
	case FieldBool:
		return "bool"
	case FieldDate:
		return "date"
	case FieldDecimal:
		return "decimal"
	default:
		return "string"
	}
}

// CouponSchema is the fixed coupon field schema.
var CouponSchema = map[string]FieldType{
	AttrSourceSystem:     FieldString,
	AttrPCC:              FieldString,
	AttrTicketNumber:     FieldString,
	AttrCouponNumber:     FieldString,
	AttrAirlineCode:      FieldString,
	AttrFareBasis:        FieldString,
	AttrRBD:              FieldString,
	AttrFareClass:        FieldString,
	AttrIATA:             FieldString,
	AttrCabin:            FieldString,
	AttrOrigin:           FieldString,
	AttrDestination:      FieldString,
	AttrFlightNumber:     FieldString,
	AttrMarketingAirline: FieldString,
	AttrOperatingAirline: FieldString,
	AttrTicketingAirline: FieldString,
	AttrCorporateCode:    FieldString,
	AttrTourCode:         FieldString,
	AttrCityCodes:        FieldString,
	AttrRoute:            FieldString,
	AttrItinerary:        FieldString,
	AttrFareType:         FieldString,
	AttrAlliance:         FieldString,
	AttrPOS:              FieldString,
	AttrPOO:              FieldString,
	AttrSITISOTO:         FieldString,
	AttrCodeShare:        FieldBool,
	AttrInterline:        FieldBool,
	AttrNDC:              FieldBool,
	AttrInternational:    FieldBool,
	AttrSalesDate:        FieldDate,
	AttrFlownDate:        FieldDate,
	AttrRevenueBase:      FieldDecimal,
	AttrRevenueYQ:        FieldDecimal,
	AttrRevenueYR:        FieldDecimal,
	AttrRevenueXT:        FieldDecimal,
	AttrTotalRevenue:     FieldDecimal,
}

// DateLayout is the wire layout for coupon and contract dates.
const DateLayout = "2006-01-02"

var (
	// ErrMissingAttribute is returned when a coupon does not carry an attribute.
	ErrMissingAttribute = errors.New("attribute missing")

	// ErrNotNumeric is returned when an attribute cannot be read as a decimal.
	ErrNotNumeric = errors.New("attribute is not numeric")
)

// Coupon is one flight-coupon transaction. It is read-only once constructed;
// a key absent from the attribute map means the attribute was not supplied.
type Coupon struct {
	id    string
	attrs map[string]any
}

// NewCoupon builds a coupon from already-typed attributes. The map is copied.
func NewCoupon(id string, attrs map[string]any) *Coupon {
	copied := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if v == nil {
			continue
		}
		copied[k] = v
	}
	if id == "" {
		id = DefaultCouponID(copied)
	}
	return &Coupon{id: id, attrs: copied}
}

// DefaultCouponID derives "<ticket_number>_<coupon_number>".
func DefaultCouponID(attrs map[string]any) string {
	ticket, _ := AsString(attrs[AttrTicketNumber])
	number, _ := AsString(attrs[AttrCouponNumber])
	if ticket == "" && number == "" {
		return ""
	}
	return ticket + "_" + number
}

// ID returns the coupon identifier.
func (c *Coupon) ID() string { return c.id }

// Get looks up an attribute by canonical name.
func (c *Coupon) Get(name string) (any, bool) {
	v, ok := c.attrs[name]
	return v, ok
}

// Has reports whether the attribute is present.
func (c *Coupon) Has(name string) bool {
	_, ok := c.attrs[name]
	return ok
}

// String returns a string attribute.
func (c *Coupon) String(name string) (string, bool) {
	v, ok := c.attrs[name]
	if !ok {
		return "", false
	}
	return AsString(v)
}

// Bool returns a boolean attribute. ok is false when missing or not coercible.
func (c *Coupon) Bool(name string) (bool, bool) {
	v, ok := c.attrs[name]
	if !ok {
		return false, false
	}
	return AsBool(v)
}

// Date returns a date attribute.
func (c *Coupon) Date(name string) (time.Time, bool) {
	v, ok := c.attrs[name]
	if !ok {
		return time.Time{}, false
	}
	return AsDate(v)
}

// Decimal returns a fresh copy of a numeric attribute.
func (c *Coupon) Decimal(name string) (*apd.Decimal, error) {
	v, ok := c.attrs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrMissingAttribute)
	}
	d, err := AsDecimal(v)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return d, nil
}

// Attributes returns a copy of the attribute map.
func (c *Coupon) Attributes() map[string]any {
	out := make(map[string]any, len(c.attrs))
	for k, v := range c.attrs {
		out[k] = v
	}
	return out
}

// MarshalJSON renders the coupon with dates as YYYY-MM-DD and decimals as strings.
func (c *Coupon) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Payload())
}

// UnmarshalJSON reads the wire form. Attribute values are kept as decoded;
// ingest coerces them to schema types.
func (c *Coupon) UnmarshalJSON(data []byte) error {
	var p CouponPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = *NewCoupon(p.ID, p.Attributes)
	return nil
}

// Payload returns the wire form of the coupon.
func (c *Coupon) Payload() CouponPayload {
	attrs := make(map[string]any, len(c.attrs))
	for k, v := range c.attrs {
		switch tv := v.(type) {
		case time.Time:
			attrs[k] = tv.Format(DateLayout)
		case *apd.Decimal:
			attrs[k] = tv.Text('f')
		case apd.Decimal:
			attrs[k] = tv.Text('f')
		default:
			attrs[k] = v
		}
	}
	return CouponPayload{ID: c.id, Attributes: attrs}
}

// CouponPayload is the wire form of a coupon.
type CouponPayload struct {
	ID         string         `json:"id"`
	Attributes map[string]any `json:"attributes"`
}

// AsString coerces scalar values to a string.
func AsString(v any) (string, bool) {
	switch tv := v.(type) {
	case string:
		return tv, true
	case json.Number:
		return tv.String(), true
	case bool:
		return strconv.FormatBool(tv), true
	case int:
		return strconv.Itoa(tv), true
	case int64:
		return strconv.FormatInt(tv, 10), true
	case float64:
		return strconv.FormatFloat(tv, 'f', -1, 64), true
	case *apd.Decimal:
		return tv.Text('f'), true
	case time.Time:
		return tv.Format(DateLayout), true
	default:
		return "", false
	}
}

// AsBool coerces booleans and the usual textual flags.
func AsBool(v any) (bool, bool) {
	switch tv := v.(type) {
	case bool:
		return tv, true
	case string:
		return ParseBool(tv)
	case int:
		return tv != 0, tv == 0 || tv == 1
	case float64:
		return tv != 0, tv == 0 || tv == 1
	case json.Number:
		return ParseBool(tv.String())
	default:
		return false, false
	}
}

// ParseBool accepts true/false, yes/no, y/n, t/f and 1/0 in any case.
func ParseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "t", "yes", "y", "1":
		return true, true
	case "false", "f", "no", "n", "0":
		return false, true
	default:
		return false, false
	}
}

// AsDate coerces a time or a YYYY-MM-DD string to a UTC date.
func AsDate(v any) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		y, m, d := tv.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	case string:
		t, err := time.Parse(DateLayout, strings.TrimSpace(tv))
		if err != nil {
			return time.Time{}, false
		}
		return t, true
	default:
		return time.Time{}, false
	}
}

// AsDecimal coerces numeric values and numeric strings to a new decimal.
func AsDecimal(v any) (*apd.Decimal, error) {
	d := new(apd.Decimal)
	switch tv := v.(type) {
	case *apd.Decimal:
		return d.Set(tv), nil
	case apd.Decimal:
		return d.Set(&tv), nil
	case int:
		return d.SetInt64(int64(tv)), nil
	case int64:
		return d.SetInt64(tv), nil
	case float64:
		if _, err := d.SetFloat64(tv); err != nil {
			return nil, ErrNotNumeric
		}
		return d, nil
	case json.Number:
		return parseFinite(tv.String())
	case string:
		return parseFinite(strings.ReplaceAll(strings.TrimSpace(tv), ",", ""))
	default:
		return nil, ErrNotNumeric
	}
}

func parseFinite(s string) (*apd.Decimal, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil || d.Form != apd.Finite {
		return nil, ErrNotNumeric
	}
	return d, nil
}
