// Package ingest reads coupon batches from CSV and JSON into typed coupons.
package ingest

import (
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/opensource-finance/tern/internal/domain"
)

var (
	// ErrEmptyInput is returned for input without any coupon rows.
	ErrEmptyInput = errors.New("input contains no coupons")

	// ErrMalformed is returned for input that cannot be parsed at all.
	ErrMalformed = errors.New("malformed coupon input")
)

// idColumns name the optional coupon identifier column.
var idColumns = map[string]bool{"id": true, "coupon_id": true}

// headerAliases maps normalized source headers to canonical attribute names.
var headerAliases = map[string]string{
	"rbd":                 domain.AttrRBD,
	"booking_class":       domain.AttrRBD,
	"fare_basis":          domain.AttrFareBasis,
	"airline_code":        domain.AttrAirlineCode,
	"airline":             domain.AttrAirlineCode,
	"origin":              domain.AttrOrigin,
	"destination":         domain.AttrDestination,
	"flight_no":           domain.AttrFlightNumber,
	"flight":              domain.AttrFlightNumber,
	"tour_codes":          domain.AttrTourCode,
	"codeshare":           domain.AttrCodeShare,
	"is_international":    domain.AttrInternational,
	"domintl":             domain.AttrInternational,
	"international":       domain.AttrInternational,
	"itinerary":           domain.AttrItinerary,
	"ond":                 domain.AttrItinerary,
	"siti_soto_sito_soti": domain.AttrSITISOTO,
	"sales_date":          domain.AttrSalesDate,
	"flown_date":          domain.AttrFlownDate,
	"travel_date":         domain.AttrFlownDate,
	"fare":                domain.AttrRevenueBase,
	"base":                domain.AttrRevenueBase,
	"base_fare":           domain.AttrRevenueBase,
	"revenue_base":        domain.AttrRevenueBase,
	"yq":                  domain.AttrRevenueYQ,
	"yr":                  domain.AttrRevenueYR,
	"xt":                  domain.AttrRevenueXT,
	"total":               domain.AttrTotalRevenue,
	"total_revenue":       domain.AttrTotalRevenue,
}

// CanonicalName maps a source header or attribute key to its canonical
// attribute name. Unknown names are normalized and kept.
func CanonicalName(header string) string {
	name := normalizeName(header)
	if _, ok := domain.CouponSchema[name]; ok {
		return name
	}
	if alias, ok := headerAliases[name]; ok {
		return alias
	}
	return name
}

func normalizeName(header string) string {
	name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(header, "\ufeff")))
	return strings.NewReplacer(" ", "_", "-", "_", "/", "_").Replace(name)
}

// sourceKeys orders raw keys for resolution. A key already spelled as its
// canonical name comes before aliases; ties break lexically.
func sourceKeys(raw map[string]any) []string {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci := normalizeName(keys[i]) == CanonicalName(keys[i])
		cj := normalizeName(keys[j]) == CanonicalName(keys[j])
		if ci != cj {
			return ci
		}
		return keys[i] < keys[j]
	})
	return keys
}

// dateLayouts are tried in order for date attributes.
var dateLayouts = []string{
	domain.DateLayout,
	time.RFC3339,
	"2006-01-02T15:04",
	"02Jan2006",
	"02Jan06",
	"02-Jan-2006",
	"02-Jan-06",
	"2006/01/02",
	"02/01/2006",
	"02/01/06",
	"02-01-2006",
}

// ParseDate parses the date formats found in airline revenue extracts.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// coerce converts a raw value to the schema type of attr. ok is false when
// the value is empty or cannot be converted.
func coerce(attr string, raw any) (any, bool) {
	if s, isString := raw.(string); isString {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, false
		}
		raw = s
	}

	switch domain.CouponSchema[attr] {
	case domain.FieldBool:
		return domain.AsBool(raw)
	case domain.FieldDate:
		if s, isString := raw.(string); isString {
			return ParseDate(s)
		}
		return domain.AsDate(raw)
	case domain.FieldDecimal:
		d, err := domain.AsDecimal(raw)
		if err != nil {
			return nil, false
		}
		return d, true
	default:
		if s, isString := raw.(string); isString {
			return s, true
		}
		return domain.AsString(raw)
	}
}

// NewCoupon canonicalizes attribute names, coerces values to their schema
// types and fills derived defaults. Values that fail coercion are dropped.
// When several keys name the same attribute, the first usable value in
// sourceKeys order wins.
func NewCoupon(id string, raw map[string]any, logger *slog.Logger) *domain.Coupon {
	if logger == nil {
		logger = slog.Default()
	}

	attrs := make(map[string]any, len(raw))
	for _, key := range sourceKeys(raw) {
		v := raw[key]
		if v == nil {
			continue
		}
		name := CanonicalName(key)
		if idColumns[name] {
			if s, ok := domain.AsString(v); ok && id == "" {
				id = strings.TrimSpace(s)
			}
			continue
		}
		val, ok := coerce(name, v)
		if !ok {
			if s, isString := v.(string); !isString || strings.TrimSpace(s) != "" {
				logger.Debug("dropping unparseable attribute", "attribute", name, "value", v)
			}
			continue
		}
		if _, taken := attrs[name]; taken {
			logger.Debug("ignoring duplicate attribute", "attribute", name, "key", key)
			continue
		}
		attrs[name] = val
	}

	// Marketing and ticketing carriers default to the coupon airline.
	if code, ok := attrs[domain.AttrAirlineCode]; ok {
		for _, attr := range []string{domain.AttrMarketingAirline, domain.AttrTicketingAirline} {
			if _, present := attrs[attr]; !present {
				attrs[attr] = code
			}
		}
	}

	return domain.NewCoupon(id, attrs)
}
