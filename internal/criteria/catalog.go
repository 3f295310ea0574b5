// Package criteria implements the fixed catalog of contract filter criteria
// and their ternary evaluation against a coupon.
package criteria

import (
	"github.com/opensource-finance/tern/internal/domain"
)

// Kind is the comparison mode of a criterion.
type Kind int

const (
	KindBoolean Kind = iota + 1
	KindSet
	KindPattern
	KindRange
	KindLogic
)

func (k Kind) String() string {
	switch k {
	case KindBoolean:
		return "boolean"
	case KindSet:
		return "set"
	case KindPattern:
		return "pattern"
	case KindRange:
		return "range"
	case KindLogic:
		return "logic"
	default:
		return "unknown"
	}
}

// Criterion identifies one entry of the closed criterion catalog.
type Criterion int

const (
	CodeShare Criterion = iota + 1
	Interline
	NDC
	DomIntl
	Cabin
	RBD
	FareType
	CorporateCode
	TourCode
	CityCodes
	PCCs
	POS
	POO
	IATA
	Alliance
	SITISOTO
	MarketingAirline
	OperatingAirline
	TicketingAirline
	AirlineCode
	FareBasisPatterns
	Route
	OnD
	FlightNos
	SalesDate
	TravelDate
	FareClassLogic
	FareBasisLogic

	criterionEnd
)

type definition struct {
	name string
	kind Kind
	attr string
}

var definitions = [criterionEnd]definition{
	CodeShare:         {"Code_Share", KindBoolean, domain.AttrCodeShare},
	Interline:         {"Interline", KindBoolean, domain.AttrInterline},
	NDC:               {"NDC", KindBoolean, domain.AttrNDC},
	DomIntl:           {"DomIntl", KindBoolean, domain.AttrInternational},
	Cabin:             {"Cabin", KindSet, domain.AttrCabin},
	RBD:               {"RBD", KindSet, domain.AttrRBD},
	FareType:          {"Fare_Type", KindSet, domain.AttrFareType},
	CorporateCode:     {"Corporate_Code", KindSet, domain.AttrCorporateCode},
	TourCode:          {"Tour_Code", KindSet, domain.AttrTourCode},
	CityCodes:         {"City_Codes", KindSet, domain.AttrCityCodes},
	PCCs:              {"PCCs", KindSet, domain.AttrPCC},
	POS:               {"POS", KindSet, domain.AttrPOS},
	POO:               {"POO", KindSet, domain.AttrPOO},
	IATA:              {"IATA", KindSet, domain.AttrIATA},
	Alliance:          {"Alliance", KindSet, domain.AttrAlliance},
	SITISOTO:          {"SITI_SOTO_SITO_SOTI", KindSet, domain.AttrSITISOTO},
	MarketingAirline:  {"Marketing_Airline", KindSet, domain.AttrMarketingAirline},
	OperatingAirline:  {"Operating_Airline", KindSet, domain.AttrOperatingAirline},
	TicketingAirline:  {"Ticketing_Airline", KindSet, domain.AttrTicketingAirline},
	AirlineCode:       {"Airline_Code", KindSet, domain.AttrAirlineCode},
	FareBasisPatterns: {"Fare_Basis_Patterns", KindPattern, domain.AttrFareBasis},
	Route:             {"Route", KindPattern, domain.AttrRoute},
	OnD:               {"OnD", KindPattern, domain.AttrItinerary},
	FlightNos:         {"Flight_Nos", KindPattern, domain.AttrFlightNumber},
	SalesDate:         {"Sales_Date", KindRange, domain.AttrSalesDate},
	TravelDate:        {"Travel_Date", KindRange, domain.AttrFlownDate},
	FareClassLogic:    {"Fare_Class_Logic", KindLogic, domain.AttrFareClass},
	FareBasisLogic:    {"Fare_Basis_Logic", KindLogic, domain.AttrFareBasis},
}

// aliases maps authoring spellings to catalog entries.
var aliases = map[string]Criterion{
	"Marketing Airline":   MarketingAirline,
	"Operating Airline":   OperatingAirline,
	"Ticketing Airline":   TicketingAirline,
	"Routes":              Route,
	"O&D":                 OnD,
	"O&D Area":            OnD,
	"SITI/SOTO/SITO/SOTI": SITISOTO,
	"Fare Type":           FareType,
	"Booking Class":       RBD,
	"Flight Numbers":      FlightNos,
	"Fare Basis":          FareBasisPatterns,
	"Sales Date":          SalesDate,
	"Travel Date":         TravelDate,
	"Code Share":          CodeShare,
	"Corporate Code":      CorporateCode,
	"Tour Code":           TourCode,
	"City Codes":          CityCodes,
}

var byName = func() map[string]Criterion {
	m := make(map[string]Criterion, len(definitions)+len(aliases))
	for c := CodeShare; c < criterionEnd; c++ {
		m[definitions[c].name] = c
	}
	for alias, c := range aliases {
		m[alias] = c
	}
	return m
}()

// Lookup resolves a canonical name or authoring alias.
func Lookup(name string) (Criterion, bool) {
	c, ok := byName[name]
	return c, ok
}

// All returns every catalog entry in declaration order.
func All() []Criterion {
	out := make([]Criterion, 0, int(criterionEnd)-1)
	for c := CodeShare; c < criterionEnd; c++ {
		out = append(out, c)
	}
	return out
}

// Name returns the canonical name.
func (c Criterion) Name() string {
	if !c.Valid() {
		return "unknown"
	}
	return definitions[c].name
}

func (c Criterion) String() string { return c.Name() }

// Kind returns the comparison mode.
func (c Criterion) Kind() Kind {
	if !c.Valid() {
		return 0
	}
	return definitions[c].kind
}

// Attribute returns the primary coupon attribute the criterion reads.
func (c Criterion) Attribute() string {
	if !c.Valid() {
		return ""
	}
	return definitions[c].attr
}

// Valid reports whether c is a catalog entry.
func (c Criterion) Valid() bool {
	return c >= CodeShare && c < criterionEnd
}
