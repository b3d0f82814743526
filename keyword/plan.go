package keyword

import (
	"strings"
)

type Classification string

const (
	ClassRestaurant Classification = "restaurant"
	ClassPet        Classification = "pet"
	ClassBasic      Classification = "basic"
)

var (
	restaurantMarkers = []string{"restaurant", "food", "맛집", "음식", "식당"}
	petMarkers        = []string{"pet", "애견", "반려", "동물병원"}
)

// Classify looks for category markers in the category, company and aux
// fields, in that order.
func Classify(category, company, aux string) Classification {
	for _, field := range []string{category, company, aux} {
		f := strings.ToLower(field)
		if f == "" {
			continue
		}

		if containsAny(f, restaurantMarkers) {
			return ClassRestaurant
		}

		if containsAny(f, petMarkers) {
			return ClassPet
		}
	}

	return ClassBasic
}

// Plan holds everything derived from a Record before crawling.
type Plan struct {
	Record Record
	Query  string
	Target string
	Aux    string
	Class  Classification
}

func NewPlan(r Record) Plan {
	target := strings.TrimSpace(r.Vendor)
	if target == "" {
		target = Annotation(r.Query)
	}

	aux := target
	if aux == "" {
		aux = strings.TrimSpace(r.Company)
	}

	return Plan{
		Record: r,
		Query:  NormalizeQuery(r.Query),
		Target: target,
		Aux:    aux,
		Class:  Classify(r.Category, r.Company, aux),
	}
}

// Exclusion flags keywords that are administratively out of the batch.
type Exclusion struct {
	ExcludedMarkers    []string
	UndeliveredMarkers []string
}

func DefaultExclusion() Exclusion {
	return Exclusion{
		ExcludedMarkers:    []string{"제외", "excluded"},
		UndeliveredMarkers: []string{"미전달", "not delivered"},
	}
}

// Check returns a reason when r must not be evaluated.
func (e Exclusion) Check(r Record) (string, bool) {
	if containsAny(strings.ToLower(r.Company), e.ExcludedMarkers) {
		return "company marked as excluded", true
	}

	if containsAny(strings.ToLower(r.Query), e.UndeliveredMarkers) {
		return "keyword data not delivered", true
	}

	return "", false
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if m != "" && strings.Contains(s, strings.ToLower(m)) {
			return true
		}
	}

	return false
}
