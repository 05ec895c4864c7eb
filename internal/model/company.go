// Package model defines the canonical company record, search bookkeeping
// entities, and the provenance-tagged partial record that flows through the
// normalization and merge pipeline.
package model

import (
	"slices"
	"time"
)

// Priority is the coarse quality tier assigned by search context.
type Priority string

const (
	PriorityA Priority = "A"
	PriorityB Priority = "B"
	PriorityC Priority = "C"
)

// CompanyRecord is the golden record for a company, keyed by INN.
type CompanyRecord struct {
	ID    int64  `json:"id" db:"id"`
	TaxID string `json:"tax_id" db:"tax_id"` // ИНН, unique, checksum-valid
	OGRN  string `json:"ogrn,omitempty" db:"ogrn"`

	Name    string `json:"name,omitempty" db:"name"`
	Address string `json:"address,omitempty" db:"address"`
	City    string `json:"city,omitempty" db:"city"`
	Website string `json:"website,omitempty" db:"website"`
	Email   string `json:"email,omitempty" db:"email"`

	// Canonical +7XXXXXXXXXX strings, sorted, no duplicates.
	Phones []string `json:"phones,omitempty" db:"phones"`

	// Search-context classification.
	Ring       int      `json:"ring,omitempty" db:"ring"` // 1-4, 0 = unset
	Priority   Priority `json:"priority,omitempty" db:"priority"`
	Category   string   `json:"category,omitempty" db:"category"`
	OKVED      string   `json:"okved,omitempty" db:"okved"`
	Source     string   `json:"source,omitempty" db:"source"`
	DistanceKM *int     `json:"distance_km,omitempty" db:"distance_km"`

	// Premium fields, populated only by the enrichment source.
	Revenue             *int64     `json:"revenue,omitempty" db:"revenue"`
	Profit              *int64     `json:"profit,omitempty" db:"profit"`
	EmployeeCount       *int       `json:"employee_count,omitempty" db:"employee_count"`
	Founders            []string   `json:"founders,omitempty" db:"founders"`
	CourtCases          *int       `json:"court_cases,omitempty" db:"court_cases"`
	GovernmentContracts *int       `json:"government_contracts,omitempty" db:"government_contracts"`
	LastEnrichedAt      *time.Time `json:"last_enriched_at,omitempty" db:"last_enriched_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Clone returns a deep copy so merges never alias slices of the stored record.
func (c *CompanyRecord) Clone() *CompanyRecord {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Phones = slices.Clone(c.Phones)
	cp.Founders = slices.Clone(c.Founders)
	cp.DistanceKM = clonePtr(c.DistanceKM)
	cp.Revenue = clonePtr(c.Revenue)
	cp.Profit = clonePtr(c.Profit)
	cp.EmployeeCount = clonePtr(c.EmployeeCount)
	cp.CourtCases = clonePtr(c.CourtCases)
	cp.GovernmentContracts = clonePtr(c.GovernmentContracts)
	cp.LastEnrichedAt = clonePtr(c.LastEnrichedAt)
	return &cp
}

// HasPremium reports whether any enrichment-only field is populated.
func (c *CompanyRecord) HasPremium() bool {
	return c.Revenue != nil || c.Profit != nil || c.EmployeeCount != nil ||
		len(c.Founders) > 0 || c.CourtCases != nil || c.GovernmentContracts != nil
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// CompanyFilter selects companies for listing and export.
type CompanyFilter struct {
	City     string
	Ring     int
	Priority Priority
	HasPhone *bool
	HasEmail *bool
	Limit    int
	Offset   int
}

// Stats summarizes the stored record set for the dashboard endpoints.
type Stats struct {
	Total     int64 `json:"total"`
	PriorityA int64 `json:"priority_a"`
	PriorityB int64 `json:"priority_b"`
	PriorityC int64 `json:"priority_c"`
	WithPhone int64 `json:"with_phone"`
	WithEmail int64 `json:"with_email"`
}

// City maps a city name to its search ring and distance from the base city.
type City struct {
	ID         int64  `json:"id" db:"id" yaml:"-"`
	Name       string `json:"name" db:"name" yaml:"name"`
	Ring       int    `json:"ring" db:"ring" yaml:"ring"`
	DistanceKM int    `json:"distance_km" db:"distance_km" yaml:"distance_km"`
}
