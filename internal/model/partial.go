package model

// Provenance identifies the origin of an incoming partial record. The merge
// policy gates premium fields on it, so it is attached explicitly at the
// source rather than inferred later.
type Provenance string

const (
	// ProvenanceScrape marks data from raw search scraping.
	ProvenanceScrape Provenance = "scrape"
	// ProvenanceEnrichment marks data from the premium enrichment source.
	ProvenanceEnrichment Provenance = "enrichment"
)

// Partial is a provenance-tagged partial observation of a company. Scalar
// string fields use "" for absent; numeric premium fields use nil pointers so
// an explicit zero survives the merge.
type Partial struct {
	Provenance Provenance `json:"provenance"`

	TaxID   string `json:"tax_id"`
	OGRN    string `json:"ogrn,omitempty"`
	Name    string `json:"name,omitempty"`
	Address string `json:"address,omitempty"`
	City    string `json:"city,omitempty"`
	Website string `json:"website,omitempty"`
	Email   string `json:"email,omitempty"`

	// Phones must be canonical before the partial reaches the gateway.
	Phones []string `json:"phones,omitempty"`

	Ring       int      `json:"ring,omitempty"`
	Priority   Priority `json:"priority,omitempty"`
	Category   string   `json:"category,omitempty"`
	OKVED      string   `json:"okved,omitempty"`
	Source     string   `json:"source,omitempty"`
	DistanceKM *int     `json:"distance_km,omitempty"`

	Revenue             *int64   `json:"revenue,omitempty"`
	Profit              *int64   `json:"profit,omitempty"`
	EmployeeCount       *int     `json:"employee_count,omitempty"`
	Founders            []string `json:"founders,omitempty"`
	CourtCases          *int     `json:"court_cases,omitempty"`
	GovernmentContracts *int     `json:"government_contracts,omitempty"`
}

// FromEnrichment reports whether the partial carries enrichment provenance.
func (p Partial) FromEnrichment() bool {
	return p.Provenance == ProvenanceEnrichment
}
