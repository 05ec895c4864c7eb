// Package merge combines a provenance-tagged partial observation with the
// stored company record. Scalars never regress to empty, phone sets only
// grow, and premium fields are gated on enrichment provenance: a thin scrape
// result can never clobber data the enrichment source already supplied.
package merge

import (
	"fmt"
	"slices"
	"time"

	"github.com/baza-td/stroyparser/internal/model"
)

// KeyMismatchError signals a caller bug: merging records for two different
// tax identifiers. It is fatal to the operation and must never be swallowed.
type KeyMismatchError struct {
	Stored   string
	Incoming string
}

func (e *KeyMismatchError) Error() string {
	return fmt.Sprintf("merge: tax id mismatch: stored %s, incoming %s", e.Stored, e.Incoming)
}

// Apply merges an incoming partial into the stored record (nil on first
// sight) and returns the record to persist. The stored record is not
// mutated. Policy:
//   - scalar fields: non-empty incoming overwrites, empty never clears;
//   - phones: set union, sorted;
//   - ring/priority/distance: latest search context wins;
//   - premium fields: enrichment provenance only, last successful enrichment
//     wins, nil incoming never clears.
func Apply(stored *model.CompanyRecord, in model.Partial, now time.Time) (*model.CompanyRecord, error) {
	if stored != nil && stored.TaxID != "" && in.TaxID != "" && stored.TaxID != in.TaxID {
		return nil, &KeyMismatchError{Stored: stored.TaxID, Incoming: in.TaxID}
	}

	out := stored.Clone()
	if out == nil {
		out = &model.CompanyRecord{TaxID: in.TaxID}
	}

	setNonEmpty(&out.OGRN, in.OGRN)
	setNonEmpty(&out.Name, in.Name)
	setNonEmpty(&out.Address, in.Address)
	setNonEmpty(&out.City, in.City)
	setNonEmpty(&out.Website, in.Website)
	setNonEmpty(&out.Email, in.Email)
	setNonEmpty(&out.Category, in.Category)
	setNonEmpty(&out.OKVED, in.OKVED)
	setNonEmpty(&out.Source, in.Source)

	out.Phones = unionPhones(out.Phones, in.Phones)

	if in.Ring != 0 {
		out.Ring = in.Ring
	}
	if in.Priority != "" {
		out.Priority = in.Priority
	}
	if in.DistanceKM != nil {
		out.DistanceKM = ptr(*in.DistanceKM)
	}

	if in.FromEnrichment() {
		applyPremium(out, in, now)
	}

	return out, nil
}

func applyPremium(out *model.CompanyRecord, in model.Partial, now time.Time) {
	touched := false
	if in.Revenue != nil {
		out.Revenue = ptr(*in.Revenue)
		touched = true
	}
	if in.Profit != nil {
		out.Profit = ptr(*in.Profit)
		touched = true
	}
	if in.EmployeeCount != nil {
		out.EmployeeCount = ptr(*in.EmployeeCount)
		touched = true
	}
	if len(in.Founders) > 0 {
		out.Founders = slices.Clone(in.Founders)
		touched = true
	}
	if in.CourtCases != nil {
		out.CourtCases = ptr(*in.CourtCases)
		touched = true
	}
	if in.GovernmentContracts != nil {
		out.GovernmentContracts = ptr(*in.GovernmentContracts)
		touched = true
	}
	if touched {
		t := now
		out.LastEnrichedAt = &t
	}
}

func unionPhones(stored, incoming []string) []string {
	if len(incoming) == 0 {
		return stored
	}
	set := make(map[string]struct{}, len(stored)+len(incoming))
	for _, p := range stored {
		set[p] = struct{}{}
	}
	for _, p := range incoming {
		set[p] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func setNonEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func ptr[T any](v T) *T { return &v }
