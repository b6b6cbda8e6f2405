// Package merge decides whether incoming product metadata improves on what is
// already stored. The thresholds are heuristics, exposed as configuration:
// repeated low-quality resubmission of the same product must be a no-op.
package merge

import (
	"strings"

	"github.com/Ramsey-B/clover/pkg/models"
)

// Policy holds the tunables for field replacement decisions.
type Policy struct {
	// MinLength is the placeholder floor: stored values shorter than this are
	// treated as effectively absent.
	MinLength int
	// RichnessMargin is the multiplicative factor an incoming value's length
	// must exceed the stored value's length by to replace it.
	RichnessMargin float64
}

// DefaultPolicy mirrors the config defaults.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		RichnessMargin: 1.5,
	}
}

// placeholders are stored values that scrapers commonly emit when the real
// field was missing. They never block replacement.
var placeholders = map[string]struct{}{
	"unknown":         {},
	"unknown product": {},
	"n/a":             {},
	"none":            {},
	"null":            {},
	"-":               {},
}

// FieldResult describes the outcome for a single metadata field.
type FieldResult struct {
	Field    string
	Replaced bool
	Value    string
}

// MergeResult is the field-by-field outcome of applying a submission's
// metadata to a stored product.
type MergeResult struct {
	Changed bool
	Fields  []FieldResult
}

// Apply merges incoming metadata into the product in place and reports which
// fields changed. Fields the submission leaves empty are never touched.
func (p Policy) Apply(product *models.Product, incoming *models.ProductMetadata) MergeResult {
	if incoming == nil {
		return MergeResult{}
	}

	result := MergeResult{}

	merge := func(field string, stored *string, submitted string) {
		fr := FieldResult{Field: field, Value: *stored}
		if p.ShouldReplace(*stored, submitted) {
			*stored = submitted
			fr.Replaced = true
			fr.Value = submitted
			result.Changed = true
		}
		result.Fields = append(result.Fields, fr)
	}

	merge("name", &product.Name, incoming.Name)
	merge("description", &product.Description, incoming.Description)
	merge("brand", &product.Brand, incoming.Brand)
	merge("category", &product.Category, incoming.Category)
	merge("image_url", &product.ImageURL, incoming.ImageURL)

	if len(incoming.Extra) > 0 && string(incoming.Extra) != "null" {
		if len(product.Metadata) == 0 || string(product.Metadata) == "null" {
			product.Metadata = incoming.Extra
			result.Changed = true
			result.Fields = append(result.Fields, FieldResult{Field: "metadata", Replaced: true, Value: string(incoming.Extra)})
		}
	}

	return result
}

// ShouldReplace implements the per-field decision:
//  1. never replace with an empty incoming value;
//  2. always replace an absent stored value;
//  3. replace a stored value below the minimum-information threshold
//     (shorter than MinLength, or a known placeholder);
//  4. replace when the incoming value is richer than the stored value by
//     more than the configured margin;
//  5. otherwise keep what is stored.
func (p Policy) ShouldReplace(stored, incoming string) bool {
	incoming = strings.TrimSpace(incoming)
	if incoming == "" {
		return false
	}

	stored = strings.TrimSpace(stored)
	if stored == "" {
		return true
	}

	if isPlaceholder(stored) || len(stored) < p.MinLength {
		// Do not swap one placeholder for another.
		return !isPlaceholder(incoming) && len(incoming) > len(stored)
	}

	margin := p.RichnessMargin
	if margin <= 1 {
		margin = 1
	}
	return float64(len(incoming)) > float64(len(stored))*margin
}

func isPlaceholder(s string) bool {
	_, ok := placeholders[strings.ToLower(strings.TrimSpace(s))]
	return ok
}
