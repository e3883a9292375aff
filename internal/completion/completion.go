// Package completion scores entry document fields into per-category
// completion states. Everything here is pure: no I/O, no clock, same inputs
// always produce the same Metrics. The owning record caches the result and
// recomputes it on every field change.
package completion

import (
	"strings"

	dErrors "entrypack/pkg/domain-errors"
)

// Category is one of the four closed document categories. New categories are
// added here and nowhere else; switches over Category must stay exhaustive.
type Category string

const (
	CategoryPassport Category = "passport"
	CategoryPersonal Category = "personal"
	CategoryFunds    Category = "funds"
	CategoryTravel   Category = "travel"
)

// Categories lists all categories in canonical order.
var Categories = []Category{CategoryPassport, CategoryPersonal, CategoryFunds, CategoryTravel}

var validCategories = map[Category]bool{
	CategoryPassport: true,
	CategoryPersonal: true,
	CategoryFunds:    true,
	CategoryTravel:   true,
}

// ParseCategory constructs a Category from external input.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	if !validCategories[c] {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown category")
	}
	return c, nil
}

func (c Category) IsValid() bool  { return validCategories[c] }
func (c Category) String() string { return string(c) }

// State classifies how much of a category is filled in.
type State string

const (
	StateComplete State = "complete"
	StatePartial  State = "partial"
	StateMissing  State = "missing"
)

// Schema names the required scalar fields per category. Funds has no scalar
// fields; it scores as a collection.
type Schema map[Category][]string

// CategoryScore is the per-category fill count.
type CategoryScore struct {
	Filled int   `json:"filled"`
	Total  int   `json:"total"`
	State  State `json:"state"`
}

// Metrics is the cached completion summary on an entry record.
type Metrics struct {
	Categories map[Category]CategoryScore `json:"categories"`
	Percent    int                        `json:"percent"`
}

// ScoreFields counts how many required scalar fields carry a non-blank value.
// Values not named by the schema are ignored so free-form extras never skew
// the percentage.
func ScoreFields(required []string, values map[string]string) CategoryScore {
	score := CategoryScore{Total: len(required)}
	for _, name := range required {
		if strings.TrimSpace(values[name]) != "" {
			score.Filled++
		}
	}
	score.State = classify(score.Filled, score.Total)
	return score
}

// ScoreCollection scores a collection-valued category: one slot, filled when
// the collection is non-empty.
func ScoreCollection(count int) CategoryScore {
	score := CategoryScore{Total: 1}
	if count > 0 {
		score.Filled = 1
	}
	score.State = classify(score.Filled, score.Total)
	return score
}

// Aggregate folds category scores into a whole-pack percentage.
// round-half-up; an all-empty schema (0/0) is defined as 0%.
func Aggregate(scores map[Category]CategoryScore) int {
	var filled, total int
	for _, s := range scores {
		filled += s.Filled
		total += s.Total
	}
	if total == 0 {
		return 0
	}
	return (filled*100*2 + total) / (total * 2)
}

// Compute scores every category and the aggregate in one pass.
// scalars carries the three scalar category payloads; fundCount is the size
// of the funds collection.
func Compute(schema Schema, scalars map[Category]map[string]string, fundCount int) Metrics {
	categories := make(map[Category]CategoryScore, len(Categories))
	for _, c := range Categories {
		if c == CategoryFunds {
			categories[c] = ScoreCollection(fundCount)
			continue
		}
		categories[c] = ScoreFields(schema[c], scalars[c])
	}
	return Metrics{Categories: categories, Percent: Aggregate(categories)}
}

// AllComplete reports whether every category reached StateComplete.
func (m Metrics) AllComplete() bool {
	if len(m.Categories) == 0 {
		return false
	}
	for _, c := range Categories {
		if m.Categories[c].State != StateComplete {
			return false
		}
	}
	return true
}

// States projects the metrics down to the per-category state map frozen into
// snapshots.
func (m Metrics) States() map[Category]State {
	states := make(map[Category]State, len(m.Categories))
	for c, s := range m.Categories {
		states[c] = s.State
	}
	return states
}

func classify(filled, total int) State {
	switch {
	case total == 0 || filled == total:
		return StateComplete
	case filled == 0:
		return StateMissing
	default:
		return StatePartial
	}
}
