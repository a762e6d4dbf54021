// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drift

import (
	"fmt"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
)

// ClassifyInput is what a classifier sees of one analysis.
type ClassifyInput struct {
	Plan       *datatypes.SacredPlan
	Activity   string
	Score      float64
	Status     datatypes.DriftStatus
	Thresholds datatypes.Thresholds
}

// Classifier turns a scored analysis into violations. Implementations must
// be deterministic: equal inputs give equal output in equal order.
type Classifier interface {
	Classify(in ClassifyInput) []datatypes.Violation
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(in ClassifyInput) []datatypes.Violation

func (f ClassifierFunc) Classify(in ClassifyInput) []datatypes.Violation { return f(in) }

// LexicalClassifier reports catalog signals that appear in the activity but
// are not attested anywhere in the plan.
//
// # Description
//
// Only MINOR_DRIFT and worse are classified. Every violation in one analysis
// gets the same severity, derived from how far the score sits below the
// ALIGNED threshold. When the plan names a different signal of the same
// category (another database, another API style) that choice is quoted in
// the description.
type LexicalClassifier struct {
	catalog *Catalog
}

// NewLexicalClassifier creates a classifier over catalog; nil uses the
// embedded default.
func NewLexicalClassifier(catalog *Catalog) *LexicalClassifier {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &LexicalClassifier{catalog: catalog}
}

// Classify implements Classifier.
func (c *LexicalClassifier) Classify(in ClassifyInput) []datatypes.Violation {
	if in.Status.Rank() < datatypes.DriftMinor.Rank() || in.Plan == nil {
		return nil
	}
	planText := in.Plan.Title + "\n" + in.Plan.Content

	attested := make(map[string]bool)
	byCategory := make(map[string][]string)
	for _, m := range c.catalog.Scan(planText) {
		attested[m.Signal.Term] = true
		byCategory[m.Signal.Category] = append(byCategory[m.Signal.Category], m.Signal.Term)
	}

	severity := SeverityFor(in.Score, in.Thresholds)
	var out []datatypes.Violation
	for _, m := range c.catalog.Scan(in.Activity) {
		if attested[m.Signal.Term] {
			continue
		}
		desc := fmt.Sprintf("activity introduces %s (%s), which the plan does not mention",
			m.Signal.Term, m.Signal.Category)
		planned := strings.Join(byCategory[m.Signal.Category], ", ")
		if planned != "" {
			desc = fmt.Sprintf("activity introduces %s (%s) but plan specifies %s",
				m.Signal.Term, m.Signal.Category, planned)
		}
		out = append(out, datatypes.Violation{
			Kind:        datatypes.ViolationKind(m.Signal.Kind),
			Severity:    severity,
			Description: desc,
			ActivityRef: m.Text,
			Planned:     planned,
		})
	}
	SortViolations(out)
	return out
}

// SeverityFor buckets the relative gap (aligned - score) / aligned:
// below 0.25 low, below 0.5 medium, below 0.75 high, otherwise critical.
func SeverityFor(score float64, t datatypes.Thresholds) datatypes.Severity {
	if t.Aligned <= 0 {
		return datatypes.SeverityCritical
	}
	gap := (t.Aligned - score) / t.Aligned
	switch {
	case gap < 0.25:
		return datatypes.SeverityLow
	case gap < 0.5:
		return datatypes.SeverityMedium
	case gap < 0.75:
		return datatypes.SeverityHigh
	default:
		return datatypes.SeverityCritical
	}
}

// SortViolations orders by severity descending, then kind, then description.
func SortViolations(vs []datatypes.Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if a.Severity.Weight() != b.Severity.Weight() {
			return a.Severity.Weight() > b.Severity.Weight()
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.Description < b.Description
	})
}

// Recommend produces one recommendation per violation, in violation order.
// A violation with a planned alternative recommends returning to it.
func Recommend(plan *datatypes.SacredPlan, vs []datatypes.Violation) []string {
	title := ""
	if plan != nil {
		title = plan.Title
	}
	out := make([]string, 0, len(vs))
	for _, v := range vs {
		if v.Planned != "" {
			out = append(out, fmt.Sprintf("[%s] %s: use %s as plan %q specifies or submit a superseding plan",
				v.Severity, v.Description, v.Planned, title))
			continue
		}
		out = append(out, fmt.Sprintf("[%s] %s: reconcile with plan %q or submit a superseding plan",
			v.Severity, v.Description, title))
	}
	return out
}
