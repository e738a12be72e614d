package machining

import (
	"fmt"
	"strings"
)

// Code classifies a diagnostic.
type Code string

// Diagnostic codes.
const (
	// MissingParameter: a value was absent and a documented default was
	// used. The affected stage parameter is flagged for verification.
	MissingParameter Code = "MissingParameter"

	// GeometryInconsistency: feature dimensions contradict each other. The
	// feature is dropped and processing continues.
	GeometryInconsistency Code = "GeometryInconsistency"

	// UnderMatchedPattern: fewer pattern holes were found than requested.
	UnderMatchedPattern Code = "UnderMatchedPattern"

	// InvalidStageOrdering: a stage sequence broke the fixed templates.
	InvalidStageOrdering Code = "InvalidStageOrdering"

	// UnsupportedFeature: the feature variant has no stage template for the
	// requested processing type.
	UnsupportedFeature Code = "UnsupportedFeature"

	// RejectedRequirement: a special requirement cannot be honored.
	RejectedRequirement Code = "RejectedRequirement"
)

// Diagnostic is a non-fatal finding attached to a detection or planning
// result.
type Diagnostic struct {
	Code      Code   `json:"code"`
	FeatureID string `json:"feature_id,omitempty"`
	Parameter string `json:"parameter,omitempty"`
	Message   string `json:"message"`

	// Expected and Actual are set for UnderMatchedPattern.
	Expected int `json:"expected,omitempty"`
	Actual   int `json:"actual,omitempty"`
}

// String formats the diagnostic on one line.
func (d Diagnostic) String() string {
	var b strings.Builder
	b.WriteString(string(d.Code))
	if d.FeatureID != "" {
		fmt.Fprintf(&b, " [%s]", d.FeatureID)
	}
	if d.Parameter != "" {
		fmt.Fprintf(&b, " %s", d.Parameter)
	}
	b.WriteString(": ")
	b.WriteString(d.Message)
	return b.String()
}

// Diagnostics is an ordered list of findings.
type Diagnostics []Diagnostic

// Add appends a diagnostic built from a format string.
func (ds *Diagnostics) Add(code Code, featureID, format string, args ...any) {
	*ds = append(*ds, Diagnostic{Code: code, FeatureID: featureID, Message: fmt.Sprintf(format, args...)})
}

// Has reports whether any diagnostic carries code.
func (ds Diagnostics) Has(code Code) bool {
	return ds.Count(code) > 0
}

// Count returns the number of diagnostics with code.
func (ds Diagnostics) Count(code Code) int {
	n := 0
	for _, d := range ds {
		if d.Code == code {
			n++
		}
	}
	return n
}

// Filter returns the diagnostics with code, in order.
func (ds Diagnostics) Filter(code Code) Diagnostics {
	var out Diagnostics
	for _, d := range ds {
		if d.Code == code {
			out = append(out, d)
		}
	}
	return out
}
