package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for the optimizer error taxonomy.
// Use errors.Is against these; use errors.As against the detail types below.
var (
	ErrUniverseMismatch   = errors.New("universe mismatch")
	ErrInvalidConstraints = errors.New("invalid constraints")
	ErrNumeric            = errors.New("numeric error")
)

// UniverseMismatchError reports asset identifier sets that disagree between
// returns, ESG scores and covariance.
type UniverseMismatchError struct {
	Source  string   // which input disagrees ("esg_scores", "covariance", "weights", ...)
	Missing []string // identifiers expected but absent from Source
	Extra   []string // identifiers present in Source but unknown
	Detail  string
}

func (e *UniverseMismatchError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "universe mismatch in %s", e.Source)
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, ": missing [%s]", strings.Join(e.Missing, ", "))
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&b, ": unexpected [%s]", strings.Join(e.Extra, ", "))
	}
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	return b.String()
}

func (e *UniverseMismatchError) Unwrap() error { return ErrUniverseMismatch }

// InvalidConstraintsError reports self-contradictory bounds or blend settings.
type InvalidConstraintsError struct {
	AssetID string // empty for portfolio-level problems
	Reason  string
}

func (e *InvalidConstraintsError) Error() string {
	if e.AssetID != "" {
		return fmt.Sprintf("invalid constraints for asset %s: %s", e.AssetID, e.Reason)
	}
	return fmt.Sprintf("invalid constraints: %s", e.Reason)
}

func (e *InvalidConstraintsError) Unwrap() error { return ErrInvalidConstraints }

// NumericError reports a numerical failure, typically a covariance matrix
// that is not positive semi-definite.
type NumericError struct {
	Operation string   // e.g. "quadratic form wᵀΣw", "eigen decomposition"
	Value     float64  // offending value, when there is one
	Assets    []string // assets implicated in the failure
	Detail    string
}

func (e *NumericError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "numeric error in %s", e.Operation)
	if e.Detail != "" {
		fmt.Fprintf(&b, ": %s", e.Detail)
	}
	if e.Value != 0 {
		fmt.Fprintf(&b, " (value=%g)", e.Value)
	}
	if len(e.Assets) > 0 {
		fmt.Fprintf(&b, " [assets: %s]", strings.Join(e.Assets, ", "))
	}
	return b.String()
}

func (e *NumericError) Unwrap() error { return ErrNumeric }

// SetDifference returns the sorted identifiers of want missing from have and
// the sorted identifiers of have that are not in want.
func SetDifference(want, have []string) (missing, extra []string) {
	wantSet := make(map[string]struct{}, len(want))
	for _, id := range want {
		wantSet[id] = struct{}{}
	}
	haveSet := make(map[string]struct{}, len(have))
	for _, id := range have {
		haveSet[id] = struct{}{}
		if _, ok := wantSet[id]; !ok {
			extra = append(extra, id)
		}
	}
	for _, id := range want {
		if _, ok := haveSet[id]; !ok {
			missing = append(missing, id)
		}
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return missing, extra
}
