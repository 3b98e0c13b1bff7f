// Package universe provides the validated asset universe consumed by the optimizer.
package universe

import (
	"fmt"
	"math"
	"strings"
)

// Asset is one candidate investment.
// ESGScore is always on the unit scale [0,1]; see ESGScale for boundary conversion.
type Asset struct {
	ID             string   `json:"id"`
	ExpectedReturn float64  `json:"expected_return"` // annualized fraction, 0.12 = 12%
	ESGScore       float64  `json:"esg_score"`       // [0,1]
	Pillars        *Pillars `json:"pillars,omitempty"`
}

// Pillars holds optional environmental/social/governance sub-scores on [0,1].
type Pillars struct {
	Environmental float64 `json:"environmental" yaml:"environmental" msgpack:"environmental"`
	Social        float64 `json:"social" yaml:"social" msgpack:"social"`
	Governance    float64 `json:"governance" yaml:"governance" msgpack:"governance"`
}

func (a Asset) clone() Asset {
	if a.Pillars != nil {
		p := *a.Pillars
		a.Pillars = &p
	}
	return a
}

// ESGScale names the unit an ESG collaborator reports scores in.
type ESGScale string

const (
	// ScaleUnit scores are already on [0,1].
	ScaleUnit ESGScale = "unit"
	// ScalePercent scores are on [0,100] and get divided by 100.
	ScalePercent ESGScale = "percent"
)

// ParseESGScale parses a scale name; the empty string means ScaleUnit.
func ParseESGScale(s string) (ESGScale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "unit", "fraction":
		return ScaleUnit, nil
	case "percent", "pct", "100":
		return ScalePercent, nil
	default:
		return "", fmt.Errorf("unknown ESG scale %q (supported: unit, percent)", s)
	}
}

// Normalize converts a score reported on this scale to the unit scale.
func (s ESGScale) Normalize(score float64) (float64, error) {
	var upper float64
	switch s {
	case ScaleUnit, "":
		upper = 1
	case ScalePercent:
		upper = 100
	default:
		return 0, fmt.Errorf("unknown ESG scale %q", string(s))
	}
	if math.IsNaN(score) || score < 0 || score > upper {
		return 0, fmt.Errorf("esg score %g outside [0,%g]", score, upper)
	}
	return score / upper, nil
}

// NormalizeScores converts a whole collaborator map to the unit scale.
func (s ESGScale) NormalizeScores(scores map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(scores))
	for id, score := range scores {
		v, err := s.Normalize(score)
		if err != nil {
			return nil, fmt.Errorf("asset %s: %w", id, err)
		}
		out[id] = v
	}
	return out, nil
}
