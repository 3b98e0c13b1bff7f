package universe

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/greenfolio/internal/domain"
)

// AssetUniverse is an immutable snapshot of assets and their covariance.
// The covariance index set equals the asset identifiers, in asset order.
type AssetUniverse struct {
	assets []Asset
	index  map[string]int
	cov    *CovarianceMatrix
}

// New validates assets against cov and builds a universe in asset order.
// cov may list the same identifiers in a different order.
func New(assets []Asset, cov *CovarianceMatrix) (*AssetUniverse, error) {
	if len(assets) == 0 {
		return nil, &domain.UniverseMismatchError{Source: "assets", Detail: "universe has no assets"}
	}
	if cov == nil {
		return nil, &domain.UniverseMismatchError{Source: "covariance", Detail: "covariance matrix is required"}
	}

	ids := make([]string, len(assets))
	index := make(map[string]int, len(assets))
	owned := make([]Asset, len(assets))
	for i, a := range assets {
		if a.ID == "" {
			return nil, &domain.UniverseMismatchError{Source: "assets", Detail: fmt.Sprintf("empty identifier at position %d", i)}
		}
		if _, dup := index[a.ID]; dup {
			return nil, &domain.UniverseMismatchError{Source: "assets", Detail: fmt.Sprintf("duplicate identifier %s", a.ID)}
		}
		if err := validateAsset(a); err != nil {
			return nil, err
		}
		index[a.ID] = i
		ids[i] = a.ID
		owned[i] = a.clone()
	}

	if cov.Size() != len(assets) {
		missing, extra := domain.SetDifference(ids, cov.IDs())
		return nil, &domain.UniverseMismatchError{
			Source:  "covariance",
			Missing: missing,
			Extra:   extra,
			Detail:  fmt.Sprintf("covariance size %d, assets %d", cov.Size(), len(assets)),
		}
	}
	ordered, err := cov.reorder(ids)
	if err != nil {
		return nil, err
	}

	return &AssetUniverse{assets: owned, index: index, cov: ordered}, nil
}

// FromMaps joins the market-data and ESG collaborator outputs. Assets are
// ordered by identifier. The three identifier sets must agree exactly.
func FromMaps(returns, esgScores map[string]float64, covariance map[string]map[string]float64) (*AssetUniverse, error) {
	ids := make([]string, 0, len(returns))
	for id := range returns {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	esgIDs := make([]string, 0, len(esgScores))
	for id := range esgScores {
		esgIDs = append(esgIDs, id)
	}
	if missing, extra := domain.SetDifference(ids, esgIDs); len(missing) > 0 || len(extra) > 0 {
		return nil, &domain.UniverseMismatchError{Source: "esg_scores", Missing: missing, Extra: extra}
	}

	cov, err := NewCovarianceFromMap(ids, covariance)
	if err != nil {
		return nil, err
	}

	assets := make([]Asset, len(ids))
	for i, id := range ids {
		assets[i] = Asset{ID: id, ExpectedReturn: returns[id], ESGScore: esgScores[id]}
	}
	return New(assets, cov)
}

func validateAsset(a Asset) error {
	if math.IsNaN(a.ExpectedReturn) || math.IsInf(a.ExpectedReturn, 0) {
		return &domain.NumericError{Operation: "expected return", Assets: []string{a.ID}, Detail: "non-finite value"}
	}
	if math.IsNaN(a.ESGScore) || a.ESGScore < 0 || a.ESGScore > 1 {
		return &domain.NumericError{
			Operation: "esg score",
			Value:     a.ESGScore,
			Assets:    []string{a.ID},
			Detail:    "score outside [0,1]",
		}
	}
	if p := a.Pillars; p != nil {
		for _, v := range []float64{p.Environmental, p.Social, p.Governance} {
			if math.IsNaN(v) || v < 0 || v > 1 {
				return &domain.NumericError{
					Operation: "esg pillar score",
					Value:     v,
					Assets:    []string{a.ID},
					Detail:    "pillar score outside [0,1]",
				}
			}
		}
	}
	return nil
}

// Len returns the number of assets.
func (u *AssetUniverse) Len() int { return len(u.assets) }

// Assets returns a copy of the assets in universe order.
func (u *AssetUniverse) Assets() []Asset {
	out := make([]Asset, len(u.assets))
	for i, a := range u.assets {
		out[i] = a.clone()
	}
	return out
}

// Asset returns the asset at position i.
func (u *AssetUniverse) Asset(i int) Asset { return u.assets[i].clone() }

// IDs returns the asset identifiers in universe order.
func (u *AssetUniverse) IDs() []string {
	ids := make([]string, len(u.assets))
	for i, a := range u.assets {
		ids[i] = a.ID
	}
	return ids
}

// IndexOf returns the position of an asset identifier.
func (u *AssetUniverse) IndexOf(id string) (int, bool) {
	i, ok := u.index[id]
	return i, ok
}

// Returns returns expected returns in universe order.
func (u *AssetUniverse) Returns() []float64 {
	out := make([]float64, len(u.assets))
	for i, a := range u.assets {
		out[i] = a.ExpectedReturn
	}
	return out
}

// ESGScores returns ESG scores in universe order.
func (u *AssetUniverse) ESGScores() []float64 {
	out := make([]float64, len(u.assets))
	for i, a := range u.assets {
		out[i] = a.ESGScore
	}
	return out
}

// Covariance returns the covariance matrix, indexed in universe order.
func (u *AssetUniverse) Covariance() *CovarianceMatrix { return u.cov }
