package universe

import (
	"fmt"
	"io"
	"os"

	"github.com/aristath/greenfolio/internal/domain"
	"gopkg.in/yaml.v3"
)

// Document is the serialized form of a universe used by files and API requests.
// Either Covariance or Variances (a diagonal shortcut) must be given.
type Document struct {
	ESGScale   string                        `json:"esg_scale,omitempty" yaml:"esg_scale,omitempty" msgpack:"esg_scale,omitempty"`
	Assets     []AssetDocument               `json:"assets" yaml:"assets" msgpack:"assets"`
	Covariance map[string]map[string]float64 `json:"covariance,omitempty" yaml:"covariance,omitempty" msgpack:"covariance,omitempty"`
	Variances  map[string]float64            `json:"variances,omitempty" yaml:"variances,omitempty" msgpack:"variances,omitempty"`
}

// AssetDocument is one asset entry in a Document.
type AssetDocument struct {
	ID             string   `json:"id" yaml:"id" msgpack:"id"`
	ExpectedReturn float64  `json:"expected_return" yaml:"expected_return" msgpack:"expected_return"`
	ESGScore       float64  `json:"esg_score" yaml:"esg_score" msgpack:"esg_score"`
	Pillars        *Pillars `json:"pillars,omitempty" yaml:"pillars,omitempty" msgpack:"pillars,omitempty"`
}

// Build converts the document to the unit ESG scale and validates it.
// Assets keep document order.
func (d *Document) Build() (*AssetUniverse, error) {
	scale, err := ParseESGScale(d.ESGScale)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(d.Assets))
	assets := make([]Asset, len(d.Assets))
	for i, a := range d.Assets {
		ids[i] = a.ID
		esg, err := scale.Normalize(a.ESGScore)
		if err != nil {
			return nil, &domain.NumericError{Operation: "esg score", Value: a.ESGScore, Assets: []string{a.ID}, Detail: err.Error()}
		}
		assets[i] = Asset{ID: a.ID, ExpectedReturn: a.ExpectedReturn, ESGScore: esg}
		if a.Pillars != nil {
			p, err := normalizePillars(scale, *a.Pillars)
			if err != nil {
				return nil, &domain.NumericError{Operation: "esg pillar score", Assets: []string{a.ID}, Detail: err.Error()}
			}
			assets[i].Pillars = &p
		}
	}

	var cov *CovarianceMatrix
	switch {
	case len(d.Covariance) > 0 && len(d.Variances) > 0:
		return nil, &domain.UniverseMismatchError{Source: "covariance", Detail: "give either covariance or variances, not both"}
	case len(d.Covariance) > 0:
		cov, err = NewCovarianceFromMap(ids, d.Covariance)
	default:
		cov, err = diagonalCovariance(ids, d.Variances)
	}
	if err != nil {
		return nil, err
	}
	return New(assets, cov)
}

func normalizePillars(scale ESGScale, p Pillars) (Pillars, error) {
	var err error
	if p.Environmental, err = scale.Normalize(p.Environmental); err != nil {
		return p, fmt.Errorf("environmental: %w", err)
	}
	if p.Social, err = scale.Normalize(p.Social); err != nil {
		return p, fmt.Errorf("social: %w", err)
	}
	if p.Governance, err = scale.Normalize(p.Governance); err != nil {
		return p, fmt.Errorf("governance: %w", err)
	}
	return p, nil
}

func diagonalCovariance(ids []string, variances map[string]float64) (*CovarianceMatrix, error) {
	have := make([]string, 0, len(variances))
	for id := range variances {
		have = append(have, id)
	}
	if missing, extra := domain.SetDifference(ids, have); len(missing) > 0 || len(extra) > 0 {
		return nil, &domain.UniverseMismatchError{Source: "variances", Missing: missing, Extra: extra}
	}
	rows := make([][]float64, len(ids))
	for i, id := range ids {
		rows[i] = make([]float64, len(ids))
		rows[i][i] = variances[id]
	}
	return NewCovarianceMatrix(ids, rows)
}

// DocumentFrom serializes a universe on the unit ESG scale with a full covariance table.
func DocumentFrom(u *AssetUniverse) *Document {
	d := &Document{
		ESGScale:   string(ScaleUnit),
		Assets:     make([]AssetDocument, u.Len()),
		Covariance: make(map[string]map[string]float64, u.Len()),
	}
	ids := u.IDs()
	rows := u.Covariance().Rows()
	for i, a := range u.Assets() {
		d.Assets[i] = AssetDocument{ID: a.ID, ExpectedReturn: a.ExpectedReturn, ESGScore: a.ESGScore, Pillars: a.Pillars}
		row := make(map[string]float64, len(ids))
		for j, other := range ids {
			row[other] = rows[i][j]
		}
		d.Covariance[a.ID] = row
	}
	return d
}

// DecodeYAML reads a Document, rejecting unknown fields.
func DecodeYAML(r io.Reader) (*Document, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var d Document
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode universe document: %w", err)
	}
	return &d, nil
}

// LoadFile reads and builds a universe from a YAML (or JSON, which YAML accepts) file.
func LoadFile(path string) (*AssetUniverse, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open universe file: %w", err)
	}
	defer f.Close()

	d, err := DecodeYAML(f)
	if err != nil {
		return nil, err
	}
	return d.Build()
}
