package universe

import (
	"fmt"
	"math"

	"github.com/aristath/greenfolio/internal/domain"
	"gonum.org/v1/gonum/mat"
)

const (
	// symmetryTolerance bounds |Σij - Σji| relative to the entry magnitude.
	symmetryTolerance = 1e-9
	// psdTolerance bounds how negative the smallest eigenvalue may be,
	// relative to the largest eigenvalue magnitude.
	psdTolerance = 1e-10
)

// CovarianceMatrix is a symmetric positive semi-definite covariance of asset
// returns, indexed by asset identifier.
type CovarianceMatrix struct {
	ids   []string
	index map[string]int
	sym   *mat.SymDense
}

// NewCovarianceMatrix validates rows (ordered like ids) and builds the matrix.
// Returns UniverseMismatchError for shape problems and NumericError for
// non-finite, asymmetric or non-PSD input.
func NewCovarianceMatrix(ids []string, rows [][]float64) (*CovarianceMatrix, error) {
	n := len(ids)
	if n == 0 {
		return nil, &domain.UniverseMismatchError{Source: "covariance", Detail: "no asset identifiers"}
	}

	index := make(map[string]int, n)
	for i, id := range ids {
		if id == "" {
			return nil, &domain.UniverseMismatchError{Source: "covariance", Detail: fmt.Sprintf("empty identifier at position %d", i)}
		}
		if _, dup := index[id]; dup {
			return nil, &domain.UniverseMismatchError{Source: "covariance", Detail: fmt.Sprintf("duplicate identifier %s", id)}
		}
		index[id] = i
	}

	if len(rows) != n {
		return nil, &domain.UniverseMismatchError{
			Source: "covariance",
			Detail: fmt.Sprintf("matrix has %d rows, expected %d", len(rows), n),
		}
	}
	for i, row := range rows {
		if len(row) != n {
			return nil, &domain.UniverseMismatchError{
				Source: "covariance",
				Detail: fmt.Sprintf("row %s has %d columns, expected %d", ids[i], len(row), n),
			}
		}
	}

	sym := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			a, b := rows[i][j], rows[j][i]
			if math.IsNaN(a) || math.IsInf(a, 0) || math.IsNaN(b) || math.IsInf(b, 0) {
				return nil, &domain.NumericError{
					Operation: "covariance entry",
					Assets:    []string{ids[i], ids[j]},
					Detail:    "non-finite value",
				}
			}
			scale := math.Max(1, math.Max(math.Abs(a), math.Abs(b)))
			if math.Abs(a-b) > symmetryTolerance*scale {
				return nil, &domain.NumericError{
					Operation: "symmetry check",
					Value:     a - b,
					Assets:    []string{ids[i], ids[j]},
					Detail:    fmt.Sprintf("cov[%s,%s]=%g but cov[%s,%s]=%g", ids[i], ids[j], a, ids[j], ids[i], b),
				}
			}
			sym.SetSym(i, j, (a+b)/2)
		}
	}

	c := &CovarianceMatrix{
		ids:   append([]string(nil), ids...),
		index: index,
		sym:   sym,
	}
	if err := c.checkPSD(); err != nil {
		return nil, err
	}
	return c, nil
}

// NewCovarianceFromMap builds the matrix from a nested asset-pair table,
// ordered by ids. Every row and column must name exactly the ids.
func NewCovarianceFromMap(ids []string, table map[string]map[string]float64) (*CovarianceMatrix, error) {
	rowIDs := make([]string, 0, len(table))
	for id := range table {
		rowIDs = append(rowIDs, id)
	}
	if missing, extra := domain.SetDifference(ids, rowIDs); len(missing) > 0 || len(extra) > 0 {
		return nil, &domain.UniverseMismatchError{Source: "covariance", Missing: missing, Extra: extra, Detail: "row identifiers"}
	}

	rows := make([][]float64, len(ids))
	for i, id := range ids {
		row := table[id]
		colIDs := make([]string, 0, len(row))
		for col := range row {
			colIDs = append(colIDs, col)
		}
		if missing, extra := domain.SetDifference(ids, colIDs); len(missing) > 0 || len(extra) > 0 {
			return nil, &domain.UniverseMismatchError{
				Source:  "covariance",
				Missing: missing,
				Extra:   extra,
				Detail:  fmt.Sprintf("columns of row %s", id),
			}
		}
		rows[i] = make([]float64, len(ids))
		for j, other := range ids {
			rows[i][j] = row[other]
		}
	}
	return NewCovarianceMatrix(ids, rows)
}

// checkPSD verifies non-negative variances and a non-negative spectrum.
func (c *CovarianceMatrix) checkPSD() error {
	n := len(c.ids)
	var negative []string
	for i := 0; i < n; i++ {
		if c.sym.At(i, i) < 0 {
			negative = append(negative, c.ids[i])
		}
	}
	if len(negative) > 0 {
		return &domain.NumericError{
			Operation: "variance check",
			Assets:    negative,
			Detail:    "negative variance on the diagonal",
		}
	}

	var eig mat.EigenSym
	if ok := eig.Factorize(c.sym, false); !ok {
		return &domain.NumericError{Operation: "eigen decomposition", Detail: "factorization did not converge"}
	}
	values := eig.Values(nil)
	minVal, maxAbs := math.Inf(1), 0.0
	for _, v := range values {
		minVal = math.Min(minVal, v)
		maxAbs = math.Max(maxAbs, math.Abs(v))
	}
	if minVal < -psdTolerance*math.Max(1, maxAbs) {
		return &domain.NumericError{
			Operation: "positive semi-definite check",
			Value:     minVal,
			Assets:    c.IDs(),
			Detail:    "covariance matrix has a negative eigenvalue",
		}
	}
	return nil
}

// Size returns the number of assets indexed by the matrix.
func (c *CovarianceMatrix) Size() int { return len(c.ids) }

// IDs returns the index order.
func (c *CovarianceMatrix) IDs() []string { return append([]string(nil), c.ids...) }

// At returns the covariance of a pair of assets.
func (c *CovarianceMatrix) At(a, b string) (float64, bool) {
	i, ok := c.index[a]
	if !ok {
		return 0, false
	}
	j, ok := c.index[b]
	if !ok {
		return 0, false
	}
	return c.sym.At(i, j), true
}

// Symmetric exposes the matrix for read-only numeric work.
// Callers must not type-assert and mutate it.
func (c *CovarianceMatrix) Symmetric() mat.Symmetric { return c.sym }

// Rows returns a copy of the matrix as nested slices in index order.
func (c *CovarianceMatrix) Rows() [][]float64 {
	n := len(c.ids)
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = c.sym.At(i, j)
		}
	}
	return rows
}

// Volatilities returns sqrt of each diagonal entry in index order.
func (c *CovarianceMatrix) Volatilities() []float64 {
	vols := make([]float64, len(c.ids))
	for i := range vols {
		vols[i] = math.Sqrt(c.sym.At(i, i))
	}
	return vols
}

// reorder returns a matrix indexed by ids (a permutation of the current ids).
func (c *CovarianceMatrix) reorder(ids []string) (*CovarianceMatrix, error) {
	if missing, extra := domain.SetDifference(c.ids, ids); len(missing) > 0 || len(extra) > 0 {
		return nil, &domain.UniverseMismatchError{Source: "covariance", Missing: extra, Extra: missing}
	}
	n := len(ids)
	sym := mat.NewSymDense(n, nil)
	index := make(map[string]int, n)
	for i, a := range ids {
		index[a] = i
		for j := i; j < n; j++ {
			v, _ := c.At(a, ids[j])
			sym.SetSym(i, j, v)
		}
	}
	return &CovarianceMatrix{ids: append([]string(nil), ids...), index: index, sym: sym}, nil
}
