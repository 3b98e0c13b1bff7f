package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorTaxonomy_IsAndAs(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
	}{
		{"universe mismatch", &UniverseMismatchError{Source: "covariance", Missing: []string{"B"}}, ErrUniverseMismatch},
		{"invalid constraints", &InvalidConstraintsError{AssetID: "A", Reason: "min > max"}, ErrInvalidConstraints},
		{"numeric", &NumericError{Operation: "quadratic form", Value: -0.5}, ErrNumeric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("solve: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.NotEmpty(t, tt.err.Error())
		})
	}

	var mismatch *UniverseMismatchError
	err := fmt.Errorf("build: %w", &UniverseMismatchError{Source: "esg_scores", Extra: []string{"Z"}})
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, []string{"Z"}, mismatch.Extra)
	assert.False(t, errors.Is(err, ErrNumeric))
}

func TestNumericError_MessageNamesAssets(t *testing.T) {
	err := &NumericError{Operation: "quadratic form wᵀΣw", Value: -0.02, Assets: []string{"A", "C"}}
	assert.Contains(t, err.Error(), "quadratic form")
	assert.Contains(t, err.Error(), "A, C")
}

func TestSetDifference(t *testing.T) {
	missing, extra := SetDifference([]string{"A", "B", "C"}, []string{"C", "D", "A"})
	assert.Equal(t, []string{"B"}, missing)
	assert.Equal(t, []string{"D"}, extra)

	missing, extra = SetDifference([]string{"A"}, []string{"A"})
	assert.Empty(t, missing)
	assert.Empty(t, extra)
}
