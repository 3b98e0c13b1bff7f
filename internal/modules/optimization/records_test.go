package optimization

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocation_Record(t *testing.T) {
	u := threeAssets(t)
	c := DefaultConstraints()
	c.MinESGScore = 0.8

	alloc, err := newAllocator().Solve(u, c, DefaultBlend())
	require.NoError(t, err)

	r := alloc.Record()
	assert.Equal(t, "optimal", r[KeyStatus])
	assert.NotContains(t, r, KeyReason)
	assert.InDelta(t, 0.4, r["weight_A2"].(float64), weightTolerance)
	assert.InDelta(t, alloc.ExpectedReturn, r[KeyExpectedReturn].(float64), 1e-15)
	assert.Contains(t, r, KeyVolatility)
	assert.Contains(t, r, KeyESGScore)
	assert.Contains(t, r, KeySharpeRatio)

	infeasible := Allocation{Status: StatusInfeasible, Reason: "no room"}.Record()
	assert.Equal(t, "infeasible", infeasible[KeyStatus])
	assert.Equal(t, "no room", infeasible[KeyReason])
	for k := range infeasible {
		assert.NotContains(t, k, WeightKeyPrefix)
	}
}

func TestFrontierRecords_MsgpackRoundTrip(t *testing.T) {
	u := threeAssets(t)
	samples, err := newSampler().Sample(u, 3, seeded(5))
	require.NoError(t, err)

	records, err := FrontierRecords(samples, u.IDs())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, samples[1].Weights[2], records[1]["weight_A3"])

	data, err := EncodeRecords(records)
	require.NoError(t, err)
	decoded, err := DecodeRecords(data)
	require.NoError(t, err)
	require.Len(t, decoded, 3)
	assert.Equal(t, records[0][KeyVolatility], decoded[0][KeyVolatility])

	_, err = FrontierRecords(samples, []string{"A1"})
	assert.Error(t, err)
}
