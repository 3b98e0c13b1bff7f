package optimization

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_Run(t *testing.T) {
	tests := []struct {
		name    string
		workers int
		count   int
	}{
		{name: "more jobs than workers", workers: 3, count: 50},
		{name: "more workers than jobs", workers: 16, count: 4},
		{name: "default workers", workers: 0, count: 10},
		{name: "no jobs", workers: 2, count: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int64
			out, err := Run(context.Background(), NewWorkerPool(tt.workers), tt.count, func(i int) (int, error) {
				calls.Add(1)
				return i * i, nil
			})
			require.NoError(t, err)
			require.Len(t, out, tt.count)
			for i, v := range out {
				assert.Equal(t, i*i, v)
			}
			assert.Equal(t, int64(tt.count), calls.Load())
		})
	}
}

func TestWorkerPool_RunStopsOnError(t *testing.T) {
	boom := errors.New("boom")
	_, err := Run(context.Background(), NewWorkerPool(4), 100, func(i int) (int, error) {
		if i == 10 {
			return 0, boom
		}
		return i, nil
	})
	assert.ErrorIs(t, err, boom)
}

func TestNewWorkerPool_Default(t *testing.T) {
	assert.Equal(t, 4, NewWorkerPool(0).Workers())
	assert.Equal(t, 7, NewWorkerPool(7).Workers())
}
