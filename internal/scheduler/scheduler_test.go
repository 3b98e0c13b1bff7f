package scheduler

import (
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name string
	runs int
	err  error
}

func (j *countingJob) Run() error {
	j.runs++
	return j.err
}

func (j *countingJob) Name() string { return j.name }

func TestScheduler_AddJob(t *testing.T) {
	s := New(zerolog.Nop())

	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"standard five fields", "0 3 * * *", false},
		{"descriptor", "@every 30s", false},
		{"daily", "@daily", false},
		{"seconds field rejected", "0 0 3 * * *", true},
		{"garbage", "whenever", true},
	}

	registered := 0
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.AddJob(tt.schedule, &countingJob{name: tt.name})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			registered++
		})
	}
	assert.Equal(t, registered, s.Entries())
}

func TestScheduler_RunNow(t *testing.T) {
	s := New(zerolog.Nop())

	job := &countingJob{name: "ok"}
	require.NoError(t, s.RunNow(job))
	assert.Equal(t, 1, job.runs)

	failing := &countingJob{name: "bad", err: errors.New("boom")}
	assert.EqualError(t, s.RunNow(failing), "boom")

	// runJob swallows the error after logging it.
	s.runJob(failing)
	assert.Equal(t, 2, failing.runs)
}

func TestScheduler_StartStop(t *testing.T) {
	s := New(zerolog.Nop())
	require.NoError(t, s.AddJob("@every 1h", &countingJob{name: "idle"}))
	s.Start()
	s.Stop()
}
