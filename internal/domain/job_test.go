package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchJob_Lifecycle(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	job := NewSearchJob("1767323045000-0123456789ab", Address{City: "Austin"}, now)

	assert.Equal(t, JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)

	require.NoError(t, job.Start())
	assert.Equal(t, JobStatusRunning, job.Status)
	assert.Equal(t, ProgressStarted, job.Progress)

	job.SetProgress(ProgressDiscovered)
	job.SetProgress(ProgressStarted)
	assert.Equal(t, ProgressDiscovered, job.Progress, "progress must never decrease")

	end := now.Add(3 * time.Second)
	require.NoError(t, job.Complete(&SearchResponse{Source: ResultSourceExtracted}, end))
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, ProgressDone, job.Progress)
	assert.Equal(t, 3*time.Second, job.Elapsed(now.Add(time.Hour)))
}

func TestSearchJob_ForwardOnlyTransitions(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name  string
		setup func(j *SearchJob)
		apply func(j *SearchJob) error
	}{
		{
			name:  "pending cannot complete",
			setup: func(j *SearchJob) {},
			apply: func(j *SearchJob) error { return j.Complete(&SearchResponse{}, now) },
		},
		{
			name:  "pending cannot fail",
			setup: func(j *SearchJob) {},
			apply: func(j *SearchJob) error { return j.Fail("boom", now) },
		},
		{
			name:  "running cannot restart",
			setup: func(j *SearchJob) { _ = j.Start() },
			apply: func(j *SearchJob) error { return j.Start() },
		},
		{
			name: "completed cannot fail",
			setup: func(j *SearchJob) {
				_ = j.Start()
				_ = j.Complete(&SearchResponse{}, now)
			},
			apply: func(j *SearchJob) error { return j.Fail("late", now) },
		},
		{
			name: "failed cannot run again",
			setup: func(j *SearchJob) {
				_ = j.Start()
				_ = j.Fail("boom", now)
			},
			apply: func(j *SearchJob) error { return j.Start() },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := NewSearchJob("id", Address{}, now)
			tt.setup(job)
			before := job.Status

			err := tt.apply(job)

			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidTransition)
			assert.Equal(t, before, job.Status)
		})
	}
}

func TestSearchJob_FailDropsResult(t *testing.T) {
	job := NewSearchJob("id", Address{}, time.Now())
	require.NoError(t, job.Start())
	job.Result = &SearchResponse{}

	require.NoError(t, job.Fail("scrape exploded", time.Now()))

	assert.Nil(t, job.Result)
	assert.Equal(t, "scrape exploded", job.Error)
	require.NotNil(t, job.EndTime)
}

func TestJobStats_SumsToTotal(t *testing.T) {
	var stats JobStats
	stats.Add(JobStatusPending, 3)
	stats.Add(JobStatusRunning, 2)
	stats.Add(JobStatusCompleted, 7)
	stats.Add(JobStatusFailed, 1)
	stats.Add(JobStatus("unknown"), 4)

	assert.Equal(t, 13, stats.Total)
	assert.Equal(t, stats.Total, stats.Pending+stats.Running+stats.Completed+stats.Failed)
}

func TestValidJobID(t *testing.T) {
	assert.True(t, ValidJobID("1767323045000-0123456789ab"))
	assert.False(t, ValidJobID("not-a-job"))
	assert.False(t, ValidJobID("1767323045000-0123456789AB"))
	assert.False(t, ValidJobID(""))
}

func TestAddress_OneLine(t *testing.T) {
	addr := Address{Street: "301 W 2nd St", City: "Austin", State: "TX", Zip: "78701"}
	assert.Equal(t, "301 W 2nd St, Austin, TX 78701", addr.OneLine())

	assert.Equal(t, "Austin, TX", Address{City: " Austin ", State: "TX"}.OneLine())
}

func TestContactInfo_Merge(t *testing.T) {
	base := ContactInfo{Phone: "512-555-0100"}
	merged := base.Merge(ContactInfo{Phone: "000", Email: "permits@austintexas.gov"})

	assert.Equal(t, "512-555-0100", merged.Phone)
	assert.Equal(t, "permits@austintexas.gov", merged.Email)
	assert.False(t, merged.IsEmpty())
	assert.True(t, ContactInfo{Hours: "9-5"}.IsEmpty())
}
