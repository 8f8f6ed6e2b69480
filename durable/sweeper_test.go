package durable

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeline "github.com/goliatone/go-pipeline"
)

func TestSweepDrivesJobsToCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	first := f.submit("acme", "doc-1")
	second := f.submit("globex", "doc-2")

	s := NewSweeper(f.adapter, WithConcurrency(1), WithBatch(10))

	var picked []int
	for i := 0; i < 5; i++ {
		n, err := s.Sweep(ctx)
		require.NoError(t, err)
		if n == 0 {
			break
		}
		picked = append(picked, n)
	}
	assert.Equal(t, []int{2, 2}, picked)
	assert.Zero(t, f.checkpoints.Len())

	assert.Equal(t, pipeline.JobCompleted, f.report("acme", first.ID).Job.State)
	assert.Equal(t, pipeline.JobCompleted, f.report("globex", second.ID).Job.State)
}

func TestSweepRunsTenantsConcurrently(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	type submitted struct {
		tenant string
		doc    string
		job    pipeline.DocumentJob
	}
	var jobs []submitted
	for _, id := range []string{"acme", "globex"} {
		for i := 0; i < 3; i++ {
			docID := fmt.Sprintf("%s-doc-%d", id, i)
			jobs = append(jobs, submitted{tenant: id, doc: docID, job: f.submit(id, docID)})
		}
	}

	s := NewSweeper(f.adapter, WithConcurrency(4), WithBatch(10))
	for i := 0; i < 5 && f.checkpoints.Len() > 0; i++ {
		_, err := s.Sweep(ctx)
		require.NoError(t, err)
	}
	assert.Zero(t, f.checkpoints.Len())
	assert.Equal(t, int32(12), f.calls.Load())

	for _, j := range jobs {
		report := f.report(j.tenant, j.job.ID)
		assert.Equal(t, pipeline.JobCompleted, report.Job.State, j.doc)
		assert.Equal(t, j.tenant, report.Job.TenantID)
		require.Len(t, report.Executions, 2)
		assert.Equal(t, "text of "+j.doc+".pdf", report.Executions[1].Output["summary"])
	}
}

func TestSweepRespectsBatch(t *testing.T) {
	f := newFixture(t)
	f.submit("acme", "doc-1")
	f.submit("acme", "doc-2")
	f.submit("acme", "doc-3")

	s := NewSweeper(f.adapter, WithConcurrency(1), WithBatch(2))
	n, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, f.checkpoints.Len())
}

func TestSweeperStartStop(t *testing.T) {
	f := newFixture(t)
	s := NewSweeper(f.adapter, WithSchedule("@every 1h"))
	assert.True(t, s.Next().IsZero())

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	assert.True(t, s.Next().After(time.Now()))

	s.Stop()
	s.Stop()
	assert.True(t, s.Next().IsZero())
}

func TestSweeperRejectsBadSchedule(t *testing.T) {
	f := newFixture(t)
	s := NewSweeper(f.adapter, WithSchedule("not a schedule"))
	assert.Error(t, s.Start(context.Background()))
	assert.True(t, s.Next().IsZero())
}
