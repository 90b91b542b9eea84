package scheduler

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_AddRemove(t *testing.T) {
	s := NewScheduler(nil)

	require.NoError(t, s.AddJob("reload", "@every 1m", func() {}))
	require.NoError(t, s.AddJob("resync", "*/5 * * * *", func() {}))
	assert.Equal(t, 2, s.JobCount())

	// same name replaces
	require.NoError(t, s.AddJob("reload", "@every 2m", func() {}))
	assert.Equal(t, 2, s.JobCount())

	s.RemoveJob("reload")
	s.RemoveJob("unknown")
	assert.Equal(t, 1, s.JobCount())
}

func TestScheduler_InvalidSpec(t *testing.T) {
	s := NewScheduler(nil)
	assert.Error(t, s.AddJob("bad", "not a cron spec", func() {}))
	assert.Equal(t, 0, s.JobCount())
}

func TestScheduler_RunsJobs(t *testing.T) {
	s := NewScheduler(nil)
	var runs int32
	require.NoError(t, s.AddJob("tick", "@every 1s", func() { atomic.AddInt32(&runs, 1) }))
	require.NoError(t, s.AddJob("panics", "@every 1s", func() { panic("boom") }))

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&runs) >= 1 }, 3*time.Second, 50*time.Millisecond)
}
