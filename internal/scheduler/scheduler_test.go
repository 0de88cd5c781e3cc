package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agent-market/internal/ledger"
)

type fakeLedger struct {
	mu       sync.Mutex
	triggers []string
	stale    bool
	keywords atomic.Int32
	err      error
	panics   atomic.Bool
	block    chan struct{}
}

func (f *fakeLedger) RebuildRankingIfStale(_ context.Context, trigger string) (bool, error) {
	if f.block != nil {
		<-f.block
	}
	if f.panics.Load() {
		panic("integer overflow")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers = append(f.triggers, trigger)
	return f.stale, f.err
}

func (f *fakeLedger) RebuildKeywordIndex(context.Context) error {
	f.keywords.Add(1)
	return f.err
}

func (f *fakeLedger) rankingRuns() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.triggers)
}

func TestNew_DefaultsRankingToTTL(t *testing.T) {
	s, err := New(&fakeLedger{}, Options{RankingTTL: time.Hour})
	require.NoError(t, err)

	st := s.Status()
	require.Len(t, st, 1, "keyword job disabled without a schedule")
	assert.Equal(t, JobRanking, st[0].Name)
	assert.Equal(t, "@every 1h0m0s", st[0].Schedule)
}

func TestNew_Rejects(t *testing.T) {
	_, err := New(&fakeLedger{}, Options{})
	assert.Error(t, err, "no schedule and no ttl")

	_, err = New(&fakeLedger{}, Options{RankingSchedule: "every hour"})
	assert.Error(t, err)

	_, err = New(&fakeLedger{}, Options{RankingTTL: time.Hour, KeywordSchedule: "61 * * * *"})
	assert.Error(t, err)
}

func TestRunNow_RecordsOutcome(t *testing.T) {
	f := &fakeLedger{stale: true}
	s, err := New(f, Options{RankingTTL: time.Hour, KeywordSchedule: "@daily"})
	require.NoError(t, err)

	require.NoError(t, s.RunNow(JobRanking))
	require.NoError(t, s.RunNow(JobKeywords))
	assert.Equal(t, []string{ledger.TriggerSchedule}, f.triggers)
	assert.Equal(t, int32(1), f.keywords.Load())

	f.err = errors.New("store unavailable")
	assert.Error(t, s.RunNow(JobKeywords))

	st := s.Status()
	require.Len(t, st, 2)
	assert.Equal(t, JobKeywords, st[0].Name)
	assert.Equal(t, 2, st[0].Runs)
	assert.Equal(t, "error", st[0].LastStatus)
	assert.Equal(t, "store unavailable", st[0].LastError)
	assert.Equal(t, "ok", st[1].LastStatus)

	assert.Error(t, s.RunNow("unknown"))
}

func TestRunNow_RecoversPanickingJob(t *testing.T) {
	f := &fakeLedger{stale: true}
	f.panics.Store(true)
	s, err := New(f, Options{RankingTTL: time.Hour})
	require.NoError(t, err)

	var runErr error
	require.NotPanics(t, func() { runErr = s.RunNow(JobRanking) })
	assert.ErrorIs(t, runErr, ErrJobPanicked)
	st := s.Status()[0]
	assert.Equal(t, "error", st.LastStatus)
	assert.Contains(t, st.LastError, "integer overflow")

	// The job lock is released, so the next run goes through.
	f.panics.Store(false)
	require.NoError(t, s.RunNow(JobRanking))
	assert.Equal(t, 1, f.rankingRuns())
	assert.Equal(t, "ok", s.Status()[0].LastStatus)
}

func TestExecute_SkipsOverlappingRun(t *testing.T) {
	f := &fakeLedger{block: make(chan struct{})}
	s, err := New(f, Options{RankingTTL: time.Hour})
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = s.RunNow(JobRanking)
		close(done)
	}()
	j := s.jobs[JobRanking]
	busy := func() bool {
		if j.running.TryLock() {
			j.running.Unlock()
			return false
		}
		return true
	}
	require.Eventually(t, busy, time.Second, time.Millisecond)

	require.NoError(t, s.RunNow(JobRanking), "overlapping run is skipped")
	close(f.block)
	<-done
	assert.Equal(t, 1, f.rankingRuns())
}

func TestStart_RunsOnSchedule(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for the cron clock")
	}
	f := &fakeLedger{}
	s, err := New(f, Options{RankingSchedule: "@every 1s"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx)
	require.Eventually(t, func() bool { return f.rankingRuns() > 0 }, 3*time.Second, 50*time.Millisecond)
	assert.False(t, s.Status()[0].NextRun.IsZero())

	cancel()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.cancel == nil
	}, time.Second, 10*time.Millisecond)
}
