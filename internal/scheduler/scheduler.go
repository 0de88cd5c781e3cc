// Package scheduler runs periodic ledger maintenance: ranking rebuilds when
// the cache goes stale and full keyword index rebuilds.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"agent-market/internal/ledger"
)

// Job names.
const (
	JobRanking  = "ranking"
	JobKeywords = "keywords"
)

var (
	// ErrUnknownJob is returned by RunNow for a name that is not registered.
	ErrUnknownJob = errors.New("unknown job")

	// ErrJobPanicked is recorded when a job run panics.
	ErrJobPanicked = errors.New("job panicked")
)

// Maintainer is the ledger surface the jobs drive.
type Maintainer interface {
	RebuildRankingIfStale(ctx context.Context, trigger string) (bool, error)
	RebuildKeywordIndex(ctx context.Context) error
}

// Options configures a Scheduler.
type Options struct {
	RankingSchedule string        // cron spec; empty means every RankingTTL
	RankingTTL      time.Duration // required when RankingSchedule is empty
	KeywordSchedule string        // cron spec; empty disables the job
	JobTimeout      time.Duration // default: 1m
	Logger          zerolog.Logger
}

// JobStatus is the last known outcome of a job.
type JobStatus struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	Runs       int       `json:"runs"`
	LastRun    time.Time `json:"last_run,omitempty"`
	LastStatus string    `json:"last_status,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
	NextRun    time.Time `json:"next_run,omitempty"`
}

type job struct {
	status  JobStatus
	entry   rcron.EntryID
	run     func(ctx context.Context) (string, error)
	running sync.Mutex
}

// Scheduler owns a cron instance with the maintenance jobs registered.
type Scheduler struct {
	cron    *rcron.Cron
	timeout time.Duration
	log     zerolog.Logger

	mu     sync.Mutex
	jobs   map[string]*job
	ctx    context.Context
	cancel context.CancelFunc
}

var parser = rcron.NewParser(rcron.SecondOptional | rcron.Minute | rcron.Hour |
	rcron.Dom | rcron.Month | rcron.Dow | rcron.Descriptor)

// New validates the schedules and registers the jobs. Nothing runs until Start.
func New(m Maintainer, opts Options) (*Scheduler, error) {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = time.Minute
	}
	rankingSpec := opts.RankingSchedule
	if rankingSpec == "" {
		if opts.RankingTTL < time.Second {
			return nil, fmt.Errorf("ranking schedule or ttl is required")
		}
		rankingSpec = "@every " + opts.RankingTTL.String()
	}

	s := &Scheduler{
		cron: rcron.New(
			rcron.WithParser(parser),
			rcron.WithLogger(cronLogger{opts.Logger}),
			rcron.WithChain(rcron.Recover(cronLogger{opts.Logger})),
		),
		timeout: opts.JobTimeout,
		log:     opts.Logger,
		jobs:    make(map[string]*job),
		ctx:     context.Background(),
	}

	err := s.add(JobRanking, rankingSpec, func(ctx context.Context) (string, error) {
		rebuilt, err := m.RebuildRankingIfStale(ctx, ledger.TriggerSchedule)
		if err != nil {
			return "", err
		}
		if !rebuilt {
			return "fresh", nil
		}
		return "rebuilt", nil
	})
	if err != nil {
		return nil, err
	}

	if opts.KeywordSchedule != "" {
		err := s.add(JobKeywords, opts.KeywordSchedule, func(ctx context.Context) (string, error) {
			return "rebuilt", m.RebuildKeywordIndex(ctx)
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Scheduler) add(name, spec string, run func(ctx context.Context) (string, error)) error {
	j := &job{status: JobStatus{Name: name, Schedule: spec}, run: run}
	id, err := s.cron.AddFunc(spec, func() { s.execute(j) })
	if err != nil {
		return fmt.Errorf("%s schedule %q: %w", name, spec, err)
	}
	j.entry = id
	s.jobs[name] = j
	return nil
}

// Start runs the cron loop until ctx is done or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	runCtx := s.ctx
	s.mu.Unlock()

	s.cron.Start()
	s.log.Info().Int("jobs", len(s.jobs)).Msg("scheduler started")

	go func() {
		<-runCtx.Done()
		s.Stop()
	}()
}

// Stop halts the cron loop and waits up to 5s for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(5 * time.Second):
		s.log.Warn().Msg("scheduler stop timed out waiting for running jobs")
	}
	s.log.Info().Msg("scheduler stopped")
}

// RunNow executes the named job synchronously.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	j, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownJob, name)
	}
	return s.execute(j)
}

// execute runs j unless a previous run is still in progress.
func (s *Scheduler) execute(j *job) error {
	if !j.running.TryLock() {
		s.log.Debug().Str("job", j.status.Name).Msg("job already running, skipping")
		return nil
	}
	defer j.running.Unlock()

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	started := time.Now()
	result, err := s.run(ctx, j)

	s.mu.Lock()
	j.status.Runs++
	j.status.LastRun = started
	if err != nil {
		j.status.LastStatus = "error"
		j.status.LastError = err.Error()
	} else {
		j.status.LastStatus = "ok"
		j.status.LastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error().Err(err).Str("job", j.status.Name).Dur("took", time.Since(started)).Msg("job failed")
		return err
	}
	s.log.Debug().Str("job", j.status.Name).Str("result", result).Dur("took", time.Since(started)).Msg("job done")
	return nil
}

// run calls the job, turning a panic into an error so one bad run is
// recorded like any other failure.
func (s *Scheduler) run(ctx context.Context, j *job) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanicked, r)
		}
	}()
	return j.run(ctx)
}

// Status returns the jobs ordered by name.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, j := range s.jobs {
		st := j.status
		st.NextRun = s.cron.Entry(j.entry).Next
		out = append(out, st)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// cronLogger routes cron's own messages to zerolog.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
