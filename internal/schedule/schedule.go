// Package schedule loads cron jobs from a workspace's schedules directory
// and re-enters them as synthetic messages on the chat's normal path.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/titanous/json5"

	"github.com/msgcode/msgcode/internal/bus"
)

// SourcePrefix marks scheduler-originated turns; /reload overwrites only
// jobs carrying it.
const SourcePrefix = "schedule:"

// Delivery shapes how a job's firing is delivered.
type Delivery struct {
	Mode     string `json:"mode,omitempty"`
	MaxChars int    `json:"maxChars,omitempty"`
}

// Job is one cron entry. Enabled defaults to true when the file omits it.
type Job struct {
	ID       string   `json:"id"`
	Cron     string   `json:"cron"`
	TZ       string   `json:"tz,omitempty"`
	ChatID   string   `json:"chatId"`
	Message  string   `json:"message"`
	Delivery Delivery `json:"delivery,omitempty"`
	Enabled  bool     `json:"enabled"`
	Source   string   `json:"-"`
}

// jobFile mirrors Job for parsing, with a tri-state enabled flag.
type jobFile struct {
	ID       string   `json:"id"`
	Cron     string   `json:"cron"`
	TZ       string   `json:"tz"`
	ChatID   string   `json:"chatId"`
	Message  string   `json:"message"`
	Delivery Delivery `json:"delivery"`
	Enabled  *bool    `json:"enabled"`
}

// EnqueueFunc injects a synthetic turn; wired to the ingress loop.
type EnqueueFunc func(ctx context.Context, msg bus.Inbound)

// Scheduler evaluates jobs on a minute-aligned tick. Run state is not
// persisted: a fire time the process slept through is skipped, never
// replayed.
type Scheduler struct {
	workspacePath string
	enqueue       EnqueueFunc
	gron          *gronx.Gronx

	mu   sync.Mutex
	jobs map[string]Job

	now func() time.Time
}

func New(workspacePath string, enqueue EnqueueFunc) *Scheduler {
	return &Scheduler{
		workspacePath: workspacePath,
		enqueue:       enqueue,
		gron:          gronx.New(),
		jobs:          make(map[string]Job),
		now:           time.Now,
	}
}

// Dir is the workspace's schedules directory.
func (s *Scheduler) Dir() string {
	return filepath.Join(s.workspacePath, ".msgcode", "schedules")
}

// Reload re-reads the schedules directory and merges: file-derived jobs
// (source schedule:<id>) are replaced wholesale, jobs from other sources
// are kept. Invalid files are skipped with a warning, never fatal.
func (s *Scheduler) Reload() (int, error) {
	loaded, errs := s.loadDir()
	for _, err := range errs {
		slog.Warn("schedule: skipping job file", "error", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, j := range s.jobs {
		if strings.HasPrefix(j.Source, SourcePrefix) {
			delete(s.jobs, id)
		}
	}
	for _, j := range loaded {
		s.jobs[j.ID] = j
	}
	slog.Info("schedule: jobs loaded", "workspace", s.workspacePath,
		"count", len(loaded), "skipped", len(errs))
	return len(loaded), nil
}

// loadDir parses every *.json job file. One job per file; a missing id
// falls back to the filename stem.
func (s *Scheduler) loadDir() ([]Job, []error) {
	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []error{fmt.Errorf("read schedules dir: %w", err)}
	}

	var jobs []Job
	var errs []error
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		path := filepath.Join(s.Dir(), e.Name())
		job, err := s.parseFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, errs
}

func (s *Scheduler) parseFile(path string) (Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Job{}, err
	}
	var jf jobFile
	if err := json5.Unmarshal(data, &jf); err != nil {
		return Job{}, fmt.Errorf("parse: %w", err)
	}
	if jf.ID == "" {
		jf.ID = strings.TrimSuffix(filepath.Base(path), ".json")
	}
	job := Job{
		ID:       jf.ID,
		Cron:     jf.Cron,
		TZ:       jf.TZ,
		ChatID:   jf.ChatID,
		Message:  jf.Message,
		Delivery: jf.Delivery,
		Enabled:  jf.Enabled == nil || *jf.Enabled,
		Source:   SourcePrefix + jf.ID,
	}
	if err := s.Validate(job); err != nil {
		return Job{}, err
	}
	return job, nil
}

// ValidateDir re-scans the schedules directory and reports per-file errors
// without touching the loaded job set (/schedule validate).
func (s *Scheduler) ValidateDir() []error {
	_, errs := s.loadDir()
	return errs
}

// Validate checks a job's cron expression, timezone, and required fields.
func (s *Scheduler) Validate(job Job) error {
	if job.Cron == "" {
		return fmt.Errorf("job %s: missing cron", job.ID)
	}
	if !s.gron.IsValid(job.Cron) {
		return fmt.Errorf("job %s: invalid cron %q", job.ID, job.Cron)
	}
	if job.ChatID == "" {
		return fmt.Errorf("job %s: missing chatId", job.ID)
	}
	if job.Message == "" {
		return fmt.Errorf("job %s: missing message", job.ID)
	}
	if job.TZ != "" {
		if _, err := time.LoadLocation(job.TZ); err != nil {
			return fmt.Errorf("job %s: unknown timezone %q", job.ID, job.TZ)
		}
	}
	return nil
}

// Jobs returns the current set sorted by ID.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].ID < out[k].ID })
	return out
}

// SetEnabled toggles a job in memory. The job file on disk is untouched;
// a /reload restores the file's setting.
func (s *Scheduler) SetEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("no such job: %s", id)
	}
	j.Enabled = enabled
	s.jobs[id] = j
	return nil
}

// NextRun reports the next fire instant of a job in its timezone.
func (s *Scheduler) NextRun(id string) (time.Time, error) {
	s.mu.Lock()
	j, ok := s.jobs[id]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, fmt.Errorf("no such job: %s", id)
	}
	return gronx.NextTickAfter(j.Cron, s.jobTime(j, s.now()), false)
}

// Run ticks once per wall-clock minute until the context ends. The first
// tick is aligned to the next minute boundary so cron evaluation sees
// second zero.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.Reload(); err != nil {
		return err
	}

	align := time.NewTimer(time.Until(s.now().Truncate(time.Minute).Add(time.Minute)))
	defer align.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-align.C:
	}

	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	s.fireDue(ctx, s.now())
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.fireDue(ctx, s.now())
		}
	}
}

// fireDue evaluates every enabled job against the tick instant and
// enqueues a synthetic turn for each that is due.
func (s *Scheduler) fireDue(ctx context.Context, tick time.Time) {
	for _, job := range s.Jobs() {
		if !job.Enabled {
			continue
		}
		due, err := s.gron.IsDue(job.Cron, s.jobTime(job, tick))
		if err != nil {
			slog.Warn("schedule: cron evaluation failed", "job", job.ID, "error", err)
			continue
		}
		if !due {
			continue
		}
		text := job.Message
		if job.Delivery.MaxChars > 0 && len(text) > job.Delivery.MaxChars {
			text = text[:job.Delivery.MaxChars]
		}
		slog.Info("schedule: job due", "job", job.ID, "chat", job.ChatID)
		s.enqueue(ctx, bus.Inbound{
			ChatID: job.ChatID,
			Text:   text,
			Source: SourcePrefix + job.ID,
			Ts:     tick,
		})
	}
}

// jobTime shifts an instant into the job's timezone for cron matching.
func (s *Scheduler) jobTime(job Job, t time.Time) time.Time {
	if job.TZ == "" {
		return t
	}
	loc, err := time.LoadLocation(job.TZ)
	if err != nil {
		return t
	}
	return t.In(loc)
}
