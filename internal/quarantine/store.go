package quarantine

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/quantbrief/alphapipe/config"
)

// Record statuses. resolved, dismissed and escalated are terminal: no
// transition out, ever.
const (
	StatusPending   = "pending"
	StatusRetrying  = "retrying"
	StatusResolved  = "resolved"
	StatusDismissed = "dismissed"
	StatusEscalated = "escalated"
)

// Record priorities, in scheduling order.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Resolution types and sweep reason.
const (
	ResolutionAutoRetrySuccess = "auto_retry_success"
	ResolutionManual           = "manual"
	DismissReasonStale         = "stale"
)

var priorityRank = map[string]int{
	PriorityCritical: 0,
	PriorityHigh:     1,
	PriorityMedium:   2,
	PriorityLow:      3,
}

// Policy is the retry/escalation configuration for a store instance.
type Policy struct {
	MaxRetries               int
	RetryDelay               time.Duration
	BackoffMultiplier        float64
	AutoDismissAfter         time.Duration
	AutoEscalateAfterRetries int
}

// DefaultPolicy returns the policy used when no configuration is supplied.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:               3,
		RetryDelay:               5 * time.Minute,
		BackoffMultiplier:        2.0,
		AutoDismissAfter:         72 * time.Hour,
		AutoEscalateAfterRetries: 3,
	}
}

// PolicyFromConfig lifts the quarantine config section into a Policy.
func PolicyFromConfig(cfg config.QuarantineConfig) Policy {
	return Policy{
		MaxRetries:               cfg.MaxRetries,
		RetryDelay:               time.Duration(cfg.RetryDelaySeconds) * time.Second,
		BackoffMultiplier:        cfg.RetryBackoffMultiplier,
		AutoDismissAfter:         time.Duration(cfg.AutoDismissAfterHours) * time.Hour,
		AutoEscalateAfterRetries: cfg.AutoEscalateAfterRetries,
	}
}

// Record is one quarantined work unit.
type Record struct {
	ID               string
	RunID            string
	StepID           string
	StepVersion      string
	RawOutput        string
	ValidationErrors []string
	Context          map[string]string
	Status           string
	Priority         string
	RetryCount       int
	NextRetryAt      time.Time
	Tags             []string
	ResolutionType   string
	ResolutionNotes  string
	ResolvedBy       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (r Record) terminal() bool {
	return r.Status == StatusResolved || r.Status == StatusDismissed || r.Status == StatusEscalated
}

// Stats is the read-only aggregate view for operators.
type Stats struct {
	Total          int
	ByStatus       map[string]int
	ByPriority     map[string]int
	EscalatedCount int
}

// Notifier receives terminal-transition events (escalations, stale sweeps)
// for out-of-process consumers. A publish failure never blocks or reverts a
// state transition.
type Notifier interface {
	Publish(ctx context.Context, eventType string, payload interface{}) (string, error)
}

// Store owns the quarantine record table. Operations on a given record id
// are serialized under the store lock; the store is shared between the
// ingestion path and the retry-polling loop.
type Store struct {
	mu       sync.Mutex
	policy   Policy
	records  map[string]*Record
	logger   *log.Logger
	notifier Notifier
	now      func() time.Time
}

// Option configures optional store collaborators.
type Option func(*Store)

// WithNotifier attaches an escalation/dismissal event publisher.
func WithNotifier(n Notifier) Option {
	return func(s *Store) { s.notifier = n }
}

// NewStore builds a quarantine store with the given policy. Construct one per
// process and pass it by reference; tests construct fresh instances.
func NewStore(policy Policy, logger *log.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = log.New(log.Writer(), "[QUAR] ", log.LstdFlags)
	}
	s := &Store{
		policy:  policy,
		records: make(map[string]*Record),
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add inserts a failed work unit. The store assigns the id, classifies
// priority from the originating step, extracts tags, and schedules the first
// retry one base delay out.
func (s *Store) Add(rec Record) Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec.ID = "qr_" + uuid.NewString()
	rec.Status = StatusPending
	rec.Priority = classifyPriority(rec.StepID)
	rec.Tags = extractTags(rec.StepID)
	rec.RetryCount = 0
	rec.NextRetryAt = now.Add(s.policy.RetryDelay)
	rec.CreatedAt = now
	rec.UpdatedAt = now

	stored := rec
	s.records[rec.ID] = &stored
	recordAdded(context.Background())
	s.logger.Printf("quarantined %s (step=%s priority=%s run=%s)", rec.ID, rec.StepID, rec.Priority, rec.RunID)
	return rec
}

// MarkForRetry schedules the next retry attempt with exponential backoff.
// When the retry budget is already exhausted the record escalates instead and
// false is returned.
func (s *Store) MarkForRetry(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.terminal() {
		return false
	}
	now := s.now().UTC()
	if rec.RetryCount >= s.policy.MaxRetries {
		s.escalateLocked(rec, "retry budget exhausted", now)
		return false
	}
	rec.RetryCount++
	rec.Status = StatusRetrying
	backoff := float64(s.policy.RetryDelay) * math.Pow(s.policy.BackoffMultiplier, float64(rec.RetryCount))
	rec.NextRetryAt = now.Add(time.Duration(backoff))
	rec.UpdatedAt = now
	retryScheduled(context.Background())
	return true
}

// RecordRetryResult reports the outcome of a retry attempt. Success resolves
// the record; failure either escalates (at the auto-escalate threshold) or
// returns the record to pending for another attempt.
func (s *Store) RecordRetryResult(id string, success bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.terminal() {
		return false
	}
	now := s.now().UTC()
	if success {
		rec.Status = StatusResolved
		rec.ResolutionType = ResolutionAutoRetrySuccess
		rec.UpdatedAt = now
		return true
	}
	if rec.RetryCount >= s.policy.AutoEscalateAfterRetries {
		s.escalateLocked(rec, fmt.Sprintf("failed %d retries", rec.RetryCount), now)
		return true
	}
	rec.Status = StatusPending
	rec.UpdatedAt = now
	return true
}

// Resolution describes a manual resolve call.
type Resolution struct {
	Type       string
	Notes      string
	ResolvedBy string
}

// Resolve is the manual terminal resolve transition; always permitted,
// overwriting any prior resolution metadata.
func (s *Store) Resolve(id string, res Resolution) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return false
	}
	if res.Type == "" {
		res.Type = ResolutionManual
	}
	rec.Status = StatusResolved
	rec.ResolutionType = res.Type
	rec.ResolutionNotes = res.Notes
	rec.ResolvedBy = res.ResolvedBy
	rec.UpdatedAt = s.now().UTC()
	return true
}

// Dismiss is the manual terminal dismiss transition.
func (s *Store) Dismiss(id, reason, notes string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return false
	}
	s.dismissLocked(rec, reason, notes, s.now().UTC())
	return true
}

// Escalate is the manual terminal escalate transition: the explicit "needs a
// human" signal.
func (s *Store) Escalate(id, notes string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return false
	}
	rec.ResolutionNotes = notes
	s.escalateLocked(rec, notes, s.now().UTC())
	return true
}

// ReadyForRetry returns pending records whose next_retry_at has elapsed,
// critical priority first, then oldest first. A polling loop relies on this
// ordering to starve low-priority noise behind systemic failures.
func (s *Store) ReadyForRetry() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	var ready []Record
	for _, rec := range s.records {
		if rec.Status == StatusPending && !rec.NextRetryAt.After(now) {
			ready = append(ready, *rec)
		}
	}
	sort.SliceStable(ready, func(i, j int) bool {
		ri, rj := priorityRank[ready[i].Priority], priorityRank[ready[j].Priority]
		if ri != rj {
			return ri < rj
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	return ready
}

// Get returns a copy of the record, if present.
func (s *Store) Get(id string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// ByStatus returns copies of all records in the given status.
func (s *Store) ByStatus(status string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Status == status {
			out = append(out, *rec)
		}
	}
	return out
}

// ByPriority returns copies of all records with the given priority.
func (s *Store) ByPriority(priority string) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if rec.Priority == priority {
			out = append(out, *rec)
		}
	}
	return out
}

// GetStats returns the aggregate counts operators poll.
func (s *Store) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := Stats{
		Total:      len(s.records),
		ByStatus:   make(map[string]int),
		ByPriority: make(map[string]int),
	}
	for _, rec := range s.records {
		stats.ByStatus[rec.Status]++
		stats.ByPriority[rec.Priority]++
	}
	stats.EscalatedCount = stats.ByStatus[StatusEscalated]
	return stats
}

// Sweep dismisses non-terminal records older than the auto-dismiss age with
// reason "stale". This is a liveness guarantee, not a correctness one; it
// bounds the store's growth. Returns the number of records dismissed.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy.AutoDismissAfter <= 0 {
		return 0
	}
	now := s.now().UTC()
	cutoff := now.Add(-s.policy.AutoDismissAfter)
	swept := 0
	for _, rec := range s.records {
		if !rec.terminal() && rec.CreatedAt.Before(cutoff) {
			s.dismissLocked(rec, DismissReasonStale, "", now)
			swept++
		}
	}
	if swept > 0 {
		s.logger.Printf("sweep dismissed %d stale records", swept)
	}
	return swept
}

// RunSweeper blocks, sweeping on the given interval until ctx is cancelled.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("sweeper stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Store) escalateLocked(rec *Record, reason string, now time.Time) {
	rec.Status = StatusEscalated
	rec.UpdatedAt = now
	recordEscalated(context.Background())
	s.logger.Printf("escalated %s (step=%s): %s", rec.ID, rec.StepID, reason)
	s.publish("quarantine.escalated", *rec)
}

func (s *Store) dismissLocked(rec *Record, reason, notes string, now time.Time) {
	rec.Status = StatusDismissed
	rec.ResolutionType = reason
	rec.ResolutionNotes = notes
	rec.UpdatedAt = now
	if reason == DismissReasonStale {
		recordSweptStale(context.Background())
		s.publish("quarantine.dismissed", *rec)
	}
}

func (s *Store) publish(eventType string, rec Record) {
	if s.notifier == nil {
		return
	}
	if _, err := s.notifier.Publish(context.Background(), eventType, rec); err != nil {
		s.logger.Printf("warn: publish %s for %s failed: %v", eventType, rec.ID, err)
	}
}

// gateSteps marks step identifiers that implement validation gates; failures
// there block whole lanes, so they schedule ahead of everything else.
var gateSteps = []string{"gate", "validation", "downside", "sufficiency"}

// highSteps are output-shape failures worth fast retries.
var highSteps = []string{"parse", "extract", "schema"}

// lowSteps are background noise.
var lowSteps = []string{"digest", "summary"}

func classifyPriority(stepID string) string {
	step := strings.ToLower(stepID)
	for _, marker := range gateSteps {
		if strings.Contains(step, marker) {
			return PriorityCritical
		}
	}
	for _, marker := range highSteps {
		if strings.Contains(step, marker) {
			return PriorityHigh
		}
	}
	for _, marker := range lowSteps {
		if strings.Contains(step, marker) {
			return PriorityLow
		}
	}
	return PriorityMedium
}

func extractTags(stepID string) []string {
	parts := strings.FieldsFunc(strings.ToLower(stepID), func(r rune) bool {
		return r == '.' || r == '/' || r == ':'
	})
	var tags []string
	for _, p := range parts {
		if p != "" {
			tags = append(tags, p)
		}
	}
	return tags
}
