package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the single-writer, multi-reader owner of job/event/admin state
// described in component C1. Every mutating method ends by writing the
// entire snapshot through its Sink via temp-file-plus-rename; every reading
// method returns a deep copy so callers never observe (or corrupt) live
// store memory.
type Store struct {
	mu   sync.Mutex
	snap *snapshot
	sink Sink
	now  func() time.Time
}

// Option customizes a Store at construction. Tests use WithClock to get
// deterministic timestamps.
type Option func(*Store)

// WithClock overrides the time source used for createdAt/updatedAt/etc.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore loads (or initializes) state from sink and returns a ready Store.
func NewStore(sink Sink, opts ...Option) (*Store, error) {
	data, err := sink.Load()
	if err != nil {
		return nil, fmt.Errorf("store: load: %w", err)
	}
	snap, err := decodeSnapshot(data)
	if err != nil {
		return nil, fmt.Errorf("store: decode: %w", err)
	}
	s := &Store{snap: snap, sink: sink, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

func (s *Store) persistLocked() error {
	data, err := encodeSnapshot(s.snap)
	if err != nil {
		return fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}
	if err := s.sink.Save(data); err != nil {
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func newID() string { return uuid.NewString() }

// CreateJob assigns an id, sets status per RequiresApproval, appends
// job_created, and enqueues when the initial status is queued.
func (s *Store) CreateJob(req NewJobRequest) (*Job, error) {
	if err := validateNewJob(req); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	status := StatusQueued
	if req.RequiresApproval {
		status = StatusNeedsApproval
	}
	job := &Job{
		ID:               newID(),
		Kind:             req.Kind,
		Status:           status,
		Prompt:           req.Prompt,
		Channel:          req.Channel,
		ChatID:           req.ChatID,
		ThreadID:         req.ThreadID,
		RequesterID:      req.RequesterID,
		SessionKey:       req.SessionKey,
		RequiresApproval: req.RequiresApproval,
		Metadata:         req.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	s.snap.Jobs[job.ID] = job
	s.appendEventLocked(job.ID, EventJobCreated, nil, nil, now)
	if status == StatusQueued {
		s.snap.Queue = append(s.snap.Queue, job.ID)
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return job.clone(), nil
}

func validateNewJob(req NewJobRequest) error {
	if req.Kind != KindTask && req.Kind != KindRun {
		return fmt.Errorf("%w: kind must be task or run", ErrValidation)
	}
	if len(req.Prompt) == 0 || len(req.Prompt) > MaxPromptChars {
		return fmt.Errorf("%w: prompt must be 1..%d chars", ErrValidation, MaxPromptChars)
	}
	if req.ChatID == "" {
		return fmt.Errorf("%w: chatId is required", ErrValidation)
	}
	if req.RequesterID == "" {
		return fmt.Errorf("%w: requesterId is required", ErrValidation)
	}
	if len(req.SessionKey) > MaxSessionKeyChars {
		return fmt.Errorf("%w: sessionKey too long", ErrValidation)
	}
	for k, v := range req.Metadata {
		if len(v) > MaxMetadataValueLen {
			return fmt.Errorf("%w: metadata[%s] too long", ErrValidation, k)
		}
	}
	return nil
}

// GetJob returns a deep copy of the job, or ErrNotFound.
func (s *Store) GetJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.snap.Jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return j.clone(), nil
}

// GetEvents returns events[cursor:] plus the next cursor (= total length)
// and the total event count. Repeated calls with the returned nextCursor
// never duplicate entries (monotonic cursor, §8).
func (s *Store) GetEvents(id string, cursor int) (events []JobEvent, nextCursor int, total int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.snap.Jobs[id]; !ok {
		return nil, 0, 0, ErrNotFound
	}
	log := s.snap.Events[id]
	total = len(log)
	if cursor < 0 {
		cursor = 0
	}
	if cursor > total {
		cursor = total
	}
	out := make([]JobEvent, 0, total-cursor)
	for _, e := range log[cursor:] {
		out = append(out, e.clone())
	}
	return out, total, total, nil
}

// ApproveJob transitions a needs_approval job to queued and enqueues it.
// Re-approving an already-queued (or later) job is a no-op that returns the
// current job unchanged (§8 idempotence).
func (s *Store) ApproveJob(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.snap.Jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status != StatusNeedsApproval {
		return job.clone(), nil
	}
	now := s.now().UTC()
	job.Status = StatusQueued
	job.UpdatedAt = now
	s.snap.Queue = append(s.snap.Queue, job.ID)
	s.appendEventLocked(job.ID, EventJobApproved, nil, nil, now)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return job.clone(), nil
}

// RequestAbort implements the abort half of the state machine in §4.1.
func (s *Store) RequestAbort(id string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.snap.Jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	now := s.now().UTC()
	switch job.Status {
	case StatusQueued, StatusNeedsApproval:
		s.removeFromQueueLocked(job.ID)
		job.Status = StatusAborted
		job.UpdatedAt = now
		job.FinishedAt = &now
		s.appendEventLocked(job.ID, EventJobAborted, nil, nil, now)
	case StatusRunning:
		job.Status = StatusAborting
		job.AbortRequested = true
		job.UpdatedAt = now
		msg := "abort requested"
		s.appendEventLocked(job.ID, EventLog, &msg, nil, now)
	default:
		return job.clone(), nil
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return job.clone(), nil
}

// ClaimNextQueuedJob pops queued job ids in FIFO order until one still has
// status=queued (defensive against any future out-of-band mutation),
// transitions it to running, and returns it. Returns (nil, nil) when the
// store is paused or the queue is empty.
func (s *Store) ClaimNextQueuedJob(workerID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.Paused {
		return nil, nil
	}
	for len(s.snap.Queue) > 0 {
		id := s.snap.Queue[0]
		s.snap.Queue = s.snap.Queue[1:]
		job, ok := s.snap.Jobs[id]
		if !ok || job.Status != StatusQueued {
			continue
		}
		now := s.now().UTC()
		job.Status = StatusRunning
		job.WorkerID = &workerID
		job.StartedAt = &now
		job.UpdatedAt = now
		s.appendEventLocked(job.ID, EventJobStarted, nil, nil, now)
		if err := s.persistLocked(); err != nil {
			return nil, err
		}
		return job.clone(), nil
	}
	return nil, nil
}

// AppendWorkerEvent appends a worker-reported event to the job's log. If the
// event is an agent_text_delta carrying a string "delta" in Data, the delta
// is also appended to the job's resultText buffer.
func (s *Store) AppendWorkerEvent(id string, event JobEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.snap.Jobs[id]
	if !ok {
		return ErrNotFound
	}
	if event.Ts.IsZero() {
		event.Ts = s.now().UTC()
	}
	s.appendEventRawLocked(id, event)
	if event.Type == EventAgentTextDelta {
		if delta, ok := event.Data["delta"].(string); ok {
			job.ResultText += delta
			if len(job.ResultText) > MaxResultTextChars {
				job.ResultText = job.ResultText[:MaxResultTextChars]
			}
		}
	}
	job.UpdatedAt = s.now().UTC()
	return s.persistLocked()
}

// GetAbortRequested reports the job's abort flag for the worker heartbeat.
func (s *Store) GetAbortRequested(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.snap.Jobs[id]
	if !ok {
		return false, ErrNotFound
	}
	return job.AbortRequested, nil
}

// CompleteJob sets a terminal status: aborted if the job's abort flag is
// set, completed otherwise.
func (s *Store) CompleteJob(id string, resultText string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.snap.Jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status.Terminal() {
		return job.clone(), nil
	}
	now := s.now().UTC()
	if len(resultText) > MaxResultTextChars {
		resultText = resultText[:MaxResultTextChars]
	}
	job.ResultText = resultText
	job.UpdatedAt = now
	job.FinishedAt = &now
	if job.AbortRequested {
		job.Status = StatusAborted
		s.appendEventLocked(job.ID, EventJobAborted, nil, nil, now)
	} else {
		job.Status = StatusCompleted
		s.appendEventLocked(job.ID, EventJobFinished, nil, nil, now)
	}
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return job.clone(), nil
}

// FailJob sets a terminal failed status with the given error message.
func (s *Store) FailJob(id string, errMsg string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.snap.Jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status.Terminal() {
		return job.clone(), nil
	}
	now := s.now().UTC()
	if len(errMsg) > MaxErrorChars {
		errMsg = errMsg[:MaxErrorChars]
	}
	job.Error = errMsg
	job.Status = StatusFailed
	job.UpdatedAt = now
	job.FinishedAt = &now
	s.appendEventLocked(job.ID, EventJobFailed, &errMsg, nil, now)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return job.clone(), nil
}

// MarkAborted force-terminates a job as aborted, e.g. when a worker
// acknowledges an abort it observed mid-attempt.
func (s *Store) MarkAborted(id string, reason string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.snap.Jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if job.Status.Terminal() {
		return job.clone(), nil
	}
	now := s.now().UTC()
	job.Status = StatusAborted
	job.UpdatedAt = now
	job.FinishedAt = &now
	var msgPtr *string
	if reason != "" {
		msgPtr = &reason
	}
	s.appendEventLocked(job.ID, EventJobAborted, msgPtr, nil, now)
	if err := s.persistLocked(); err != nil {
		return nil, err
	}
	return job.clone(), nil
}

// HasActiveJobByMetadata reports whether any non-terminal job carries
// metadata[key]==value. Used by the proactive runtime's dedupe check.
func (s *Store) HasActiveJobByMetadata(key, value string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, j := range s.snap.Jobs {
		if j.Status.Terminal() {
			continue
		}
		if j.Metadata != nil && j.Metadata[key] == value {
			return true, nil
		}
	}
	return false, nil
}

// GetLatestTerminalJobByMetadata returns the most recently updated terminal
// job carrying metadata[key]==value, or (nil, nil) if none exists.
func (s *Store) GetLatestTerminalJobByMetadata(key, value string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Job
	for _, j := range s.snap.Jobs {
		if !j.Status.Terminal() {
			continue
		}
		if j.Metadata == nil || j.Metadata[key] != value {
			continue
		}
		if latest == nil || j.UpdatedAt.After(latest.UpdatedAt) {
			latest = j
		}
	}
	return latest.clone(), nil
}

// ListProactiveRuns lists jobs carrying proactiveTriggerKey metadata
// (optionally filtered to a single key), newest first, capped at limit.
func (s *Store) ListProactiveRuns(limit int, triggerKey string) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.snap.Jobs {
		if j.Metadata == nil {
			continue
		}
		tk, ok := j.Metadata["proactiveTriggerKey"]
		if !ok {
			continue
		}
		if triggerKey != "" && tk != triggerKey {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].UpdatedAt.After(out[k].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	cloned := make([]*Job, len(out))
	for i, j := range out {
		cloned[i] = j.clone()
	}
	return cloned, nil
}

// ListPendingProactiveDeliveries returns terminal jobs whose metadata
// declares a non-"none" delivery mode and have not yet been acknowledged.
func (s *Store) ListPendingProactiveDeliveries(limit int) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Job
	for _, j := range s.snap.Jobs {
		if !j.Status.Terminal() || j.Metadata == nil {
			continue
		}
		mode := j.Metadata["proactiveDeliveryMode"]
		if mode != "announce" && mode != "webhook" {
			continue
		}
		if _, delivered := j.Metadata["proactiveDeliveredAt"]; delivered {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].FinishedAtOrZero().Before(out[k].FinishedAtOrZero()) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	cloned := make([]*Job, len(out))
	for i, j := range out {
		cloned[i] = j.clone()
	}
	return cloned, nil
}

// FinishedAtOrZero returns the job's FinishedAt or the zero time if unset.
func (j *Job) FinishedAtOrZero() time.Time {
	if j.FinishedAt == nil {
		return time.Time{}
	}
	return *j.FinishedAt
}

// MarkProactiveDelivery records a delivery receipt against a terminal job so
// it no longer appears in ListPendingProactiveDeliveries.
func (s *Store) MarkProactiveDelivery(id string, receipt string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.snap.Jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Metadata == nil {
		job.Metadata = make(map[string]string)
	}
	job.Metadata["proactiveDeliveredAt"] = s.now().UTC().Format(time.RFC3339)
	if receipt != "" {
		if len(receipt) > MaxMetadataValueLen {
			receipt = receipt[:MaxMetadataValueLen]
		}
		job.Metadata["proactiveDeliveryReceipt"] = receipt
	}
	job.UpdatedAt = s.now().UTC()
	return s.persistLocked()
}

// SetPaused toggles the admin pause flag.
func (s *Store) SetPaused(flag bool, reason string) (AdminState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Paused = flag
	now := s.now().UTC()
	s.snap.PauseUpdatedAt = now.Format(time.RFC3339)
	if flag && reason != "" {
		r := reason
		s.snap.PauseReason = &r
	} else if !flag {
		s.snap.PauseReason = nil
	}
	if err := s.persistLocked(); err != nil {
		return AdminState{}, err
	}
	return s.adminStateLocked(), nil
}

// GetAdminState returns the current admin pause state.
func (s *Store) GetAdminState() (AdminState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adminStateLocked(), nil
}

func (s *Store) adminStateLocked() AdminState {
	st := AdminState{Paused: s.snap.Paused}
	if s.snap.PauseReason != nil {
		r := *s.snap.PauseReason
		st.PauseReason = &r
	}
	if s.snap.PauseUpdatedAt != "" {
		if t, err := time.Parse(time.RFC3339, s.snap.PauseUpdatedAt); err == nil {
			st.UpdatedAt = t
		}
	}
	return st
}

func (s *Store) removeFromQueueLocked(id string) {
	out := s.snap.Queue[:0]
	for _, qid := range s.snap.Queue {
		if qid != id {
			out = append(out, qid)
		}
	}
	s.snap.Queue = out
}

func (s *Store) appendEventLocked(id string, t EventType, message *string, data map[string]any, ts time.Time) {
	s.appendEventRawLocked(id, JobEvent{Type: t, Ts: ts, Message: trimMessage(message), Data: data})
}

func (s *Store) appendEventRawLocked(id string, e JobEvent) {
	e.Message = trimMessage(e.Message)
	log := s.snap.Events[id]
	log = append(log, e)
	if len(log) > MaxEventLogEntries {
		// Drop oldest entries but always preserve the most recent terminal
		// event: if it falls in the dropped range, it takes the place of the
		// oldest kept entry.
		cut := len(log) - MaxEventLogEntries
		last := -1
		for i := len(log) - 1; i >= 0 && last < 0; i-- {
			if t := log[i].Type; t == EventJobFinished || t == EventJobFailed || t == EventJobAborted {
				last = i
			}
		}
		if last >= 0 && last < cut {
			log = append([]JobEvent{log[last]}, log[cut+1:]...)
		} else {
			log = log[cut:]
		}
	}
	s.snap.Events[id] = log
}

func trimMessage(m *string) *string {
	if m == nil {
		return nil
	}
	v := *m
	if len(v) > MaxEventMessageLen {
		v = v[:MaxEventMessageLen]
	}
	return &v
}

