package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/learnquest/proctoring-engine/internal/domain/observation"
	"github.com/learnquest/proctoring-engine/internal/domain/session"
	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/internal/domain/violation"
	"github.com/learnquest/proctoring-engine/pkg/logger"
)

// Status is a read-only snapshot of a session, safe to read from any
// goroutine.
type Status struct {
	SessionID     string        `json:"session_id"`
	UserID        string        `json:"user_id"`
	CourseID      string        `json:"course_id"`
	State         session.State `json:"-"`
	StateName     string        `json:"state"`
	BehaviorScore float64       `json:"behavior_score"`
	Violations    int           `json:"violations"`
	LastEventAt   time.Time     `json:"last_event_at"`
}

// ResultFunc receives the post-update snapshot and the violations the event
// produced. It runs on the worker goroutine and must not block.
type ResultFunc func(st Status, recorded []violation.Event)

type inbound struct {
	res   observation.Result
	kind  string
	at    time.Time
	reply ResultFunc
}

type finalizeRequest struct {
	submission session.TestSubmission
	reason     string
	resp       chan finalizeResponse
}

type finalizeResponse struct {
	result *session.Result
	err    error
}

// Worker owns one session for its whole lifetime. All session mutation
// happens on the worker goroutine; callers interact through channels, so
// bursts of concurrent events for the same session serialize into a
// deterministic order and the behavior score never tears.
type Worker struct {
	sess      *session.Session
	finalizer *Finalizer
	bus       shared.EventBus
	metrics   Metrics
	log       *logger.Logger
	cfg       Config

	queue      chan inbound
	controls   chan func()
	finalizeCh chan finalizeRequest
	expireCh   chan string
	stopped    chan struct{}

	status atomic.Pointer[Status]

	mu         sync.Mutex
	attached   bool
	detachedAt time.Time

	onClosed func(*Worker)
}

func newWorker(sess *session.Session, cfg Config, fin *Finalizer, bus shared.EventBus, metrics Metrics, log *logger.Logger, onClosed func(*Worker)) *Worker {
	w := &Worker{
		sess:       sess,
		finalizer:  fin,
		bus:        bus,
		metrics:    metrics,
		log:        log.WithSessionID(sess.ID()).With(logger.UserID(sess.Key().UserID), logger.CourseID(sess.Key().CourseID)),
		cfg:        cfg,
		queue:      make(chan inbound, cfg.QueueSize),
		controls:   make(chan func(), 8),
		finalizeCh: make(chan finalizeRequest),
		expireCh:   make(chan string, 1),
		stopped:    make(chan struct{}),
		onClosed:   onClosed,
	}
	w.storeStatus()
	return w
}

// start launches the worker goroutine.
func (w *Worker) start() {
	go w.run()
}

func (w *Worker) run() {
	defer func() {
		close(w.stopped)
		w.metrics.SessionClosed()
		if w.onClosed != nil {
			w.onClosed(w)
		}
	}()

	var deadlineC <-chan time.Time
	if dl := w.sess.Deadline(); !dl.IsZero() {
		timer := time.NewTimer(time.Until(dl))
		defer timer.Stop()
		deadlineC = timer.C
	}

	publish(w.bus, shared.NewEvent(shared.EventSessionStarted, w.sess.ID(), map[string]interface{}{
		"user_id":   w.sess.Key().UserID,
		"course_id": w.sess.Key().CourseID,
	}))

	for {
		select {
		case in := <-w.queue:
			w.handle(in)
		case fn := <-w.controls:
			fn()
		case req := <-w.finalizeCh:
			result, err := w.finalize(req.submission, req.reason)
			req.resp <- finalizeResponse{result: result, err: err}
			return
		case reason := <-w.expireCh:
			w.expire(reason)
			return
		case <-deadlineC:
			w.expire("deadline")
			return
		}
	}
}

// Attach claims the session's single connection slot. The first caller wins;
// a second concurrent connection is rejected and the first stays
// authoritative. After a disconnect the slot reopens for a reconnect within
// the grace window.
func (w *Worker) Attach() error {
	w.mu.Lock()
	if w.attached {
		w.mu.Unlock()
		return shared.ErrAlreadyAttached
	}
	w.attached = true
	w.detachedAt = time.Time{}
	w.mu.Unlock()

	activated := make(chan struct{})
	select {
	case w.controls <- func() { w.activate(); close(activated) }:
	case <-w.stopped:
		w.Detach(time.Now().UTC())
		return shared.ErrSessionClosed
	}
	select {
	case <-activated:
	case <-w.stopped:
		w.Detach(time.Now().UTC())
		return shared.ErrSessionClosed
	}
	return nil
}

// Detach releases the connection slot and starts the reconnect grace window.
func (w *Worker) Detach(now time.Time) {
	w.mu.Lock()
	w.attached = false
	w.detachedAt = now
	w.mu.Unlock()
}

// Attached reports whether a connection currently holds the session.
func (w *Worker) Attached() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.attached
}

func (w *Worker) activate() {
	if w.sess.State() != session.StateCreated {
		return
	}
	if err := w.sess.Activate(); err != nil {
		return
	}
	w.storeStatus()
	publish(w.bus, shared.NewEvent(shared.EventSessionActivated, w.sess.ID(), map[string]interface{}{
		"user_id":   w.sess.Key().UserID,
		"course_id": w.sess.Key().CourseID,
	}))
	w.log.Info("session activated")
}

// Enqueue queues one observation for processing. When the queue is full the
// oldest pending event is discarded to make room, so a slow consumer sheds
// stale frames instead of falling behind live. Returns ErrSessionClosed once
// the worker has terminated.
func (w *Worker) Enqueue(res observation.Result, reply ResultFunc) error {
	select {
	case <-w.stopped:
		return shared.ErrSessionClosed
	default:
	}

	in := inbound{res: res, kind: res.Kind.String(), at: time.Now().UTC(), reply: reply}
	select {
	case w.queue <- in:
		return nil
	default:
	}

	select {
	case old := <-w.queue:
		w.metrics.EventDropped(old.kind)
	default:
	}

	select {
	case w.queue <- in:
	case <-w.stopped:
		return shared.ErrSessionClosed
	default:
		w.metrics.EventDropped(in.kind)
	}
	return nil
}

func (w *Worker) handle(in inbound) {
	recorded, err := w.sess.Ingest(in.res, in.at)
	if err != nil {
		if errors.Is(err, shared.ErrInvalidState) {
			w.log.Debug("event dropped", logger.String("kind", in.kind), logger.String("state", w.sess.State().String()))
			return
		}
		w.log.Warn("event rejected", logger.String("kind", in.kind), logger.Err(err))
		return
	}
	w.metrics.EventProcessed(in.kind)

	for _, ev := range recorded {
		w.metrics.ViolationRecorded(ev.Type.String(), ev.PenaltyApplied)
		w.publishViolation(ev)
		w.log.Info("violation recorded",
			logger.Violation(ev.Type.String()),
			logger.Severity(string(ev.Severity)),
			logger.Bool("penalty_applied", ev.PenaltyApplied),
			logger.Penalty(ev.Points),
			logger.Score(w.sess.BehaviorScore()),
		)
	}

	w.storeStatus()
	if in.reply != nil {
		in.reply(*w.status.Load(), recorded)
	}
}

func (w *Worker) publishViolation(ev violation.Event) {
	key := w.sess.Key()
	publish(w.bus, shared.NewEvent(shared.EventViolationRecorded, w.sess.ID(), map[string]interface{}{
		"user_id":   key.UserID,
		"course_id": key.CourseID,
		"event":     ev,
	}))
	if ev.PenaltyApplied {
		publish(w.bus, shared.NewEvent(shared.EventPenaltyApplied, w.sess.ID(), map[string]interface{}{
			"user_id":   key.UserID,
			"course_id": key.CourseID,
			"violation": ev.Type.String(),
			"points":    ev.Points,
		}))
		publish(w.bus, shared.NewEvent(shared.EventScoreUpdated, w.sess.ID(), map[string]interface{}{
			"user_id":   key.UserID,
			"course_id": key.CourseID,
			"score":     w.sess.BehaviorScore(),
		}))
	}
}

// Finalize submits the test result and waits for the verdict. Exactly one
// finalize wins; racing callers receive ErrSessionClosed and should read the
// persisted verdict instead.
func (w *Worker) Finalize(ctx context.Context, sub session.TestSubmission) (*session.Result, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	req := finalizeRequest{submission: sub, reason: "submission", resp: make(chan finalizeResponse, 1)}
	select {
	case w.finalizeCh <- req:
	case <-w.stopped:
		return nil, shared.ErrSessionClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.resp:
		return resp.result, resp.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Expire requests termination without a submission: the session finalizes
// with a zero test score. Used by the deadline timer's siblings, the
// inactivity sweep and shutdown. Non-blocking and idempotent.
func (w *Worker) Expire(reason string) {
	select {
	case w.expireCh <- reason:
	default:
	}
}

func (w *Worker) expire(reason string) {
	publish(w.bus, shared.NewEvent(shared.EventSessionExpired, w.sess.ID(), map[string]interface{}{
		"user_id":   w.sess.Key().UserID,
		"course_id": w.sess.Key().CourseID,
		"reason":    reason,
	}))
	w.log.Warn("session expired", logger.String("reason", reason), logger.Score(w.sess.BehaviorScore()))

	if _, err := w.finalize(session.TestSubmission{}, reason); err != nil {
		w.log.Error("expiry finalize failed", logger.String("reason", reason), logger.Err(err))
	}
}

// finalize runs on the worker goroutine.
func (w *Worker) finalize(sub session.TestSubmission, reason string) (*session.Result, error) {
	if err := w.sess.BeginFinalize(); err != nil {
		return nil, err
	}
	w.storeStatus()
	publish(w.bus, shared.NewEvent(shared.EventSessionFinalized, w.sess.ID(), map[string]interface{}{
		"user_id":   w.sess.Key().UserID,
		"course_id": w.sess.Key().CourseID,
		"reason":    reason,
	}))

	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.PersistTimeout)
	defer cancel()
	result, err := w.finalizer.Finalize(ctx, w.sess, sub)

	w.sess.Close()
	w.storeStatus()
	publish(w.bus, shared.NewEvent(shared.EventSessionClosed, w.sess.ID(), nil))
	return result, err
}

// Status returns the latest snapshot.
func (w *Worker) Status() Status {
	return *w.status.Load()
}

// Key returns the session key.
func (w *Worker) Key() session.Key { return w.sess.Key() }

// Done is closed when the worker goroutine has terminated.
func (w *Worker) Done() <-chan struct{} { return w.stopped }

// idleSince reports the later of the last event and, when detached, the
// disconnect time; zero detachedAt means a connection is still attached.
func (w *Worker) idleState() (lastEvent time.Time, detachedAt time.Time, attached bool) {
	st := w.status.Load()
	w.mu.Lock()
	defer w.mu.Unlock()
	return st.LastEventAt, w.detachedAt, w.attached
}

func (w *Worker) storeStatus() {
	key := w.sess.Key()
	st := &Status{
		SessionID:     w.sess.ID(),
		UserID:        key.UserID,
		CourseID:      key.CourseID,
		State:         w.sess.State(),
		StateName:     w.sess.State().String(),
		BehaviorScore: w.sess.BehaviorScore(),
		Violations:    w.sess.ViolationCount(),
		LastEventAt:   w.sess.LastEventAt(),
	}
	w.status.Store(st)
}
