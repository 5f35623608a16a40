package backend

import (
	"context"
	"sync"
	"sync/atomic"

	"media-catalog/internal/logging"
	"media-catalog/internal/metrics"
)

// Verdict is the error policy's decision for the waiting queries.
type Verdict int

const (
	VerdictContinue Verdict = iota
	VerdictAbort
)

func (v Verdict) String() string {
	if v == VerdictAbort {
		return "abort"
	}
	return "continue"
}

// QueryStatus is the outcome of handing a failed statement to the error path.
type QueryStatus int

const (
	// QuerySuccess means the statement may be retried.
	QuerySuccess QueryStatus = iota
	// QueryWait means a decision is pending; the caller blocks until it
	// is posted.
	QueryWait
	// QueryAbort means the caller must give up and fail.
	QueryAbort
)

// ErrorPolicy decides what happens to queries that cannot proceed on their
// own. Both methods are invoked on the goroutine running the Dispatcher and
// must eventually call exactly one of answer.ContinueQueries or
// answer.AbortQueries, either before returning or later.
type ErrorPolicy interface {
	ConnectionError(answer *Answer, err error, query string)
	ConsultUserForError(answer *Answer, err error, query string)
}

// Answer carries one verdict back to the waiting goroutine. Only the first
// call has an effect.
type Answer struct {
	once    sync.Once
	reply   chan Verdict
	onAbort func()
}

func newAnswer(onAbort func()) *Answer {
	return &Answer{reply: make(chan Verdict, 1), onAbort: onAbort}
}

// ContinueQueries lets the waiting query retry.
func (a *Answer) ContinueQueries() {
	a.post(VerdictContinue)
}

// AbortQueries fails the waiting query and every other query currently
// blocked on a decision.
func (a *Answer) AbortQueries() {
	a.post(VerdictAbort)
}

func (a *Answer) post(v Verdict) {
	posted := false
	a.once.Do(func() {
		posted = true
		metrics.ConsultationsTotal.WithLabelValues(v.String()).Inc()
		a.reply <- v
		if v == VerdictAbort && a.onAbort != nil {
			a.onAbort()
		}
	})
	if !posted {
		logging.Warn("Error policy answered twice, ignoring %s", v)
	}
}

type consultKind int

const (
	consultConnection consultKind = iota
	consultUser
)

func (k consultKind) String() string {
	if k == consultUser {
		return "user"
	}
	return "connection"
}

type consultation struct {
	kind      consultKind
	err       error
	query     string
	answer    *Answer
	aborted   <-chan struct{}
	abandoned atomic.Bool
}

// Dispatcher moves error consultations from worker goroutines onto the
// main goroutine, where the ErrorPolicy runs. Exactly one goroutine should
// call Run or ProcessPending.
type Dispatcher struct {
	requests chan *consultation

	mu      sync.Mutex
	policy  ErrorPolicy
	abortCh chan struct{}
}

// NewDispatcher returns a dispatcher without a policy. Until one is set,
// every consultation is answered with an abort.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		requests: make(chan *consultation, 16),
		abortCh:  make(chan struct{}),
	}
}

// SetPolicy installs p; nil detaches the current policy.
func (d *Dispatcher) SetPolicy(p ErrorPolicy) {
	d.mu.Lock()
	d.policy = p
	d.mu.Unlock()
}

// Policy returns the installed policy.
func (d *Dispatcher) Policy() ErrorPolicy {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.policy
}

// Run handles consultations until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case req := <-d.requests:
			d.handle(req)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ProcessPending handles every queued consultation without blocking and
// returns how many were handed to the policy.
func (d *Dispatcher) ProcessPending() int {
	n := 0
	for {
		select {
		case req := <-d.requests:
			if d.handle(req) {
				n++
			}
		default:
			return n
		}
	}
}

func (d *Dispatcher) handle(req *consultation) bool {
	if req.abandoned.Load() {
		return false
	}
	policy := d.Policy()
	if policy == nil {
		req.answer.AbortQueries()
		return true
	}
	switch req.kind {
	case consultConnection:
		policy.ConnectionError(req.answer, req.err, req.query)
	default:
		policy.ConsultUserForError(req.answer, req.err, req.query)
	}
	return true
}

// aborted returns the channel closed by the next abort verdict.
func (d *Dispatcher) aborted() <-chan struct{} {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.abortCh
}

// broadcastAbort wakes every goroutine waiting for a decision.
func (d *Dispatcher) broadcastAbort() {
	d.mu.Lock()
	close(d.abortCh)
	d.abortCh = make(chan struct{})
	d.mu.Unlock()
}

// dispatch queues a consultation. Without a policy it answers QueryAbort
// straight away; otherwise it answers QueryWait and the request to wait on.
func (d *Dispatcher) dispatch(ctx context.Context, kind consultKind, err error, query string) (QueryStatus, *consultation) {
	if d.Policy() == nil {
		metrics.ConsultationsTotal.WithLabelValues(VerdictAbort.String()).Inc()
		return QueryAbort, nil
	}
	metrics.EscalationsTotal.WithLabelValues(kind.String()).Inc()

	req := &consultation{
		kind:    kind,
		err:     err,
		query:   query,
		answer:  newAnswer(d.broadcastAbort),
		aborted: d.aborted(),
	}
	select {
	case d.requests <- req:
		return QueryWait, req
	case <-ctx.Done():
		return QueryAbort, nil
	}
}

// wait blocks until the consultation is answered, any abort verdict is
// posted, or ctx is done.
func (d *Dispatcher) wait(ctx context.Context, req *consultation) QueryStatus {
	select {
	case v := <-req.answer.reply:
		if v == VerdictAbort {
			return QueryAbort
		}
		return QuerySuccess
	case <-req.aborted:
		req.abandoned.Store(true)
		return QueryAbort
	case <-ctx.Done():
		req.abandoned.Store(true)
		return QueryAbort
	}
}

// consult dispatches a consultation and waits for its verdict.
func (d *Dispatcher) consult(ctx context.Context, kind consultKind, err error, query string) QueryStatus {
	status, req := d.dispatch(ctx, kind, err, query)
	if status == QueryWait {
		status = d.wait(ctx, req)
	}
	return status
}
