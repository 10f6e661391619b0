// Package dispatcher schedules concurrent request-engine executions
// under a global concurrency cap and a per-host cap, queuing calls that
// exceed either limit and promoting them as running calls finish.
package dispatcher

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/relaywire/httpcore/pkg/constants"
	"github.com/relaywire/httpcore/pkg/engine"
	"github.com/relaywire/httpcore/pkg/errors"
)

// Callback receives the result of an asynchronous call.
type Callback func(*engine.Response, error)

// AsyncCall is a (Request, callback) pair, identified by an id (for
// logging/tracing) and grouped for cancellation by Tag.
type AsyncCall struct {
	ID       string
	Request  *engine.Request
	Callback Callback

	host   string
	handle *engine.CallHandle

	mu        sync.Mutex
	cancelled bool
}

// Cancel marks the call cancelled and, if it is already running,
// disconnects the connection it is currently using so its blocking IO
// unblocks with an error instead of running to completion.
func (c *AsyncCall) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
	c.handle.Disconnect()
}

func (c *AsyncCall) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Config bounds the Dispatcher's concurrency.
type Config struct {
	MaxRequests        int
	MaxRequestsPerHost int
}

// DefaultConfig returns the package's default concurrency limits.
func DefaultConfig() Config {
	return Config{MaxRequests: constants.DefaultMaxRequests, MaxRequestsPerHost: constants.DefaultMaxRequestsPerHost}
}

// Dispatcher schedules calls across three deques (ready, running,
// executedSync) under one lock, with `running`'s size bounded by
// maxRequests and a per-host count bounded by maxRequestsPerHost. There
// is no explicit worker-pool type: Go's goroutine scheduler already
// gives every submitted call its own lightweight worker.
type Dispatcher struct {
	engine *engine.Engine

	mu                 sync.Mutex
	cond               *sync.Cond
	maxRequests        int
	maxRequestsPerHost int
	ready              []*AsyncCall
	running            []*AsyncCall
	executedSync       []*AsyncCall

	runningGauge prometheus.Gauge
	queuedGauge  prometheus.Gauge
}

// New builds a Dispatcher bound to engine for actually executing calls.
// reg may be nil to skip Prometheus registration entirely.
func New(e *engine.Engine, cfg Config, reg *prometheus.Registry) *Dispatcher {
	d := &Dispatcher{
		engine:             e,
		maxRequests:        cfg.MaxRequests,
		maxRequestsPerHost: cfg.MaxRequestsPerHost,
		runningGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpcore_dispatcher_running_calls",
			Help: "Number of calls currently executing.",
		}),
		queuedGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "httpcore_dispatcher_queued_calls",
			Help: "Number of calls waiting for a run slot.",
		}),
	}
	d.cond = sync.NewCond(&d.mu)
	if reg != nil {
		reg.MustRegister(d.runningGauge, d.queuedGauge)
	}
	return d
}

// NewCall wraps a Request into an AsyncCall, deriving its host-counting
// key and an opaque id for tracing (google/uuid), distinct from the
// user-supplied cancellation Tag.
func NewCall(req *engine.Request, host string, callback Callback) *AsyncCall {
	return &AsyncCall{ID: uuid.NewString(), Request: req, Callback: callback, host: host, handle: engine.NewCallHandle()}
}

// Enqueue submits call for execution: under lock, if running has room
// both globally and for this call's host, start it immediately; else
// append to ready.
func (d *Dispatcher) Enqueue(ctx context.Context, call *AsyncCall) {
	d.mu.Lock()
	if len(d.running) < d.maxRequests && d.hostCountLocked(call.host) < d.maxRequestsPerHost {
		d.running = append(d.running, call)
		d.updateGaugesLocked()
		d.mu.Unlock()
		go d.execute(ctx, call)
		return
	}
	d.ready = append(d.ready, call)
	d.updateGaugesLocked()
	d.mu.Unlock()
}

// ExecuteSync runs call synchronously: it counts against the per-host
// cap via the executedSync deque (so concurrent async calls to the same
// host still queue behind it) but the caller's own goroutine blocks,
// waiting on the condition variable if the host is already at its
// limit.
func (d *Dispatcher) ExecuteSync(ctx context.Context, call *AsyncCall) (*engine.Response, error) {
	d.mu.Lock()
	for d.hostCountLocked(call.host) >= d.maxRequestsPerHost {
		d.cond.Wait()
	}
	d.executedSync = append(d.executedSync, call)
	d.updateGaugesLocked()
	d.mu.Unlock()

	resp, err := d.runCall(ctx, call)

	d.mu.Lock()
	d.executedSync = removeCall(d.executedSync, call)
	started := d.promoteCallsLocked()
	d.updateGaugesLocked()
	d.cond.Broadcast()
	d.mu.Unlock()

	for _, c := range started {
		go d.execute(ctx, c)
	}

	return resp, err
}

func (d *Dispatcher) execute(ctx context.Context, call *AsyncCall) {
	resp, err := d.runCall(ctx, call)
	d.finished(ctx, call)
	if call.Callback != nil {
		call.Callback(resp, err)
	}
}

func (d *Dispatcher) runCall(ctx context.Context, call *AsyncCall) (*engine.Response, error) {
	if call.isCancelled() {
		return nil, errors.NewInterrupted("call was cancelled before execution", nil)
	}
	return d.engine.DoWithHandle(ctx, call.Request, call.handle)
}

// finished removes call from running, then promotes queued calls.
func (d *Dispatcher) finished(ctx context.Context, call *AsyncCall) {
	d.mu.Lock()
	d.running = removeCall(d.running, call)
	started := d.promoteCallsLocked()
	d.updateGaugesLocked()
	d.cond.Broadcast()
	d.mu.Unlock()

	for _, c := range started {
		go d.execute(ctx, c)
	}
}

// promoteCalls iterates ready in order, moving each call whose host is
// still under the per-host cap into running, stopping once running is
// full.
func (d *Dispatcher) promoteCalls(ctx context.Context) {
	d.mu.Lock()
	started := d.promoteCallsLocked()
	d.mu.Unlock()
	for _, call := range started {
		go d.execute(ctx, call)
	}
}

// promoteCallsLocked must be called with d.mu held; it returns the
// calls it moved into running so the caller can start their goroutines
// outside the lock.
func (d *Dispatcher) promoteCallsLocked() []*AsyncCall {
	var started []*AsyncCall
	var remaining []*AsyncCall
	for _, call := range d.ready {
		if len(d.running) >= d.maxRequests {
			remaining = append(remaining, call)
			continue
		}
		if d.hostCountLocked(call.host) >= d.maxRequestsPerHost {
			remaining = append(remaining, call)
			continue
		}
		d.running = append(d.running, call)
		started = append(started, call)
	}
	d.ready = remaining
	return started
}

func (d *Dispatcher) hostCountLocked(host string) int {
	n := 0
	for _, c := range d.running {
		if c.host == host {
			n++
		}
	}
	for _, c := range d.executedSync {
		if c.host == host {
			n++
		}
	}
	return n
}

// Cancel marks every ready/running/executedSync call with a matching
// tag as cancelled. A call that is already running has its in-flight
// connection disconnected too, so its blocking IO unblocks with an
// error instead of running to completion.
func (d *Dispatcher) Cancel(tag interface{}) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, deque := range [][]*AsyncCall{d.ready, d.running, d.executedSync} {
		for _, call := range deque {
			if call.Request.Tag == tag {
				call.Cancel()
			}
		}
	}
}

func (d *Dispatcher) SetMaxRequests(n int) {
	d.mu.Lock()
	d.maxRequests = n
	d.mu.Unlock()
	d.promoteCalls(context.Background())
}

func (d *Dispatcher) SetMaxRequestsPerHost(n int) {
	d.mu.Lock()
	d.maxRequestsPerHost = n
	d.mu.Unlock()
	d.promoteCalls(context.Background())
}

func (d *Dispatcher) RunningCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.running) + len(d.executedSync)
}

func (d *Dispatcher) QueuedCallCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.ready)
}

func (d *Dispatcher) updateGaugesLocked() {
	if d.runningGauge != nil {
		d.runningGauge.Set(float64(len(d.running) + len(d.executedSync)))
	}
	if d.queuedGauge != nil {
		d.queuedGauge.Set(float64(len(d.ready)))
	}
}

func removeCall(deque []*AsyncCall, call *AsyncCall) []*AsyncCall {
	out := deque[:0]
	for _, c := range deque {
		if c != call {
			out = append(out, c)
		}
	}
	return out
}
