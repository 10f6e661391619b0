package dispatcher

import (
	"testing"

	"github.com/relaywire/httpcore/pkg/constants"
	"github.com/relaywire/httpcore/pkg/engine"
)

func newTestCall(host string) *AsyncCall {
	return NewCall(&engine.Request{Method: "GET", URL: "http://" + host + "/"}, host, nil)
}

func TestPromoteCallsLockedRespectsGlobalCap(t *testing.T) {
	d := &Dispatcher{maxRequests: 2, maxRequestsPerHost: 5}
	d.running = []*AsyncCall{newTestCall("a"), newTestCall("a")}
	d.ready = []*AsyncCall{newTestCall("b"), newTestCall("c")}

	started := d.promoteCallsLocked()

	if len(started) != 0 {
		t.Fatalf("expected no calls promoted at the global cap, got %d", len(started))
	}
	if len(d.ready) != 2 {
		t.Errorf("ready queue should be untouched, got %d", len(d.ready))
	}
}

func TestPromoteCallsLockedRespectsPerHostCap(t *testing.T) {
	d := &Dispatcher{maxRequests: 10, maxRequestsPerHost: 1}
	busy := newTestCall("a")
	d.running = []*AsyncCall{busy}
	queuedSameHost := newTestCall("a")
	queuedOtherHost := newTestCall("b")
	d.ready = []*AsyncCall{queuedSameHost, queuedOtherHost}

	started := d.promoteCallsLocked()

	if len(started) != 1 || started[0] != queuedOtherHost {
		t.Fatalf("expected only the other-host call promoted, got %+v", started)
	}
	if len(d.ready) != 1 || d.ready[0] != queuedSameHost {
		t.Errorf("expected the same-host call to remain queued, got %+v", d.ready)
	}
}

func TestPromoteCallsLockedPreservesOrderAcrossHosts(t *testing.T) {
	d := &Dispatcher{maxRequests: 10, maxRequestsPerHost: 10}
	first := newTestCall("a")
	second := newTestCall("b")
	third := newTestCall("a")
	d.ready = []*AsyncCall{first, second, third}

	started := d.promoteCallsLocked()

	if len(started) != 3 {
		t.Fatalf("expected all three calls promoted, got %d", len(started))
	}
	for i, want := range []*AsyncCall{first, second, third} {
		if started[i] != want {
			t.Errorf("started[%d] out of order", i)
		}
	}
	if len(d.ready) != 0 {
		t.Errorf("ready queue should be drained, got %d", len(d.ready))
	}
}

func TestHostCountLockedCountsRunningAndExecutedSync(t *testing.T) {
	d := &Dispatcher{}
	d.running = []*AsyncCall{newTestCall("a"), newTestCall("b")}
	d.executedSync = []*AsyncCall{newTestCall("a")}

	if got := d.hostCountLocked("a"); got != 2 {
		t.Errorf("hostCountLocked(a) = %d, want 2", got)
	}
	if got := d.hostCountLocked("b"); got != 1 {
		t.Errorf("hostCountLocked(b) = %d, want 1", got)
	}
	if got := d.hostCountLocked("c"); got != 0 {
		t.Errorf("hostCountLocked(c) = %d, want 0", got)
	}
}

func TestCancelMarksMatchingCallsAcrossDeques(t *testing.T) {
	tag := "job-1"
	ready := newTestCall("a")
	ready.Request.Tag = tag
	running := newTestCall("b")
	running.Request.Tag = tag
	untagged := newTestCall("c")

	d := &Dispatcher{ready: []*AsyncCall{ready}, running: []*AsyncCall{running, untagged}}
	d.Cancel(tag)

	if !ready.isCancelled() {
		t.Errorf("expected ready call to be cancelled")
	}
	if !running.isCancelled() {
		t.Errorf("expected running call to be cancelled")
	}
	if untagged.isCancelled() {
		t.Errorf("expected untagged call to remain uncancelled")
	}
}

func TestRunCallRejectsCancelledCallBeforeExecuting(t *testing.T) {
	d := &Dispatcher{}
	call := newTestCall("a")
	call.Cancel()

	_, err := d.runCall(nil, call)
	if err == nil {
		t.Fatalf("expected an error for a cancelled call")
	}
}

func TestRunningAndQueuedCallCounts(t *testing.T) {
	d := &Dispatcher{
		running:      []*AsyncCall{newTestCall("a")},
		executedSync: []*AsyncCall{newTestCall("b")},
		ready:        []*AsyncCall{newTestCall("c"), newTestCall("d")},
	}

	if got := d.RunningCallCount(); got != 2 {
		t.Errorf("RunningCallCount() = %d, want 2", got)
	}
	if got := d.QueuedCallCount(); got != 2 {
		t.Errorf("QueuedCallCount() = %d, want 2", got)
	}
}

func TestDefaultConfigMatchesConstants(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.MaxRequests != constants.DefaultMaxRequests || cfg.MaxRequestsPerHost != constants.DefaultMaxRequestsPerHost {
		t.Errorf("DefaultConfig() = %+v, want MaxRequests=%d MaxRequestsPerHost=%d", cfg, constants.DefaultMaxRequests, constants.DefaultMaxRequestsPerHost)
	}
}
