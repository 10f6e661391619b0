package engine

import (
	"github.com/relaywire/httpcore/pkg/errors"
	"github.com/relaywire/httpcore/pkg/route"
)

// recoverExchange decides, given the error from one exchangeOnce
// attempt, whether to demote the route and retry the same Selector, or
// surface the failure. Protocol errors, interrupted IO, and TLS
// handshake/pinning failures are never recoverable;
// pkg/errors.IsRecoverable narrows to route and IO failures only.
//
// A fresh dial's route.Route is always attached to the connection
// returned by connect(), so ConnectFailed always demotes the route that
// was actually used for this attempt, never a reused one silently
// substituted in.
func (e *Engine) recoverExchange(sel *route.Selector, conn *connection, err error) bool {
	if !errors.IsRecoverable(err) {
		return false
	}
	sel.ConnectFailed(conn.pooled.Route, err)
	conn.pooled.Close()
	return true
}
