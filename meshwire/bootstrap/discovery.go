package bootstrap

import (
	"context"

	"github.com/meshwire/meshwire/meshwire/conn"
	"github.com/meshwire/meshwire/meshwire/directory"
)

// runDiscovery grows the directory to at least MinAddresses known records.
// Candidates are the known records plus the static seed list; each attempt
// is a blocking connect with the fetch-addrs intent, whose value is the
// address exchange performed during the connection, not the connection
// itself. A candidate is marked fetched-from whether or not the connect
// succeeded, so a run visits each peer at most once.
func (l *Loops) runDiscovery(ctx context.Context) Report {
	known, err := l.dir.AllRecords()
	if err != nil {
		return Report{Result: LoopFatalFault, Err: err}
	}
	fetched := directory.KeySet(l.local)

	for len(known) < l.cfg.MinAddresses {
		if canceled(ctx) {
			return Report{Result: LoopCanceled, Err: ctx.Err()}
		}

		pool := directory.WithoutKeys(append(known, l.seeds...), fetched)
		if len(pool) == 0 {
			l.log.Infow("discovery: candidate pool exhausted", "known", len(known))
			break
		}

		candidate := pick(pool)
		fetched[candidate.Key] = struct{}{}

		desc, err := conn.Resolve(candidate, conn.IntentFetchAddrs)
		if err != nil {
			l.log.Warnw("discovery: unresolvable candidate", "peer", candidate.Key.Short(), "err", err)
		} else if err := l.dialer.ConnectBlocking(ctx, desc); err != nil {
			// Dead seeds are normal during bootstrap.
			l.log.Debugw("discovery: fetch attempt failed", "peer", candidate.Key.Short(), "err", err)
		}

		known, err = l.dir.AllRecords()
		if err != nil {
			return Report{Result: LoopFatalFault, Err: err}
		}
	}

	final, err := l.dir.AllRecords()
	if err != nil {
		return Report{Result: LoopFatalFault, Err: err}
	}
	if len(final) == 0 {
		return Report{Result: LoopExhausted}
	}
	l.log.Infow("discovery: finished", "known", len(final))
	return Report{Result: LoopTargetReached}
}
