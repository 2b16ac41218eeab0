package bootstrap

import (
	"context"

	"github.com/meshwire/meshwire/meshwire/conn"
	"github.com/meshwire/meshwire/meshwire/directory"
)

// runSync pulls a first data snapshot from SyncPeers random peers. Each
// picked candidate triggers an engine resync before the blocking connect;
// the connect with the fetch-sync intent is the pull. Attempts count
// towards the quota whether or not the connect succeeded. There is no
// pause between iterations: the blocking connect is the pacing.
func (l *Loops) runSync(ctx context.Context) Report {
	known, err := l.dir.AllRecords()
	if err != nil {
		return Report{Result: LoopFatalFault, Err: err}
	}
	fetched := directory.KeySet(l.local)

	for total := 0; total < l.cfg.SyncPeers; {
		if canceled(ctx) {
			return Report{Result: LoopCanceled, Err: ctx.Err()}
		}

		pool := directory.WithoutKeys(append(known, l.seeds...), fetched)
		if len(pool) == 0 {
			l.log.Infow("sync bootstrap: candidate pool exhausted", "synced", total)
			return Report{Result: LoopNoSyncPossible}
		}

		candidate := pick(pool)
		fetched[candidate.Key] = struct{}{}

		// Ask the engine to advance its own state for every attempted
		// candidate, independent of this specific peer working out.
		l.engine.Resync()

		desc, err := conn.Resolve(candidate, conn.IntentFetchSync)
		if err != nil {
			l.log.Warnw("sync bootstrap: unresolvable candidate", "peer", candidate.Key.Short(), "err", err)
		} else if err := l.dialer.ConnectBlocking(ctx, desc); err != nil {
			l.log.Debugw("sync bootstrap: pull failed", "peer", candidate.Key.Short(), "err", err)
		}
		total++

		known, err = l.dir.AllRecords()
		if err != nil {
			return Report{Result: LoopFatalFault, Err: err}
		}
	}

	l.log.Infow("sync bootstrap: finished")
	return Report{Result: LoopTargetReached}
}
