package bootstrap

import (
	"context"

	"github.com/meshwire/meshwire/meshwire/conn"
	"github.com/meshwire/meshwire/meshwire/directory"
)

// runChannelBuild opens channels with randomly picked peers until
// ChannelsToOpen peers hold one. Channel negotiation is fire-and-forget;
// completion is observed only through the directory's channel records on
// the next iteration, with a fixed pause between iterations to let
// in-flight negotiations land.
func (l *Loops) runChannelBuild(ctx context.Context) Report {
	channeled, err := l.dir.ChannelRecords()
	if err != nil {
		return Report{Result: LoopFatalFault, Err: err}
	}
	tried := directory.KeySet(l.local)

	for len(channeled) < l.cfg.ChannelsToOpen {
		if canceled(ctx) {
			return Report{Result: LoopCanceled, Err: ctx.Err()}
		}

		known, err := l.dir.AllRecords()
		if err != nil {
			return Report{Result: LoopFatalFault, Err: err}
		}
		pool := directory.WithoutKeys(known, tried, directory.RecordKeySet(channeled))
		if len(pool) == 0 {
			l.log.Infow("channel build: candidate pool exhausted", "open", len(channeled))
			return Report{Result: LoopExhausted}
		}

		candidate := pick(pool)
		tried[candidate.Key] = struct{}{}

		if _, err := conn.Resolve(candidate, conn.IntentOpenChannel); err != nil {
			l.log.Warnw("channel build: unresolvable candidate", "peer", candidate.Key.Short(), "err", err)
			continue
		}

		l.log.Infow("channel build: opening channel", "peer", candidate.Key.Short())
		peer := candidate.Key
		l.opener.OpenChannel(peer, func(err error) {
			if err != nil {
				l.log.Debugw("channel build: negotiation failed", "peer", peer.Short(), "err", err)
			}
		})

		channeled, err = l.dir.ChannelRecords()
		if err != nil {
			return Report{Result: LoopFatalFault, Err: err}
		}

		select {
		case <-l.clock.After(l.cfg.ChannelPause):
		case <-ctx.Done():
			return Report{Result: LoopCanceled, Err: ctx.Err()}
		}
	}

	l.log.Infow("channel build: target reached", "open", len(channeled))
	return Report{Result: LoopTargetReached}
}
