// Package bootstrap drives the background processes that take a freshly
// started node to a working overlay position: address discovery, randomized
// channel construction and the first data sync.
//
// All three loops share the same candidate-selection shape: re-query the
// directory, subtract self and already-visited peers, pick one candidate
// uniformly at random, act on it, repeat until a quota is met or the pool
// is exhausted. Expected failures (a dead peer, an empty pool) are loop
// control decisions; only unexpected faults escalate.
package bootstrap

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/meshwire/meshwire/meshwire/conn"
	"github.com/meshwire/meshwire/meshwire/directory"
	"github.com/meshwire/meshwire/meshwire/identity"
)

// ErrNoOpener is reported by deployments that run the channel-build loop
// without a channel negotiation collaborator installed.
var ErrNoOpener = errors.New("bootstrap: no channel opener installed")

// LoopResult tags how a loop terminated.
type LoopResult int

const (
	// LoopTargetReached means the loop met its quota (for discovery: the
	// directory ended up non-empty).
	LoopTargetReached LoopResult = iota

	// LoopExhausted means the candidate pool ran dry before the quota was
	// met. This is an expected, clean failure.
	LoopExhausted

	// LoopNoSyncPossible is the sync loop's exhaustion report.
	LoopNoSyncPossible

	// LoopCanceled means the loop's context was canceled.
	LoopCanceled

	// LoopFatalFault means something outside the anticipated failure
	// surface broke, e.g. the directory itself erroring.
	LoopFatalFault
)

func (r LoopResult) String() string {
	switch r {
	case LoopTargetReached:
		return "target-reached"
	case LoopExhausted:
		return "exhausted"
	case LoopNoSyncPossible:
		return "no-sync-possible"
	case LoopCanceled:
		return "canceled"
	case LoopFatalFault:
		return "fatal-fault"
	default:
		return "unknown"
	}
}

// Report is a loop's single-shot terminal report. Err is set for
// LoopFatalFault and LoopCanceled.
type Report struct {
	Result LoopResult
	Err    error
}

// ReportFunc receives a loop's terminal report, exactly once.
type ReportFunc func(Report)

// BlockingDialer performs a connect that suspends the caller until the
// transport reports an outcome, bounded by the transport's own timeout.
type BlockingDialer interface {
	ConnectBlocking(ctx context.Context, desc conn.Descriptor) error
}

// ChannelOpener negotiates a higher-level channel with a connected peer.
// Open is fire-and-forget; progress is observed through the directory's
// channel records, not through done.
type ChannelOpener interface {
	OpenChannel(key identity.NodeKey, done func(err error))
}

// Engine is the data-sync engine. Resync is an asynchronous trigger; the
// loop never awaits its result.
type Engine interface {
	Resync()
}

// noopOpener stands in when no channel negotiation collaborator is
// installed; every open fails immediately with ErrNoOpener.
type noopOpener struct{}

func (noopOpener) OpenChannel(_ identity.NodeKey, done func(err error)) {
	if done != nil {
		done(ErrNoOpener)
	}
}

type noopEngine struct{}

func (noopEngine) Resync() {}

// Config carries the loop quotas.
type Config struct {
	// MinAddresses is the known-record count discovery grows towards.
	MinAddresses int
	// ChannelsToOpen is the target number of open channels.
	ChannelsToOpen int
	// SyncPeers is the number of peers the first sync pulls from.
	SyncPeers int
	// ChannelPause is the fixed delay between channel-build iterations.
	ChannelPause time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinAddresses:   10,
		ChannelsToOpen: 5,
		SyncPeers:      3,
		ChannelPause:   5 * time.Second,
	}
}

// Loops runs the three bootstrap processes against a shared directory.
type Loops struct {
	cfg    Config
	local  identity.NodeKey
	dir    directory.Directory
	seeds  []directory.Record
	dialer BlockingDialer
	opener ChannelOpener
	engine Engine
	clock  clock.Clock
	log    *zap.SugaredLogger
}

func NewLoops(
	cfg Config,
	local identity.NodeKey,
	dir directory.Directory,
	seeds []directory.Record,
	dialer BlockingDialer,
	opener ChannelOpener,
	engine Engine,
	clk clock.Clock,
	log *zap.SugaredLogger,
) *Loops {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if opener == nil {
		opener = noopOpener{}
	}
	if engine == nil {
		engine = noopEngine{}
	}
	return &Loops{
		cfg:    cfg,
		local:  local,
		dir:    dir,
		seeds:  append([]directory.Record(nil), seeds...),
		dialer: dialer,
		opener: opener,
		engine: engine,
		clock:  clk,
		log:    log,
	}
}

// StartDiscovery runs the discovery loop on its own goroutine.
func (l *Loops) StartDiscovery(ctx context.Context, report ReportFunc) {
	go func() { report(l.runDiscovery(ctx)) }()
}

// StartChannelBuilding runs the channel-build loop on its own goroutine.
func (l *Loops) StartChannelBuilding(ctx context.Context, report ReportFunc) {
	go func() { report(l.runChannelBuild(ctx)) }()
}

// StartSync runs the sync bootstrap loop on its own goroutine.
func (l *Loops) StartSync(ctx context.Context, report ReportFunc) {
	go func() { report(l.runSync(ctx)) }()
}

// pick removes nothing: it just selects one candidate uniformly at random.
func pick(pool []directory.Record) directory.Record {
	return pool[rand.IntN(len(pool))]
}

func canceled(ctx context.Context) bool {
	return ctx.Err() != nil
}
