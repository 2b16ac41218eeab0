package meshwire

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/meshwire/meshwire/meshwire/bootstrap"
	"github.com/meshwire/meshwire/meshwire/config"
	"github.com/meshwire/meshwire/meshwire/conn"
	"github.com/meshwire/meshwire/meshwire/directory"
	"github.com/meshwire/meshwire/meshwire/directory/memory"
	"github.com/meshwire/meshwire/meshwire/directory/sqlite"
	"github.com/meshwire/meshwire/meshwire/identity"
	quicx "github.com/meshwire/meshwire/meshwire/transport/quic"
)

// Option configures a Node.
type Option func(*Node)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(n *Node) { n.log = log }
}

// WithChannelOpener installs the channel negotiation collaborator used by
// the channel-build loop.
func WithChannelOpener(opener bootstrap.ChannelOpener) Option {
	return func(n *Node) { n.opener = opener }
}

// WithSyncEngine installs the data-sync collaborator used by the sync
// bootstrap loop.
func WithSyncEngine(engine bootstrap.Engine) Option {
	return func(n *Node) { n.engine = engine }
}

func WithSnapshotSource(src quicx.SnapshotSource) Option {
	return func(n *Node) { n.snapshots = src }
}

func WithSnapshotSink(sink quicx.SnapshotSink) Option {
	return func(n *Node) { n.syncSink = sink }
}

func WithClock(clk clock.Clock) Option {
	return func(n *Node) { n.clock = clk }
}

// WithDirectory overrides the directory selected by the config, useful
// for embedding and tests.
func WithDirectory(dir directory.Directory) Option {
	return func(n *Node) { n.dir = dir }
}

// lazyDialer breaks the construction cycle between the registry (which
// dials through the transport) and the transport (which reports events
// into the registry).
type lazyDialer struct {
	d conn.Dialer
}

func (l *lazyDialer) ConnectAsync(desc conn.Descriptor, done func(err error)) {
	l.d.ConnectAsync(desc, done)
}

// Node is an assembled meshwire peer: identity, directory, transport,
// connection registry and bootstrap loops.
type Node struct {
	cfg   *config.Config
	kp    identity.KeyPair
	log   *zap.SugaredLogger
	clock clock.Clock

	dir       directory.Directory
	seeds     []directory.Record
	registry  *conn.Registry
	transport *quicx.Transport
	loops     *bootstrap.Loops

	opener    bootstrap.ChannelOpener
	engine    bootstrap.Engine
	snapshots quicx.SnapshotSource
	syncSink  quicx.SnapshotSink

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Config, kp identity.KeyPair, opts ...Option) (*Node, error) {
	// opener and engine stay nil unless installed via options; the loop
	// constructor substitutes safe no-ops.
	n := &Node{
		cfg:   cfg,
		kp:    kp,
		log:   zap.NewNop().Sugar(),
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(n)
	}

	seeds, err := cfg.ParseSeeds()
	if err != nil {
		return nil, err
	}
	n.seeds = seeds

	if n.dir == nil {
		if cfg.DBPath != "" {
			store, err := sqlite.Open(cfg.DBPath)
			if err != nil {
				return nil, err
			}
			n.dir = store
		} else {
			n.dir = memory.NewWithClock(n.clock)
		}
	}

	dialer := &lazyDialer{}
	n.registry = conn.NewRegistry(n.dir, dialer, n.log.Named("registry"))

	transportOpts := []quicx.Option{
		quicx.WithLogger(n.log.Named("transport")),
		quicx.WithDialTimeout(time.Duration(cfg.DialTimeoutSeconds) * time.Second),
	}
	if n.snapshots != nil {
		transportOpts = append(transportOpts, quicx.WithSnapshotSource(n.snapshots))
	}
	if n.syncSink != nil {
		transportOpts = append(transportOpts, quicx.WithSnapshotSink(n.syncSink))
	}
	n.transport = quicx.New(kp, n.dir, n.registry, transportOpts...)
	dialer.d = n.transport

	n.loops = bootstrap.NewLoops(
		bootstrap.Config{
			MinAddresses:   cfg.Bootstrap.MinAddresses,
			ChannelsToOpen: cfg.Bootstrap.ChannelsToOpen,
			SyncPeers:      cfg.Bootstrap.SyncPeers,
			ChannelPause:   time.Duration(cfg.Bootstrap.ChannelPauseSeconds) * time.Second,
		},
		kp.NodeKey(),
		n.dir,
		seeds,
		n.transport,
		n.opener,
		n.engine,
		n.clock,
		n.log.Named("bootstrap"),
	)

	n.ctx, n.cancel = context.WithCancel(context.Background())
	return n, nil
}

// NodeKey returns the node's own identity.
func (n *Node) NodeKey() identity.NodeKey {
	return n.kp.NodeKey()
}

// Directory exposes the node's peer directory.
func (n *Node) Directory() directory.Directory {
	return n.dir
}

// Listen binds the transport and, when an advertise host is configured,
// announces the node's own record so peers can gossip it onward.
func (n *Node) Listen() error {
	if err := n.transport.Listen(n.cfg.ListenAddr); err != nil {
		return err
	}
	n.log.Infow("listening", "addr", n.transport.Addr(), "node", n.NodeKey().Short())

	if n.cfg.AdvertiseHost == "" {
		return nil
	}
	_, portStr, err := net.SplitHostPort(n.transport.Addr())
	if err != nil {
		return err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}
	return n.dir.Announce(directory.Record{
		Key:  n.NodeKey(),
		Host: n.cfg.AdvertiseHost,
		Port: uint16(port),
	})
}

// ListenAddr returns the bound transport address, or "" before Listen.
func (n *Node) ListenAddr() string {
	return n.transport.Addr()
}

// IsConnected reports whether a transport connection to key exists.
func (n *Node) IsConnected(key identity.NodeKey) bool {
	return n.registry.IsConnected(key)
}

// Connect requests a connection to key; listener fires exactly once.
func (n *Node) Connect(key identity.NodeKey, listener conn.Listener) {
	n.registry.Connect(key, listener)
}

// StartDiscovery grows the directory to the configured minimum.
func (n *Node) StartDiscovery(report bootstrap.ReportFunc) {
	n.loops.StartDiscovery(n.ctx, report)
}

// StartChannelBuilding opens channels until the configured target holds.
func (n *Node) StartChannelBuilding(report bootstrap.ReportFunc) {
	n.loops.StartChannelBuilding(n.ctx, report)
}

// StartSync pulls a first snapshot from the configured number of peers.
func (n *Node) StartSync(report bootstrap.ReportFunc) {
	n.loops.StartSync(n.ctx, report)
}

// Close cancels the bootstrap loops and releases the transport and the
// directory.
func (n *Node) Close() error {
	n.cancel()
	return multierr.Append(n.transport.Close(), n.dir.Close())
}
