package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshwire/meshwire/meshwire/conn"
	"github.com/meshwire/meshwire/meshwire/directory"
	"github.com/meshwire/meshwire/meshwire/directory/memory"
	"github.com/meshwire/meshwire/meshwire/identity"
)

func testKey(t *testing.T) identity.NodeKey {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	return kp.NodeKey()
}

func testRecords(t *testing.T, n int) []directory.Record {
	t.Helper()
	recs := make([]directory.Record, 0, n)
	for i := 0; i < n; i++ {
		recs = append(recs, directory.Record{
			Key:  testKey(t),
			Host: fmt.Sprintf("peer-%d.example", i),
			Port: uint16(9000 + i),
		})
	}
	return recs
}

// failingDirectory wraps a directory and fails AllRecords after a number
// of successful calls.
type failingDirectory struct {
	directory.Directory
	mu        sync.Mutex
	remaining int
}

func (f *failingDirectory) AllRecords() ([]directory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.remaining <= 0 {
		return nil, errors.New("directory unavailable")
	}
	f.remaining--
	return f.Directory.AllRecords()
}

// attemptRecorder counts blocking connects per peer.
type attemptRecorder struct {
	mu       sync.Mutex
	attempts map[identity.NodeKey]int
	onDial   func(desc conn.Descriptor) error
}

func newAttemptRecorder(onDial func(desc conn.Descriptor) error) *attemptRecorder {
	return &attemptRecorder{attempts: map[identity.NodeKey]int{}, onDial: onDial}
}

func (r *attemptRecorder) ConnectBlocking(_ context.Context, desc conn.Descriptor) error {
	r.mu.Lock()
	r.attempts[desc.Key]++
	r.mu.Unlock()
	if r.onDial != nil {
		return r.onDial(desc)
	}
	return nil
}

func (r *attemptRecorder) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.attempts {
		n += c
	}
	return n
}

type fakeOpener struct {
	mu    sync.Mutex
	opens []identity.NodeKey
}

func (f *fakeOpener) OpenChannel(key identity.NodeKey, done func(err error)) {
	f.mu.Lock()
	f.opens = append(f.opens, key)
	f.mu.Unlock()
	if done != nil {
		done(nil)
	}
}

func (f *fakeOpener) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opens)
}

type fakeEngine struct {
	mu      sync.Mutex
	resyncs int
}

func (f *fakeEngine) Resync() {
	f.mu.Lock()
	f.resyncs++
	f.mu.Unlock()
}

func (f *fakeEngine) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resyncs
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChannelPause = time.Millisecond
	return cfg
}

func TestDiscoveryExhaustsUnreachableSeeds(t *testing.T) {
	dir := memory.New()
	seeds := testRecords(t, 12)

	dialer := newAttemptRecorder(func(conn.Descriptor) error {
		return errors.New("unreachable")
	})
	loops := NewLoops(testConfig(), testKey(t), dir, seeds, dialer, nil, nil, nil, nil)

	report := loops.runDiscovery(context.Background())
	require.Equal(t, LoopExhausted, report.Result, "empty directory after trying every seed is a failure")

	dialer.mu.Lock()
	defer dialer.mu.Unlock()
	require.Len(t, dialer.attempts, 12, "every seed attempted")
	for key, n := range dialer.attempts {
		require.Equal(t, 1, n, "seed %s attempted exactly once", key.Short())
	}
}

func TestDiscoveryStopsAtMinimum(t *testing.T) {
	dir := memory.New()
	seeds := testRecords(t, 3)
	gossip := testRecords(t, 20)

	// Every successful fetch gossips four new records into the directory.
	var served int
	dialer := newAttemptRecorder(func(conn.Descriptor) error {
		for i := 0; i < 4 && served < len(gossip); i++ {
			require.NoError(t, dir.Announce(gossip[served]))
			served++
		}
		return nil
	})
	loops := NewLoops(testConfig(), testKey(t), dir, seeds, dialer, nil, nil, nil, nil)

	report := loops.runDiscovery(context.Background())
	require.Equal(t, LoopTargetReached, report.Result)

	recs, err := dir.AllRecords()
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(recs), 10)
	require.LessOrEqual(t, dialer.total(), len(seeds)+len(gossip), "loop must not hammer beyond the pool")
}

func TestDiscoveryExcludesSelf(t *testing.T) {
	dir := memory.New()
	self := testKey(t)
	seeds := []directory.Record{{Key: self, Host: "self.example", Port: 9000}}

	dialer := newAttemptRecorder(nil)
	loops := NewLoops(testConfig(), self, dir, seeds, dialer, nil, nil, nil, nil)

	report := loops.runDiscovery(context.Background())
	require.Equal(t, LoopExhausted, report.Result)
	require.Zero(t, dialer.total(), "the node must never fetch from itself")
}

func TestDiscoveryDirectoryFaultIsFatal(t *testing.T) {
	dir := &failingDirectory{Directory: memory.New(), remaining: 1}
	seeds := testRecords(t, 2)

	loops := NewLoops(testConfig(), testKey(t), dir, seeds, newAttemptRecorder(nil), nil, nil, nil, nil)
	report := loops.runDiscovery(context.Background())
	require.Equal(t, LoopFatalFault, report.Result)
	require.Error(t, report.Err)
}

func TestDiscoveryCancellation(t *testing.T) {
	dir := memory.New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	loops := NewLoops(testConfig(), testKey(t), dir, testRecords(t, 5), newAttemptRecorder(nil), nil, nil, nil, nil)
	report := loops.runDiscovery(ctx)
	require.Equal(t, LoopCanceled, report.Result)
	require.ErrorIs(t, report.Err, context.Canceled)
}

func TestChannelBuildAlreadyAtTarget(t *testing.T) {
	dir := memory.New()
	for _, rec := range testRecords(t, 5) {
		require.NoError(t, dir.Announce(rec))
		require.NoError(t, dir.SetChannelOpen(rec.Key, true))
	}

	opener := &fakeOpener{}
	loops := NewLoops(testConfig(), testKey(t), dir, nil, nil, opener, nil, nil, nil)

	report := loops.runChannelBuild(context.Background())
	require.Equal(t, LoopTargetReached, report.Result)
	require.Zero(t, opener.count(), "no channel opens when the target is already met")
}

func TestChannelBuildExhaustsCandidates(t *testing.T) {
	dir := memory.New()
	peers := testRecords(t, 3)
	for _, rec := range peers {
		require.NoError(t, dir.Announce(rec))
	}

	opener := &fakeOpener{}
	loops := NewLoops(testConfig(), testKey(t), dir, nil, nil, opener, nil, nil, nil)

	report := loops.runChannelBuild(context.Background())
	require.Equal(t, LoopExhausted, report.Result)
	require.Equal(t, len(peers), opener.count(), "every candidate tried exactly once")
}

func TestChannelBuildReachesTarget(t *testing.T) {
	dir := memory.New()
	peers := testRecords(t, 8)
	for _, rec := range peers {
		require.NoError(t, dir.Announce(rec))
	}

	// Negotiations "land" immediately: opening marks the channel in the
	// directory, which the loop observes on its next iteration.
	opener := &fakeOpener{}
	marking := &markingOpener{inner: opener, dir: dir}
	loops := NewLoops(testConfig(), testKey(t), dir, nil, nil, marking, nil, nil, nil)

	report := loops.runChannelBuild(context.Background())
	require.Equal(t, LoopTargetReached, report.Result)
	require.Equal(t, 5, opener.count())
}

type markingOpener struct {
	inner *fakeOpener
	dir   directory.Directory
}

func (m *markingOpener) OpenChannel(key identity.NodeKey, done func(err error)) {
	m.inner.OpenChannel(key, done)
	_ = m.dir.SetChannelOpen(key, true)
}

func TestLoopsRunWithoutCollaborators(t *testing.T) {
	dir := memory.New()
	for _, rec := range testRecords(t, 4) {
		require.NoError(t, dir.Announce(rec))
	}

	// No opener, no engine: both loops must still run to a clean terminal
	// report instead of crashing.
	loops := NewLoops(testConfig(), testKey(t), dir, nil, newAttemptRecorder(nil), nil, nil, nil, nil)

	report := loops.runChannelBuild(context.Background())
	require.Equal(t, LoopExhausted, report.Result, "opens fail, so no channel ever lands")

	report = loops.runSync(context.Background())
	require.Equal(t, LoopTargetReached, report.Result)
}

func TestSyncBootstrapTooFewCandidates(t *testing.T) {
	dir := memory.New()
	seeds := testRecords(t, 2)

	engine := &fakeEngine{}
	dialer := newAttemptRecorder(nil)
	loops := NewLoops(testConfig(), testKey(t), dir, seeds, dialer, nil, engine, nil, nil)

	report := loops.runSync(context.Background())
	require.Equal(t, LoopNoSyncPossible, report.Result, "fewer candidates than the quota is not success")
	require.Equal(t, 2, dialer.total())
	require.Equal(t, 2, engine.count(), "resync issued once per attempted candidate")
}

func TestSyncBootstrapReachesTarget(t *testing.T) {
	dir := memory.New()
	for _, rec := range testRecords(t, 6) {
		require.NoError(t, dir.Announce(rec))
	}

	engine := &fakeEngine{}
	dialer := newAttemptRecorder(nil)
	loops := NewLoops(testConfig(), testKey(t), dir, nil, dialer, nil, engine, nil, nil)

	report := loops.runSync(context.Background())
	require.Equal(t, LoopTargetReached, report.Result)
	require.Equal(t, 3, dialer.total())
	require.Equal(t, 3, engine.count())
}

func TestSyncBootstrapCountsFailedPulls(t *testing.T) {
	dir := memory.New()
	for _, rec := range testRecords(t, 4) {
		require.NoError(t, dir.Announce(rec))
	}

	engine := &fakeEngine{}
	dialer := newAttemptRecorder(func(conn.Descriptor) error {
		return errors.New("pull failed")
	})
	loops := NewLoops(testConfig(), testKey(t), dir, nil, dialer, nil, engine, nil, nil)

	report := loops.runSync(context.Background())
	require.Equal(t, LoopTargetReached, report.Result, "failed pulls still count as attempts")
	require.Equal(t, 3, dialer.total())
}

func TestStartDiscoveryReportsOnce(t *testing.T) {
	dir := memory.New()
	loops := NewLoops(testConfig(), testKey(t), dir, nil, newAttemptRecorder(nil), nil, nil, nil, nil)

	reports := make(chan Report, 2)
	loops.StartDiscovery(context.Background(), func(r Report) { reports <- r })

	select {
	case r := <-reports:
		require.Equal(t, LoopExhausted, r.Result)
	case <-time.After(5 * time.Second):
		t.Fatalf("discovery did not report")
	}
	select {
	case r := <-reports:
		t.Fatalf("unexpected second report: %+v", r)
	case <-time.After(50 * time.Millisecond):
	}
}
