package orch

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dkeye/Duet/internal/app"
	"github.com/dkeye/Duet/internal/core"
	"github.com/dkeye/Duet/internal/domain"
)

// captureConn records every emitted event, decoded, for assertions.
type captureConn struct {
	mu     sync.Mutex
	events []map[string]any
}

func (c *captureConn) TrySend(f core.Frame) error {
	var m map[string]any
	if err := json.Unmarshal(f, &m); err != nil {
		return err
	}
	c.mu.Lock()
	c.events = append(c.events, m)
	c.mu.Unlock()
	return nil
}

func (c *captureConn) Close() {}

func (c *captureConn) byType(tp string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, e := range c.events {
		if e["type"] == tp {
			out = append(out, e)
		}
	}
	return out
}

func (c *captureConn) count(tp string) int { return len(c.byType(tp)) }

type memDirectory struct {
	mu      sync.Mutex
	users   map[domain.UserID]*domain.Identity
	saveErr error
	listErr error
}

func newMemDirectory() *memDirectory {
	return &memDirectory{users: make(map[domain.UserID]*domain.Identity)}
}

func (d *memDirectory) add(uid domain.UserID) *domain.Identity {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := &domain.Identity{ID: uid, Username: string(uid), Token: "tok-" + string(uid), Status: domain.StatusOffline}
	d.users[uid] = i
	return i
}

func (d *memDirectory) FindByToken(ctx context.Context, token string) (*domain.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, i := range d.users {
		if i.Token == token {
			return i, nil
		}
	}
	return nil, core.ErrNotFound
}

func (d *memDirectory) FindByID(ctx context.Context, id domain.UserID) (*domain.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i, ok := d.users[id]; ok {
		return i, nil
	}
	return nil, core.ErrNotFound
}

func (d *memDirectory) FindFreeOnlineOther(ctx context.Context, exclude domain.UserID) (*domain.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, i := range d.users {
		if i.ID != exclude && i.Status == domain.StatusOnline && i.PairedWith == "" {
			return i, nil
		}
	}
	return nil, core.ErrNotFound
}

func (d *memDirectory) Save(ctx context.Context, identity *domain.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.saveErr != nil {
		return d.saveErr
	}
	d.users[identity.ID] = identity
	return nil
}

func (d *memDirectory) ListOthers(ctx context.Context, exclude domain.UserID) ([]*domain.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listErr != nil {
		return nil, d.listErr
	}
	var out []*domain.Identity
	for _, i := range d.users {
		if i.ID != exclude {
			out = append(out, i)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Username < out[b].Username })
	return out, nil
}

func newEngine(policy app.Policy, grace time.Duration) (*Orchestrator, *memDirectory) {
	dir := newMemDirectory()
	o := New(app.NewRegistry(), dir, app.NewCallTracker(nil), app.NewSupervisor(policy, grace))
	return o, dir
}

func connect(t *testing.T, o *Orchestrator, identity *domain.Identity) (core.ConnID, *captureConn) {
	t.Helper()
	conn := &captureConn{}
	sess := core.NewSession(identity, conn)
	cid := core.ConnID(uuid.NewString())
	_, cancel := context.WithCancel(context.Background())
	require.NoError(t, o.OnConnect(context.Background(), cid, sess, cancel))
	return cid, conn
}

func TestPairingScenario(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	alice := dir.add("alice")
	bob := dir.add("bob")

	_, aliceConn := connect(t, o, alice)
	// Alice is alone, so she waits.
	assert.Equal(t, 0, aliceConn.count("pair-found"))
	require.Equal(t, 1, aliceConn.count("user-list"))

	_, bobConn := connect(t, o, bob)

	found := aliceConn.byType("pair-found")
	require.Len(t, found, 1)
	assert.Equal(t, "bob", found[0]["pairedWith"])
	assert.Equal(t, "bob", found[0]["pairedWithId"])

	found = bobConn.byType("pair-found")
	require.Len(t, found, 1)
	assert.Equal(t, "alice", found[0]["pairedWith"])
	assert.Equal(t, "alice", found[0]["pairedWithId"])

	// Alice hears about bob coming online; bob does not hear about himself.
	conns := aliceConn.byType("user-connected")
	require.Len(t, conns, 1)
	assert.Equal(t, "bob", conns[0]["id"])
	assert.Equal(t, 0, bobConn.count("user-connected"))

	assert.Equal(t, domain.StatusOnline, alice.Status)
	assert.Equal(t, domain.UserID("bob"), alice.PairedWith)
}

func TestThirdJoinerWaits(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	_, _ = connect(t, o, dir.add("alice"))
	_, _ = connect(t, o, dir.add("bob"))
	carolCID, carolConn := connect(t, o, dir.add("carol"))

	assert.Equal(t, 0, carolConn.count("pair-found"))
	_, _, ok := o.Registry.PeerOf(carolCID)
	assert.False(t, ok)
}

func TestStartCallScenario(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	alice := dir.add("alice")
	bob := dir.add("bob")
	aliceCID, aliceConn := connect(t, o, alice)
	_, bobConn := connect(t, o, bob)

	o.StartCall(context.Background(), aliceCID, "c1", "bob", "alice")

	incoming := bobConn.byType("incoming-call")
	require.Len(t, incoming, 1)
	assert.Equal(t, "c1", incoming[0]["callId"])
	assert.Equal(t, "alice", incoming[0]["callerName"])
	assert.Equal(t, "alice", incoming[0]["callerId"])

	initiated := aliceConn.byType("call-initiated")
	require.Len(t, initiated, 1)
	assert.Equal(t, "c1", initiated[0]["callId"])
	assert.Equal(t, "bob", initiated[0]["targetId"])

	call, ok := o.Calls.Get("c1")
	require.True(t, ok)
	assert.Equal(t, domain.CallPending, call.Status)
}

func TestStartCallUnreachableCallee(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	dir.add("bob") // registered but never connected
	aliceCID, aliceConn := connect(t, o, dir.add("alice"))

	o.StartCall(context.Background(), aliceCID, "c1", "bob", "")
	assert.Equal(t, 1, aliceConn.count("call-error"))

	o.StartCall(context.Background(), aliceCID, "c2", "nobody", "")
	assert.Equal(t, 2, aliceConn.count("call-error"))

	_, ok := o.Calls.Get("c1")
	assert.False(t, ok)
}

func TestStartCallDuplicate(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	aliceCID, aliceConn := connect(t, o, dir.add("alice"))
	_, _ = connect(t, o, dir.add("bob"))

	o.StartCall(context.Background(), aliceCID, "c1", "bob", "")
	o.StartCall(context.Background(), aliceCID, "c1", "bob", "")

	assert.Equal(t, 1, aliceConn.count("call-error"))
}

func TestSignalRelayVerbatim(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	aliceCID, _ := connect(t, o, dir.add("alice"))
	_, bobConn := connect(t, o, dir.add("bob"))

	candidate := json.RawMessage(`{"candidate":"candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host","sdpMid":"0"}`)
	o.Signal(context.Background(), aliceCID, nil, candidate)

	signals := bobConn.byType("signal")
	require.Len(t, signals, 1)
	assert.Equal(t, "alice", signals[0]["senderId"])
	assert.Nil(t, signals[0]["signal"])
	cand, ok := signals[0]["candidate"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "candidate:1 1 udp 2130706431 10.0.0.1 54321 typ host", cand["candidate"])
	assert.Equal(t, "0", cand["sdpMid"])
}

func TestSignalActivatesPendingCall(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	aliceCID, _ := connect(t, o, dir.add("alice"))
	_, _ = connect(t, o, dir.add("bob"))

	o.StartCall(context.Background(), aliceCID, "c1", "bob", "")
	o.Signal(context.Background(), aliceCID, json.RawMessage(`{"type":"offer","sdp":"v=0"}`), nil)

	call, ok := o.Calls.Get("c1")
	require.True(t, ok)
	assert.Equal(t, domain.CallActive, call.Status)
	assert.Equal(t, "v=0", call.OfferSDP)
}

func TestSignalWithoutPeer(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	aliceCID, aliceConn := connect(t, o, dir.add("alice"))

	o.Signal(context.Background(), aliceCID, nil, json.RawMessage(`{}`))
	assert.Equal(t, 1, aliceConn.count("call-error"))
}

func TestEndCallUnpaired(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	aliceCID, aliceConn := connect(t, o, dir.add("alice"))

	o.EndCall(context.Background(), aliceCID, "c1")

	assert.Equal(t, 1, aliceConn.count("call-error"))
	assert.Equal(t, 0, aliceConn.count("call-ended"))
}

func TestEndCallIdempotent(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	aliceCID, aliceConn := connect(t, o, dir.add("alice"))
	_, bobConn := connect(t, o, dir.add("bob"))

	o.StartCall(context.Background(), aliceCID, "c1", "bob", "")
	o.EndCall(context.Background(), aliceCID, "c1")
	o.EndCall(context.Background(), aliceCID, "c1")

	ended := bobConn.byType("call-ended")
	require.Len(t, ended, 1)
	assert.Equal(t, "c1", ended[0]["callId"])
	// The initiator never gets an echo.
	assert.Equal(t, 0, aliceConn.count("call-ended"))
	assert.Equal(t, 0, aliceConn.count("call-error"))
}

func TestDisconnectImmediate(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	alice := dir.add("alice")
	aliceCID, _ := connect(t, o, alice)
	bobCID, bobConn := connect(t, o, dir.add("bob"))

	o.StartCall(context.Background(), aliceCID, "c1", "bob", "")
	o.OnDisconnect(context.Background(), aliceCID)

	assert.Equal(t, 1, bobConn.count("pair-disconnected"))
	gone := bobConn.byType("user-disconnected")
	require.Len(t, gone, 1)
	assert.Equal(t, "alice", gone[0]["id"])
	ended := bobConn.byType("call-ended")
	require.Len(t, ended, 1)
	assert.Equal(t, "c1", ended[0]["callId"])

	assert.Equal(t, domain.StatusOffline, alice.Status)
	assert.Empty(t, alice.ConnID)
	_, _, ok := o.Registry.PeerOf(bobCID)
	assert.False(t, ok)

	// A duplicate disconnect is a no-op.
	o.OnDisconnect(context.Background(), aliceCID)
	assert.Equal(t, 1, bobConn.count("pair-disconnected"))
}

func TestGraceReconnectKeepsPairing(t *testing.T) {
	o, dir := newEngine(app.PolicyGrace, 50*time.Millisecond)
	alice := dir.add("alice")
	aliceCID, _ := connect(t, o, alice)
	bobCID, bobConn := connect(t, o, dir.add("bob"))

	o.OnDisconnect(context.Background(), aliceCID)

	// Alice comes back on a fresh connection before the deadline.
	newCID, newConn := connect(t, o, alice)
	require.NotEqual(t, aliceCID, newCID)

	// The returning side re-learns its peer.
	found := newConn.byType("pair-found")
	require.Len(t, found, 1)
	assert.Equal(t, "bob", found[0]["pairedWith"])

	_, peer, ok := o.Registry.PeerOf(bobCID)
	require.True(t, ok)
	assert.Equal(t, newCID, peer)

	// Long after the original deadline, nobody ever observed alice offline.
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, bobConn.count("pair-disconnected"))
	assert.Equal(t, 0, bobConn.count("user-disconnected"))
	assert.Equal(t, domain.StatusOnline, alice.Status)
}

func TestGraceTimeoutReleasesOnce(t *testing.T) {
	o, dir := newEngine(app.PolicyGrace, 30*time.Millisecond)
	alice := dir.add("alice")
	aliceCID, _ := connect(t, o, alice)
	_, bobConn := connect(t, o, dir.add("bob"))

	o.OnDisconnect(context.Background(), aliceCID)
	assert.Equal(t, 0, bobConn.count("pair-disconnected"))

	require.Eventually(t, func() bool {
		return bobConn.count("pair-disconnected") == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, bobConn.count("pair-disconnected"))
	assert.Equal(t, 1, bobConn.count("user-disconnected"))
	assert.Equal(t, domain.StatusOffline, alice.Status)
}

func TestDirectoryOutageSurfacesToClientOnly(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	alice := dir.add("alice")
	dir.listErr = errors.New("directory down")

	cid, conn := connect(t, o, alice)

	// The joiner hears a server error, but the connection stays registered.
	assert.Equal(t, 1, conn.count("call-error"))
	_, ok := o.Registry.Lookup(cid)
	assert.True(t, ok)
}

func TestDuplicateConnectionRejected(t *testing.T) {
	o, dir := newEngine(app.PolicyImmediate, 0)
	alice := dir.add("alice")

	conn := &captureConn{}
	sess := core.NewSession(alice, conn)
	require.NoError(t, o.OnConnect(context.Background(), "c1", sess, nil))
	err := o.OnConnect(context.Background(), "c1", sess, nil)
	assert.ErrorIs(t, err, app.ErrDuplicateConnection)
}
