package streaming

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	apperrors "github.com/agentdeck/agentdeck/internal/common/errors"
	"github.com/agentdeck/agentdeck/internal/common/logger"
	"github.com/agentdeck/agentdeck/internal/runner"
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error", "console", "stdout")
	require.NoError(t, err)
	return log
}

type emission struct {
	target string // "room", "all" or "client"
	room   string
	event  string
	data   any
}

// fakeGateway records room membership and emissions. onEmit, when set, runs
// inside every emit call so tests can observe state at emission time.
type fakeGateway struct {
	mu        sync.Mutex
	emissions []emission
	joins     map[string][]string // clientID -> rooms joined
	leaves    map[string][]string
	cleaned   []string
	onEmit    func(e emission)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		joins:  make(map[string][]string),
		leaves: make(map[string][]string),
	}
}

func (g *fakeGateway) record(e emission) {
	g.mu.Lock()
	g.emissions = append(g.emissions, e)
	hook := g.onEmit
	g.mu.Unlock()
	if hook != nil {
		hook(e)
	}
}

func (g *fakeGateway) EmitToClient(clientID, event string, data any) error {
	g.record(emission{target: "client", room: clientID, event: event, data: data})
	return nil
}

func (g *fakeGateway) EmitToAll(event string, data any) error {
	g.record(emission{target: "all", event: event, data: data})
	return nil
}

func (g *fakeGateway) EmitToRoom(room, event string, data any) error {
	g.record(emission{target: "room", room: room, event: event, data: data})
	return nil
}

func (g *fakeGateway) JoinRoom(clientID, room string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.joins[clientID] = append(g.joins[clientID], room)
	return nil
}

func (g *fakeGateway) LeaveRoom(clientID, room string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leaves[clientID] = append(g.leaves[clientID], room)
	return nil
}

func (g *fakeGateway) CleanupAgentRooms(agentID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cleaned = append(g.cleaned, agentID)
}

func (g *fakeGateway) ConnectedClients() []string { return nil }

func (g *fakeGateway) IsClientConnected(string) bool { return true }

func (g *fakeGateway) roomEvents(room string) []emission {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []emission
	for _, e := range g.emissions {
		if e.target == "room" && e.room == room {
			out = append(out, e)
		}
	}
	return out
}

func (g *fakeGateway) broadcasts(event string) []emission {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []emission
	for _, e := range g.emissions {
		if e.target == "all" && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeRunner tracks observers through the shared notifier and stubs the
// lifecycle calls.
type fakeRunner struct {
	*runner.Notifier
	startErr error
	stopErr  error
	stops    []string
	mu       sync.Mutex
}

func newFakeRunner(t *testing.T) *fakeRunner {
	return &fakeRunner{Notifier: runner.NewNotifier(newTestLogger(t))}
}

func (f *fakeRunner) Start(context.Context, string, domain.Session) error { return f.startErr }

func (f *fakeRunner) Stop(_ context.Context, agentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops = append(f.stops, agentID)
	return f.stopErr
}

func (f *fakeRunner) Status(string) (domain.AgentStatus, error) {
	return domain.StatusRunning, nil
}

func newTestRegistry(t *testing.T, rn runner.Runner) (*Registry, *fakeGateway) {
	t.Helper()
	log := newTestLogger(t)
	gw := newFakeGateway()
	b := NewBroadcaster(newTestStore(t), gw, log)
	resolve := func(string) runner.Runner { return rn }
	return NewRegistry(resolve, b, gw, log), gw
}

func (r *Registry) snapshotCounts() (agents, clients int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byAgent), len(r.byClient)
}

func TestRegistryFirstSubscriberAttachesSingletonObserver(t *testing.T) {
	rn := newFakeRunner(t)
	reg, gw := newTestRegistry(t, rn)

	require.NoError(t, reg.Subscribe("agent-1", "client-a"))
	require.NoError(t, reg.Subscribe("agent-1", "client-b"))

	assert.Equal(t, 1, rn.ObserverCount("agent-1"), "one observer per agent-runner pair")
	assert.Equal(t, []string{"agent:agent-1"}, gw.joins["client-a"])
	assert.Equal(t, []string{"agent:agent-1"}, gw.joins["client-b"])
}

func TestRegistryResubscribeIsNoOp(t *testing.T) {
	rn := newFakeRunner(t)
	reg, gw := newTestRegistry(t, rn)

	require.NoError(t, reg.Subscribe("agent-1", "client-a"))
	require.NoError(t, reg.Subscribe("agent-1", "client-a"))

	assert.Equal(t, 1, rn.ObserverCount("agent-1"))
	assert.Len(t, gw.joins["client-a"], 1)
}

func TestRegistryUnknownAgent(t *testing.T) {
	log := newTestLogger(t)
	gw := newFakeGateway()
	b := NewBroadcaster(newTestStore(t), gw, log)
	reg := NewRegistry(func(string) runner.Runner { return nil }, b, gw, log)

	err := reg.Subscribe("ghost", "client-a")
	assert.True(t, apperrors.IsAgentNotFound(err))
}

func TestRegistryLastSubscriberOutDetachesObserver(t *testing.T) {
	rn := newFakeRunner(t)
	reg, gw := newTestRegistry(t, rn)

	require.NoError(t, reg.Subscribe("agent-1", "client-a"))
	require.NoError(t, reg.Subscribe("agent-1", "client-b"))

	reg.UnsubscribeFromAgent("agent-1", "client-a")
	assert.Equal(t, 1, rn.ObserverCount("agent-1"), "observer stays while a subscriber remains")

	reg.UnsubscribeFromAgent("agent-1", "client-b")
	assert.Equal(t, 0, rn.ObserverCount("agent-1"))
	assert.Equal(t, []string{"agent:agent-1"}, gw.leaves["client-b"])

	agents, clients := reg.snapshotCounts()
	assert.Zero(t, agents)
	assert.Zero(t, clients)
}

func TestRegistryUnsubscribeIsIdempotent(t *testing.T) {
	rn := newFakeRunner(t)
	reg, _ := newTestRegistry(t, rn)

	require.NoError(t, reg.Subscribe("agent-1", "client-a"))
	reg.UnsubscribeFromAgent("agent-1", "client-a")
	reg.UnsubscribeFromAgent("agent-1", "client-a")
	reg.UnsubscribeFromAgent("ghost", "client-a")

	assert.Equal(t, 0, rn.ObserverCount("agent-1"))
}

func TestRegistryUnsubscribeClientDetachesEverywhere(t *testing.T) {
	rn := newFakeRunner(t)
	reg, gw := newTestRegistry(t, rn)

	require.NoError(t, reg.Subscribe("agent-1", "client-a"))
	require.NoError(t, reg.Subscribe("agent-2", "client-a"))
	require.NoError(t, reg.Subscribe("agent-1", "client-b"))

	reg.UnsubscribeClient("client-a")

	assert.ElementsMatch(t, []string{"agent:agent-1", "agent:agent-2"}, gw.leaves["client-a"])
	assert.Equal(t, 0, rn.ObserverCount("agent-2"), "agent-2 lost its only subscriber")
	assert.Equal(t, 1, rn.ObserverCount("agent-1"), "client-b still watches agent-1")
}

func TestRegistryUnsubscribeAllForAgent(t *testing.T) {
	rn := newFakeRunner(t)
	reg, gw := newTestRegistry(t, rn)

	require.NoError(t, reg.Subscribe("agent-1", "client-a"))
	require.NoError(t, reg.Subscribe("agent-1", "client-b"))
	require.NoError(t, reg.Subscribe("agent-2", "client-a"))

	reg.UnsubscribeAllForAgent("agent-1")

	assert.Equal(t, 0, rn.ObserverCount("agent-1"))
	assert.Equal(t, 1, rn.ObserverCount("agent-2"))
	assert.Contains(t, gw.leaves["client-a"], "agent:agent-1")
	assert.Contains(t, gw.leaves["client-b"], "agent:agent-1")
	assert.NotContains(t, gw.leaves["client-a"], "agent:agent-2")

	reg.UnsubscribeAllForAgent("ghost") // no-op
}

func TestRegistrySystemClientNeverJoinsRooms(t *testing.T) {
	rn := newFakeRunner(t)
	reg, gw := newTestRegistry(t, rn)

	require.NoError(t, reg.Subscribe("agent-1", SystemClientID))
	assert.Equal(t, 1, rn.ObserverCount("agent-1"))
	assert.Empty(t, gw.joins[SystemClientID])

	reg.UnsubscribeAllForAgent("agent-1")
	assert.Empty(t, gw.leaves[SystemClientID])
	assert.Equal(t, 0, rn.ObserverCount("agent-1"))
}

func TestRegistrySymmetry(t *testing.T) {
	rn := newFakeRunner(t)
	reg, _ := newTestRegistry(t, rn)

	require.NoError(t, reg.Subscribe("agent-1", "client-a"))
	require.NoError(t, reg.Subscribe("agent-1", "client-b"))
	require.NoError(t, reg.Subscribe("agent-2", "client-b"))

	assertSymmetric := func() {
		t.Helper()
		reg.mu.Lock()
		defer reg.mu.Unlock()
		forward := 0
		for _, e := range reg.byAgent {
			forward += len(e.clients)
		}
		backward := 0
		for _, set := range reg.byClient {
			backward += len(set)
		}
		assert.Equal(t, forward, backward)
		for agentID, e := range reg.byAgent {
			for clientID := range e.clients {
				assert.True(t, reg.byClient[clientID][agentID])
			}
		}
	}

	assertSymmetric()
	reg.UnsubscribeFromAgent("agent-1", "client-b")
	assertSymmetric()
	reg.UnsubscribeClient("client-a")
	assertSymmetric()
	reg.UnsubscribeAllForAgent("agent-2")
	assertSymmetric()
}
