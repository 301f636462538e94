package runner

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/agentdeck/agentdeck/internal/agent/domain"
	"github.com/agentdeck/agentdeck/internal/common/logger"
)

// Notifier implements the Subscribe/Unsubscribe half of Runner and fans
// events out to the observers of one agent. Embedded by every runner
// variant. A panicking or failing observer is logged and never aborts
// delivery to its siblings.
type Notifier struct {
	mu        sync.RWMutex
	observers map[string][]Observer
	logger    *logger.Logger
}

// NewNotifier creates an empty notifier.
func NewNotifier(log *logger.Logger) *Notifier {
	return &Notifier{
		observers: make(map[string][]Observer),
		logger:    log,
	}
}

// Subscribe attaches an observer to an agent's event stream.
func (n *Notifier) Subscribe(agentID string, obs Observer) {
	if obs == nil {
		return
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.observers[agentID] = append(n.observers[agentID], obs)
}

// Unsubscribe detaches an observer. Unknown observers are ignored.
func (n *Notifier) Unsubscribe(agentID string, obs Observer) {
	n.mu.Lock()
	defer n.mu.Unlock()

	observers := n.observers[agentID]
	for i, existing := range observers {
		if existing == obs {
			n.observers[agentID] = append(observers[:i], observers[i+1:]...)
			break
		}
	}
	if len(n.observers[agentID]) == 0 {
		delete(n.observers, agentID)
	}
}

// ObserverCount reports how many observers an agent currently has.
func (n *Notifier) ObserverCount(agentID string) int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.observers[agentID])
}

// NotifyMessage delivers one output to every observer of the agent.
func (n *Notifier) NotifyMessage(ctx context.Context, agentID string, output Output) {
	for _, obs := range n.snapshot(agentID) {
		n.deliver(agentID, "message", func() error {
			return obs.OnMessage(ctx, output)
		})
	}
}

// NotifyStatus delivers a status change to every observer of the agent.
func (n *Notifier) NotifyStatus(ctx context.Context, agentID string, status domain.AgentStatus) {
	for _, obs := range n.snapshot(agentID) {
		n.deliver(agentID, "status", func() error {
			return obs.OnStatusChange(ctx, status)
		})
	}
}

// NotifyError delivers a backend error to every observer of the agent.
func (n *Notifier) NotifyError(ctx context.Context, agentID string, event ErrorEvent) {
	for _, obs := range n.snapshot(agentID) {
		n.deliver(agentID, "error", func() error {
			return obs.OnError(ctx, event)
		})
	}
}

// NotifyComplete delivers the final result to every observer of the agent.
func (n *Notifier) NotifyComplete(ctx context.Context, agentID string, result Result) {
	for _, obs := range n.snapshot(agentID) {
		n.deliver(agentID, "complete", func() error {
			return obs.OnComplete(ctx, result)
		})
	}
}

func (n *Notifier) snapshot(agentID string) []Observer {
	n.mu.RLock()
	defer n.mu.RUnlock()
	observers := n.observers[agentID]
	out := make([]Observer, len(observers))
	copy(out, observers)
	return out
}

func (n *Notifier) deliver(agentID, kind string, notify func() error) {
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("observer panicked",
				zap.String("agent_id", agentID),
				zap.String("event", kind),
				zap.Any("panic", r))
		}
	}()

	if err := notify(); err != nil {
		n.logger.Warn("observer callback failed",
			zap.String("agent_id", agentID),
			zap.String("event", kind),
			zap.Error(err))
	}
}
