package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/abhinav118/avatar-stream-vibe/internal/logging"
)

var ErrVisitorNotFound = errors.New("visitor not found")

// Opener prepares and drops per-visitor chat logs.
type Opener interface {
	Open(ctx context.Context, visitorID string) error
	Close(ctx context.Context, visitorID string)
}

// Purger removes every stored credential of a visitor.
type Purger interface {
	Purge(ctx context.Context, visitorID string) error
}

// Detacher disconnects a visitor's event subscribers.
type Detacher interface {
	Close(visitorID string)
}

// ManagerDeps are the registry-level collaborators on top of Deps.
type ManagerDeps struct {
	Deps
	Logs    Opener
	Secrets Purger
	Streams Detacher
}

// Manager is the registry of visitor controllers.
type Manager struct {
	deps   ManagerDeps
	opts   Options
	logger zerolog.Logger

	mu          sync.RWMutex
	controllers map[string]*Controller
}

func NewManager(deps ManagerDeps, opts Options) *Manager {
	return &Manager{
		deps:        deps,
		opts:        opts,
		logger:      logging.Component(deps.Logger, "session_manager"),
		controllers: make(map[string]*Controller),
	}
}

// Create registers a new visitor with roleID selected (empty selects the default role).
func (m *Manager) Create(ctx context.Context, roleID string) (*Controller, error) {
	id := uuid.NewString()
	controller := NewController(id, m.deps.Deps, m.opts)
	if err := controller.SelectRole(roleID); err != nil {
		return nil, err
	}

	if m.deps.Logs != nil {
		if err := m.deps.Logs.Open(ctx, id); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	m.controllers[id] = controller
	m.mu.Unlock()

	m.logger.Info().Str("visitor", id).Str("role", controller.Snapshot().Role.ID).Msg("visitor created")
	return controller, nil
}

func (m *Manager) Get(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	controller, ok := m.controllers[id]
	if !ok {
		return nil, ErrVisitorNotFound
	}
	return controller, nil
}

// Len reports the number of registered visitors.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.controllers)
}

// Remove ends the visitor's session and drops everything kept for them.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	controller, ok := m.controllers[id]
	delete(m.controllers, id)
	m.mu.Unlock()
	if !ok {
		return ErrVisitorNotFound
	}

	m.release(ctx, controller)
	m.logger.Info().Str("visitor", id).Msg("visitor removed")
	return nil
}

// Shutdown ends every active session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	controllers := make([]*Controller, 0, len(m.controllers))
	for id, controller := range m.controllers {
		controllers = append(controllers, controller)
		delete(m.controllers, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, controller := range controllers {
		wg.Add(1)
		go func(c *Controller) {
			defer wg.Done()
			m.release(ctx, c)
		}(controller)
	}
	wg.Wait()
}

func (m *Manager) release(ctx context.Context, controller *Controller) {
	controller.Close(ctx)

	id := controller.ID()
	if m.deps.Logs != nil {
		m.deps.Logs.Close(ctx, id)
	}
	if m.deps.Secrets != nil {
		if err := m.deps.Secrets.Purge(ctx, id); err != nil {
			m.logger.Warn().Err(err).Str("visitor", id).Msg("purge credentials")
		}
	}
	if m.deps.Streams != nil {
		m.deps.Streams.Close(id)
	}
}
