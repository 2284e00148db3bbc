// Package application wires sessions together: it owns the session
// directory, binds the configured model to the provider registry, and
// drives each session's agent loop.
package application

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/internal/domain/repository"
	"github.com/skiff-ai/skiff/internal/domain/service"
	"github.com/skiff-ai/skiff/internal/domain/tool"
	"github.com/skiff-ai/skiff/internal/infrastructure/eventbus"
	"github.com/skiff-ai/skiff/internal/infrastructure/llm"
	"github.com/skiff-ai/skiff/internal/infrastructure/monitoring"
	"github.com/skiff-ai/skiff/pkg/errors"
	"github.com/skiff-ai/skiff/pkg/safego"
)

// providerStreamer binds a model and request options to the adapter
// registry, satisfying the agent's Streamer.
type providerStreamer struct {
	registry *llm.Registry
	model    entity.Model
	opts     llm.StreamOptions
}

func (s *providerStreamer) Stream(ctx context.Context, chat entity.Context) (service.AssistantStream, error) {
	adapter, err := s.registry.ForProvider(s.model.Provider)
	if err != nil {
		return nil, err
	}
	return adapter.Stream(ctx, s.model, chat, s.opts)
}

// ManagerConfig holds what the Manager needs beyond its collaborators.
type ManagerConfig struct {
	Model          entity.Model
	StreamOptions  llm.StreamOptions
	Agent          service.AgentConfig
	EventBusBuffer int
}

// Manager is the session directory. Sessions are created lazily on
// first use and live until Stop.
type Manager struct {
	store    repository.SessionStore
	tools    tool.Registry
	streamer service.Streamer
	cfg      ManagerConfig
	monitor  *monitoring.Monitor
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	closed   bool
	wg       sync.WaitGroup
}

type session struct {
	agent *service.Agent
	bus   *eventbus.SessionBus
}

func NewManager(
	store repository.SessionStore,
	tools tool.Registry,
	registry *llm.Registry,
	cfg ManagerConfig,
	monitor *monitoring.Monitor,
	logger *zap.Logger,
) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store: store,
		tools: tools,
		streamer: &providerStreamer{
			registry: registry,
			model:    cfg.Model,
			opts:     cfg.StreamOptions,
		},
		cfg:      cfg,
		monitor:  monitor,
		logger:   logger.With(zap.String("component", "session-manager")),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*session),
	}
}

// Session returns the agent for sid, creating and starting it on first
// use.
func (m *Manager) Session(sid string) (*service.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, errors.Unsupported("session manager is shut down")
	}
	if s, ok := m.sessions[sid]; ok {
		return s.agent, nil
	}

	bus := eventbus.NewSessionBus(m.logger, sid, m.cfg.EventBusBuffer)
	agent := service.NewAgent(sid, m.store, m.streamer, m.tools, bus, m.cfg.Agent, m.logger)
	s := &session{agent: agent, bus: bus}
	m.sessions[sid] = s

	if m.monitor != nil {
		m.monitor.IncSessionStarted()
		m.monitor.SetActiveSessions(int64(len(m.sessions)))
		m.observeMetrics(bus)
	}

	m.wg.Add(1)
	safego.Go(m.logger, "agent-loop:"+sid, func() {
		defer m.wg.Done()
		if err := agent.Start(m.ctx); err != nil && m.ctx.Err() == nil {
			m.logger.Error("Agent loop exited", zap.String("session_id", sid), zap.Error(err))
		}
	})

	m.logger.Info("Session created", zap.String("session_id", sid))
	return agent, nil
}

// Sessions lists the IDs of loaded sessions.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Stop cancels every agent loop and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	sessions := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	for _, s := range sessions {
		s.bus.Close()
	}
	if m.monitor != nil {
		m.monitor.SetActiveSessions(0)
	}
	m.logger.Info("Session manager stopped")
}

// observeMetrics tails one session's event stream into the counters.
func (m *Manager) observeMetrics(bus *eventbus.SessionBus) {
	sub := bus.Subscribe()
	safego.Go(m.logger, "metrics-observer", func() {
		defer sub.Close()
		lastDropped := 0
		for ev := range sub.Events() {
			switch ev.Type {
			case entity.EventTurnEnd:
				m.monitor.IncTurn()
				if ev.Assistant != nil {
					if ev.Assistant.Usage != nil {
						m.monitor.AddTokensUsed(ev.Assistant.Usage.Total)
					}
					if ev.Assistant.StopReason == entity.StopError {
						m.monitor.IncStreamError()
					}
				}
			case entity.EventToolExecutionEnd:
				m.monitor.IncToolCall()
				if ev.IsError {
					m.monitor.IncToolFailed()
				} else {
					m.monitor.IncToolSuccess()
				}
			case entity.EventCommitted:
				if ev.Commit != nil && ev.Commit.Action == entity.CommitCompaction {
					m.monitor.IncCompaction()
				}
			}
			if d := sub.Dropped(); d > lastDropped {
				for ; lastDropped < d; lastDropped++ {
					m.monitor.IncEventDropped()
				}
			}
		}
	})
}
