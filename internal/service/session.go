package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PipelineFactory builds a fresh pipeline for a new session.
type PipelineFactory func() *Pipeline

type session struct {
	pipeline *Pipeline
	lastSeen time.Time
}

// Sessions keeps one pipeline per authenticated session and drops idle ones.
type Sessions struct {
	factory PipelineFactory
	ttl     time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu    sync.Mutex
	items map[string]*session
}

func NewSessions(factory PipelineFactory, ttl time.Duration, log *zap.Logger) *Sessions {
	return &Sessions{
		factory: factory,
		ttl:     ttl,
		now:     time.Now,
		log:     log,
		items:   make(map[string]*session),
	}
}

func (s *Sessions) TTL() time.Duration {
	return s.ttl
}

func (s *Sessions) Create() (string, *Pipeline) {
	id := uuid.New().String()
	p := s.factory()

	s.mu.Lock()
	s.items[id] = &session{pipeline: p, lastSeen: s.now()}
	s.mu.Unlock()

	s.log.Info("Session created", zap.String("session_id", id))
	return id, p
}

func (s *Sessions) Get(id string) (*Pipeline, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.items[id]
	if !ok {
		return nil, false
	}
	sess.lastSeen = s.now()
	return sess.pipeline, true
}

// Remove resets the session's pipeline and forgets the session.
func (s *Sessions) Remove(id string) {
	s.mu.Lock()
	sess, ok := s.items[id]
	delete(s.items, id)
	s.mu.Unlock()

	if !ok {
		return
	}
	if err := sess.pipeline.Reset(); err != nil {
		s.log.Warn("Session removed with operation in flight", zap.String("session_id", id), zap.Error(err))
	}
	s.log.Info("Session removed", zap.String("session_id", id))
}

func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Sweep evicts sessions idle for longer than the TTL. Sessions with a decode
// or an upload in flight are kept until the next sweep.
func (s *Sessions) Sweep() int {
	cutoff := s.now().Add(-s.ttl)

	s.mu.Lock()
	var expired []*Pipeline
	for id, sess := range s.items {
		if sess.lastSeen.After(cutoff) || sess.pipeline.Busy() {
			continue
		}
		delete(s.items, id)
		expired = append(expired, sess.pipeline)
	}
	s.mu.Unlock()

	for _, p := range expired {
		_ = p.Reset()
	}
	if len(expired) > 0 {
		s.log.Info("Idle sessions evicted", zap.Int("count", len(expired)))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (s *Sessions) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}
