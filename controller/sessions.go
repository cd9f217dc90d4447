package controller

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/loiht2/payload-forge/metrics"
)

// Sessions keeps the open configurator sessions by id
type Sessions struct {
	repo     TemplateRepository
	opts     Options
	newID    func() string
	lock     sync.Mutex
	sessions map[string]*Controller
}

func NewSessions(repo TemplateRepository, opts Options) *Sessions {
	return &Sessions{
		repo:     repo,
		opts:     opts.withDefaults(),
		newID:    uuid.NewString,
		sessions: map[string]*Controller{},
	}
}

// Open starts a session on templateID in the given mode
func (s *Sessions) Open(ctx context.Context, templateID string, mode Mode) (*Controller, error) {
	c := New(s.newID(), s.repo, s.opts)
	if err := c.Load(ctx, templateID, mode); err != nil {
		c.Close()
		return nil, err
	}

	s.lock.Lock()
	s.sessions[c.ID()] = c
	n := len(s.sessions)
	s.lock.Unlock()

	metrics.SetActiveSessions(n)
	log.WithFields(log.Fields{"session_id": c.ID(), "template_id": templateID, "mode": c.Mode()}).Info("Opened configurator session")
	return c, nil
}

// Get returns the session with the given id
func (s *Sessions) Get(id string) (*Controller, bool) {
	s.lock.Lock()
	defer s.lock.Unlock()
	c, ok := s.sessions[id]
	return c, ok
}

// Close closes and forgets a session, reporting whether it existed
func (s *Sessions) Close(id string) bool {
	s.lock.Lock()
	c, ok := s.sessions[id]
	delete(s.sessions, id)
	n := len(s.sessions)
	s.lock.Unlock()

	if !ok {
		return false
	}
	c.Close()
	metrics.SetActiveSessions(n)
	return true
}

// CloseIdle closes every session unused for longer than maxIdle and returns how many were closed
func (s *Sessions) CloseIdle(maxIdle time.Duration) int {
	now := s.opts.Clock.Now()

	s.lock.Lock()
	var idle []*Controller
	for id, c := range s.sessions {
		if now.Sub(c.LastActivity()) > maxIdle {
			idle = append(idle, c)
			delete(s.sessions, id)
		}
	}
	n := len(s.sessions)
	s.lock.Unlock()

	for _, c := range idle {
		c.Close()
		log.WithField("session_id", c.ID()).Info("Closed idle configurator session")
	}
	metrics.SetActiveSessions(n)
	return len(idle)
}

// CloseAll closes every session, flushing pending auto-saves
func (s *Sessions) CloseAll() {
	s.lock.Lock()
	all := s.sessions
	s.sessions = map[string]*Controller{}
	s.lock.Unlock()

	for _, c := range all {
		c.Close()
	}
	metrics.SetActiveSessions(0)
}

// Len returns the number of open sessions
func (s *Sessions) Len() int {
	s.lock.Lock()
	defer s.lock.Unlock()
	return len(s.sessions)
}
