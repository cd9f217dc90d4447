package repository

import (
	"context"
	"sync"

	"github.com/loiht2/payload-forge/models"
)

// MemoryStore keeps templates in process memory. Records are copied on the way in
// and out so callers never share slices with the store.
type MemoryStore struct {
	templates map[string]models.StoredTemplate
	lock      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{templates: map[string]models.StoredTemplate{}}
}

func (s *MemoryStore) Name() string {
	return "memory"
}

func (s *MemoryStore) List(_ context.Context) ([]models.StoredTemplate, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	result := make([]models.StoredTemplate, 0, len(s.templates))
	for _, template := range s.templates {
		result = append(result, template.Clone())
	}
	return result, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.StoredTemplate, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	template, ok := s.templates[id]
	if !ok {
		return nil, nil
	}
	clone := template.Clone()
	return &clone, nil
}

func (s *MemoryStore) Insert(_ context.Context, template models.StoredTemplate) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.templates[template.ID] = template.Clone()
	return nil
}

func (s *MemoryStore) Update(_ context.Context, template models.StoredTemplate) (*models.StoredTemplate, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	existing, ok := s.templates[template.ID]
	if !ok {
		return nil, nil
	}
	existing.Name = template.Name
	existing.Description = template.Description
	existing.Data = template.Data.Clone()
	existing.UpdatedAt = template.UpdatedAt
	s.templates[template.ID] = existing

	clone := existing.Clone()
	return &clone, nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, ok := s.templates[id]; !ok {
		return false, nil
	}
	delete(s.templates, id)
	return true, nil
}

func (s *MemoryStore) Ping(_ context.Context) error {
	return nil
}
