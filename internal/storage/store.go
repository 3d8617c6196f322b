package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/example/hitchr-matching/internal/models"
)

var ErrNotFound = errors.New("not found")

// ListingStore persists listings and driver profiles.
type ListingStore interface {
	SaveRequest(ctx context.Context, r *models.DeliveryRequest) error
	SaveAvailability(ctx context.Context, a *models.DriverAvailability) error
	SaveProfile(ctx context.Context, p *models.DriverProfile) error

	GetRequest(ctx context.Context, id string) (*models.DeliveryRequest, error)
	GetAvailability(ctx context.Context, id string) (*models.DriverAvailability, error)
	GetProfile(ctx context.Context, id string) (*models.DriverProfile, error)

	ListRequests(ctx context.Context) ([]*models.DeliveryRequest, error)
	ListAvailabilities(ctx context.Context) ([]*models.DriverAvailability, error)
	ListProfiles(ctx context.Context) ([]*models.DriverProfile, error)

	DeleteListing(ctx context.Context, id string) error
}

type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]*models.DeliveryRequest
	avails   map[string]*models.DriverAvailability
	profiles map[string]*models.DriverProfile
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]*models.DeliveryRequest),
		avails:   make(map[string]*models.DriverAvailability),
		profiles: make(map[string]*models.DriverProfile),
	}
}

func (m *MemoryStore) SaveRequest(_ context.Context, r *models.DeliveryRequest) error {
	cp := *r
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryStore) SaveAvailability(_ context.Context, a *models.DriverAvailability) error {
	cp := *a
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avails[a.ID] = &cp
	return nil
}

func (m *MemoryStore) SaveProfile(_ context.Context, p *models.DriverProfile) error {
	cp := *p
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetRequest(_ context.Context, id string) (*models.DeliveryRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) GetAvailability(_ context.Context, id string) (*models.DriverAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.avails[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetProfile(_ context.Context, id string) (*models.DriverProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *MemoryStore) ListRequests(_ context.Context) ([]*models.DeliveryRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.DeliveryRequest, 0, len(m.requests))
	for _, r := range m.requests {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListAvailabilities(_ context.Context) ([]*models.DriverAvailability, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.DriverAvailability, 0, len(m.avails))
	for _, a := range m.avails {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) ListProfiles(_ context.Context) ([]*models.DriverProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.DriverProfile, 0, len(m.profiles))
	for _, p := range m.profiles {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) DeleteListing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; ok {
		delete(m.requests, id)
		return nil
	}
	if _, ok := m.avails[id]; ok {
		delete(m.avails, id)
		return nil
	}
	return ErrNotFound
}
