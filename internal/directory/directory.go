package directory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/example/blood-connect/internal/models"
)

var ErrNotFound = errors.New("donor not found")

// DonorStore is the source of truth for donor profiles. The spatial index is
// derived from it and updated alongside every write.
type DonorStore interface {
	Upsert(ctx context.Context, d *models.Donor) error
	Get(ctx context.Context, id string) (*models.Donor, error)
	SetAvailability(ctx context.Context, id string, available bool) error
	SetLocation(ctx context.Context, id string, loc models.GeoTarget) error
}

type MemoryStore struct {
	mu     sync.RWMutex
	donors map[string]*models.Donor
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{donors: make(map[string]*models.Donor)}
}

func (m *MemoryStore) Upsert(ctx context.Context, d *models.Donor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *d
	cp.Updated = time.Now()
	m.donors[d.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Donor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.donors[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *MemoryStore) SetAvailability(ctx context.Context, id string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.donors[id]
	if !ok {
		return ErrNotFound
	}
	d.Available = available
	d.Updated = time.Now()
	return nil
}

func (m *MemoryStore) SetLocation(ctx context.Context, id string, loc models.GeoTarget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.donors[id]
	if !ok {
		return ErrNotFound
	}
	d.Location = &loc
	d.Updated = time.Now()
	return nil
}
