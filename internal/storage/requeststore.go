package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/example/blood-connect/internal/models"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// RequestStore defines persistence operations for emergency requests.
type RequestStore interface {
	SaveRequest(ctx context.Context, r *models.Request) error
	GetRequest(ctx context.Context, id string) (*models.Request, error)
	// ListActive returns requests with status=active, newest first.
	ListActive(ctx context.Context) ([]models.Request, error)
	// UpdateStatus applies an Active -> Fulfilled|Closed transition. Terminal
	// states reject further changes with ErrInvalidTransition.
	UpdateStatus(ctx context.Context, id string, to models.RequestStatus) error
}

// validTransition enforces the request lifecycle: active is the only
// non-terminal state.
func validTransition(from, to models.RequestStatus) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if to != models.StatusFulfilled && to != models.StatusClosed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

type MemoryRequestStore struct {
	mu       sync.RWMutex
	requests map[string]*models.Request
}

func NewMemoryRequestStore() *MemoryRequestStore {
	return &MemoryRequestStore{requests: make(map[string]*models.Request)}
}

func (m *MemoryRequestStore) SaveRequest(ctx context.Context, r *models.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *r
	m.requests[r.ID] = &cp
	return nil
}

func (m *MemoryRequestStore) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryRequestStore) ListActive(ctx context.Context) ([]models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Request, 0)
	for _, r := range m.requests {
		if r.Status == models.StatusActive {
			out = append(out, *r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryRequestStore) UpdateStatus(ctx context.Context, id string, to models.RequestStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return ErrNotFound
	}
	if err := validTransition(r.Status, to); err != nil {
		return err
	}
	r.Status = to
	return nil
}
