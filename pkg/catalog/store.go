package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists endpoints. Lookups that find nothing return nil, nil.
type Store interface {
	Upsert(ctx context.Context, input RegisterInput, process string) (*Endpoint, error)
	Delete(ctx context.Context, key Key) (*Endpoint, error)
	List(ctx context.Context, input ListInput) ([]Endpoint, error)
	SetStatus(ctx context.Context, id, status string, healthy bool) (*Endpoint, error)
	Ping(ctx context.Context) error
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu        sync.Mutex
	endpoints map[Key]*Endpoint
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{endpoints: make(map[Key]*Endpoint)}
}

func (s *MemoryStore) Upsert(_ context.Context, input RegisterInput, process string) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	e, ok := s.endpoints[input.Key]
	if !ok {
		e = &Endpoint{ID: uuid.NewString(), Key: input.Key, RegisteredAt: now}
		s.endpoints[input.Key] = e
	}
	e.Version = input.Version
	e.Process = process
	e.Status = StatusActive
	e.Healthy = true
	e.MailboxSize = input.MailboxSize
	e.Commands = append([]string(nil), input.Commands...)
	e.Events = append([]string(nil), input.Events...)
	e.Revision++
	e.UpdatedAt = now

	out := *e
	return &out, nil
}

func (s *MemoryStore) Delete(_ context.Context, key Key) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.endpoints[key]
	if !ok {
		return nil, nil
	}
	delete(s.endpoints, key)
	return e, nil
}

func (s *MemoryStore) List(_ context.Context, input ListInput) ([]Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := input.Status
	if status == "all" {
		status = ""
	}
	var out []Endpoint
	for _, e := range s.endpoints {
		if (input.Component != "" && e.Component != input.Component) ||
			(input.Interface != "" && e.Interface != input.Interface) ||
			(input.Transport != "" && e.Transport != input.Transport) ||
			(input.Process != "" && e.Process != input.Process) ||
			(status != "" && e.Status != status) {
			continue
		}
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return lessKey(out[i].Key, out[j].Key) })
	return out, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id, status string, healthy bool) (*Endpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, e := range s.endpoints {
		if e.ID != id {
			continue
		}
		e.Status = status
		e.Healthy = healthy
		e.Revision++
		e.UpdatedAt = time.Now().UTC()
		out := *e
		return &out, nil
	}
	return nil, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func lessKey(a, b Key) bool {
	if a.Component != b.Component {
		return a.Component < b.Component
	}
	if a.Interface != b.Interface {
		return a.Interface < b.Interface
	}
	if a.Transport != b.Transport {
		return a.Transport < b.Transport
	}
	return a.Address < b.Address
}
