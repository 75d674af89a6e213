package store

import (
	"sort"
	"sync"
	"time"

	"github.com/vmdemo/vm-provisioner/pkg/models"
)

// MemoryStore is an in-memory implementation of the VM catalog, used for
// tests and throwaway deployments.
type MemoryStore struct {
	mu     sync.RWMutex
	vms    map[int64]*models.VM
	nextID int64
}

// NewMemoryStore creates a new in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		vms:    make(map[int64]*models.VM),
		nextID: 1,
	}
}

// CreateVM inserts a new catalog row and assigns its id and timestamps
func (s *MemoryStore) CreateVM(vm *models.VM) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	vm.ID = s.nextID
	s.nextID++
	vm.CreatedAt = now
	vm.UpdatedAt = now

	cp := *vm
	s.vms[vm.ID] = &cp
	return nil
}

// GetVM retrieves a catalog row by id
func (s *MemoryStore) GetVM(id int64) (*models.VM, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vm, ok := s.vms[id]
	if !ok {
		return nil, ErrVMNotFound
	}
	cp := *vm
	return &cp, nil
}

// ListVMs returns one page of rows ordered by id ascending plus the total count
func (s *MemoryStore) ListVMs(skip, take int) ([]*models.VM, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]int64, 0, len(s.vms))
	for id := range s.vms {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	total := len(ids)
	if skip < 0 {
		skip = 0
	}
	if take < 1 || skip >= total {
		return []*models.VM{}, total, nil
	}

	end := skip + take
	if end > total {
		end = total
	}

	vms := make([]*models.VM, 0, end-skip)
	for _, id := range ids[skip:end] {
		cp := *s.vms[id]
		vms = append(vms, &cp)
	}
	return vms, total, nil
}

// UpdateVM overwrites the mutable columns of an existing row
func (s *MemoryStore) UpdateVM(vm *models.VM) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.vms[vm.ID]
	if !ok {
		return ErrVMNotFound
	}

	vm.CreatedAt = existing.CreatedAt
	vm.UpdatedAt = time.Now().UTC()
	cp := *vm
	s.vms[vm.ID] = &cp
	return nil
}

// DeleteVM removes a catalog row by id
func (s *MemoryStore) DeleteVM(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.vms[id]; !ok {
		return ErrVMNotFound
	}
	delete(s.vms, id)
	return nil
}

// Close is a no-op for the memory store
func (s *MemoryStore) Close() error {
	return nil
}

// HealthCheck always succeeds for the memory store
func (s *MemoryStore) HealthCheck() error {
	return nil
}
