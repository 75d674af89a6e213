package store

import (
	"fmt"
	"testing"

	"github.com/vmdemo/vm-provisioner/pkg/models"
)

func TestMemoryCRUD(t *testing.T) {
	store := NewMemoryStore()

	vm := &models.VM{
		InstanceID:    "i-mem-1",
		InstanceType:  "t3.micro",
		VMName:        "demo",
		OwnerUsername: "alice",
		Region:        "us-east-1",
	}
	if err := store.CreateVM(vm); err != nil {
		t.Fatalf("CreateVM failed: %v", err)
	}
	if vm.ID != 1 {
		t.Errorf("first vm should get id 1, got %d", vm.ID)
	}

	got, err := store.GetVM(1)
	if err != nil {
		t.Fatalf("GetVM failed: %v", err)
	}
	if got.InstanceID != "i-mem-1" {
		t.Errorf("unexpected vm: %+v", got)
	}

	// Returned rows are copies; mutating them must not affect the store
	got.VMName = "mutated"
	again, _ := store.GetVM(1)
	if again.VMName != "demo" {
		t.Error("GetVM should return a copy")
	}

	got.VMName = "renamed"
	if err := store.UpdateVM(got); err != nil {
		t.Fatalf("UpdateVM failed: %v", err)
	}
	updated, _ := store.GetVM(1)
	if updated.VMName != "renamed" {
		t.Errorf("update not applied: %+v", updated)
	}
	if !updated.CreatedAt.Equal(vm.CreatedAt) {
		t.Error("UpdateVM must not change created_at")
	}

	if err := store.DeleteVM(1); err != nil {
		t.Fatalf("DeleteVM failed: %v", err)
	}
	if _, err := store.GetVM(1); err != ErrVMNotFound {
		t.Errorf("expected ErrVMNotFound, got %v", err)
	}
	if err := store.DeleteVM(1); err != ErrVMNotFound {
		t.Errorf("double delete: expected ErrVMNotFound, got %v", err)
	}
}

func TestMemoryPagination(t *testing.T) {
	store := NewMemoryStore()

	for i := 0; i < 7; i++ {
		vm := &models.VM{
			InstanceID:    fmt.Sprintf("i-%d", i),
			InstanceType:  "t3.micro",
			VMName:        fmt.Sprintf("vm-%d", i),
			OwnerUsername: "alice",
			Region:        "us-east-1",
		}
		if err := store.CreateVM(vm); err != nil {
			t.Fatalf("CreateVM failed: %v", err)
		}
	}

	page, total, err := store.ListVMs(2, 3)
	if err != nil {
		t.Fatalf("ListVMs failed: %v", err)
	}
	if total != 7 {
		t.Errorf("expected total 7, got %d", total)
	}
	if len(page) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(page))
	}
	if page[0].ID != 3 || page[2].ID != 5 {
		t.Errorf("wrong page window: ids %d..%d", page[0].ID, page[2].ID)
	}

	page, total, _ = store.ListVMs(10, 3)
	if len(page) != 0 || total != 7 {
		t.Errorf("past-the-end page should be empty, got %d rows", len(page))
	}
}

func TestNewStoreFactory(t *testing.T) {
	s, err := NewStore(Config{Type: "memory"})
	if err != nil {
		t.Fatalf("NewStore(memory) failed: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("expected *MemoryStore, got %T", s)
	}

	if _, err := NewStore(Config{Type: "cassandra"}); err != ErrUnsupportedDatabase {
		t.Errorf("expected ErrUnsupportedDatabase, got %v", err)
	}

	if _, err := NewStore(Config{Type: "postgres"}); err == nil {
		t.Error("postgres without DSN should fail")
	}
}
