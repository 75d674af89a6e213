package store

import (
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/vmdemo/vm-provisioner/pkg/models"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	tmpDB := fmt.Sprintf("/tmp/test_vms_%s.db", t.Name())
	t.Cleanup(func() {
		os.Remove(tmpDB)
		os.Remove(tmpDB + "-shm")
		os.Remove(tmpDB + "-wal")
	})

	store, err := NewSQLiteStore(tmpDB)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteCRUD(t *testing.T) {
	store := newTestSQLiteStore(t)

	vm := &models.VM{
		InstanceID:    "i-0123456789abcdef0",
		InstanceType:  "t3.micro",
		VMName:        "demo",
		OwnerUsername: "alice",
		Region:        "us-east-1",
		PublicIP:      "203.0.113.10",
		PrivateIP:     "10.0.0.5",
	}
	if err := store.CreateVM(vm); err != nil {
		t.Fatalf("CreateVM failed: %v", err)
	}
	if vm.ID == 0 {
		t.Error("CreateVM should assign an id")
	}
	if vm.CreatedAt.IsZero() || vm.UpdatedAt.IsZero() {
		t.Error("CreateVM should assign timestamps")
	}

	got, err := store.GetVM(vm.ID)
	if err != nil {
		t.Fatalf("GetVM failed: %v", err)
	}
	if got.InstanceID != vm.InstanceID || got.OwnerUsername != "alice" || got.Region != "us-east-1" {
		t.Errorf("GetVM returned wrong row: %+v", got)
	}

	got.PublicIP = "203.0.113.99"
	got.InstanceType = "t3.small"
	if err := store.UpdateVM(got); err != nil {
		t.Fatalf("UpdateVM failed: %v", err)
	}
	updated, err := store.GetVM(vm.ID)
	if err != nil {
		t.Fatalf("GetVM after update failed: %v", err)
	}
	if updated.PublicIP != "203.0.113.99" || updated.InstanceType != "t3.small" {
		t.Errorf("update not persisted: %+v", updated)
	}
	if !updated.UpdatedAt.After(updated.CreatedAt) {
		t.Error("UpdateVM should bump updated_at")
	}

	if err := store.DeleteVM(vm.ID); err != nil {
		t.Fatalf("DeleteVM failed: %v", err)
	}
	if _, err := store.GetVM(vm.ID); err != ErrVMNotFound {
		t.Errorf("expected ErrVMNotFound after delete, got %v", err)
	}
}

func TestSQLiteNotFound(t *testing.T) {
	store := newTestSQLiteStore(t)

	if _, err := store.GetVM(42); err != ErrVMNotFound {
		t.Errorf("GetVM of missing row: expected ErrVMNotFound, got %v", err)
	}
	if err := store.DeleteVM(42); err != ErrVMNotFound {
		t.Errorf("DeleteVM of missing row: expected ErrVMNotFound, got %v", err)
	}
	if err := store.UpdateVM(&models.VM{ID: 42, InstanceID: "i-x"}); err != ErrVMNotFound {
		t.Errorf("UpdateVM of missing row: expected ErrVMNotFound, got %v", err)
	}
}

func TestSQLitePagination(t *testing.T) {
	store := newTestSQLiteStore(t)

	for i := 0; i < 25; i++ {
		vm := &models.VM{
			InstanceID:    fmt.Sprintf("i-%017d", i),
			InstanceType:  "t3.micro",
			VMName:        fmt.Sprintf("vm-%d", i),
			OwnerUsername: "alice",
			Region:        "us-east-1",
		}
		if err := store.CreateVM(vm); err != nil {
			t.Fatalf("CreateVM %d failed: %v", i, err)
		}
	}

	page, total, err := store.ListVMs(0, 10)
	if err != nil {
		t.Fatalf("ListVMs failed: %v", err)
	}
	if total != 25 {
		t.Errorf("expected total 25, got %d", total)
	}
	if len(page) != 10 {
		t.Errorf("expected 10 rows, got %d", len(page))
	}

	// Ordering is id ascending
	for i := 1; i < len(page); i++ {
		if page[i].ID <= page[i-1].ID {
			t.Errorf("rows out of order: %d after %d", page[i].ID, page[i-1].ID)
		}
	}

	// Last page is short
	page, total, err = store.ListVMs(20, 10)
	if err != nil {
		t.Fatalf("ListVMs failed: %v", err)
	}
	if len(page) != 5 || total != 25 {
		t.Errorf("expected 5 rows / total 25, got %d / %d", len(page), total)
	}

	// Past the end yields an empty page, not an error
	page, total, err = store.ListVMs(100, 10)
	if err != nil {
		t.Fatalf("ListVMs failed: %v", err)
	}
	if len(page) != 0 || total != 25 {
		t.Errorf("expected 0 rows / total 25, got %d / %d", len(page), total)
	}

	// take below 1 yields only the total
	page, total, err = store.ListVMs(0, 0)
	if err != nil {
		t.Fatalf("ListVMs failed: %v", err)
	}
	if len(page) != 0 || total != 25 {
		t.Errorf("expected 0 rows / total 25, got %d / %d", len(page), total)
	}
}

func TestSQLiteConcurrentCreates(t *testing.T) {
	store := newTestSQLiteStore(t)

	numVMs := 20
	var wg sync.WaitGroup
	errors := make(chan error, numVMs)

	for i := 0; i < numVMs; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			vm := &models.VM{
				InstanceID:    fmt.Sprintf("i-concurrent-%d", idx),
				InstanceType:  "t3.micro",
				VMName:        fmt.Sprintf("vm-%d", idx),
				OwnerUsername: "alice",
				Region:        "us-east-1",
			}
			if err := store.CreateVM(vm); err != nil {
				errors <- fmt.Errorf("vm %d creation failed: %w", idx, err)
			}
		}(i)
	}

	wg.Wait()
	close(errors)

	for err := range errors {
		t.Errorf("Concurrent create error: %v", err)
	}

	_, total, err := store.ListVMs(0, numVMs)
	if err != nil {
		t.Fatalf("ListVMs failed: %v", err)
	}
	if total != numVMs {
		t.Errorf("Expected %d vms, got %d", numVMs, total)
	}
}

func TestSQLiteDuplicateInstanceID(t *testing.T) {
	store := newTestSQLiteStore(t)

	vm := &models.VM{
		InstanceID:    "i-dup",
		InstanceType:  "t3.micro",
		VMName:        "first",
		OwnerUsername: "alice",
		Region:        "us-east-1",
	}
	if err := store.CreateVM(vm); err != nil {
		t.Fatalf("CreateVM failed: %v", err)
	}

	dup := &models.VM{
		InstanceID:    "i-dup",
		InstanceType:  "t3.micro",
		VMName:        "second",
		OwnerUsername: "bob",
		Region:        "us-east-1",
	}
	if err := store.CreateVM(dup); err == nil {
		t.Error("expected unique constraint violation for duplicate instance_id")
	}
}
