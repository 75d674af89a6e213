package service

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/vmdemo/vm-provisioner/pkg/cloud"
	"github.com/vmdemo/vm-provisioner/pkg/errdefs"
	"github.com/vmdemo/vm-provisioner/pkg/logging"
	"github.com/vmdemo/vm-provisioner/pkg/models"
	"github.com/vmdemo/vm-provisioner/pkg/store"
)

type fakeGateway struct {
	launchCalls    int
	describeCalls  int
	terminateCalls int

	lastSpec cloud.LaunchSpec

	launchInfo   *models.InstanceInfo
	launchErr    error
	describeInfo *models.InstanceInfo
	describeErr  error
	terminateErr error
}

func (f *fakeGateway) Launch(ctx context.Context, spec cloud.LaunchSpec) (*models.InstanceInfo, error) {
	f.launchCalls++
	f.lastSpec = spec
	if f.launchErr != nil {
		return nil, f.launchErr
	}
	return f.launchInfo, nil
}

func (f *fakeGateway) Describe(ctx context.Context, instanceID, region string) (*models.InstanceInfo, error) {
	f.describeCalls++
	if f.describeErr != nil {
		return nil, f.describeErr
	}
	return f.describeInfo, nil
}

func (f *fakeGateway) Terminate(ctx context.Context, instanceID, region string) error {
	f.terminateCalls++
	return f.terminateErr
}

func testLogger() *logging.Logger {
	l := logging.NewLogger(logging.ERROR, false)
	l.SetOutput(io.Discard)
	return l
}

func newTestService(gw *fakeGateway) (*VMService, store.Store) {
	st := store.NewMemoryStore()
	return NewVMService(st, gw, testLogger()), st
}

func intPtr(n int) *int { return &n }

func TestCreateValidationRejectsBeforeLaunch(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(gw)

	_, err := svc.Create(context.Background(), &models.CreateVMRequest{})
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !errdefs.IsValidation(err) {
		t.Fatalf("expected validation error, got %T: %v", err, err)
	}

	var verr *errdefs.ValidationError
	errors.As(err, &verr)
	if len(verr.Fields) != 3 {
		t.Errorf("expected 3 field errors (instanceType, ownerUsername, vmName), got %d", len(verr.Fields))
	}

	if gw.launchCalls != 0 {
		t.Error("an invalid request must never reach the provider")
	}
}

func TestCreateValidatesCounts(t *testing.T) {
	gw := &fakeGateway{}
	svc, _ := newTestService(gw)

	req := &models.CreateVMRequest{
		InstanceType:  "t3.micro",
		OwnerUsername: "alice",
		VMName:        "demo",
		MinCount:      intPtr(0),
	}
	_, err := svc.Create(context.Background(), req)
	if !errdefs.IsValidation(err) {
		t.Fatalf("minCount 0 should fail validation, got %v", err)
	}

	req = &models.CreateVMRequest{
		InstanceType:  "t3.micro",
		OwnerUsername: "alice",
		VMName:        "demo",
		MinCount:      intPtr(3),
		MaxCount:      intPtr(2),
	}
	_, err = svc.Create(context.Background(), req)
	if !errdefs.IsValidation(err) {
		t.Fatalf("maxCount < minCount should fail validation, got %v", err)
	}

	if gw.launchCalls != 0 {
		t.Error("invalid requests must never reach the provider")
	}
}

func TestCreatePersistsAfterLaunch(t *testing.T) {
	gw := &fakeGateway{
		launchInfo: &models.InstanceInfo{
			InstanceID: "i-123",
			State:      "pending",
			PublicIP:   "203.0.113.10",
			PrivateIP:  "10.0.0.5",
			Region:     "us-east-1",
		},
	}
	svc, st := newTestService(gw)

	vm, err := svc.Create(context.Background(), &models.CreateVMRequest{
		InstanceType:  "t3.micro",
		OwnerUsername: "alice",
		VMName:        "demo",
	})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if gw.launchCalls != 1 {
		t.Errorf("expected one launch, got %d", gw.launchCalls)
	}
	if gw.lastSpec.MinCount != 1 || gw.lastSpec.MaxCount != 1 {
		t.Errorf("counts should default to 1, got %d/%d", gw.lastSpec.MinCount, gw.lastSpec.MaxCount)
	}

	if vm.ID == 0 {
		t.Error("created vm should have a catalog id")
	}
	if vm.InstanceID != "i-123" || vm.Region != "us-east-1" || vm.PublicIP != "203.0.113.10" {
		t.Errorf("vm should carry the launch snapshot: %+v", vm)
	}

	stored, err := st.GetVM(vm.ID)
	if err != nil {
		t.Fatalf("row not persisted: %v", err)
	}
	if stored.OwnerUsername != "alice" || stored.VMName != "demo" {
		t.Errorf("unexpected stored row: %+v", stored)
	}
}

func TestCreateLaunchFailureWritesNothing(t *testing.T) {
	gw := &fakeGateway{launchErr: errdefs.Provider("RunInstances", errors.New("capacity"))}
	svc, st := newTestService(gw)

	_, err := svc.Create(context.Background(), &models.CreateVMRequest{
		InstanceType:  "t3.micro",
		OwnerUsername: "alice",
		VMName:        "demo",
	})
	if !errdefs.IsProvider(err) {
		t.Fatalf("expected provider error, got %v", err)
	}

	_, total, _ := st.ListVMs(0, 10)
	if total != 0 {
		t.Errorf("launch failure must not write the catalog, found %d rows", total)
	}
}

type failingStore struct {
	store.Store
}

func (f *failingStore) CreateVM(vm *models.VM) error {
	return errors.New("disk full")
}

func TestCreateOrphanIsNotCompensated(t *testing.T) {
	gw := &fakeGateway{
		launchInfo: &models.InstanceInfo{InstanceID: "i-orphan", Region: "us-east-1"},
	}
	svc := NewVMService(&failingStore{Store: store.NewMemoryStore()}, gw, testLogger())

	_, err := svc.Create(context.Background(), &models.CreateVMRequest{
		InstanceType:  "t3.micro",
		OwnerUsername: "alice",
		VMName:        "demo",
	})
	if !errdefs.IsStorage(err) {
		t.Fatalf("expected storage error, got %v", err)
	}
	if gw.terminateCalls != 0 {
		t.Error("a catalog write failure must not trigger a compensating terminate")
	}
}

func TestGetNotFound(t *testing.T) {
	svc, _ := newTestService(&fakeGateway{})

	_, err := svc.Get(context.Background(), 99)
	if !errdefs.IsNotFound(err) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if err.Error() != "VM not found" {
		t.Errorf("expected message %q, got %q", "VM not found", err.Error())
	}
}

func TestDescribeSyncUpdatesCatalog(t *testing.T) {
	gw := &fakeGateway{
		describeInfo: &models.InstanceInfo{
			InstanceID:   "i-123",
			State:        "running",
			PublicIP:     "203.0.113.77",
			PrivateIP:    "10.0.0.9",
			InstanceType: "t3.small",
			Region:       "eu-west-1", // provider region is ignored in the response
		},
	}
	svc, st := newTestService(gw)

	vm := &models.VM{
		InstanceID:    "i-123",
		InstanceType:  "t3.micro",
		VMName:        "demo",
		OwnerUsername: "alice",
		Region:        "us-east-1",
	}
	st.CreateVM(vm)

	info, err := svc.DescribeSync(context.Background(), vm.ID)
	if err != nil {
		t.Fatalf("DescribeSync failed: %v", err)
	}

	if info.Region != "us-east-1" {
		t.Errorf("snapshot region must be the entity's stored region, got %q", info.Region)
	}
	if info.State != "running" {
		t.Errorf("unexpected state %q", info.State)
	}

	stored, _ := st.GetVM(vm.ID)
	if stored.PublicIP != "203.0.113.77" || stored.PrivateIP != "10.0.0.9" {
		t.Errorf("addresses not synced: %+v", stored)
	}
	if stored.InstanceType != "t3.small" {
		t.Errorf("instanceType not synced: %q", stored.InstanceType)
	}
}

func TestDescribeSyncKeepsTypeWhenSnapshotOmitsIt(t *testing.T) {
	gw := &fakeGateway{
		describeInfo: &models.InstanceInfo{InstanceID: "i-123", State: "running"},
	}
	svc, st := newTestService(gw)

	vm := &models.VM{
		InstanceID:    "i-123",
		InstanceType:  "t3.micro",
		VMName:        "demo",
		OwnerUsername: "alice",
		Region:        "us-east-1",
	}
	st.CreateVM(vm)

	if _, err := svc.DescribeSync(context.Background(), vm.ID); err != nil {
		t.Fatalf("DescribeSync failed: %v", err)
	}

	stored, _ := st.GetVM(vm.ID)
	if stored.InstanceType != "t3.micro" {
		t.Errorf("empty snapshot type must not clobber the stored type, got %q", stored.InstanceType)
	}
}

func TestDescribeSyncInstanceGone(t *testing.T) {
	gw := &fakeGateway{describeInfo: nil}
	svc, st := newTestService(gw)

	vm := &models.VM{
		InstanceID:    "i-gone",
		InstanceType:  "t3.micro",
		VMName:        "demo",
		OwnerUsername: "alice",
		Region:        "us-east-1",
	}
	st.CreateVM(vm)

	_, err := svc.DescribeSync(context.Background(), vm.ID)
	if !errdefs.IsNotFound(err) {
		t.Fatalf("expected not-found, got %v", err)
	}
	if err.Error() != "Instance not found" {
		t.Errorf("entity exists but instance is gone: expected %q, got %q", "Instance not found", err.Error())
	}
}

func TestDeleteTerminatesThenRemoves(t *testing.T) {
	gw := &fakeGateway{}
	svc, st := newTestService(gw)

	vm := &models.VM{
		InstanceID:    "i-123",
		InstanceType:  "t3.micro",
		VMName:        "demo",
		OwnerUsername: "alice",
		Region:        "us-east-1",
	}
	st.CreateVM(vm)

	deleted, err := svc.Delete(context.Background(), vm.ID)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if gw.terminateCalls != 1 {
		t.Errorf("expected one terminate, got %d", gw.terminateCalls)
	}
	if deleted.InstanceID != "i-123" {
		t.Errorf("Delete should return the pre-deletion entity: %+v", deleted)
	}

	if _, err := st.GetVM(vm.ID); err != store.ErrVMNotFound {
		t.Errorf("row should be removed, got %v", err)
	}
}

func TestDeleteTerminateFailureRetainsRow(t *testing.T) {
	gw := &fakeGateway{terminateErr: errdefs.Provider("TerminateInstances", errors.New("denied"))}
	svc, st := newTestService(gw)

	vm := &models.VM{
		InstanceID:    "i-123",
		InstanceType:  "t3.micro",
		VMName:        "demo",
		OwnerUsername: "alice",
		Region:        "us-east-1",
	}
	st.CreateVM(vm)

	_, err := svc.Delete(context.Background(), vm.ID)
	if !errdefs.IsProvider(err) {
		t.Fatalf("expected provider error, got %v", err)
	}

	if _, err := st.GetVM(vm.ID); err != nil {
		t.Errorf("terminate failure must retain the row, got %v", err)
	}
}

func TestListPagination(t *testing.T) {
	svc, st := newTestService(&fakeGateway{})

	for i := 0; i < 25; i++ {
		st.CreateVM(&models.VM{
			InstanceID:    "i-" + string(rune('a'+i)),
			InstanceType:  "t3.micro",
			VMName:        "demo",
			OwnerUsername: "alice",
			Region:        "us-east-1",
		})
	}

	vms, total, err := svc.List(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 25 {
		t.Errorf("expected total 25, got %d", total)
	}
	if len(vms) != 5 {
		t.Errorf("page 3 of 25 should have 5 rows, got %d", len(vms))
	}

	// page 0 is coerced to page 1
	vms, _, err = svc.List(context.Background(), 0, 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(vms) != 10 {
		t.Errorf("coerced first page should have 10 rows, got %d", len(vms))
	}
}
