// Package service is the lifecycle orchestrator. It owns the ordering rules
// of the workflows: the provider is always consulted before the catalog is
// written, and the catalog row is the source of truth for region and owner.
package service

import (
	"context"

	"github.com/vmdemo/vm-provisioner/pkg/cloud"
	"github.com/vmdemo/vm-provisioner/pkg/envelope"
	"github.com/vmdemo/vm-provisioner/pkg/errdefs"
	"github.com/vmdemo/vm-provisioner/pkg/logging"
	"github.com/vmdemo/vm-provisioner/pkg/models"
	"github.com/vmdemo/vm-provisioner/pkg/store"
)

// CloudGateway is the provider surface the orchestrator depends on.
type CloudGateway interface {
	Launch(ctx context.Context, spec cloud.LaunchSpec) (*models.InstanceInfo, error)
	Describe(ctx context.Context, instanceID, region string) (*models.InstanceInfo, error)
	Terminate(ctx context.Context, instanceID, region string) error
}

// VMService coordinates the provider gateway and the VM catalog.
type VMService struct {
	store  store.Store
	cloud  CloudGateway
	logger *logging.Logger
}

// NewVMService creates a new orchestrator.
func NewVMService(s store.Store, c CloudGateway, logger *logging.Logger) *VMService {
	return &VMService{store: s, cloud: c, logger: logger}
}

// Create validates the request, launches the instance, then persists the
// catalog row. Validation rejects before any provider traffic; a catalog
// write failure after a successful launch leaves the instance running and is
// logged for operators to reap.
func (s *VMService) Create(ctx context.Context, req *models.CreateVMRequest) (*models.VM, error) {
	if err := validateCreate(req); err != nil {
		return nil, err
	}

	spec := cloud.LaunchSpec{
		InstanceType:  req.InstanceType,
		Region:        req.Region,
		OwnerUsername: req.OwnerUsername,
		VMName:        req.VMName,
		MinCount:      1,
		MaxCount:      1,
	}
	if req.MinCount != nil {
		spec.MinCount = *req.MinCount
	}
	if req.MaxCount != nil {
		spec.MaxCount = *req.MaxCount
	}

	info, err := s.cloud.Launch(ctx, spec)
	if err != nil {
		return nil, err
	}

	vm := &models.VM{
		InstanceID:    info.InstanceID,
		InstanceType:  req.InstanceType,
		VMName:        req.VMName,
		OwnerUsername: req.OwnerUsername,
		Region:        info.Region,
		PublicIP:      info.PublicIP,
		PrivateIP:     info.PrivateIP,
	}
	if err := s.store.CreateVM(vm); err != nil {
		// The instance is already running and nothing tracks it now.
		s.logger.Error("Catalog write failed after launch, instance is orphaned", map[string]interface{}{
			"instance_id": info.InstanceID,
			"region":      info.Region,
			"error":       err.Error(),
		})
		return nil, errdefs.Storage("CreateVM", err)
	}

	s.logger.Info("VM created", map[string]interface{}{
		"id":          vm.ID,
		"instance_id": vm.InstanceID,
		"owner":       vm.OwnerUsername,
	})
	return vm, nil
}

// List returns one catalog page plus the total row count. page and onPage
// below 1 fall back to 1 and the default page size.
func (s *VMService) List(ctx context.Context, page, onPage int) ([]*models.VM, int, error) {
	if onPage < 1 {
		onPage = envelope.DefaultOnPage
	}
	vms, total, err := s.store.ListVMs(envelope.Skip(page, onPage), onPage)
	if err != nil {
		return nil, 0, errdefs.Storage("ListVMs", err)
	}
	return vms, total, nil
}

// Get returns the catalog entity by id.
func (s *VMService) Get(ctx context.Context, id int64) (*models.VM, error) {
	vm, err := s.store.GetVM(id)
	if err == store.ErrVMNotFound {
		return nil, errdefs.NotFound("VM not found")
	}
	if err != nil {
		return nil, errdefs.Storage("GetVM", err)
	}
	return vm, nil
}

// DescribeSync fetches the live snapshot for a cataloged VM, folds the fresh
// instanceType and addresses back into the row, and returns the snapshot.
// The returned region is always the entity's stored region: the catalog, not
// the provider response, decides where a VM lives.
func (s *VMService) DescribeSync(ctx context.Context, id int64) (*models.InstanceInfo, error) {
	vm, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	info, err := s.cloud.Describe(ctx, vm.InstanceID, vm.Region)
	if err != nil {
		return nil, err
	}
	if info == nil {
		return nil, errdefs.NotFound("Instance not found")
	}

	if info.InstanceType != "" {
		vm.InstanceType = info.InstanceType
	}
	vm.PublicIP = info.PublicIP
	vm.PrivateIP = info.PrivateIP
	if err := s.store.UpdateVM(vm); err != nil && err != store.ErrVMNotFound {
		return nil, errdefs.Storage("UpdateVM", err)
	}

	info.Region = vm.Region
	return info, nil
}

// Delete terminates the instance and then removes the catalog row, returning
// the pre-deletion entity. A terminate failure keeps the row so the VM stays
// visible and deletable.
func (s *VMService) Delete(ctx context.Context, id int64) (*models.VM, error) {
	vm, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.cloud.Terminate(ctx, vm.InstanceID, vm.Region); err != nil {
		return nil, err
	}

	if err := s.store.DeleteVM(id); err != nil && err != store.ErrVMNotFound {
		return nil, errdefs.Storage("DeleteVM", err)
	}

	s.logger.Info("VM deleted", map[string]interface{}{
		"id":          vm.ID,
		"instance_id": vm.InstanceID,
	})
	return vm, nil
}

func validateCreate(req *models.CreateVMRequest) error {
	var fields []errdefs.FieldError

	if req.InstanceType == "" {
		fields = append(fields, errdefs.FieldError{
			Field:   "instanceType",
			Message: "instanceType is required and must be a string.",
		})
	}
	if req.OwnerUsername == "" {
		fields = append(fields, errdefs.FieldError{
			Field:   "ownerUsername",
			Message: "ownerUsername is required and must be a string.",
		})
	}
	if req.VMName == "" {
		fields = append(fields, errdefs.FieldError{
			Field:   "vmName",
			Message: "vmName is required and must be a string.",
		})
	}
	if req.MinCount != nil && *req.MinCount < 1 {
		fields = append(fields, errdefs.FieldError{
			Field:   "minCount",
			Message: "minCount must be an integer >= 1 when provided.",
		})
	}
	if req.MaxCount != nil && *req.MaxCount < 1 {
		fields = append(fields, errdefs.FieldError{
			Field:   "maxCount",
			Message: "maxCount must be an integer >= 1 when provided.",
		})
	}
	if req.MinCount != nil && req.MaxCount != nil && *req.MaxCount >= 1 && *req.MinCount >= 1 && *req.MaxCount < *req.MinCount {
		fields = append(fields, errdefs.FieldError{
			Field:   "maxCount",
			Message: "maxCount must be >= minCount.",
		})
	}

	if len(fields) > 0 {
		return &errdefs.ValidationError{Fields: fields}
	}
	return nil
}
