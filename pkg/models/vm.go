package models

import (
	"time"
)

// VM is the catalog record for a provisioned machine. A row exists only for
// instances whose launch succeeded; the create workflow never persists before
// the provider confirms the launch.
type VM struct {
	ID            int64     `json:"id"`
	InstanceID    string    `json:"instanceId"`
	InstanceType  string    `json:"instanceType"`
	VMName        string    `json:"vmName"`
	OwnerUsername string    `json:"ownerUsername"`
	Region        string    `json:"region"`
	PublicIP      string    `json:"publicIp,omitempty"`
	PrivateIP     string    `json:"privateIp,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// CreateVMRequest is the POST / body. MinCount/MaxCount are pointers so that
// "absent" and "zero" stay distinguishable for validation.
type CreateVMRequest struct {
	InstanceType  string `json:"instanceType"`
	Region        string `json:"region,omitempty"`
	OwnerUsername string `json:"ownerUsername"`
	VMName        string `json:"vmName"`
	MinCount      *int   `json:"minCount,omitempty"`
	MaxCount      *int   `json:"maxCount,omitempty"`
}

// InstanceInfo is a point-in-time snapshot of a provider instance as returned
// by run/describe calls. It is never persisted as its own record.
type InstanceInfo struct {
	InstanceID   string     `json:"instanceId"`
	State        string     `json:"state"`
	PublicIP     string     `json:"publicIp,omitempty"`
	PrivateIP    string     `json:"privateIp,omitempty"`
	InstanceType string     `json:"instanceType"`
	LaunchTime   *time.Time `json:"launchTime,omitempty"`
	Region       string     `json:"region,omitempty"`
}
