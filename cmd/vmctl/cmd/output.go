package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Wire types mirroring the API envelopes and payloads

type apiMessage struct {
	Type    int    `json:"type"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type objectEnvelope struct {
	Error    bool            `json:"error"`
	HTMLCode int             `json:"htmlcode"`
	Object   json.RawMessage `json:"object"`
	Messages []apiMessage    `json:"messages"`
}

type listEnvelope struct {
	Error      bool            `json:"error"`
	HTMLCode   int             `json:"htmlcode"`
	Objects    json.RawMessage `json:"objects"`
	Messages   []apiMessage    `json:"messages"`
	Total      int             `json:"total"`
	TotalPages int             `json:"totalpages"`
}

type vmResponse struct {
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

type instanceResponse struct {
	InstanceID   string     `json:"instanceId"`
	State        string     `json:"state"`
	PublicIP     string     `json:"publicIp,omitempty"`
	PrivateIP    string     `json:"privateIp,omitempty"`
	InstanceType string     `json:"instanceType"`
	LaunchTime   *time.Time `json:"launchTime,omitempty"`
	Region       string     `json:"region,omitempty"`
}

func envelopeError(env *objectEnvelope) error {
	return fmt.Errorf("server error (%d): %s", env.HTMLCode, firstMessage(env.Messages))
}

func firstMessage(msgs []apiMessage) string {
	if len(msgs) == 0 {
		return "unknown error"
	}
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Message)
	}
	return strings.Join(parts, "; ")
}

func printVM(vm *vmResponse) error {
	switch outputFormat {
	case "json":
		return printJSON(vm)
	case "yaml":
		return printYAML(vm)
	default:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")

		table.Append("VM #", fmt.Sprintf("%d", vm.ID))
		table.Append("Instance ID", vm.InstanceID)
		table.Append("Instance Type", vm.InstanceType)
		table.Append("Name", vm.VMName)
		table.Append("Owner", vm.OwnerUsername)
		table.Append("Region", vm.Region)
		if vm.PublicIP != "" {
			table.Append("Public IP", vm.PublicIP)
		}
		if vm.PrivateIP != "" {
			table.Append("Private IP", vm.PrivateIP)
		}
		table.Append("Created At", vm.CreatedAt.Format(time.RFC3339))

		table.Render()
		return nil
	}
}

func printVMList(vms []*vmResponse) error {
	switch outputFormat {
	case "json":
		return printJSON(vms)
	case "yaml":
		return printYAML(vms)
	default:
		if len(vms) == 0 {
			fmt.Println("No VMs found")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.Header("VM #", "Instance ID", "Type", "Name", "Owner", "Region", "Public IP", "Created")

		for _, vm := range vms {
			publicIP := vm.PublicIP
			if publicIP == "" {
				publicIP = "-"
			}
			table.Append(
				fmt.Sprintf("%d", vm.ID),
				vm.InstanceID,
				vm.InstanceType,
				vm.VMName,
				vm.OwnerUsername,
				vm.Region,
				publicIP,
				vm.CreatedAt.Format("2006-01-02 15:04"),
			)
		}

		table.Render()
		return nil
	}
}

func printInstance(info *instanceResponse) error {
	switch outputFormat {
	case "json":
		return printJSON(info)
	case "yaml":
		return printYAML(info)
	default:
		table := tablewriter.NewWriter(os.Stdout)
		table.Header("Field", "Value")

		table.Append("Instance ID", info.InstanceID)
		table.Append("State", info.State)
		table.Append("Instance Type", info.InstanceType)
		table.Append("Region", info.Region)
		if info.PublicIP != "" {
			table.Append("Public IP", info.PublicIP)
		}
		if info.PrivateIP != "" {
			table.Append("Private IP", info.PrivateIP)
		}
		if info.LaunchTime != nil {
			table.Append("Launch Time", info.LaunchTime.Format(time.RFC3339))
		}

		table.Render()
		return nil
	}
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printYAML(v interface{}) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Print(string(data))
	return nil
}
