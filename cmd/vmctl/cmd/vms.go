package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmdemo/vm-provisioner/pkg/retry"
)

var (
	// VM create flags
	instanceType string
	region       string
	owner        string
	vmName       string
	minCount     int
	maxCount     int

	// VM list flags
	listPage   int
	listOnPage int
)

// vmsCmd represents the vms command
var vmsCmd = &cobra.Command{
	Use:   "vms",
	Short: "Manage VMs",
	Long:  `Commands for creating, listing and deleting VMs.`,
}

var vmsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new VM",
	Long:  `Launch a new instance and register it in the catalog.`,
	RunE:  runVMsCreate,
}

var vmsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List VMs",
	Long:  `List cataloged VMs one page at a time.`,
	RunE:  runVMsList,
}

var vmsGetCmd = &cobra.Command{
	Use:   "get <vm-id>",
	Short: "Get a VM",
	Long:  `Retrieve the catalog record of a VM by its id.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runVMsGet,
}

var vmsDescribeCmd = &cobra.Command{
	Use:   "describe <vm-id>",
	Short: "Describe the live instance of a VM",
	Long:  `Fetch the current provider snapshot of a VM's instance and sync its addresses into the catalog.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runVMsDescribe,
}

var vmsDeleteCmd = &cobra.Command{
	Use:   "delete <vm-id>",
	Short: "Delete a VM",
	Long:  `Terminate the instance and remove the VM from the catalog.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runVMsDelete,
}

func init() {
	rootCmd.AddCommand(vmsCmd)
	vmsCmd.AddCommand(vmsCreateCmd)
	vmsCmd.AddCommand(vmsListCmd)
	vmsCmd.AddCommand(vmsGetCmd)
	vmsCmd.AddCommand(vmsDescribeCmd)
	vmsCmd.AddCommand(vmsDeleteCmd)

	vmsCreateCmd.Flags().StringVar(&instanceType, "instance-type", "", "instance type (required, e.g., t3.micro)")
	vmsCreateCmd.Flags().StringVar(&region, "region", "", "region (default is the server's configured region)")
	vmsCreateCmd.Flags().StringVar(&owner, "owner", "", "owner username (required)")
	vmsCreateCmd.Flags().StringVar(&vmName, "name", "", "VM name (required)")
	vmsCreateCmd.Flags().IntVar(&minCount, "min-count", 0, "minimum instance count")
	vmsCreateCmd.Flags().IntVar(&maxCount, "max-count", 0, "maximum instance count")
	vmsCreateCmd.MarkFlagRequired("instance-type")
	vmsCreateCmd.MarkFlagRequired("owner")
	vmsCreateCmd.MarkFlagRequired("name")

	vmsListCmd.Flags().IntVar(&listPage, "page", 1, "page number (1-based)")
	vmsListCmd.Flags().IntVar(&listOnPage, "onpage", 10, "page size")
}

type createRequest struct {
	InstanceType  string `json:"instanceType"`
	Region        string `json:"region,omitempty"`
	OwnerUsername string `json:"ownerUsername"`
	VMName        string `json:"vmName"`
	MinCount      *int   `json:"minCount,omitempty"`
	MaxCount      *int   `json:"maxCount,omitempty"`
}

func runVMsCreate(cmd *cobra.Command, args []string) error {
	req := createRequest{
		InstanceType:  instanceType,
		Region:        region,
		OwnerUsername: owner,
		VMName:        vmName,
	}
	if minCount > 0 {
		req.MinCount = &minCount
	}
	if maxCount > 0 {
		req.MaxCount = &maxCount
	}

	body, err := json.Marshal(req)
	if err != nil {
		return err
	}

	resp, err := http.Post(GetServerURL()+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env objectEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Error {
		return envelopeError(&env)
	}

	var vm vmResponse
	if err := json.Unmarshal(env.Object, &vm); err != nil {
		return fmt.Errorf("failed to decode vm: %w", err)
	}

	if err := printVM(&vm); err != nil {
		return err
	}
	if outputFormat == "table" {
		fmt.Printf("\nVM created successfully! VM #%d (%s)\n", vm.ID, vm.InstanceID)
	}
	return nil
}

func runVMsList(cmd *cobra.Command, args []string) error {
	url := fmt.Sprintf("%s/?page=%d&onpage=%d", GetServerURL(), listPage, listOnPage)

	data, err := getWithRetry(url)
	if err != nil {
		return err
	}

	var env listEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Error {
		return fmt.Errorf("server error: %s", firstMessage(env.Messages))
	}

	var vms []*vmResponse
	if err := json.Unmarshal(env.Objects, &vms); err != nil {
		return fmt.Errorf("failed to decode vms: %w", err)
	}

	if err := printVMList(vms); err != nil {
		return err
	}
	if outputFormat == "table" {
		fmt.Printf("\nTotal VMs: %d (page %d of %d)\n", env.Total, listPage, env.TotalPages)
	}
	return nil
}

func runVMsGet(cmd *cobra.Command, args []string) error {
	data, err := getWithRetry(fmt.Sprintf("%s/%s", GetServerURL(), args[0]))
	if err != nil {
		return err
	}

	var env objectEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Error {
		return envelopeError(&env)
	}

	var vm vmResponse
	if err := json.Unmarshal(env.Object, &vm); err != nil {
		return fmt.Errorf("failed to decode vm: %w", err)
	}
	return printVM(&vm)
}

func runVMsDescribe(cmd *cobra.Command, args []string) error {
	data, err := getWithRetry(fmt.Sprintf("%s/instances/%s", GetServerURL(), args[0]))
	if err != nil {
		return err
	}

	var env objectEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Error {
		return envelopeError(&env)
	}

	var info instanceResponse
	if err := json.Unmarshal(env.Object, &info); err != nil {
		return fmt.Errorf("failed to decode instance: %w", err)
	}
	return printInstance(&info)
}

func runVMsDelete(cmd *cobra.Command, args []string) error {
	req, err := http.NewRequest(http.MethodDelete,
		fmt.Sprintf("%s/instances/%s", GetServerURL(), args[0]), nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	var env objectEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if env.Error {
		return envelopeError(&env)
	}

	var vm vmResponse
	if err := json.Unmarshal(env.Object, &vm); err != nil {
		return fmt.Errorf("failed to decode vm: %w", err)
	}

	if err := printVM(&vm); err != nil {
		return err
	}
	if outputFormat == "table" {
		fmt.Printf("\nVM #%d deleted (%s)\n", vm.ID, vm.InstanceID)
	}
	return nil
}

// getWithRetry performs a GET, retrying transient failures. Reads are safe to
// repeat; nothing mutating ever goes through here.
func getWithRetry(url string) ([]byte, error) {
	var data []byte
	op := func() error {
		resp, err := http.Get(url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		data = body
		return nil
	}

	err := op()
	if err != nil && retry.IsRetryable(err) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		err = retry.Do(ctx, retry.DefaultConfig(), op)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to reach server: %w", err)
	}
	return data, nil
}
