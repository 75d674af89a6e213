// Package cloud is the EC2 provider gateway. It owns the per-region client
// cache, the launch tagging convention and the lenient describe contract; the
// orchestrator above it never touches the vendor SDK directly.
package cloud

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/smithy-go"

	"github.com/vmdemo/vm-provisioner/pkg/errdefs"
	"github.com/vmdemo/vm-provisioner/pkg/logging"
	"github.com/vmdemo/vm-provisioner/pkg/metrics"
	"github.com/vmdemo/vm-provisioner/pkg/models"
	"github.com/vmdemo/vm-provisioner/pkg/retry"
)

// EC2API is the subset of the EC2 client the gateway calls. Tests substitute
// a fake through this seam.
type EC2API interface {
	RunInstances(ctx context.Context, params *ec2.RunInstancesInput, optFns ...func(*ec2.Options)) (*ec2.RunInstancesOutput, error)
	DescribeInstances(ctx context.Context, params *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// Settings are the provider deployment settings. They are validated lazily:
// a missing value surfaces as a configuration error on first use, never at
// construction, so the service boots without credentials.
type Settings struct {
	Region          string
	AccessKey       string
	SecretKey       string
	AMIID           string
	SecurityGroupID string
	SubnetID        string
}

// LaunchSpec describes one launch request after validation.
type LaunchSpec struct {
	InstanceType  string
	Region        string // empty means the configured default region
	OwnerUsername string
	VMName        string
	MinCount      int
	MaxCount      int
}

// Gateway mediates all EC2 traffic. Clients are built once per region and
// reused; the cache is safe for concurrent use.
type Gateway struct {
	settings Settings
	logger   *logging.Logger
	retryCfg retry.Config

	mu      sync.Mutex
	clients map[string]EC2API

	// newClient builds a client for a region; overridden in tests.
	newClient func(region string) (EC2API, error)
}

// NewGateway creates a gateway over the given settings.
func NewGateway(settings Settings, logger *logging.Logger) *Gateway {
	g := &Gateway{
		settings: settings,
		logger:   logger,
		retryCfg: retry.DefaultConfig(),
		clients:  make(map[string]EC2API),
	}
	g.newClient = g.buildClient
	return g
}

func (g *Gateway) buildClient(region string) (EC2API, error) {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(g.settings.AccessKey, g.settings.SecretKey, "")),
	)
	if err != nil {
		return nil, errdefs.Configuration("failed to initialize provider client: %v", err)
	}
	return ec2.NewFromConfig(cfg), nil
}

// client resolves the region, checks the settings needed to reach the
// provider and returns the cached client for that region, building it on
// first use.
func (g *Gateway) client(region string) (EC2API, string, error) {
	if region == "" {
		region = g.settings.Region
	}
	if region == "" {
		return nil, "", errdefs.Configuration("REGION is not configured")
	}
	if g.settings.AccessKey == "" || g.settings.SecretKey == "" {
		return nil, "", errdefs.Configuration("ACCESS_KEY and SECRET_KEY are not configured")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[region]; ok {
		return c, region, nil
	}
	c, err := g.newClient(region)
	if err != nil {
		return nil, "", err
	}
	g.clients[region] = c
	return c, region, nil
}

// Launch starts instances for spec and returns the snapshot of the first one.
// All configuration checks happen before any network call.
func (g *Gateway) Launch(ctx context.Context, spec LaunchSpec) (*models.InstanceInfo, error) {
	api, region, err := g.client(spec.Region)
	if err != nil {
		return nil, err
	}
	if g.settings.AMIID == "" {
		return nil, errdefs.Configuration("AMI_ID is not configured")
	}

	minCount := spec.MinCount
	if minCount < 1 {
		minCount = 1
	}
	maxCount := spec.MaxCount
	if maxCount < minCount {
		maxCount = minCount
	}

	input := &ec2.RunInstancesInput{
		ImageId:      aws.String(g.settings.AMIID),
		InstanceType: types.InstanceType(spec.InstanceType),
		MinCount:     aws.Int32(int32(minCount)),
		MaxCount:     aws.Int32(int32(maxCount)),
		TagSpecifications: []types.TagSpecification{
			{
				ResourceType: types.ResourceTypeInstance,
				Tags: []types.Tag{
					{Key: aws.String("Name"), Value: aws.String(spec.VMName)},
					{Key: aws.String("ownerUsername"), Value: aws.String(spec.OwnerUsername)},
					{Key: aws.String("app"), Value: aws.String("vm-demo")},
				},
			},
		},
	}
	if g.settings.SecurityGroupID != "" {
		input.SecurityGroupIds = []string{g.settings.SecurityGroupID}
	}
	if g.settings.SubnetID != "" {
		input.SubnetId = aws.String(g.settings.SubnetID)
	}

	out, err := api.RunInstances(ctx, input)
	if err != nil {
		metrics.ProviderOpsTotal.WithLabelValues("RunInstances", "error").Inc()
		return nil, errdefs.Provider("RunInstances", err)
	}
	metrics.ProviderOpsTotal.WithLabelValues("RunInstances", "ok").Inc()
	if len(out.Instances) == 0 {
		return nil, errdefs.Provider("RunInstances", errors.New("no instances returned"))
	}

	info := snapshot(&out.Instances[0], region)
	g.logger.Info("Instance launched", map[string]interface{}{
		"instance_id":   info.InstanceID,
		"instance_type": info.InstanceType,
		"region":        region,
	})
	return info, nil
}

// Describe returns the current snapshot of an instance, or nil when the
// provider does not know it. Provider failures after retries also degrade to
// nil: a describe never blocks the caller's workflow, it only withholds
// fresher data.
func (g *Gateway) Describe(ctx context.Context, instanceID, region string) (*models.InstanceInfo, error) {
	api, region, err := g.client(region)
	if err != nil {
		return nil, err
	}

	var inst *types.Instance
	op := func() error {
		out, err := api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
			InstanceIds: []string{instanceID},
		})
		if err != nil {
			return err
		}
		inst = firstInstance(out)
		return nil
	}

	err = op()
	if err != nil && retry.IsRetryable(err) {
		err = retry.Do(ctx, g.retryCfg, op)
	}
	if err != nil {
		metrics.ProviderOpsTotal.WithLabelValues("DescribeInstances", "error").Inc()
		if !isInstanceNotFound(err) {
			g.logger.Warn("Describe failed, reporting instance as gone", map[string]interface{}{
				"instance_id": instanceID,
				"error":       err.Error(),
			})
		}
		return nil, nil
	}
	metrics.ProviderOpsTotal.WithLabelValues("DescribeInstances", "ok").Inc()
	if inst == nil {
		return nil, nil
	}
	return snapshot(inst, region), nil
}

// DescribeMany returns snapshots for the given ids, silently omitting any the
// provider does not know. A wholesale provider failure yields an empty list.
func (g *Gateway) DescribeMany(ctx context.Context, instanceIDs []string, region string) ([]*models.InstanceInfo, error) {
	infos := []*models.InstanceInfo{}
	if len(instanceIDs) == 0 {
		return infos, nil
	}

	api, region, err := g.client(region)
	if err != nil {
		return nil, err
	}

	out, err := api.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: instanceIDs,
	})
	if err != nil {
		g.logger.Warn("DescribeInstances failed, returning empty snapshot list", map[string]interface{}{
			"error": err.Error(),
		})
		return infos, nil
	}

	for _, res := range out.Reservations {
		for i := range res.Instances {
			infos = append(infos, snapshot(&res.Instances[i], region))
		}
	}
	return infos, nil
}

// Terminate asks the provider to terminate an instance. Unlike Describe,
// failures here are surfaced: the caller must know termination did not start.
func (g *Gateway) Terminate(ctx context.Context, instanceID, region string) error {
	api, region, err := g.client(region)
	if err != nil {
		return err
	}

	out, err := api.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{instanceID},
	})
	if err != nil {
		metrics.ProviderOpsTotal.WithLabelValues("TerminateInstances", "error").Inc()
		return errdefs.Provider("TerminateInstances", err)
	}
	metrics.ProviderOpsTotal.WithLabelValues("TerminateInstances", "ok").Inc()

	for _, t := range out.TerminatingInstances {
		g.logger.Info("Instance terminating", map[string]interface{}{
			"instance_id": aws.ToString(t.InstanceId),
			"region":      region,
		})
	}
	return nil
}

func firstInstance(out *ec2.DescribeInstancesOutput) *types.Instance {
	for _, res := range out.Reservations {
		if len(res.Instances) > 0 {
			return &res.Instances[0]
		}
	}
	return nil
}

func snapshot(inst *types.Instance, region string) *models.InstanceInfo {
	info := &models.InstanceInfo{
		InstanceID:   aws.ToString(inst.InstanceId),
		InstanceType: string(inst.InstanceType),
		PublicIP:     aws.ToString(inst.PublicIpAddress),
		PrivateIP:    aws.ToString(inst.PrivateIpAddress),
		LaunchTime:   inst.LaunchTime,
		Region:       region,
	}
	if inst.State != nil {
		info.State = string(inst.State.Name)
	}
	return info
}

// isInstanceNotFound recognizes the provider's codes for an unknown or
// malformed instance id.
func isInstanceNotFound(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		return code == "InvalidInstanceID.NotFound" || code == "InvalidInstanceID.Malformed"
	}
	return strings.Contains(err.Error(), "InvalidInstanceID")
}
