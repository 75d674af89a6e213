// Package config loads service configuration from environment variables and
// an optional config file. Provider settings are loaded here but validated
// lazily by the gateway at first use, so the service can boot without AWS
// credentials and still serve catalog reads.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all vmd settings.
type Config struct {
	// HTTP
	Port        int `mapstructure:"port"`
	MetricsPort int `mapstructure:"metrics_port"`

	// Catalog database
	DBType string `mapstructure:"db_type"`
	DBPath string `mapstructure:"db_path"`
	DBDSN  string `mapstructure:"db_dsn"`

	// Provider defaults
	Region          string `mapstructure:"region"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	AMIID           string `mapstructure:"ami_id"`
	SecurityGroupID string `mapstructure:"security_group_id"`
	SubnetID        string `mapstructure:"subnet_id"`

	// Logging
	LogLevel string `mapstructure:"log_level"`
	LogJSON  bool   `mapstructure:"log_json"`
}

// Load reads configuration from the environment and, when cfgFile is
// non-empty, from a YAML config file. Environment variables win over the
// file; both lose to explicit flags applied by the caller afterwards.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", 3000)
	v.SetDefault("metrics_port", 9090)
	v.SetDefault("db_type", "sqlite")
	v.SetDefault("db_path", "vms.db")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)

	// REGION, ACCESS_KEY, SECRET_KEY, AMI_ID, SECURITY_GROUP_ID, SUBNET_ID
	// plus PORT, DB_TYPE etc. map straight onto the keys above.
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{
		"port", "metrics_port", "db_type", "db_path", "db_dsn",
		"region", "access_key", "secret_key", "ami_id",
		"security_group_id", "subnet_id", "log_level", "log_json",
	} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind env %s: %w", key, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
