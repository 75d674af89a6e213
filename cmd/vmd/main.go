package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/vmdemo/vm-provisioner/pkg/api"
	"github.com/vmdemo/vm-provisioner/pkg/cloud"
	"github.com/vmdemo/vm-provisioner/pkg/config"
	"github.com/vmdemo/vm-provisioner/pkg/logging"
	"github.com/vmdemo/vm-provisioner/pkg/metrics"
	"github.com/vmdemo/vm-provisioner/pkg/service"
	"github.com/vmdemo/vm-provisioner/pkg/shutdown"
	"github.com/vmdemo/vm-provisioner/pkg/store"
)

func main() {
	var (
		cfgFile     = flag.String("config", "", "Path to config file (optional)")
		port        = flag.Int("port", 0, "API port (overrides config)")
		metricsPort = flag.Int("metrics-port", 0, "Metrics port (overrides config)")
		dbType      = flag.String("db-type", "", "Database type: sqlite, postgres or memory")
		dbPath      = flag.String("db-path", "", "SQLite database path")
		dbDSN       = flag.String("db-dsn", "", "PostgreSQL DSN")
		logLevel    = flag.String("log-level", "", "Log level: debug, info, warn, error")
		logJSON     = flag.Bool("log-json", false, "Log in JSON format")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Flags win over environment and file
	if *port != 0 {
		cfg.Port = *port
	}
	if *metricsPort != 0 {
		cfg.MetricsPort = *metricsPort
	}
	if *dbType != "" {
		cfg.DBType = *dbType
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *dbDSN != "" {
		cfg.DBDSN = *dbDSN
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *logJSON {
		cfg.LogJSON = true
	}

	logger, err := logging.NewFileLogger("vmd", logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	if err != nil {
		logger = logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
		logger.Warn("File logging unavailable, using stdout", map[string]interface{}{"error": err.Error()})
	}

	st, err := store.NewStore(store.Config{
		Type: cfg.DBType,
		Path: cfg.DBPath,
		DSN:  cfg.DBDSN,
	})
	if err != nil {
		logger.Fatal("Failed to initialize store", map[string]interface{}{"error": err.Error()})
	}

	gateway := cloud.NewGateway(cloud.Settings{
		Region:          cfg.Region,
		AccessKey:       cfg.AccessKey,
		SecretKey:       cfg.SecretKey,
		AMIID:           cfg.AMIID,
		SecurityGroupID: cfg.SecurityGroupID,
		SubnetID:        cfg.SubnetID,
	}, logger)

	svc := service.NewVMService(st, gateway, logger)
	server := api.NewServer(svc, st, logger)

	apiServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      server.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.NewExporter(st))
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	mgr := shutdown.New(30 * time.Second)
	mgr.Register(shutdown.CloseResource(st, "store"))
	mgr.Register(shutdown.CloseResource(logger, "logger"))
	mgr.Register(shutdown.StopHTTPServer(metricsServer, "metrics"))
	mgr.Register(shutdown.StopHTTPServer(apiServer, "api"))

	go func() {
		logger.Info("Metrics server listening", map[string]interface{}{"port": cfg.MetricsPort})
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	go func() {
		logger.Info("API server listening", map[string]interface{}{"port": cfg.Port})
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("API server failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	mgr.Wait()
	mgr.Shutdown()
}
