package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc/credentials"

	"github.com/artemis/flowmod/internal/checkpointid"
	"github.com/artemis/flowmod/internal/config"
	"github.com/artemis/flowmod/internal/coordinator"
	"github.com/artemis/flowmod/internal/observability"
	"github.com/artemis/flowmod/internal/server"
	"github.com/artemis/flowmod/internal/slotpool"
	"github.com/artemis/flowmod/internal/taskmanager"
	"github.com/artemis/flowmod/internal/topology"
	"github.com/artemis/flowmod/internal/transport"
	"github.com/artemis/flowmod/internal/wire"
)

// credentialsFromTLSConfig adapts a *tls.Config into grpc's credentials
// interface, shared by both the coordinator's server side and the task
// manager's client side.
func credentialsFromTLSConfig(cfg *tls.Config) credentials.TransportCredentials {
	return credentials.NewTLS(cfg)
}

// inboundProxy breaks the construction cycle between transport.NewServer
// (which needs an Inbound immediately) and coordinator.NewIntake (which
// needs a Restart that itself needs the gateway built from that same
// transport.Server). intake is set once, after every collaborator in the
// cycle exists; every method is only ever called after that point.
type inboundProxy struct {
	intake *coordinator.Intake
}

func (p *inboundProxy) Acknowledge(ctx context.Context, modID topology.ModificationID, attemptID topology.ExecutionAttemptID) (coordinator.AckResult, bool) {
	return p.intake.Acknowledge(ctx, modID, attemptID)
}

func (p *inboundProxy) Decline(modID topology.ModificationID, attemptID topology.ExecutionAttemptID, reason string) {
	p.intake.Decline(modID, attemptID, reason)
}

func (p *inboundProxy) Ignore(modID topology.ModificationID, attemptID topology.ExecutionAttemptID) {
	p.intake.Ignore(modID, attemptID)
}

func (p *inboundProxy) StateMigration(ctx context.Context, attemptID topology.ExecutionAttemptID, blob []byte) error {
	return p.intake.StateMigration(ctx, attemptID, blob)
}

var (
	cfgFile string
	logger  *observability.Logger
	cfg     *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "flowmod",
	Short: "Live modification coordinator for a running streaming dataflow",
	Long: `flowmod lets an operator rescale, migrate, or pause the operators of a
running streaming dataflow without a full job restart.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var err error
		logger, err = observability.NewLogger("info")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}

		cfg, err = config.LoadConfig(cfgFile)
		if err != nil {
			logger.Error("failed to load config", zap.Error(err))
			os.Exit(1)
		}

		if cfg.LogLevel != "" {
			logger, err = observability.NewLogger(cfg.LogLevel)
			if err != nil {
				logger.Warn("failed to set log level, using default", zap.Error(err))
			}
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run as the coordinator",
	Long:  "Start flowmod as the coordinator: control-plane gRPC server, modification state machine, and diagnostics HTTP surface",
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCoordinator(cmd, args); err != nil {
			logger.Error("coordinator exited with error", zap.Error(err))
			os.Exit(1)
		}
	},
}

// reportCheckpointGauge mirrors the checkpoint id counter into the
// Prometheus gauge, since checkpointid.Counter itself has no metrics
// dependency.
func reportCheckpointGauge(ctx context.Context, ckpts *checkpointid.Counter, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			observability.SetCheckpointIDCurrent(ckpts.GetCurrent())
		}
	}
}

func runCoordinator(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg.Role = config.RoleCoordinator
	coordCfg := cfg.GetCoordinatorConfig()

	jobID := topology.NewID()
	graph := topology.NewGraph(jobID)

	metrics := observability.NewMetrics()
	slots := slotpool.New(logger.Logger)
	ckpts := checkpointid.New(coordCfg.CheckpointInterval, logger.Logger)
	ckpts.Run(ctx)
	go reportCheckpointGauge(ctx, ckpts, coordCfg.CheckpointInterval)

	registry := coordinator.NewRegistry(jobID, coordCfg.Deadline, logger.Logger, metrics, slots)

	certManager, err := transport.NewCertManager(logger.Logger, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize transport identity: %w", err)
	}
	trust := transport.NewTrustStore()
	for _, peer := range cfg.ListTrustedPeers() {
		trust.Add(peer.Fingerprint)
	}

	tlsConfig, err := certManager.ServerTLSConfig(trust)
	if err != nil {
		return fmt.Errorf("failed to build server TLS config: %w", err)
	}

	proxy := &inboundProxy{}
	grpcServer := transport.NewServer(proxy, credentialsFromTLSConfig(tlsConfig), logger.Logger)
	grpcServer.OnRegister(func(location topology.TaskManagerLocation, slotCapacity int) {
		slots.Register(location, slotCapacity)
		observability.SetConnectedTaskManagers(len(slots.Snapshot()))
	})
	grpcServer.OnDisconnect(func(id topology.ID) {
		slots.Unregister(id)
		observability.SetConnectedTaskManagers(len(slots.Snapshot()))
	})

	gateway := transport.NewGateway(grpcServer, graph)
	restart := coordinator.NewRestart(registry, graph, gateway, logger.Logger)
	trigger := coordinator.NewTrigger(registry, graph, slots, ckpts, gateway, logger.Logger)
	proxy.intake = coordinator.NewIntake(registry, restart, logger.Logger)

	healthChecker := observability.NewHealthChecker()
	healthChecker.RegisterCheck("control_plane", observability.ControlPlaneHealthCheck(func(ctx context.Context) error {
		return nil
	}))
	go healthChecker.StartPeriodicChecks(ctx, 10*time.Second)

	httpServer := server.NewServer(cfg, registry, graph, healthChecker, logger)
	httpServer.SetTrigger(trigger)
	registry.SetEventSink(httpServer)

	go func() {
		if err := grpcServer.Serve(cfg.GRPCAddr); err != nil {
			logger.Error("control plane server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
		ckpts.Stop()
		grpcServer.GracefulStop()
		httpServer.Stop()
	}()

	logger.Info("starting flowmod coordinator",
		zap.String("job_id", jobID.String()),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("grpc_addr", cfg.GRPCAddr),
	)

	if err := httpServer.Start(); err != nil {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

var taskManagerCmd = &cobra.Command{
	Use:   "taskmanager",
	Short: "Run as a task manager",
	Long:  "Start flowmod as a task manager, connecting to a coordinator's control plane and hosting local subtasks",
	Run: func(cmd *cobra.Command, args []string) {
		coordinatorAddr, _ := cmd.Flags().GetString("coordinator-addr")
		name, _ := cmd.Flags().GetString("name")
		capacity, _ := cmd.Flags().GetInt("capacity")

		if coordinatorAddr == "" {
			fmt.Fprintln(os.Stderr, "Error: --coordinator-addr is required")
			os.Exit(1)
		}

		cfg.Role = config.RoleTaskManager
		tmCfg := cfg.GetTaskManagerConfig()
		tmCfg.CoordinatorAddr = coordinatorAddr
		tmCfg.Name = name
		tmCfg.SlotCapacity = capacity

		if err := runTaskManager(cmd, args); err != nil {
			logger.Error("task manager exited with error", zap.Error(err))
			os.Exit(1)
		}
	},
}

func runTaskManager(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tmCfg := cfg.GetTaskManagerConfig()

	name := tmCfg.Name
	if name == "" {
		hostname, err := os.Hostname()
		if err != nil {
			name = "taskmanager-" + topology.NewID().String()[:8]
		} else {
			name = hostname
		}
	}

	certManager, err := transport.NewCertManager(logger.Logger, cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize transport identity: %w", err)
	}
	trust := transport.NewTrustStore()
	for _, peer := range cfg.ListTrustedPeers() {
		trust.Add(peer.Fingerprint)
	}
	tlsConfig, err := certManager.ClientTLSConfig(trust)
	if err != nil {
		return fmt.Errorf("failed to build client TLS config: %w", err)
	}

	id := topology.NewID()
	location := topology.TaskManagerLocation{TaskManagerID: id, Host: name, GRPCPort: 0}

	client, err := transport.DialTimeout(tmCfg.CoordinatorAddr, 30*time.Second, credentialsFromTLSConfig(tlsConfig), wire.RegisterTaskManager{
		TaskManagerID: id.String(),
		Host:          name,
		GRPCPort:      0,
		SlotCapacity:  tmCfg.SlotCapacity,
	}, logger.Logger)
	if err != nil {
		return fmt.Errorf("failed to connect to coordinator: %w", err)
	}
	defer client.Close()

	tm := taskmanager.New(id, location, client, logger.Logger)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("received shutdown signal")
		cancel()
	}()

	logger.Info("connected to coordinator, serving downlink commands",
		zap.String("task_manager_id", id.String()),
		zap.String("coordinator_addr", tmCfg.CoordinatorAddr),
	)

	return tm.Serve(ctx)
}

var modifyCmd = &cobra.Command{
	Use:   "modify",
	Short: "Trigger a live modification against a running coordinator",
}

var modifyPauseCmd = &cobra.Command{
	Use:   "pause [operator-name]",
	Short: "Pause every subtask of an operator",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		result, err := postAdmin(adminAddr, "/api/modify/pause", map[string]string{"operator_name": args[0]})
		printAdminResult(result, err)
	},
}

var modifyMigrateCmd = &cobra.Command{
	Use:   "migrate [task-manager-id]",
	Short: "Migrate every subtask off one task manager",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		result, err := postAdmin(adminAddr, "/api/modify/migrate", map[string]string{"task_manager_id": args[0]})
		printAdminResult(result, err)
	},
}

var modifyRescaleCmd = &cobra.Command{
	Use:   "rescale [vertex-id]",
	Short: "Pause and redeploy one vertex onto freshly allocated slots",
	Long: `Pause and redeploy one vertex onto freshly allocated slots.

flowmod does not separately track a per-vertex parallelism count; rescaling
a vertex here means pausing it and letting the restart engine's own slot
selection place its replacement, which is also how a plain pause behaves.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		result, err := postAdmin(adminAddr, "/api/modify/pause-vertex", map[string]string{"vertex_id": args[0]})
		printAdminResult(result, err)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report the coordinator's current health and pending modification count",
	Run: func(cmd *cobra.Command, args []string) {
		adminAddr, _ := cmd.Flags().GetString("admin-addr")
		resp, err := http.Get(fmt.Sprintf("http://%s/api/status", adminAddr))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		fmt.Println(string(body))
	},
}

// postAdmin issues a POST to one of the coordinator's admin mutation
// routes and returns its decoded JSON body.
func postAdmin(addr, path string, body map[string]string) (map[string]interface{}, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(fmt.Sprintf("http://%s%s", addr, path), "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("request to coordinator failed: %w", err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode coordinator response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return result, fmt.Errorf("coordinator rejected request: %v", result["error"])
	}
	return result, nil
}

func printAdminResult(result map[string]interface{}, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	encoded, _ := json.MarshalIndent(result, "", "  ")
	fmt.Println(string(encoded))
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.flowmod/config.json)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(taskManagerCmd)
	rootCmd.AddCommand(modifyCmd)
	rootCmd.AddCommand(statusCmd)

	taskManagerCmd.Flags().String("coordinator-addr", "", "Coordinator gRPC control-plane address (required)")
	taskManagerCmd.Flags().String("name", "", "Task manager name (defaults to hostname)")
	taskManagerCmd.Flags().Int("capacity", 4, "Number of subtask slots this task manager offers")

	modifyCmd.AddCommand(modifyPauseCmd)
	modifyCmd.AddCommand(modifyMigrateCmd)
	modifyCmd.AddCommand(modifyRescaleCmd)

	modifyCmd.PersistentFlags().String("admin-addr", "localhost:8080", "Coordinator diagnostics/admin HTTP address")
	statusCmd.Flags().String("admin-addr", "localhost:8080", "Coordinator diagnostics/admin HTTP address")
}
