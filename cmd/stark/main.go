package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/stark/pkg/adminapi"
	"github.com/cuemby/stark/pkg/adminclient"
	"github.com/cuemby/stark/pkg/agentnet"
	"github.com/cuemby/stark/pkg/lifecycle"
	"github.com/cuemby/stark/pkg/log"
	"github.com/cuemby/stark/pkg/metrics"
	"github.com/cuemby/stark/pkg/netpolicy"
	"github.com/cuemby/stark/pkg/podgroup"
	"github.com/cuemby/stark/pkg/scheduler"
	"github.com/cuemby/stark/pkg/security"
	"github.com/cuemby/stark/pkg/sessionhub"
	"github.com/cuemby/stark/pkg/signaling"
	"github.com/cuemby/stark/pkg/statestore"
	"github.com/cuemby/stark/pkg/types"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var errResp *adminclient.ErrorResponse
		if errors.As(err, &errResp) {
			os.Exit(errResp.ExitCode())
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "stark",
	Short:   "Stark - lightweight pod orchestrator with peer-to-peer overlay networking",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("stark version %s\ncommit %s\n", Version, Commit))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("manager", "http://127.0.0.1:8080", "Orchestrator admin API address")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(networkCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func adminClientFromFlags(cmd *cobra.Command) *adminclient.Client {
	addr, _ := cmd.Flags().GetString("manager")
	return adminclient.NewClient(addr)
}

// -- server --

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the orchestrator: raft state store, session hub, admin API",
	RunE:  runServer,
}

func init() {
	serverCmd.Flags().String("node-id", "orchestrator-1", "Unique node ID for this raft voter")
	serverCmd.Flags().String("bind-addr", "127.0.0.1:7946", "Raft bind address")
	serverCmd.Flags().String("api-addr", "127.0.0.1:8080", "Admin API and agent session listen address")
	serverCmd.Flags().String("data-dir", "./stark-data", "Data directory for cluster state")
	serverCmd.Flags().String("cluster-id", "stark-dev-cluster", "Cluster ID; derives the CA's secret-encryption key")
	serverCmd.Flags().Duration("scheduler-tick", 2*time.Second, "Scheduler reconciliation tick interval")
	serverCmd.Flags().Duration("podgroup-reap-interval", 10*time.Second, "Ephemeral podgroup membership reap interval")
	serverCmd.Flags().Duration("liveness-check-interval", 5*time.Second, "Node heartbeat-liveness sweep interval")
}

func runServer(cmd *cobra.Command, args []string) error {
	nodeID, _ := cmd.Flags().GetString("node-id")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	apiAddr, _ := cmd.Flags().GetString("api-addr")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	clusterID, _ := cmd.Flags().GetString("cluster-id")
	tick, _ := cmd.Flags().GetDuration("scheduler-tick")
	reapInterval, _ := cmd.Flags().GetDuration("podgroup-reap-interval")
	livenessInterval, _ := cmd.Flags().GetDuration("liveness-check-interval")

	store, err := statestore.New(&statestore.Config{NodeID: nodeID, BindAddr: bindAddr, DataDir: dataDir})
	if err != nil {
		return fmt.Errorf("create state store: %w", err)
	}
	if err := store.Bootstrap(); err != nil {
		return fmt.Errorf("bootstrap raft: %w", err)
	}
	fmt.Printf("stark orchestrator node %s bootstrapped\n", nodeID)

	if err := security.SetClusterEncryptionKey(security.DeriveKeyFromClusterID(clusterID)); err != nil {
		return fmt.Errorf("set cluster encryption key: %w", err)
	}
	ca := security.NewCertAuthority(store.Store())
	if err := ca.LoadFromStore(); err != nil {
		if err := ca.Initialize(); err != nil {
			return fmt.Errorf("initialize CA: %w", err)
		}
		if err := ca.SaveToStore(); err != nil {
			return fmt.Errorf("persist CA: %w", err)
		}
		fmt.Println("root CA initialized")
	}

	broker := store.EventBroker()

	// sessionhub.Hub is built with its pod-status/signaling/podgroup
	// collaborators nil since each of them needs this Hub as their own
	// sender, and Go has no way to construct mutually referential values at
	// once; the Set* methods close the loop once those collaborators exist.
	hub := sessionhub.NewHub(store, store, nil, nil, nil)

	tokenIssuer := &signalingTokenAdapter{store: store}
	lifecycleController := lifecycle.NewController(store, tokenIssuer, hub, broker)
	hub.SetPodStatusHandler(lifecycleController)
	hub.SetQueryResultHandler(podgroup.NewQueryCorrelator())

	policyEngine := netpolicy.NewEngine(store)
	signalingHub := signaling.NewHub(store, store, policyEngine, hub)
	hub.SetSignalRelay(signalingHub)

	groupStore := podgroup.NewStore(broker)
	hub.SetPodGroupRouter(groupStore)
	reaper := podgroup.NewReaper(groupStore, reapInterval)
	reaper.Start()
	defer reaper.Stop()

	sched := scheduler.New(store, lifecycleController, broker, scheduler.Config{TickInterval: tick})
	sched.Start()
	defer sched.Stop()
	fmt.Println("scheduler started")

	liveness := sessionhub.NewLivenessMonitor(store, lifecycleController, livenessInterval, 0, 0)
	liveness.Start()
	defer liveness.Stop()

	hub.SetTargetResolver(agentnet.NewSelector(store))

	admin := adminapi.NewHandler(store, sched)

	collector := metrics.NewCollector(store)
	collector.Start()
	defer collector.Stop()

	metrics.SetVersion(Version)
	metrics.SetCriticalComponents("raft", "sessionhub")
	metrics.RegisterComponent("raft", true, "")
	metrics.RegisterComponent("sessionhub", true, "")

	mux := http.NewServeMux()
	mux.Handle("/agent/ws", hub)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/ready", metrics.ReadyHandler())
	mux.HandleFunc("/live", metrics.LivenessHandler())
	mux.Handle("/", admin.Routes())

	srv := &http.Server{Addr: apiAddr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("admin API + agent session listener on %s\n", apiAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
		fmt.Println("\nshutting down...")
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	return store.Shutdown()
}

// signalingTokenAdapter satisfies pkg/lifecycle's TokenIssuer by minting the
// pod's signaling token twice: once for immediate use, once as the refresh
// token handed alongside it. StateStore only exposes a single-token mint.
type signalingTokenAdapter struct {
	store *statestore.StateStore
}

func (a *signalingTokenAdapter) IssuePodToken(podID string) (podToken, refreshToken string, err error) {
	tok, err := a.store.GenerateSignalingToken(podID)
	if err != nil {
		return "", "", err
	}
	refresh, err := a.store.GenerateSignalingToken(podID)
	if err != nil {
		return "", "", err
	}
	return tok.Token, refresh.Token, nil
}

// -- node --

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage cluster nodes",
}

var nodeRegisterCmd = &cobra.Command{
	Use:   "register NAME",
	Short: "Register a new node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		capabilities, _ := cmd.Flags().GetStringSlice("capability")
		c := adminClientFromFlags(cmd)
		node, err := c.RegisterNode(cmd.Context(), args[0], types.RuntimeServer, capabilities)
		if err != nil {
			return err
		}
		fmt.Printf("node registered: %s (id=%s)\n", node.Name, node.ID)
		return nil
	},
}

var nodeCordonCmd = &cobra.Command{
	Use:   "cordon NODE_ID",
	Short: "Mark a node unschedulable",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClientFromFlags(cmd)
		node, err := c.CordonNode(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("node %s cordoned\n", node.ID)
		return nil
	},
}

var nodeDrainCmd = &cobra.Command{
	Use:   "drain NODE_ID",
	Short: "Drain a node so the scheduler evacuates its pods",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClientFromFlags(cmd)
		node, err := c.DrainNode(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Printf("node %s draining\n", node.ID)
		return nil
	},
}

func init() {
	nodeRegisterCmd.Flags().StringSlice("capability", nil, "Capability tags this node offers")
	nodeCmd.AddCommand(nodeRegisterCmd, nodeCordonCmd, nodeDrainCmd)
}

// -- service --

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage services",
}

var serviceCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		packID, _ := cmd.Flags().GetString("pack")
		packVersion, _ := cmd.Flags().GetString("pack-version")
		replicas, _ := cmd.Flags().GetInt("replicas")
		exposed, _ := cmd.Flags().GetBool("expose")

		c := adminClientFromFlags(cmd)
		svc, err := c.CreateService(cmd.Context(), adminclient.CreateServiceRequest{
			Name:        args[0],
			PackID:      packID,
			PackVersion: packVersion,
			Replicas:    replicas,
			Exposed:     exposed,
			Visibility:  types.VisibilityPrivate,
		})
		if err != nil {
			return err
		}
		fmt.Printf("service created: %s (id=%s, replicas=%d)\n", svc.Name, svc.ID, svc.Replicas)
		return nil
	},
}

var serviceScaleCmd = &cobra.Command{
	Use:   "scale NAME REPLICAS",
	Short: "Change a service's target replica count",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		replicas, err := parseNonNegativeInt(args[1])
		if err != nil {
			return err
		}
		c := adminClientFromFlags(cmd)
		svc, err := c.GetServiceByName(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		updated, err := c.ScaleService(cmd.Context(), svc.ID, replicas)
		if err != nil {
			return err
		}
		fmt.Printf("service %s scaled to %d replicas\n", updated.Name, updated.Replicas)
		return nil
	},
}

var serviceRolloutCmd = &cobra.Command{
	Use:   "rollout NAME PACK_VERSION",
	Short: "Roll a service out to a new pack version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := adminClientFromFlags(cmd)
		svc, err := c.GetServiceByName(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		updated, err := c.RolloutService(cmd.Context(), svc.ID, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("service %s rolling out to %s\n", updated.Name, updated.PackVersion)
		return nil
	},
}

func init() {
	serviceCreateCmd.Flags().String("pack", "", "Pack ID to deploy (required)")
	serviceCreateCmd.Flags().String("pack-version", "", "Pack version to deploy")
	serviceCreateCmd.Flags().Int("replicas", 1, "Initial replica count")
	serviceCreateCmd.Flags().Bool("expose", false, "Expose this service to ingress traffic")
	serviceCmd.AddCommand(serviceCreateCmd, serviceScaleCmd, serviceRolloutCmd)
}

// -- network --

var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "Manage network-policy rules between services",
}

var networkAllowCmd = &cobra.Command{
	Use:   "allow SOURCE TARGET",
	Short: "Allow SOURCE to reach TARGET",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setNetworkPolicy(cmd, args[0], args[1], types.PolicyAllow)
	},
}

var networkDenyCmd = &cobra.Command{
	Use:   "deny SOURCE TARGET",
	Short: "Deny SOURCE from reaching TARGET",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setNetworkPolicy(cmd, args[0], args[1], types.PolicyDeny)
	},
}

func setNetworkPolicy(cmd *cobra.Command, source, target string, action types.PolicyAction) error {
	c := adminClientFromFlags(cmd)
	policy, err := c.SetNetworkPolicy(cmd.Context(), source, target, action)
	if err != nil {
		return err
	}
	fmt.Printf("policy %s: %s -> %s (%s)\n", policy.ID, source, target, policy.Action)
	return nil
}

func init() {
	networkCmd.AddCommand(networkAllowCmd, networkDenyCmd)
}

func parseNonNegativeInt(s string) (int, error) {
	var n int
	if _, err := fmt.Sscanf(s, "%d", &n); err != nil {
		return 0, fmt.Errorf("invalid replica count %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("replica count must be >= 0")
	}
	return n, nil
}
