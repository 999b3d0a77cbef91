package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/coordinator"
	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/membership"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/node"
	"github.com/cuemby/fabric/pkg/runtime"
	"github.com/spf13/cobra"
)

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Run a fabric node: agent, membership, and coordinator state",
	Long: `fabric node hosts the Node Agent (C2), participates in peer
discovery and coordinator election (C3), and - while elected - tracks
cluster membership (C4). Every cluster machine runs exactly one.`,
	RunE: runNode,
}

func init() {
	nodeCmd.Flags().Bool("enable-metrics", true, "serve Prometheus metrics")
	nodeCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "address for the metrics HTTP endpoint")
}

func runNode(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner, err := runtime.NewContainerdRunner(cfg.ContainerdSocket, cfg.InferenceImage)
	if err != nil {
		return fmt.Errorf("connect to containerd at %s: %w", cfg.ContainerdSocket, err)
	}
	defer runner.Close()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	agent := node.New(cfg, runner, broker)
	electorate := membership.New(agent)
	sweeper := coordinator.NewSweeper(agent, cfg.ExpiryThreshold(), config.DefaultSweepInterval, broker)

	ln, err := net.Listen("tcp", cfg.MachineIP)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.MachineIP, err)
	}
	defer ln.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := agent.Serve(ctx, ln); err != nil {
			serveErrCh <- err
		}
	}()

	go agent.HeartbeatLoop(ctx, cfg.HeartbeatInterval())
	go sweeper.Run(ctx)

	if cfg.SubnetBase != "" {
		if err := electorate.Bootstrap(ctx, cfg.SubnetBase, [2]int{cfg.HostRangeStart, cfg.HostRangeEnd}, cfg.Port); err != nil {
			log.Logger.Warn().Err(err).Msg("node bootstrap discovery failed, starting as sole member")
		}
	}

	collector := metrics.NewCollector(agent)
	collector.Start()
	defer collector.Stop()
	metrics.RegisterComponent("node", true, "")

	if enableMetrics, _ := cmd.Flags().GetBool("enable-metrics"); enableMetrics {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		go serveMetrics(metricsAddr)
	}

	log.Logger.Info().Str("identity", agent.Identity()).Str("listen", cfg.MachineIP).Msg("fabric node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-serveErrCh:
		log.Logger.Error().Err(err).Msg("serve loop exited")
	}

	agent.Shutdown()
	cancel()
	return nil
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/health", metrics.HealthHandler())
	mux.HandleFunc("/livez", metrics.LivenessHandler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Logger.Warn().Err(err).Msg("metrics server exited")
	}
}
