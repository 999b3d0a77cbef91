package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/fabric/pkg/config"
	"github.com/cuemby/fabric/pkg/events"
	"github.com/cuemby/fabric/pkg/gateway"
	"github.com/cuemby/fabric/pkg/log"
	"github.com/cuemby/fabric/pkg/metrics"
	"github.com/cuemby/fabric/pkg/placement"
	"github.com/cuemby/fabric/pkg/pool"
	"github.com/cuemby/fabric/pkg/sink"
	"github.com/cuemby/fabric/pkg/taskmanager"
	"github.com/spf13/cobra"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run a fabric gateway: front-end, task manager, and placement/sink clients",
	Long: `fabric gateway is the client-facing half of the fabric: it accepts
job submissions over its front-end listener (C7), splits and dispatches
them as sub-tasks (C6), asks the external placement oracle where each
sub-task should run (C5), and ships finished artifacts to the archival
sink (C8).`,
	RunE: runGateway,
}

func init() {
	gatewayCmd.Flags().Duration("dial-timeout", 5*time.Second, "dial timeout for node, placement, and sink connections")
	gatewayCmd.Flags().Bool("enable-metrics", true, "serve Prometheus metrics")
	gatewayCmd.Flags().String("metrics-addr", "127.0.0.1:9091", "address for the metrics HTTP endpoint")
}

func runGateway(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	if configPath == "" {
		return fmt.Errorf("--config is required")
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	dialTimeout, _ := cmd.Flags().GetDuration("dial-timeout")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	connPool := pool.New(dialTimeout)
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	placementClient := placement.New(cfg.AlgIP, dialTimeout)
	sinkClient := sink.New(fmt.Sprintf("%s:%d", cfg.SinkIP, cfg.SinkPort), dialTimeout, cfg.ArchivalRetries)

	manager := taskmanager.New(ctx, cfg, placementClient, connPool, broker, sinkClient)
	defer manager.Shutdown()

	gw := gateway.New(cfg.MachineIP, manager, connPool, broker)

	listenAddr := fmt.Sprintf("%s:%d", cfg.UIIP, cfg.UIPort)
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listenAddr, err)
	}
	defer ln.Close()

	serveErrCh := make(chan error, 1)
	go func() {
		if err := gw.Serve(ctx, ln); err != nil {
			serveErrCh <- err
		}
	}()

	metrics.RegisterComponent("gateway", true, "")

	if enableMetrics, _ := cmd.Flags().GetBool("enable-metrics"); enableMetrics {
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		go serveMetrics(metricsAddr)
	}

	log.Logger.Info().Str("listen", listenAddr).Str("node", cfg.MachineIP).Msg("fabric gateway started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Logger.Info().Msg("shutting down")
	case err := <-serveErrCh:
		log.Logger.Error().Err(err).Msg("serve loop exited")
	}

	cancel()
	return nil
}
