package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/tvarr/internal/config"
	"github.com/jmylchreest/tvarr/internal/playout/control"
	"github.com/jmylchreest/tvarr/internal/playout/metrics"
	"github.com/jmylchreest/tvarr/internal/playout/mux"
	"github.com/jmylchreest/tvarr/internal/playout/wiring"
	"github.com/jmylchreest/tvarr/internal/version"
)

var (
	serveChannelID   string
	serveMetricsAddr string
)

// serveCmd brings up one channel's PlayoutInstance and its output
// listener: every TCP connection accepted on playout.listen_addr is
// wired as that channel's OutputSink via control.Manager.AttachSink,
// spec.md section 6's "Wire layer: TCP or Unix domain socket". Modeled
// on cmd/tvarr/cmd/serve.go's signal-driven graceful shutdown.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a single channel's playout core",
	Long: `serve starts one PlayoutInstance from the playout config section,
accepts downstream connections on playout.listen_addr, and streams
PCR-paced MPEG-TS to each as an OutputSink until stopped.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveChannelID, "channel-id", "", "channel UUID (generated if omitted)")
	serveCmd.Flags().StringVar(&serveMetricsAddr, "metrics-addr", ":9090", "address to serve Prometheus metrics on")
	serveCmd.Flags().String("listen", "", "address downstream consumers connect to for MPEG-TS output (overrides playout.listen_addr)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	logger := slog.Default()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if !cfg.Playout.Enabled {
		return fmt.Errorf("playout.enabled is false; nothing to serve")
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Playout.ListenAddr = listen
	}
	if cfg.Playout.ListenAddr == "" {
		return fmt.Errorf("playout.listen_addr must be set")
	}

	channelID := uuid.New()
	if serveChannelID != "" {
		id, err := uuid.Parse(serveChannelID)
		if err != nil {
			return fmt.Errorf("parsing --channel-id: %w", err)
		}
		channelID = id
	}

	reg := prometheus.NewRegistry()
	metricsReg := metrics.NewRegistry(reg)
	manager := control.NewManager(metricsReg)

	engineCfg := wiring.EngineConfig(channelID, cfg.Playout)
	engineCfg.BuildStamp = version.Short()
	engineCfg.Logger = logger

	if resp := manager.StartChannelWithConfig(engineCfg); !resp.Success {
		return fmt.Errorf("starting channel: %s", resp.ErrorMessage)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("retrovue-playoutd: received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	metricsServer := &http.Server{Addr: serveMetricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
	go func() {
		logger.Info("retrovue-playoutd: serving metrics", slog.String("addr", serveMetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("retrovue-playoutd: metrics server failed", slog.String("error", err.Error()))
		}
	}()

	ln, err := net.Listen("tcp", cfg.Playout.ListenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Playout.ListenAddr, err)
	}
	logger.Info("retrovue-playoutd: accepting output connections",
		slog.String("channel_id", channelID.String()),
		slog.String("addr", cfg.Playout.ListenAddr))

	go acceptLoop(ctx, ln, logger, func(conn net.Conn) {
		logger.Info("retrovue-playoutd: output connection attached", slog.String("remote", conn.RemoteAddr().String()))
		if err := manager.AttachSink(channelID, mux.NewConnSink(conn)); err != nil {
			logger.Warn("retrovue-playoutd: attach sink failed", slog.String("error", err.Error()))
			conn.Close()
		}
	})

	<-ctx.Done()

	logger.Info("retrovue-playoutd: shutting down")
	_ = ln.Close()
	_ = metricsServer.Close()

	if resp := manager.StopChannel(channelID); !resp.Success {
		return fmt.Errorf("stopping channel: %s", resp.ErrorMessage)
	}
	return nil
}

// acceptLoop accepts connections on ln until ctx is cancelled, handing
// each to handle on its own goroutine. A transient Accept error is
// logged and retried; once ctx is done, Accept's resulting error from
// the closed listener is expected and not logged.
func acceptLoop(ctx context.Context, ln net.Listener, logger *slog.Logger, handle func(net.Conn)) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			logger.Warn("retrovue-playoutd: accept failed", slog.String("error", err.Error()))
			continue
		}
		go handle(conn)
	}
}
