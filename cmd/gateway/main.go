// Command gateway runs the untrusted-side half of the entropy pipeline:
// it accepts signed pushes from the Collector across the data diode,
// holds admitted entropy in the Distribution Buffer, and serves it out to
// API/AI-agent consumers over HTTP and the Model Context Protocol bridge.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/qrng-diode/qrng-diode/internal/bootstrap"
	"github.com/qrng-diode/qrng-diode/internal/buffer"
	"github.com/qrng-diode/qrng-diode/internal/config"
	"github.com/qrng-diode/qrng-diode/internal/gateway/api"
	"github.com/qrng-diode/qrng-diode/internal/gateway/receiver"
	"github.com/qrng-diode/qrng-diode/internal/mcp"
	"github.com/qrng-diode/qrng-diode/internal/metrics"
	"github.com/qrng-diode/qrng-diode/internal/ratelimit"
	"github.com/qrng-diode/qrng-diode/internal/watermark"
)

const metricsSampleInterval = 5 * time.Second

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Serves admitted entropy to API and MCP consumers",
		RunE:  run,
	}
	config.BindGatewayFlags(root)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := bootstrap.BuildLogger("gateway", "gateway")
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg := config.LoadGateway(viper.GetViper())
	if cfg.PushSecret == "" {
		return fmt.Errorf("gateway: push-secret is required")
	}

	policy, err := buffer.ParsePolicy(cfg.DistributionPolicy)
	if err != nil {
		return err
	}

	ctx, cancel := bootstrap.Context()
	defer cancel()

	dist := buffer.New(cfg.DistributionCapacity, policy)
	go metrics.SampleRing(ctx, "distribution", dist, metricsSampleInterval)
	wm := watermark.New(0)

	recv := receiver.New(receiver.Config{
		Secret:             []byte(cfg.PushSecret),
		TTL:                cfg.PushTTL,
		ClockSkewTolerance: cfg.PushClockSkewTolerance,
	}, dist, wm, logger.Named("receiver"))

	rateCfg := ratelimit.Config{
		Capacity:      cfg.RateLimitCapacity,
		RefillRate:    cfg.RateLimitRefillRate,
		MaxPrincipals: cfg.RateLimitMaxPrincipals,
	}

	router := api.New(api.Config{
		Principals:                    cfg.Principals,
		RateLimit:                     rateCfg,
		MinHealthyFillPercent:         cfg.MinHealthyFillPercent,
		MetricsPublic:                 cfg.MetricsPublic,
		InsufficientEntropyRetryAfter: cfg.InsufficientEntropyRetryAfter,
	}, dist, logger.Named("api"))

	pushMux := http.NewServeMux()
	pushMux.Handle("/push", recv)
	go bootstrap.ServeHealth(ctx, logger, cfg.PushListenAddr, pushMux)
	bootstrap.LogStartup(logger, "gateway push receiver", cfg.PushListenAddr)

	if cfg.MCPEnabled {
		var mcpLimiter *ratelimit.Limiter
		if cfg.MCPSharedRateLimit {
			mcpLimiter = ratelimit.New(rateCfg)
		}
		dispatcher := mcp.New(mcp.Config{
			SharedRateLimit: cfg.MCPSharedRateLimit,
			Credential:      "mcp-bridge",
		}, dist, mcpLimiter, logger.Named("mcp"))

		if cfg.MCPListenAddr != "" {
			mcpMux := http.NewServeMux()
			mcpMux.HandleFunc("/mcp", dispatcher.ServeHTTP)
			go bootstrap.ServeHealth(ctx, logger, cfg.MCPListenAddr, mcpMux)
			bootstrap.LogStartup(logger, "gateway mcp bridge", cfg.MCPListenAddr)
		} else {
			go func() {
				if err := dispatcher.ServeStdio(os.Stdin, os.Stdout); err != nil {
					logger.Error("mcp stdio transport stopped", zap.Error(err))
				}
			}()
		}
	}

	bootstrap.LogStartup(logger, "gateway api", cfg.ListenAddr)
	server := &http.Server{Addr: cfg.ListenAddr, Handler: router.Handler()}
	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("gateway api stopped", zap.Error(err))
	}

	logger.Info("gateway shutting down")
	dist.Close()
	return nil
}
