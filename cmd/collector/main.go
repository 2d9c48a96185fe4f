// Command collector runs the trusted-side half of the entropy pipeline:
// it polls the configured QRNG sources, mixes their output, packs it into
// signed Entropy Packets, and pushes them across the data diode to the
// Gateway. It has no public network presence, only a loopback-only
// liveness endpoint and outbound pushes to the Gateway.
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
	"github.com/qrng-diode/qrng-diode/internal/collector"
	"github.com/qrng-diode/qrng-diode/internal/config"
	"github.com/qrng-diode/qrng-diode/internal/entropy"
	"github.com/qrng-diode/qrng-diode/internal/fetcher"
	"github.com/qrng-diode/qrng-diode/internal/metrics"
	"github.com/qrng-diode/qrng-diode/internal/mixer"
	"github.com/qrng-diode/qrng-diode/internal/packer"
	"github.com/qrng-diode/qrng-diode/internal/protocol"
	"github.com/qrng-diode/qrng-diode/internal/pusher"
)

func main() {
	root := &cobra.Command{
		Use:   "collector",
		Short: "Polls QRNG sources and pushes signed entropy packets to the Gateway",
		RunE:  run,
	}
	config.BindCollectorFlags(root)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	logger, err := bootstrap.BuildLogger("collector", "collector")
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg, err := config.LoadCollector(viper.GetViper())
	if err != nil {
		return err
	}
	if len(cfg.Sources) == 0 {
		return fmt.Errorf("collector: no sources configured")
	}
	if cfg.PushSecret == "" {
		return fmt.Errorf("collector: push-secret is required")
	}

	strategy, err := mixer.ParseStrategy(cfg.MixerStrategy)
	if err != nil {
		return err
	}

	ctx, cancel := bootstrap.Context()
	defer cancel()

	sources := make([]*entropy.Source, 0, len(cfg.Sources))
	chunkCh := make(chan entropy.RawChunk, len(cfg.Sources)*2)
	for _, sc := range cfg.Sources {
		source := &entropy.Source{
			ID:        sc.ID,
			Endpoint:  sc.Endpoint,
			Period:    sc.Period,
			ChunkSize: sc.ChunkSize,
			Weight:    sc.Weight,
		}
		sources = append(sources, source)
		f := fetcher.New(source, chunkCh, logger.With(zap.String("source_id", sc.ID)))
		go f.Run(ctx)
	}

	accumulator := buffer.New(cfg.AccumulatorCapacity, buffer.PolicyBackpressure)
	go metrics.SampleRing(ctx, "accumulator", accumulator, metricsSampleInterval)

	p := pusher.New(pusher.Config{
		PushURL:          cfg.PushURL,
		RequestTimeout:   cfg.PushTimeout,
		MaxAttempts:      cfg.PushMaxAttempts,
		BreakerThreshold: cfg.BreakerThreshold,
		BreakerReset:     cfg.BreakerResetTimeout,
	}, logger)

	pk := packer.New(packer.Config{
		PushInterval:  cfg.PackerPushInterval,
		BatchSize:     cfg.PackerBatchSize,
		HighWaterMark: cfg.PackerHighWaterMark,
		Secret:        []byte(cfg.PushSecret),
	}, accumulator, func(pkt *protocol.Packet) {
		if err := p.Push(ctx, pkt); err != nil {
			logger.Warn("failed to push packet", zap.Uint64("sequence", pkt.Sequence), zap.Error(err))
		}
	}, logger)
	go pk.Run(ctx)

	// The mixing deadline is the shortest configured source period: a
	// window should never wait longer than the fastest source's own poll
	// cadence before giving up on the slower ones.
	mixingDeadline := shortestPeriod(sources)
	assembler := collector.New(sources, strategy, accumulator, chunkCh, mixingDeadline, pk, logger)
	go assembler.Run(ctx)

	go bootstrap.ServeHealth(ctx, logger, cfg.HealthzAddr, healthzHandler())

	bootstrap.LogStartup(logger, "collector", cfg.HealthzAddr)
	<-ctx.Done()
	logger.Info("collector shutting down")
	accumulator.Close()
	return nil
}

const metricsSampleInterval = 5 * time.Second

func shortestPeriod(sources []*entropy.Source) time.Duration {
	shortest := sources[0].Period
	for _, s := range sources[1:] {
		if s.Period < shortest {
			shortest = s.Period
		}
	}
	return shortest
}

// healthzHandler serves the Collector's loopback-only liveness endpoint:
// 200 once the process is up, since a cold process with no fetch cycles
// yet is still "alive" in the sense a local operator probe cares about.
func healthzHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}
