// Package config binds the Collector and Gateway's settings through
// Viper, the way cli.AddClusterFlags/AddServiceFlags bound the teacher's
// flags: every setting is a Cobra flag with a Viper default and an
// environment variable override, so flags, env vars, and defaults all
// resolve through one *viper.Viper.
package config

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Collector holds every setting the Collector process needs.
type Collector struct {
	Sources             []SourceConfig
	MixerStrategy       string
	AccumulatorCapacity int
	PackerBatchSize     int
	PackerHighWaterMark int
	PackerPushInterval  time.Duration
	PushURL             string
	PushSecret          string
	PushTimeout         time.Duration
	PushMaxAttempts     uint64
	BreakerThreshold    uint32
	BreakerResetTimeout time.Duration
	QuarantineThreshold int
	HealthzAddr         string
}

// SourceConfig describes one configured entropy source.
type SourceConfig struct {
	ID        string
	Endpoint  string
	Period    time.Duration
	ChunkSize int
	Weight    float64
}

// Gateway holds every setting the Gateway process needs.
type Gateway struct {
	ListenAddr             string
	PushListenAddr         string
	PushSecret             string
	PushTTL                time.Duration
	PushClockSkewTolerance time.Duration
	DistributionCapacity   int
	DistributionPolicy     string
	Principals             []string
	RateLimitCapacity      int
	RateLimitRefillRate    float64
	RateLimitMaxPrincipals int
	MinHealthyFillPercent  float64
	MetricsPublic                 bool
	InsufficientEntropyRetryAfter time.Duration
	MCPEnabled                    bool
	MCPSharedRateLimit            bool
	MCPListenAddr                 string
}

// BindCollectorFlags registers the Collector's flags on root and binds
// each into viper with a QRNG_COLLECTOR_-prefixed environment override,
// mirroring cli.AddServiceFlags's flag-then-viper.BindPFlag pairing.
func BindCollectorFlags(root *cobra.Command) {
	v := viper.GetViper()
	v.SetEnvPrefix("QRNG_COLLECTOR")
	v.AutomaticEnv()

	flags := root.Flags()
	flags.String("mixer-strategy", "none", "mixer strategy: none, xor, hkdf")
	flags.Int("accumulator-capacity", 1<<20, "accumulator buffer capacity in bytes")
	flags.Int("packer-batch-size", 4096, "max bytes per packed entropy packet")
	flags.Int("packer-high-water-mark", 1<<19, "accumulator fill level that triggers an immediate flush")
	flags.Duration("packer-push-interval", 5*time.Second, "maximum time between packet flushes")
	flags.String("push-url", "", "Gateway push receiver URL")
	flags.String("push-secret", "", "shared HMAC signing secret")
	flags.Duration("push-timeout", 10*time.Second, "per-attempt push request timeout")
	flags.Uint64("push-max-attempts", 5, "maximum push retry attempts before giving up on a packet")
	flags.Uint32("breaker-threshold", 5, "consecutive push failures before the circuit opens")
	flags.Duration("breaker-reset-timeout", 30*time.Second, "time before an open circuit allows a trial push")
	flags.Int("quarantine-threshold", 5, "consecutive fetch failures before a source is quarantined (not read by the fetcher, which always applies fetcher.QuarantineThreshold = 5)")
	flags.String("healthz-addr", "127.0.0.1:9100", "loopback-only liveness listener address")

	bindAll(v, flags)
}

// BindGatewayFlags registers the Gateway's flags on root, env-prefixed
// QRNG_GATEWAY_.
func BindGatewayFlags(root *cobra.Command) {
	v := viper.GetViper()
	v.SetEnvPrefix("QRNG_GATEWAY")
	v.AutomaticEnv()

	flags := root.Flags()
	flags.String("listen-addr", ":8443", "Request Router listen address")
	flags.String("push-listen-addr", ":8444", "Push Receiver listen address")
	flags.String("push-secret", "", "shared HMAC signing secret")
	flags.Duration("push-ttl", 5*time.Minute, "maximum packet age before rejection as stale")
	flags.Duration("push-clock-skew-tolerance", 60*time.Second, "maximum future-dated packet timestamp tolerated")
	flags.Int("distribution-capacity", 8<<20, "distribution buffer capacity in bytes")
	flags.String("distribution-policy", "discard-new", "distribution buffer overflow policy: discard-new, evict-oldest")
	flags.StringSlice("principals", []string{}, "known API credentials")
	flags.Int("rate-limit-capacity", 100, "token bucket capacity per principal")
	flags.Float64("rate-limit-refill-rate", 10, "token bucket refill rate per second")
	flags.Int("rate-limit-max-principals", 10000, "maximum distinct rate-limited principals held in memory")
	flags.Float64("min-healthy-fill-percent", 10, "minimum distribution buffer fill percent reported healthy")
	flags.Bool("metrics-public", true, "serve /metrics without authentication")
	flags.Duration("insufficient-entropy-retry-after", 2*time.Second, "Retry-After hint returned on insufficient entropy")
	flags.Bool("mcp-enabled", true, "enable the MCP bridge")
	flags.Bool("mcp-shared-rate-limit", true, "meter the MCP bridge through its own limiter built with the Gateway's rate-limit settings")
	flags.String("mcp-listen-addr", ":8445", "MCP bridge HTTP listen address")

	bindAll(v, flags)
}

func bindAll(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
	})
}

// LoadCollector reads a bound *viper.Viper into a Collector config.
// Sources are read from the "sources" key (a config-file-only setting:
// there is no idiomatic way to express a list of structured records as
// flags, so per-source configuration always comes from a config file or
// equivalent Viper-supported source, never from the flag set).
func LoadCollector(v *viper.Viper) (Collector, error) {
	var sources []SourceConfig
	if err := v.UnmarshalKey("sources", &sources); err != nil {
		return Collector{}, err
	}

	return Collector{
		Sources:             sources,
		MixerStrategy:       v.GetString("mixer-strategy"),
		AccumulatorCapacity: v.GetInt("accumulator-capacity"),
		PackerBatchSize:     v.GetInt("packer-batch-size"),
		PackerHighWaterMark: v.GetInt("packer-high-water-mark"),
		PackerPushInterval:  v.GetDuration("packer-push-interval"),
		PushURL:             v.GetString("push-url"),
		PushSecret:          v.GetString("push-secret"),
		PushTimeout:         v.GetDuration("push-timeout"),
		PushMaxAttempts:     v.GetUint64("push-max-attempts"),
		BreakerThreshold:    uint32(v.GetUint("breaker-threshold")),
		BreakerResetTimeout: v.GetDuration("breaker-reset-timeout"),
		QuarantineThreshold: v.GetInt("quarantine-threshold"),
		HealthzAddr:         v.GetString("healthz-addr"),
	}, nil
}

// LoadGateway reads a bound *viper.Viper into a Gateway config.
func LoadGateway(v *viper.Viper) Gateway {
	return Gateway{
		ListenAddr:                    v.GetString("listen-addr"),
		PushListenAddr:                v.GetString("push-listen-addr"),
		PushSecret:                    v.GetString("push-secret"),
		PushTTL:                       v.GetDuration("push-ttl"),
		PushClockSkewTolerance:        v.GetDuration("push-clock-skew-tolerance"),
		DistributionCapacity:          v.GetInt("distribution-capacity"),
		DistributionPolicy:            v.GetString("distribution-policy"),
		Principals:                    v.GetStringSlice("principals"),
		RateLimitCapacity:             v.GetInt("rate-limit-capacity"),
		RateLimitRefillRate:           v.GetFloat64("rate-limit-refill-rate"),
		RateLimitMaxPrincipals:        v.GetInt("rate-limit-max-principals"),
		MinHealthyFillPercent:         v.GetFloat64("min-healthy-fill-percent"),
		MetricsPublic:                 v.GetBool("metrics-public"),
		InsufficientEntropyRetryAfter: v.GetDuration("insufficient-entropy-retry-after"),
		MCPEnabled:                    v.GetBool("mcp-enabled"),
		MCPSharedRateLimit:            v.GetBool("mcp-shared-rate-limit"),
		MCPListenAddr:                 v.GetString("mcp-listen-addr"),
	}
}
