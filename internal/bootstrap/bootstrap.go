// Package bootstrap holds the ambient process wiring shared by the
// Collector and Gateway binaries: logger construction and graceful
// shutdown. Adapted from cli.Bootstrap/cli.Run, stripped of the mesh,
// cluster, and Consul peer-discovery code that has no place on either
// side of a data diode.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// BuildLogger constructs the process logger: zap.NewProduction by
// default, zap.NewDevelopment when QRNG_PRETTY_LOG=true, with static
// component/role fields attached at construction, mirroring
// cli.Bootstrap's node_id/version fields.
func BuildLogger(component, role string) (*zap.Logger, error) {
	fields := []zap.Field{
		zap.String("component", component),
		zap.String("role", role),
	}
	opts := []zap.Option{zap.Fields(fields...)}

	if os.Getenv("QRNG_PRETTY_LOG") == "true" {
		return zap.NewDevelopment(opts...)
	}
	return zap.NewProduction(opts...)
}

// Context returns a context cancelled on SIGINT/SIGTERM/SIGQUIT, the
// idiomatic Go 1.16+ replacement for cli.go's manual signal.Notify +
// channel-close dance; both give every task a single cancellation signal
// to observe at its next suspension point.
func Context() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
}

// ServeHealth runs an HTTP server exposing handler at addr until ctx is
// cancelled, logging (not panicking) on listen failure. Grounded on
// cli.go's serveHTTPHealth, generalized to take an arbitrary handler
// instead of a hardcoded mesh/service health check.
func ServeHealth(ctx context.Context, logger *zap.Logger, addr string, handler http.Handler) {
	server := &http.Server{Addr: addr, Handler: handler}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("health endpoint stopped", zap.String("addr", addr), zap.Error(err))
	}
}

// LogStartup emits the single structured "service starting" line every
// binary logs at boot, matching cli.go's logService convention.
func LogStartup(logger *zap.Logger, name string, addr string) {
	logger.Info(fmt.Sprintf("starting %s", name), zap.String("addr", addr))
}
