package observability

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// MetricsServer exposes the Prometheus registry on its own listener so the
// scrape endpoint is never subject to rate limiting.
type MetricsServer struct {
	server *http.Server
}

// NewMetricsServer serves provider's registry at path on port.
func NewMetricsServer(port int, path string, provider *Provider) *MetricsServer {
	mux := http.NewServeMux()
	mux.Handle(path, provider.Handler())

	return &MetricsServer{
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Start blocks serving metrics. It returns http.ErrServerClosed after Shutdown.
func (ms *MetricsServer) Start() error {
	ln, err := net.Listen("tcp", ms.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ms.server.Addr, err)
	}
	return ms.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (ms *MetricsServer) Serve(ln net.Listener) error {
	slog.Info("Starting metrics server", "addr", ln.Addr().String())
	return ms.server.Serve(ln)
}

func (ms *MetricsServer) Shutdown(ctx context.Context) error {
	return ms.server.Shutdown(ctx)
}
