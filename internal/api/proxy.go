package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"throttle/internal/models"
	"time"
)

// NewUpstreamProxy returns a reverse proxy forwarding admitted requests to
// rawURL. Forwarding headers are rewritten so the upstream sees the original
// client. Upstream failures are answered with a JSON 502.
func NewUpstreamProxy(rawURL string, userAgent string) (http.Handler, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("upstream URL must be absolute: %s", rawURL)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = 30 * time.Second

	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
			if pr.Out.Header.Get("User-Agent") == "" && userAgent != "" {
				pr.Out.Header.Set("User-Agent", userAgent)
			}
		},
		Transport: transport,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			slog.Error("Upstream request failed",
				"upstream", target.Host,
				"method", r.Method,
				"path", r.URL.Path,
				"error", err)
			writeErrorResponse(w, http.StatusBadGateway, models.ErrorCodeBadGateway, "Upstream unavailable")
		},
	}, nil
}
