// Package main is a minimal HTTP health check binary for use in distroless
// containers. It exits 0 when the throttle /health endpoint returns HTTP 200,
// and 1 otherwise. Compile with CGO_ENABLED=0 for a fully static binary.
//
// THROTTLE_HEALTHCHECK_URL overrides the probed URL.
package main

import (
	"fmt"
	"net/http"
	"os"
	"throttle/internal/version"
	"time"
)

const defaultURL = "http://localhost:8080/health"

func main() {
	if err := probe(healthURL(), 3*time.Second); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func healthURL() string {
	if u := os.Getenv("THROTTLE_HEALTHCHECK_URL"); u != "" {
		return u
	}
	return defaultURL
}

func probe(url string, timeout time.Duration) error {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", version.GetInfo().UserAgent()+" healthcheck")

	client := &http.Client{Timeout: timeout}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned %d", resp.StatusCode)
	}
	return nil
}
