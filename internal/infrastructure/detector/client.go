// Package detector implements HTTP clients for the external analysis models.
// The video and audio detectors run as separate services; each client wraps
// its calls in a circuit breaker so a dead model degrades sessions to missed
// ticks instead of piling up blocked requests.
package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/learnquest/proctoring-engine/internal/domain/shared"
	"github.com/learnquest/proctoring-engine/pkg/circuitbreaker"
	"github.com/learnquest/proctoring-engine/pkg/logger"
)

// Config contains configuration for a detector client.
type Config struct {
	// BaseURL is the detector service base URL.
	BaseURL string

	// Timeout is the per-request timeout. Detector calls sit on the hot
	// path of every frame, so this stays short.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *logger.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL: baseURL,
		Timeout: 2 * time.Second,
	}
}

// client is the shared HTTP plumbing for both detector services.
type client struct {
	baseURL string
	http    *http.Client
	breaker *circuitbreaker.CircuitBreaker
	log     *logger.Logger
}

func newClient(name string, cfg Config) *client {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	log = log.With(logger.Component(name))

	breaker := circuitbreaker.DetectorBreaker(name, func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit state changed",
			logger.String("breaker", name),
			logger.String("from", from.String()),
			logger.String("to", to.String()),
		)
	})

	return &client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		log:     log,
	}
}

// post sends the payload and decodes the JSON response into out.
func (c *client) post(ctx context.Context, path string, payload []byte, out any) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return shared.WrapError("detector", "Analyze", shared.ErrDetectorFailure,
				"failed to build request", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")

		start := time.Now()
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return shared.WrapError("detector", "Analyze", shared.ErrDetectorTimeout,
					"request cancelled", err)
			}
			return shared.WrapError("detector", "Analyze", shared.ErrDetectorTimeout,
				"request failed", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return shared.WrapError("detector", "Analyze", shared.ErrDetectorFailure,
				fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, body), nil)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return shared.WrapError("detector", "Analyze", shared.ErrDetectorFailure,
				"failed to decode response", err)
		}

		c.log.Debug("detector call completed", logger.Latency(time.Since(start)))
		return nil
	})
}

// Healthy reports whether the breaker currently admits requests.
func (c *client) Healthy() bool {
	return !c.breaker.IsOpen()
}
