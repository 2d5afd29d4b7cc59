package core

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"
)

// healthCheckTimeout bounds the total time spent probing dependencies. A
// health endpoint that hangs is worse than one that reports unhealthy.
const healthCheckTimeout = 2 * time.Second

// HealthProbe checks the availability of a single dependency, such as the
// database pool. Probes must be safe for concurrent use.
type HealthProbe interface {
	Name() string
	Check(ctx context.Context) error
}

type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth reports service health. With no probes registered it returns
// healthy immediately; otherwise all probes run concurrently under a shared
// timeout and any failure or timeout degrades the response to 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	var (
		mu      sync.Mutex
		results = make(map[string]componentStatus, len(s.HealthProbes))
		wg      sync.WaitGroup
	)

	for _, probe := range s.HealthProbes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if rec := recover(); rec != nil {
					mu.Lock()
					results[probe.Name()] = componentStatus{
						Status:  "unhealthy",
						Message: fmt.Sprintf("probe panicked: %v", rec),
					}
					mu.Unlock()
				}
			}()

			status := componentStatus{Status: "healthy"}
			if err := probe.Check(ctx); err != nil {
				status = componentStatus{Status: "unhealthy", Message: err.Error()}
				s.Logger.Warn("health probe failed", "probe", probe.Name(), "error", err)
			}

			mu.Lock()
			results[probe.Name()] = status
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.Logger.Warn("health check timed out", "timeout", healthCheckTimeout)
	}

	mu.Lock()
	defer mu.Unlock()

	// Probes that never reported are counted as timed out.
	for _, probe := range s.HealthProbes {
		if _, ok := results[probe.Name()]; !ok {
			results[probe.Name()] = componentStatus{
				Status:  "unhealthy",
				Message: "health check timed out",
			}
		}
	}

	allHealthy := true
	for _, status := range results {
		if status.Status != "healthy" {
			allHealthy = false
			break
		}
	}

	resp := healthResponse{Status: "healthy", Components: results}
	code := http.StatusOK
	if !allHealthy {
		resp.Status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	JSON(w, r, code, resp)
}
