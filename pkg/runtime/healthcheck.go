package runtime

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/health"
)

const (
	healthCheckMaxAttempts = 30
	healthCheckInterval    = time.Second
	healthCheckProbeTimeout = 2 * time.Second
)

// healthCheckLogAttempts are the attempt numbers healthCheck logs at,
// per §4.D.
var healthCheckLogAttempts = map[int]bool{1: true, 5: true, 10: true, 15: true, 20: true, 25: true, 30: true}

// errorLinePattern finds the first log line worth surfacing as a
// concise errorMessage on probe failure (§4.K step 5).
var errorLinePattern = regexp.MustCompile(`^(Error:|TypeError:|ReferenceError:|SyntaxError:|\s+throw )|^\s+- property`)

// HealthCheck implements §4.D's healthCheck: polls up to 30 attempts at
// 1s intervals, inspecting the container's runtime state on early or
// every-5th attempts and fast-failing if it is no longer running, then
// probing HTTP (loopback GET /) with TCP fallback.
func (r *Runtime) HealthCheck(ctx context.Context, hostPort, containerPort int, runtimeID string, onLog func(line string)) bool {
	logger := log.WithComponent("runtime").With().Str("runtime_id", runtimeID).Logger()

	httpChecker := health.NewHTTPChecker(fmt.Sprintf("http://127.0.0.1:%d/", hostPort)).
		WithTimeout(healthCheckProbeTimeout).
		WithStatusRange(1, 599)
	tcpChecker := health.NewTCPChecker(fmt.Sprintf("127.0.0.1:%d", hostPort)).
		WithTimeout(healthCheckProbeTimeout)

	for attempt := 1; attempt <= healthCheckMaxAttempts; attempt++ {
		if healthCheckLogAttempts[attempt] {
			logger.Info().Int("attempt", attempt).Msg("probing container health")
		}

		if runtimeID != "" && (attempt < 5 || attempt%5 == 0) {
			if !r.IsRunning(ctx, runtimeID) {
				logger.Warn().Int("attempt", attempt).Msg("container not running, failing health check fast")
				return false
			}
		}

		if result := httpChecker.Check(ctx); result.Healthy {
			return true
		}
		if result := tcpChecker.Check(ctx); result.Healthy {
			return true
		}

		if attempt < healthCheckMaxAttempts {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(healthCheckInterval):
			}
		}
	}

	return false
}

// BuildFailureMessage scans the last lines of container output for the
// first error-shaped line and combines it with the container's state
// summary, per §4.K step 5.
func BuildFailureMessage(stateSummary string, logLines []string) string {
	for _, line := range logLines {
		if errorLinePattern.MatchString(line) {
			return fmt.Sprintf("Container crashed: %s", line)
		}
	}
	return fmt.Sprintf("Container crashed: %s", stateSummary)
}
