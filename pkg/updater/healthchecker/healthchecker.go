// Package healthchecker decides whether a freshly booted patch is healthy.
package healthchecker

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	log "github.com/sirupsen/logrus"
)

// HealthChecker reports a nil error if the running patch is healthy.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Func adapts a plain function to the HealthChecker interface.
type Func func(ctx context.Context) error

func (f Func) HealthCheck(ctx context.Context) error {
	return f(ctx)
}

type shellHealthChecker struct {
	cmd []string
}

func (s *shellHealthChecker) HealthCheck(ctx context.Context) error {
	if len(s.cmd) == 0 {
		log.Debug("no command to execute, assuming healthy")
		return nil
	}
	logger := log.WithField("cmd", strings.Join(s.cmd, " "))
	logger.Debug("running health check")
	out, err := exec.CommandContext(ctx, s.cmd[0], s.cmd[1:]...).CombinedOutput()
	if err != nil {
		logger.WithError(err).Debugf("health check output: %s", out)
		return fmt.Errorf("health check %q failed: %w", s.cmd[0], err)
	}
	return nil
}

// NewShellHealthChecker returns a checker that runs cmd and treats a zero exit code as healthy.
// An empty command always passes.
func NewShellHealthChecker(cmd []string) HealthChecker {
	return &shellHealthChecker{
		cmd: cmd,
	}
}
