// Package stack drives one tenant's container group through the host
// compose CLI, scoped to the stack's descriptor file and working directory.
// Every operation is a blocking call with an explicit timeout; a non-zero
// exit or timeout is reported to the caller, never swallowed.
package stack

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/storegrid/engine/internal/descriptor"
	"github.com/storegrid/engine/internal/execx"
	appErr "github.com/storegrid/engine/pkg/errors"
	"github.com/storegrid/engine/pkg/logger"
	"go.uber.org/zap"
)

const (
	startTimeout   = 5 * time.Minute
	stopTimeout    = 2 * time.Minute
	restartTimeout = 2 * time.Minute
	destroyTimeout = 3 * time.Minute
	statusTimeout  = 30 * time.Second
)

// Status summarizes the container group's state.
type Status struct {
	Total   int
	Running int
	Stopped int
}

type Manager struct {
	runner    execx.Runner
	dockerBin string
}

func NewManager(runner execx.Runner, dockerBin string) *Manager {
	return &Manager{runner: runner, dockerBin: dockerBin}
}

func (m *Manager) compose(ctx context.Context, workspaceDir string, timeout time.Duration, args ...string) (execx.Result, error) {
	full := append([]string{
		"compose",
		"-f", filepath.Join(workspaceDir, descriptor.FileName),
		"--project-directory", workspaceDir,
	}, args...)
	return m.runner.Run(ctx, execx.Cmd{
		Bin:     m.dockerBin,
		Args:    full,
		Dir:     workspaceDir,
		Timeout: timeout,
	})
}

// Start brings the container group up detached.
func (m *Manager) Start(ctx context.Context, workspaceDir string) error {
	_, err := m.compose(ctx, workspaceDir, startTimeout, "up", "-d")
	return err
}

// Stop halts the containers without removing anything.
func (m *Manager) Stop(ctx context.Context, workspaceDir string) error {
	_, err := m.compose(ctx, workspaceDir, stopTimeout, "stop")
	return err
}

// Restart bounces the container group.
func (m *Manager) Restart(ctx context.Context, workspaceDir string) error {
	_, err := m.compose(ctx, workspaceDir, restartTimeout, "restart")
	return err
}

// Destroy removes the container group. With removeVolumes=false the data
// volumes survive (suspension); with removeVolumes=true the removal is
// irreversible (termination).
func (m *Manager) Destroy(ctx context.Context, workspaceDir string, removeVolumes bool) error {
	args := []string{"down", "--remove-orphans"}
	if removeVolumes {
		args = append(args, "--volumes")
	}
	_, err := m.compose(ctx, workspaceDir, destroyTimeout, args...)
	return err
}

// Exec runs a command inside a service container with stdin/stdout wired to
// the given streams. Used for database dump and restore across the
// container boundary.
func (m *Manager) Exec(ctx context.Context, workspaceDir, service string, timeout time.Duration, stdin io.Reader, stdout io.Writer, cmd ...string) (execx.Result, error) {
	full := append([]string{
		"compose",
		"-f", filepath.Join(workspaceDir, descriptor.FileName),
		"--project-directory", workspaceDir,
		"exec", "-T", service,
	}, cmd...)
	return m.runner.Run(ctx, execx.Cmd{
		Bin:     m.dockerBin,
		Args:    full,
		Dir:     workspaceDir,
		Stdin:   stdin,
		Stdout:  stdout,
		Timeout: timeout,
	})
}

type psEntry struct {
	State string `json:"State"`
}

// Query reports how many containers of the group exist and how many run.
func (m *Manager) Query(ctx context.Context, workspaceDir string) (Status, error) {
	res, err := m.compose(ctx, workspaceDir, statusTimeout, "ps", "-a", "--format", "json")
	if err != nil {
		return Status{}, err
	}

	var st Status
	sc := bufio.NewScanner(strings.NewReader(res.Stdout))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e psEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return Status{}, appErr.Wrap(err, appErr.CodeExternalToolFailure, "unparseable compose ps output")
		}
		st.Total++
		if strings.EqualFold(e.State, "running") {
			st.Running++
		} else {
			st.Stopped++
		}
	}
	return st, nil
}

// WaitReady polls the group's running state until every container runs, up
// to attempts polls spaced by interval. Containers that started but never
// all report running within the budget yield readiness_timeout.
func (m *Manager) WaitReady(ctx context.Context, workspaceDir string, attempts int, interval time.Duration) error {
	var last Status
	for i := 0; i < attempts; i++ {
		st, err := m.Query(ctx, workspaceDir)
		if err != nil {
			logger.L().Warn("readiness poll failed", zap.Error(err), zap.Int("attempt", i+1))
		} else {
			last = st
			if st.Total > 0 && st.Running == st.Total {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return appErr.Wrap(ctx.Err(), appErr.CodeReadinessTimeout, "readiness poll canceled")
		case <-time.After(interval):
		}
	}
	return appErr.New(appErr.CodeReadinessTimeout,
		"containers not ready after polling").
		WithMeta("running", last.Running).
		WithMeta("total", last.Total)
}
