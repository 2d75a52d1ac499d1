// Package docker provides an out-of-process Executor option: each session
// gets its own container running a script runner, and code is shipped to it
// as JSON over HTTP. The manager reconciles containers against the set of
// live sessions so crashed or orphaned containers converge to the desired
// state.
package docker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
)

const (
	// LabelManager is the label used to identify containers managed by this system.
	LabelManager = "manager"
	// LabelManagerValue is the value of the manager label.
	LabelManagerValue = "tablepilot"
	// LabelSessionID is the label used to identify which session a container belongs to.
	LabelSessionID = "session-id"
	// RunnerImage is the default runner container image.
	RunnerImage = "tablepilot-runner:latest"
	// RunnerPort is the HTTP port exposed by the runner container.
	RunnerPort = "8000"
	// ReconcileInterval is how often the Run loop checks for drift.
	ReconcileInterval = 10 * time.Second
)

// SessionLister enumerates the sessions that should have a running container.
type SessionLister interface {
	ListIDs(ctx context.Context) ([]string, error)
}

// Manager owns the per-session runner containers.
type Manager struct {
	client *client.Client
	image  string
	http   *http.Client
}

// New creates a new Docker runner manager.
func New() (*Manager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return &Manager{
		client: cli,
		image:  RunnerImage,
		http:   &http.Client{Timeout: 120 * time.Second},
	}, nil
}

// Run starts a long-running reconciliation loop. It periodically lists known
// sessions and ensures each has a running runner container; orphans are
// stopped. Blocks until ctx is cancelled.
func (m *Manager) Run(ctx context.Context, sessions SessionLister) error {
	slog.Info("Runner manager reconciliation loop starting")

	// Reconcile immediately on start.
	if err := m.reconcile(ctx, sessions); err != nil {
		slog.Error("Initial reconciliation failed", "error", err)
	}

	ticker := time.NewTicker(ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Runner manager reconciliation loop stopping")
			return ctx.Err()
		case <-ticker.C:
			if err := m.reconcile(ctx, sessions); err != nil {
				slog.Error("Reconciliation failed", "error", err)
			}
		}
	}
}

// reconcile compares running containers to known sessions and converges.
func (m *Manager) reconcile(ctx context.Context, sessions SessionLister) error {
	ids, err := sessions.ListIDs(ctx)
	if err != nil {
		return fmt.Errorf("listing session IDs: %w", err)
	}

	allContainers, err := m.listAllManagedContainers(ctx)
	if err != nil {
		return fmt.Errorf("listing managed containers: %w", err)
	}

	knownSet := make(map[string]bool, len(ids))
	for _, id := range ids {
		knownSet[id] = true
	}

	runningSet := make(map[string]bool)

	// Stop containers for unknown sessions.
	for _, c := range allContainers {
		sessionID := c.Labels[LabelSessionID]
		runningSet[sessionID] = true
		if !knownSet[sessionID] {
			slog.Info("Stopping orphaned runner", "sessionID", sessionID)
			m.stopContainer(ctx, sessionID)
		}
	}

	// Start containers for known sessions that aren't running.
	for _, id := range ids {
		if !runningSet[id] {
			slog.Info("Starting runner for session", "sessionID", id)
			if _, err := m.createAndStart(ctx, id); err != nil {
				slog.Error("Failed to start runner", "sessionID", id, "error", err)
			}
		}
	}

	return nil
}

// Executor returns a sandbox.Executor backed by the session's container.
func (m *Manager) Executor(sessionID string) *Executor {
	return &Executor{manager: m, sessionID: sessionID}
}

// Status returns the status of the session's runner container.
func (m *Manager) Status(ctx context.Context, sessionID string) (string, error) {
	containers, err := m.listContainers(ctx, sessionID)
	if err != nil {
		return "unknown", err
	}
	if len(containers) == 0 {
		return "stopped", nil
	}
	return containers[0].State, nil
}

// Stop terminates the runner for the given session.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	m.stopContainer(ctx, sessionID)
	return nil
}

// Close releases the Docker client resources.
func (m *Manager) Close() error {
	return m.client.Close()
}

// --- internal helpers ---

// baseURL returns the HTTP endpoint for a running container, or an error if
// not running.
func (m *Manager) baseURL(ctx context.Context, sessionID string) (string, error) {
	containerName := m.containerName(sessionID)
	c, err := m.client.ContainerInspect(ctx, containerName)
	if err != nil {
		return "", fmt.Errorf("container not found: %w", err)
	}
	if !c.State.Running {
		return "", fmt.Errorf("container exists but not running (state: %s)", c.State.Status)
	}
	port, err := m.getPort(c)
	if err != nil {
		return "", err
	}
	return "http://127.0.0.1:" + port, nil
}

// createAndStart creates a new runner container and starts it.
func (m *Manager) createAndStart(ctx context.Context, sessionID string) (string, error) {
	// Ensure image exists locally.
	_, _, err := m.client.ImageInspectWithRaw(ctx, m.image)
	if err != nil {
		return "", fmt.Errorf("runner image '%s' not found: %w", m.image, err)
	}

	cfg := &container.Config{
		Image: m.image,
		Labels: map[string]string{
			LabelManager:   LabelManagerValue,
			LabelSessionID: sessionID,
		},
		ExposedPorts: nat.PortSet{
			nat.Port(RunnerPort + "/tcp"): {},
		},
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			nat.Port(RunnerPort + "/tcp"): []nat.PortBinding{
				{
					HostIP:   "127.0.0.1",
					HostPort: "0", // Dynamically assigned port.
				},
			},
		},
	}

	containerName := m.containerName(sessionID)
	resp, err := m.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName)
	if err != nil {
		return "", fmt.Errorf("creating container: %w", err)
	}

	if err := m.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return "", fmt.Errorf("starting container: %w", err)
	}

	c, err := m.client.ContainerInspect(ctx, resp.ID)
	if err != nil {
		return "", err
	}
	port, err := m.getPort(c)
	if err != nil {
		return "", err
	}

	if err := m.waitForHealth(ctx, port); err != nil {
		return "", err
	}
	slog.Info("Runner started", "sessionID", sessionID, "port", port)
	return port, nil
}

// stopContainer stops and removes a container for the given session.
func (m *Manager) stopContainer(ctx context.Context, sessionID string) {
	containers, err := m.listContainers(ctx, sessionID)
	if err != nil {
		slog.Warn("Failed to list containers for stop", "sessionID", sessionID, "error", err)
		return
	}
	for _, c := range containers {
		timeout := 10
		if err := m.client.ContainerStop(ctx, c.ID, container.StopOptions{Timeout: &timeout}); err != nil {
			slog.Warn("Failed to stop container", "id", c.ID, "error", err)
		}
		if err := m.client.ContainerRemove(ctx, c.ID, types.ContainerRemoveOptions{Force: true}); err != nil {
			slog.Warn("Failed to remove container", "id", c.ID, "error", err)
		}
	}
}

func (m *Manager) containerName(sessionID string) string {
	return "tablepilot-runner-" + sessionID
}

func (m *Manager) getPort(c types.ContainerJSON) (string, error) {
	ports := c.NetworkSettings.Ports[nat.Port(RunnerPort+"/tcp")]
	if len(ports) > 0 {
		return ports[0].HostPort, nil
	}
	return "", fmt.Errorf("container running but port not mapped")
}

func (m *Manager) waitForHealth(ctx context.Context, port string) error {
	timeoutCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	url := "http://127.0.0.1:" + port + "/healthz"
	for {
		select {
		case <-timeoutCtx.Done():
			return fmt.Errorf("timeout waiting for runner HTTP port")
		case <-ticker.C:
			req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
			if err != nil {
				return err
			}
			resp, err := m.http.Do(req)
			if err == nil {
				resp.Body.Close()
				if resp.StatusCode == http.StatusOK {
					return nil
				}
			}
		}
	}
}

func (m *Manager) listContainers(ctx context.Context, sessionID string) ([]types.Container, error) {
	return m.client.ContainerList(ctx, types.ContainerListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManager+"="+LabelManagerValue),
			filters.Arg("label", LabelSessionID+"="+sessionID),
		),
	})
}

func (m *Manager) listAllManagedContainers(ctx context.Context) ([]types.Container, error) {
	return m.client.ContainerList(ctx, types.ContainerListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", LabelManager+"="+LabelManagerValue),
		),
	})
}
