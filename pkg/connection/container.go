package connection

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gosible-labs/fleetforge/pkg/types"
)

// ContainerConnection implements the Connection interface by exec-ing into a
// running container, using the same exec.Cmd plumbing as LocalConnection but
// wrapped with `docker exec`/`docker cp` instead of a bare shell.
type ContainerConnection struct {
	connected   bool
	info        types.ConnectionInfo
	containerID string
	runtime     string
}

// NewContainerConnection creates a new container connection using the
// "docker" CLI runtime by default.
func NewContainerConnection() *ContainerConnection {
	return &ContainerConnection{runtime: "docker"}
}

// Connect records the target container; info.Host names the container
// (ID or name). info.Runtime, if set, overrides the CLI binary ("podman").
func (c *ContainerConnection) Connect(ctx context.Context, info types.ConnectionInfo) error {
	if info.Host == "" {
		return types.NewValidationError("host", info.Host, "container connection requires a container ID or name")
	}
	c.info = info
	c.containerID = info.Host
	if info.Runtime != "" {
		c.runtime = info.Runtime
	}
	c.connected = true
	return nil
}

// Execute runs a command inside the container via `docker exec`.
func (c *ContainerConnection) Execute(ctx context.Context, command string, options types.ExecuteOptions) (*types.Result, error) {
	if !c.connected {
		return nil, types.NewConnectionError(c.containerID, "not connected", nil)
	}

	startTime := time.Now()
	result := &types.Result{
		StartTime:  startTime,
		Host:       c.containerID,
		ModuleName: "command",
	}

	cmdCtx := ctx
	if options.Timeout > 0 {
		var cancel context.CancelFunc
		cmdCtx, cancel = context.WithTimeout(ctx, options.Timeout)
		defer cancel()
	}

	execArgs := []string{"exec"}
	if options.WorkingDir != "" {
		execArgs = append(execArgs, "-w", options.WorkingDir)
	}
	for k, v := range options.Env {
		execArgs = append(execArgs, "-e", fmt.Sprintf("%s=%s", k, v))
	}
	if options.User != "" {
		execArgs = append(execArgs, "-u", options.User)
	}
	execArgs = append(execArgs, c.containerID, "sh", "-c", command)

	cmd := exec.CommandContext(cmdCtx, c.runtime, execArgs...)
	output, err := cmd.CombinedOutput()
	endTime := time.Now()

	result.EndTime = endTime
	result.Duration = endTime.Sub(startTime)
	result.Data = map[string]interface{}{
		"stdout": string(output),
		"stderr": "",
		"cmd":    command,
	}

	if err != nil {
		result.Success = false
		result.Error = err
		result.Message = fmt.Sprintf("command failed: %v", err)
		if exitError, ok := err.(*exec.ExitError); ok {
			if status, ok := exitError.Sys().(syscall.WaitStatus); ok {
				result.Data["exit_code"] = status.ExitStatus()
			}
		}
	} else {
		result.Success = true
		result.Message = "command executed successfully"
		result.Data["exit_code"] = 0
	}

	result.Changed = result.Success
	return result, nil
}

// Copy transfers a file into the container via a local staging file and
// `docker cp`.
func (c *ContainerConnection) Copy(ctx context.Context, src io.Reader, dest string, mode int) error {
	if !c.connected {
		return types.NewConnectionError(c.containerID, "not connected", nil)
	}

	dest = types.SanitizePath(dest)

	staging, err := os.CreateTemp("", "fleetforge-container-copy-*")
	if err != nil {
		return types.NewConnectionError(c.containerID, "failed to create staging file", err)
	}
	defer os.Remove(staging.Name())

	if _, err := io.Copy(staging, src); err != nil {
		staging.Close()
		return types.NewConnectionError(c.containerID, "failed to write staging file", err)
	}
	staging.Close()

	destDir := dest[:strings.LastIndex(dest, "/")+1]
	if destDir != "" {
		if _, err := c.Execute(ctx, fmt.Sprintf("mkdir -p %s", destDir), types.ExecuteOptions{}); err != nil {
			return types.NewConnectionError(c.containerID, fmt.Sprintf("failed to create directory %s", destDir), err)
		}
	}

	cpCmd := exec.CommandContext(ctx, c.runtime, "cp", staging.Name(), fmt.Sprintf("%s:%s", c.containerID, dest))
	if out, err := cpCmd.CombinedOutput(); err != nil {
		return types.NewConnectionError(c.containerID, fmt.Sprintf("docker cp failed: %s", string(out)), err)
	}

	if _, err := c.Execute(ctx, fmt.Sprintf("chmod %04o %s", mode, dest), types.ExecuteOptions{}); err != nil {
		return types.NewConnectionError(c.containerID, fmt.Sprintf("failed to chmod %s", dest), err)
	}

	return nil
}

// Fetch retrieves a file from the container via `docker cp` to a staging file.
func (c *ContainerConnection) Fetch(ctx context.Context, src string) (io.Reader, error) {
	if !c.connected {
		return nil, types.NewConnectionError(c.containerID, "not connected", nil)
	}

	src = types.SanitizePath(src)

	staging, err := os.CreateTemp("", "fleetforge-container-fetch-*")
	if err != nil {
		return nil, types.NewConnectionError(c.containerID, "failed to create staging file", err)
	}
	defer os.Remove(staging.Name())
	staging.Close()

	cpCmd := exec.CommandContext(ctx, c.runtime, "cp", fmt.Sprintf("%s:%s", c.containerID, src), staging.Name())
	if out, err := cpCmd.CombinedOutput(); err != nil {
		return nil, types.NewConnectionError(c.containerID, fmt.Sprintf("docker cp failed: %s", string(out)), err)
	}

	data, err := os.ReadFile(staging.Name())
	if err != nil {
		return nil, types.NewConnectionError(c.containerID, "failed to read staged file", err)
	}

	return bytes.NewReader(data), nil
}

// Stat returns metadata about a path inside the container.
func (c *ContainerConnection) Stat(ctx context.Context, path string) (*types.FileStat, error) {
	if !c.connected {
		return nil, types.NewConnectionError(c.containerID, "not connected", nil)
	}

	path = types.SanitizePath(path)
	cmd := fmt.Sprintf("stat -c '%%s %%f %%u %%g %%Y' %s 2>/dev/null", path)
	result, err := c.Execute(ctx, cmd, types.ExecuteOptions{})
	if err != nil {
		return nil, types.NewConnectionError(c.containerID, fmt.Sprintf("failed to stat %s", path), err)
	}
	if !result.Success {
		return nil, types.ErrFileNotFound
	}

	stdoutStr, _ := result.Data["stdout"].(string)
	fields := strings.Fields(strings.TrimSpace(stdoutStr))
	if len(fields) != 5 {
		return nil, types.NewConnectionError(c.containerID, fmt.Sprintf("unexpected stat output for %s", path), nil)
	}

	size, _ := types.ConvertToInt(fields[0])
	rawMode, _ := strconv.ParseUint(fields[1], 16, 32)
	uid, _ := types.ConvertToInt(fields[2])
	gid, _ := types.ConvertToInt(fields[3])
	mtime, _ := types.ConvertToInt(fields[4])

	kind := types.FileKindFile
	switch rawMode & 0170000 {
	case 0040000:
		kind = types.FileKindDir
	case 0120000:
		kind = types.FileKindSymlink
	}

	return &types.FileStat{
		Size:  int64(size),
		Mode:  uint32(rawMode) & 0777,
		UID:   uid,
		GID:   gid,
		Mtime: time.Unix(int64(mtime), 0),
		Kind:  kind,
	}, nil
}

// Close only marks the connection closed; the underlying container's
// lifecycle is managed externally.
func (c *ContainerConnection) Close() error {
	c.connected = false
	return nil
}

// IsConnected returns true if Connect has been called successfully.
func (c *ContainerConnection) IsConnected() bool {
	return c.connected
}

var _ types.Connection = (*ContainerConnection)(nil)
