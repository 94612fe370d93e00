package pueue

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caseway/caseway/internal/hpc"
	"github.com/caseway/caseway/pkg/env"
	"github.com/caseway/caseway/pkg/log"
	"github.com/pkg/errors"
)

// Runner executes a local command and returns its stdout. The default
// implementation shells out; tests substitute a fake.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Client drives a remote pueue daemon over ssh and moves case data
// with scp. Every remote call is bounded by the configured timeout;
// callers never see an indefinite hang.
type Client struct {
	vars   env.Environment
	runner Runner
}

var _ hpc.Client = (*Client)(nil)

func New(vars env.Environment) *Client {
	return &Client{vars: vars, runner: execRunner{}}
}

// NewWithRunner is used by tests to substitute the command runner.
func NewWithRunner(vars env.Environment, runner Runner) *Client {
	return &Client{vars: vars, runner: runner}
}

// Submit copies the case directory to the remote host and enqueues a
// labeled job on the given pueue group, returning the task id.
func (c *Client) Submit(ctx context.Context, sourcePath, group, label string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.vars.RemoteTimeout)
	defer cancel()

	target := fmt.Sprintf("%s@%s:%s", c.vars.HPCUser, c.vars.HPCHost, c.vars.RemoteBaseDir)
	if _, err := c.runner.Run(ctx, c.vars.SCPCommand, "-r", sourcePath, target); err != nil {
		return "", errors.Wrapf(err, "failed to copy case %q to %s", sourcePath, c.vars.HPCHost)
	}

	remoteDir := path.Join(c.vars.RemoteBaseDir, filepath.Base(sourcePath))
	remoteCmd := fmt.Sprintf("cd %s && %s", remoteDir, c.vars.RemoteRunCommand)

	out, err := c.ssh(ctx,
		c.vars.PueueCommand, "add",
		"--group", group,
		"--label", label,
		"--print-task-id",
		"--", remoteCmd,
	)
	if err != nil {
		return "", errors.Wrapf(err, "failed to enqueue case %q on group %q", sourcePath, group)
	}

	handle := strings.TrimSpace(string(out))
	if _, err := strconv.Atoi(handle); err != nil {
		return "", errors.Errorf("unparseable task id %q from pueue add", handle)
	}

	return handle, nil
}

// StatusByHandle queries the remote status of a task.
func (c *Client) StatusByHandle(ctx context.Context, handle string) hpc.JobStatus {
	reply, err := c.fetchStatus(ctx)
	if err != nil {
		log.Warn("remote queue unreachable for status query", "handle", handle, "error", err)
		return hpc.StatusUnreachable
	}

	task, ok := reply.Tasks[handle]
	if !ok {
		return hpc.StatusNotFound
	}

	return classify(task.Status)
}

// StatusByLabel locates a task by its submission label.
func (c *Client) StatusByLabel(ctx context.Context, label string) (hpc.LookupOutcome, string) {
	reply, err := c.fetchStatus(ctx)
	if err != nil {
		log.Warn("remote queue unreachable for label lookup", "label", label, "error", err)
		return hpc.LookupUnreachable, ""
	}

	for _, task := range reply.Tasks {
		if task.Label == label {
			return hpc.LookupFound, strconv.Itoa(task.ID)
		}
	}

	return hpc.LookupNotFound, ""
}

// Kill terminates a remote task. Only a cleanly exiting kill command
// counts as confirmation.
func (c *Client) Kill(ctx context.Context, handle string) bool {
	ctx, cancel := context.WithTimeout(ctx, c.vars.RemoteTimeout)
	defer cancel()

	if _, err := c.ssh(ctx, c.vars.PueueCommand, "kill", handle); err != nil {
		log.Warn("remote kill not confirmed", "handle", handle, "error", err)
		return false
	}

	return true
}

type statusReply struct {
	Tasks map[string]statusTask `json:"tasks"`
}

type statusTask struct {
	ID     int             `json:"id"`
	Label  string          `json:"label"`
	Status json.RawMessage `json:"status"`
}

func (c *Client) fetchStatus(ctx context.Context) (*statusReply, error) {
	ctx, cancel := context.WithTimeout(ctx, c.vars.RemoteTimeout)
	defer cancel()

	out, err := c.ssh(ctx, c.vars.PueueCommand, "status", "--json")
	if err != nil {
		return nil, err
	}

	reply := &statusReply{}
	if err := json.Unmarshal(out, reply); err != nil {
		return nil, errors.Wrap(err, "failed to parse pueue status output")
	}

	return reply, nil
}

func (c *Client) ssh(ctx context.Context, remoteArgs ...string) ([]byte, error) {
	args := append(
		[]string{fmt.Sprintf("%s@%s", c.vars.HPCUser, c.vars.HPCHost)},
		remoteArgs...,
	)
	return c.runner.Run(ctx, c.vars.SSHCommand, args...)
}

// classify maps a pueue task status to the collaborator contract.
// Pueue has changed the shape of this field across releases: it can
// be a bare string ("Running", "Success") or an object keyed by state
// ({"Done": {"result": "Success"}}), so both forms are handled.
func classify(raw json.RawMessage) hpc.JobStatus {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch s {
		case "Success", "Done":
			return hpc.StatusSuccess
		case "Failed", "Killed", "DependencyFailed":
			return hpc.StatusFailure
		default:
			return hpc.StatusRunning
		}
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return hpc.StatusRunning
	}

	done, ok := obj["Done"]
	if !ok {
		return hpc.StatusRunning
	}

	var result string
	if err := json.Unmarshal(done, &result); err == nil {
		if result == "Success" {
			return hpc.StatusSuccess
		}
		return hpc.StatusFailure
	}

	var nested struct {
		Result json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(done, &nested); err == nil && nested.Result != nil {
		if err := json.Unmarshal(nested.Result, &result); err == nil && result == "Success" {
			return hpc.StatusSuccess
		}
	}

	return hpc.StatusFailure
}
