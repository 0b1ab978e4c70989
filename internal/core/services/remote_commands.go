package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/sentinel/console/internal/core/ports"
	"github.com/sentinel/console/internal/domain"
)

const (
	quickTimeout  = 30 * time.Second
	dockerTimeout = 60 * time.Second
	pullTimeout   = 300 * time.Second
	aptTimeout    = 600 * time.Second
)

// staleContainersScript prints running containers whose image tag points at
// a newer local image than the one they were started from. It only sees
// images already present on the host: without a pull, a newer image in the
// registry goes unnoticed until something else fetches it. %s is replaced by
// the optional per-image pull step.
const staleContainersScript = `for c in $(docker ps --format '{{.Names}}'); do ` +
	`img=$(docker inspect --format '{{.Config.Image}}' "$c"); ` +
	`%s` +
	`cur=$(docker inspect --format '{{.Image}}' "$c"); ` +
	`latest=$(docker image inspect --format '{{.Id}}' "$img" 2>/dev/null); ` +
	`[ -n "$latest" ] && [ "$cur" != "$latest" ] && echo "$c"; done; true`

const stalePullStep = `docker pull -q "$img" >/dev/null 2>&1; `

func staleContainersCommand(pull bool) string {
	step := ""
	if pull {
		step = stalePullStep
	}
	return fmt.Sprintf(staleContainersScript, step)
}

// RemoteCommands builds host-class specific commands on top of an Executor
// and interprets their output.
type RemoteCommands struct {
	exec ports.Executor
}

func NewRemoteCommands(exec ports.Executor) *RemoteCommands {
	return &RemoteCommands{exec: exec}
}

// shellQuote wraps s in single quotes for a POSIX shell.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func (c *RemoteCommands) run(ctx context.Context, target domain.RemoteTarget, cmd string, timeout time.Duration) domain.CommandResult {
	return c.exec.Execute(ctx, target, cmd, timeout)
}

// ==================== Docker ====================

func (c *RemoteCommands) DockerPS(ctx context.Context, host string, all bool) domain.CommandResult {
	cmd := "docker ps --format 'table {{.Names}}\t{{.Status}}\t{{.Image}}'"
	if all {
		cmd = "docker ps -a --format 'table {{.Names}}\t{{.Status}}\t{{.Image}}'"
	}
	return c.run(ctx, domain.Standard(host), cmd, dockerTimeout)
}

func (c *RemoteCommands) DockerRestart(ctx context.Context, host, container string) domain.CommandResult {
	return c.run(ctx, domain.Standard(host), "docker restart "+shellQuote(container), dockerTimeout)
}

func (c *RemoteCommands) DockerStop(ctx context.Context, host, container string) domain.CommandResult {
	return c.run(ctx, domain.Standard(host), "docker stop "+shellQuote(container), dockerTimeout)
}

func (c *RemoteCommands) DockerStart(ctx context.Context, host, container string) domain.CommandResult {
	return c.run(ctx, domain.Standard(host), "docker start "+shellQuote(container), dockerTimeout)
}

func (c *RemoteCommands) DockerLogs(ctx context.Context, host, container string, lines int) domain.CommandResult {
	if lines <= 0 {
		lines = 50
	}
	cmd := fmt.Sprintf("docker logs --tail %d %s 2>&1", lines, shellQuote(container))
	return c.run(ctx, domain.Standard(host), cmd, dockerTimeout)
}

// DockerPull pulls the image the container was created from.
func (c *RemoteCommands) DockerPull(ctx context.Context, host, container string) domain.CommandResult {
	inspect := c.run(ctx, domain.Standard(host),
		"docker inspect --format '{{.Config.Image}}' "+shellQuote(container), quickTimeout)
	if !inspect.Success {
		return inspect
	}
	image := strings.TrimSpace(inspect.Stdout)
	if image == "" {
		return domain.CommandResult{Stderr: "no image found for " + container, ExitCode: 1}
	}
	return c.run(ctx, domain.Standard(host), "docker pull "+shellQuote(image), pullTimeout)
}

// StaleContainers lists containers running an image older than their tag.
// With pull set, each image is fetched from its registry before comparing.
func (c *RemoteCommands) StaleContainers(ctx context.Context, host string, pull bool) ([]string, domain.CommandResult) {
	timeout := dockerTimeout
	if pull {
		timeout = pullTimeout
	}
	res := c.run(ctx, domain.Standard(host), staleContainersCommand(pull), timeout)
	if !res.Success {
		return nil, res
	}
	return splitLines(res.Stdout), res
}

func (c *RemoteCommands) ComposeUp(ctx context.Context, host, dir string) domain.CommandResult {
	return c.run(ctx, domain.Standard(host), "cd "+shellQuote(dir)+" && docker compose up -d", pullTimeout)
}

func (c *RemoteCommands) ComposeDown(ctx context.Context, host, dir string) domain.CommandResult {
	return c.run(ctx, domain.Standard(host), "cd "+shellQuote(dir)+" && docker compose down", dockerTimeout)
}

func (c *RemoteCommands) ComposePull(ctx context.Context, host, dir string) domain.CommandResult {
	return c.run(ctx, domain.Standard(host), "cd "+shellQuote(dir)+" && docker compose pull", pullTimeout)
}

// ==================== Proxmox ====================

// ProxmoxNodeStatus returns the node status as JSON.
func (c *RemoteCommands) ProxmoxNodeStatus(ctx context.Context, node string) domain.CommandResult {
	return c.run(ctx, domain.Privileged(node),
		"pvesh get /nodes/$(hostname)/status --output-format json", quickTimeout)
}

func (c *RemoteCommands) ProxmoxListGuests(ctx context.Context, node string) domain.CommandResult {
	return c.run(ctx, domain.Privileged(node), "qm list; echo '---'; pct list", quickTimeout)
}

// ProxmoxGuestAction runs status|start|stop|reboot on a VM or, when lxc is
// set, a container.
func (c *RemoteCommands) ProxmoxGuestAction(ctx context.Context, node string, vmid int, lxc bool, action string) domain.CommandResult {
	switch action {
	case "status", "start", "stop", "reboot":
	default:
		return domain.CommandResult{Stderr: "unsupported guest action: " + action, ExitCode: 2}
	}
	tool := "qm"
	if lxc {
		tool = "pct"
	}
	return c.run(ctx, domain.Privileged(node), fmt.Sprintf("%s %s %d", tool, action, vmid), dockerTimeout)
}

func (c *RemoteCommands) ClusterStatus(ctx context.Context, node string) domain.CommandResult {
	return c.run(ctx, domain.Privileged(node), "pvecm status", quickTimeout)
}

// ==================== Packages ====================

func (c *RemoteCommands) AptUpdate(ctx context.Context, host string) domain.CommandResult {
	return c.run(ctx, domain.Standard(host), "sudo apt-get update -qq", aptTimeout)
}

// AptUpgradable lists packages with a pending upgrade.
func (c *RemoteCommands) AptUpgradable(ctx context.Context, host string) ([]string, domain.CommandResult) {
	res := c.run(ctx, domain.Standard(host), "apt list --upgradable 2>/dev/null", quickTimeout)
	if !res.Success {
		return nil, res
	}
	return ParseUpgradable(res.Stdout), res
}

func (c *RemoteCommands) AptUpgrade(ctx context.Context, host string) domain.CommandResult {
	return c.run(ctx, domain.Standard(host),
		"sudo DEBIAN_FRONTEND=noninteractive apt-get upgrade -y -qq", aptTimeout)
}

// ParseUpgradable extracts package names from `apt list --upgradable`.
func ParseUpgradable(out string) []string {
	var pkgs []string
	for _, line := range splitLines(out) {
		if strings.HasPrefix(line, "Listing") || strings.HasPrefix(line, "WARNING") {
			continue
		}
		name, _, ok := strings.Cut(line, "/")
		if !ok || name == "" {
			continue
		}
		pkgs = append(pkgs, name)
	}
	return pkgs
}

// ==================== System ====================

func (c *RemoteCommands) Uptime(ctx context.Context, target domain.RemoteTarget) domain.CommandResult {
	return c.run(ctx, target, "uptime -p", quickTimeout)
}

func (c *RemoteCommands) DiskUsage(ctx context.Context, target domain.RemoteTarget) domain.CommandResult {
	return c.run(ctx, target, "df -h /", quickTimeout)
}

func (c *RemoteCommands) MemoryUsage(ctx context.Context, target domain.RemoteTarget) domain.CommandResult {
	return c.run(ctx, target, "free -h", quickTimeout)
}

func (c *RemoteCommands) FileExists(ctx context.Context, target domain.RemoteTarget, path string) bool {
	return c.run(ctx, target, "test -e "+shellQuote(path), quickTimeout).Success
}

// DiskPercent parses the use% column of `df -h /`.
func DiskPercent(out string) (int, bool) {
	lines := splitLines(out)
	if len(lines) < 2 {
		return 0, false
	}
	for _, f := range strings.Fields(lines[len(lines)-1]) {
		if strings.HasSuffix(f, "%") {
			n, err := strconv.Atoi(strings.TrimSuffix(f, "%"))
			return n, err == nil
		}
	}
	return 0, false
}

func splitLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
