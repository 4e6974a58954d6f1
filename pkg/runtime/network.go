package runtime

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/apployd/engine/pkg/exec"
)

// portMapping is one container's published host-port forwarding rule.
type portMapping struct {
	hostPort      int
	containerIP   string
	containerPort int
}

// hostPortPublisher installs iptables DNAT/MASQUERADE/FORWARD rules
// forwarding a loopback-bound host port into a container's own network
// namespace, since containerd itself does no port publishing. Adapted
// from the teacher's pkg/network.HostPortPublisher, keyed by runtime id
// instead of task id and driven through the host executor instead of
// bare os/exec. Unlike the teacher, both the nginx upstream
// (pkg/ingress) and HealthCheck connect from loopback on the same host
// rather than from an external interface, so an OUTPUT-chain rule is
// added alongside PREROUTING to also catch locally-originated traffic.
type hostPortPublisher struct {
	mu       sync.Mutex
	mappings map[string]portMapping
	executor *exec.Executor
}

func newHostPortPublisher() *hostPortPublisher {
	return &hostPortPublisher{mappings: make(map[string]portMapping), executor: exec.New()}
}

// Publish installs the DNAT/MASQUERADE/FORWARD rule set forwarding
// hostPort to containerIP:containerPort, and remembers the mapping
// under runtimeID so Unpublish can remove exactly those rules later.
func (p *hostPortPublisher) Publish(ctx context.Context, runtimeID, containerIP string, hostPort, containerPort int) error {
	for _, chain := range []string{"PREROUTING", "OUTPUT"} {
		if err := p.runIPTables(ctx, "-t", "nat", "-A", chain, "-p", "tcp",
			"--dport", strconv.Itoa(hostPort), "-j", "DNAT",
			"--to-destination", fmt.Sprintf("%s:%d", containerIP, containerPort)); err != nil {
			_ = p.teardown(ctx, hostPort, containerIP, containerPort)
			return fmt.Errorf("adding %s DNAT rule: %w", chain, err)
		}
	}

	if err := p.runIPTables(ctx, "-t", "nat", "-A", "POSTROUTING", "-p", "tcp",
		"-d", containerIP, "--dport", strconv.Itoa(containerPort), "-j", "MASQUERADE"); err != nil {
		_ = p.teardown(ctx, hostPort, containerIP, containerPort)
		return fmt.Errorf("adding MASQUERADE rule: %w", err)
	}

	if err := p.runIPTables(ctx, "-A", "FORWARD", "-p", "tcp",
		"-d", containerIP, "--dport", strconv.Itoa(containerPort), "-j", "ACCEPT"); err != nil {
		_ = p.teardown(ctx, hostPort, containerIP, containerPort)
		return fmt.Errorf("adding FORWARD rule: %w", err)
	}

	p.mu.Lock()
	p.mappings[runtimeID] = portMapping{hostPort: hostPort, containerIP: containerIP, containerPort: containerPort}
	p.mu.Unlock()
	return nil
}

// Unpublish removes a previously published container's forwarding
// rules. Best-effort: always safe to call even if nothing was published
// or publish only partially succeeded.
func (p *hostPortPublisher) Unpublish(ctx context.Context, runtimeID string) error {
	p.mu.Lock()
	m, ok := p.mappings[runtimeID]
	delete(p.mappings, runtimeID)
	p.mu.Unlock()
	if !ok {
		return nil
	}
	return p.teardown(ctx, m.hostPort, m.containerIP, m.containerPort)
}

func (p *hostPortPublisher) teardown(ctx context.Context, hostPort int, containerIP string, containerPort int) error {
	for _, chain := range []string{"PREROUTING", "OUTPUT"} {
		_ = p.runIPTables(ctx, "-t", "nat", "-D", chain, "-p", "tcp",
			"--dport", strconv.Itoa(hostPort), "-j", "DNAT",
			"--to-destination", fmt.Sprintf("%s:%d", containerIP, containerPort))
	}
	_ = p.runIPTables(ctx, "-t", "nat", "-D", "POSTROUTING", "-p", "tcp",
		"-d", containerIP, "--dport", strconv.Itoa(containerPort), "-j", "MASQUERADE")
	_ = p.runIPTables(ctx, "-D", "FORWARD", "-p", "tcp",
		"-d", containerIP, "--dport", strconv.Itoa(containerPort), "-j", "ACCEPT")
	return nil
}

func (p *hostPortPublisher) runIPTables(ctx context.Context, args ...string) error {
	_, err := p.executor.Run(ctx, "iptables", args, exec.Options{Timeout: exec.DefaultProbeTimeout})
	return err
}

// GetContainerIP extracts a running container's IP address from its own
// network namespace via nsenter, since containerd exposes a task's PID
// but not its interface configuration. Adapted from the teacher's
// pkg/runtime/containerd.go GetContainerIP.
func (r *Runtime) GetContainerIP(ctx context.Context, runtimeID string) (string, error) {
	ctrdCtx := r.ctx(ctx)
	container, err := r.client.LoadContainer(ctrdCtx, runtimeID)
	if err != nil {
		return "", fmt.Errorf("loading container %s: %w", runtimeID, err)
	}

	task, err := container.Task(ctrdCtx, nil)
	if err != nil {
		return "", fmt.Errorf("getting task: %w", err)
	}

	pid := task.Pid()
	if pid == 0 {
		return "", fmt.Errorf("container task has no PID")
	}

	result, err := r.hostExec.Run(ctx, "nsenter",
		[]string{"-t", strconv.Itoa(int(pid)), "-n", "ip", "-4", "addr", "show", "eth0"},
		exec.Options{Timeout: exec.DefaultProbeTimeout})
	if err != nil {
		return "", fmt.Errorf("reading container network namespace: %w", err)
	}

	for _, line := range strings.Split(result.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip, _, err := net.ParseCIDR(fields[1])
		if err != nil {
			return "", fmt.Errorf("parsing container IP %s: %w", fields[1], err)
		}
		return ip.String(), nil
	}
	return "", fmt.Errorf("no inet address found on eth0")
}
