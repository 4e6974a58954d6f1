package runtime

import (
	"fmt"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/oci"
)

const cpuPeriod = uint64(100000)

// containerPolicyOpts builds the §4.D hardened container policy as a
// list of oci.SpecOpts: read-only rootfs, tmpfs for /tmp+/run+cache
// dirs, no-new-privileges, capability drop-then-add, pids limit,
// ulimits, memory/cpu quota, and a loopback-only port bind.
func containerPolicyOpts(image containerd.Image, spec RunSpec, hostPort int) []oci.SpecOpts {
	quota := int64(float64(spec.CpuMillicores) / 1000.0 * float64(cpuPeriod))

	return []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
		oci.WithRootFSReadonly(),
		oci.WithTmpfsMount("/tmp", []string{"nosuid", "nodev"}),
		oci.WithTmpfsMount("/run", []string{"nosuid", "nodev"}),
		oci.WithTmpfsMount("/var/cache", []string{"nosuid", "nodev"}),
		oci.WithNoNewPrivileges,
		oci.WithCapabilities(nil),
		oci.WithAddedCapabilities([]string{
			"CAP_NET_BIND_SERVICE",
			"CAP_CHOWN",
			"CAP_SETUID",
			"CAP_SETGID",
		}),
		oci.WithPidsLimit(256),
		oci.WithRLimit("RLIMIT_NOFILE", 4096, 8192),
		oci.WithMemoryLimit(uint64(spec.MemoryMb) * 1024 * 1024),
		oci.WithCPUCFS(quota, cpuPeriod),
		withLoopbackPortBind(spec.Port, hostPort),
	}
}

// withLoopbackPortBind records the container's internal port and the
// assigned host port as env vars; containerd itself does not manage
// port publishing, so the host-port forwarding is installed separately
// by publishPort (network.go) once the task is running.
func withLoopbackPortBind(containerPort, hostPort int) oci.SpecOpts {
	return oci.WithEnv([]string{
		fmt.Sprintf("PORT=%d", containerPort),
		fmt.Sprintf("HOST_PORT=%d", hostPort),
	})
}
