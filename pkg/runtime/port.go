package runtime

import (
	"fmt"
	"math/rand"
	"net"
)

const (
	hostPortRangeStart = 20000
	hostPortRangeEnd   = 45000
)

// allocateHostPort picks a random loopback-bindable port in
// [20000, 45000) by probing bind availability, per §4.D.
func allocateHostPort() (int, error) {
	for attempt := 0; attempt < 50; attempt++ {
		port := hostPortRangeStart + rand.Intn(hostPortRangeEnd-hostPortRangeStart)
		addr := fmt.Sprintf("127.0.0.1:%d", port)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			continue
		}
		ln.Close()
		return port, nil
	}
	return 0, fmt.Errorf("no free port found in [%d, %d)", hostPortRangeStart, hostPortRangeEnd)
}
