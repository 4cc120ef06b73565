package orchestrator

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultUIPort is where the pipelines UI is forwarded when free.
const DefaultUIPort = 8080

const portScanRange = 100

// PortAvailable reports whether port can be bound on the loopback interface.
func PortAvailable(port int) bool {
	if port <= 0 || port > 65535 {
		return false
	}
	l, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = l.Close()
	return true
}

// SelectPort returns preferred when it is free, otherwise the next free port
// above it, otherwise any port the kernel hands out.
func SelectPort(preferred int) (int, error) {
	if preferred <= 0 {
		preferred = DefaultUIPort
	}
	for p := preferred; p < preferred+portScanRange && p <= 65535; p++ {
		if PortAvailable(p) {
			return p, nil
		}
	}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("find available port: %w", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
