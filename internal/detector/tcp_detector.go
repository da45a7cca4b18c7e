package detector

import (
	"net"
	"strconv"
	"time"
)

// DefaultDialTimeout bounds a single TCP connection attempt.
const DefaultDialTimeout = time.Second

// TCPDetector reports true when something accepts connections on Addr.
// A refused or timed out dial is "not ready", not an error.
type TCPDetector struct {
	Addr    string
	Timeout time.Duration
}

func (d TCPDetector) Alive() (bool, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	conn, err := net.DialTimeout("tcp", d.Addr, timeout)
	if err != nil {
		return false, nil
	}
	_ = conn.Close()
	return true, nil
}

func (d TCPDetector) Describe() string { return "tcp:" + d.Addr }

// PortInUse reports whether a listener accepts connections on 127.0.0.1:port.
func PortInUse(port int) bool {
	ok, _ := TCPDetector{Addr: net.JoinHostPort("127.0.0.1", strconv.Itoa(port))}.Alive()
	return ok
}
