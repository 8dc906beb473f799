package nio

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applySessionSocketOptions sets nodelay, keepalive and reuseaddr on a
// freshly OPEN session's fd, the same setsockopt pattern the teacher uses
// for IP_TOS in internal/agent/dscp.go — applied directly to the raw fd
// since the reactor never hands the descriptor to net.Conn.
func applySessionSocketOptions(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("nio: setsockopt TCP_NODELAY: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
		return fmt.Errorf("nio: setsockopt SO_KEEPALIVE: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("nio: setsockopt SO_REUSEADDR: %w", err)
	}
	return nil
}
