package reactor

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ListenTCP opens a non-blocking, raw IPv4/IPv6 TCP listening socket bound
// to host:port with the given backlog, bypassing net.Listen so the
// resulting fd can be registered directly with a Selector for OP_ACCEPT.
func ListenTCP(host string, port int, backlog int) (fd int, err error) {
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, rerr := net.ResolveIPAddr("ip", host)
		if rerr != nil {
			return -1, fmt.Errorf("reactor: resolve %q: %w", host, rerr)
		}
		ip = resolved.IP
	}

	domain := unix.AF_INET
	if ip.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err = unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: set nonblock: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: setsockopt SO_REUSEADDR: %w", err)
	}

	if domain == unix.AF_INET {
		var addr unix.SockaddrInet4
		copy(addr.Addr[:], ip.To4())
		addr.Port = port
		if err := unix.Bind(fd, &addr); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("reactor: bind: %w", err)
		}
	} else {
		var addr unix.SockaddrInet6
		copy(addr.Addr[:], ip.To16())
		addr.Port = port
		if err := unix.Bind(fd, &addr); err != nil {
			unix.Close(fd)
			return -1, fmt.Errorf("reactor: bind: %w", err)
		}
	}

	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: listen: %w", err)
	}
	return fd, nil
}

// Accept accepts one pending connection on a listening fd, returning a
// non-blocking client fd. A nil error with fd == -1 indicates the accept
// would block (EAGAIN) — no connection is currently pending.
func Accept(listenFD int) (fd int, remote net.Addr, err error) {
	nfd, sa, err := unix.Accept(listenFD)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, nil, nil
		}
		return -1, nil, fmt.Errorf("reactor: accept: %w", err)
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, nil, fmt.Errorf("reactor: set nonblock: %w", err)
	}
	return nfd, sockaddrToAddr(sa), nil
}

// DialTCP begins a non-blocking connect to host:port, returning the fd
// immediately after issuing connect(2). A nil error does not mean the
// connection is established — the caller must watch for OP_CONNECT (or
// OP_WRITE) readiness and call FinishConnect.
func DialTCP(host string, port int) (fd int, err error) {
	ip := net.ParseIP(host)
	if ip == nil {
		resolved, rerr := net.ResolveIPAddr("ip", host)
		if rerr != nil {
			return -1, fmt.Errorf("reactor: resolve %q: %w", host, rerr)
		}
		ip = resolved.IP
	}

	domain := unix.AF_INET
	if ip.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err = unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("reactor: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: set nonblock: %w", err)
	}

	var connErr error
	if domain == unix.AF_INET {
		var addr unix.SockaddrInet4
		copy(addr.Addr[:], ip.To4())
		addr.Port = port
		connErr = unix.Connect(fd, &addr)
	} else {
		var addr unix.SockaddrInet6
		copy(addr.Addr[:], ip.To16())
		addr.Port = port
		connErr = unix.Connect(fd, &addr)
	}
	if connErr != nil && connErr != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, fmt.Errorf("reactor: connect: %w", connErr)
	}
	return fd, nil
}

// FinishConnect checks whether a non-blocking connect has completed,
// returning the pending socket error (if any) reported by SO_ERROR.
func FinishConnect(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("reactor: getsockopt SO_ERROR: %w", err)
	}
	if errno != 0 {
		return fmt.Errorf("reactor: connect failed: %w", unix.Errno(errno))
	}
	return nil
}

// Read performs one non-blocking read. A return of (0, nil) means EOF; a
// return of (-1, nil) means the read would block (EAGAIN).
func Read(fd int, p []byte) (int, error) {
	n, err := unix.Read(fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, nil
		}
		return 0, err
	}
	return n, nil
}

// Write performs one non-blocking write. A return of (-1, nil) means the
// write would block (EAGAIN) and OP_WRITE should remain asserted.
func Write(fd int, p []byte) (int, error) {
	n, err := unix.Write(fd, p)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return -1, nil
		}
		return 0, err
	}
	return n, nil
}

// Close closes a raw file descriptor.
func Close(fd int) error { return unix.Close(fd) }

// SetTCPOptions applies nodelay and keepalive to a connected TCP fd, as
// each flag requests. It does not set SO_REUSEADDR.
func SetTCPOptions(fd int, nodelay, keepalive bool) error {
	if nodelay {
		if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
			return fmt.Errorf("reactor: setsockopt TCP_NODELAY: %w", err)
		}
	}
	if keepalive {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1); err != nil {
			return fmt.Errorf("reactor: setsockopt SO_KEEPALIVE: %w", err)
		}
	}
	return nil
}

func sockaddrToAddr(sa unix.Sockaddr) net.Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	default:
		return nil
	}
}
