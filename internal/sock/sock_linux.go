//go:build linux

// File: internal/sock/sock_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking socket syscall wrappers for Linux.
// All sockets are created SOCK_NONBLOCK|SOCK_CLOEXEC; EINTR is retried.

package sock

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Socket creates a non-blocking TCP socket for the address family of addr.
// A nil addr yields an IPv4 socket.
func Socket(addr *net.TCPAddr) (int, error) {
	family := unix.AF_INET
	if addr != nil && addr.IP.To4() == nil && len(addr.IP) == net.IPv6len {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, fmt.Errorf("socket create: %w", err)
	}
	return fd, nil
}

// SetReuseAddr enables SO_REUSEADDR.
func SetReuseAddr(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}
	return nil
}

// SetNoDelay enables TCP_NODELAY.
func SetNoDelay(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		return fmt.Errorf("setsockopt TCP_NODELAY: %w", err)
	}
	return nil
}

// Bind binds fd to addr.
func Bind(fd int, addr *net.TCPAddr) error {
	sa, err := tcpToSockaddr(addr)
	if err != nil {
		return err
	}
	if err := unix.Bind(fd, sa); err != nil {
		return fmt.Errorf("bind %v: %w", addr, err)
	}
	return nil
}

// Listen marks fd as a passive socket.
func Listen(fd, backlog int) error {
	if err := unix.Listen(fd, backlog); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Connect starts a non-blocking connect. done is true when the connect
// completed synchronously; false means EINPROGRESS and the socket becomes
// writable once the attempt resolves.
func Connect(fd int, addr *net.TCPAddr) (done bool, err error) {
	sa, err := tcpToSockaddr(addr)
	if err != nil {
		return false, err
	}
	for {
		err = unix.Connect(fd, sa)
		switch err {
		case nil, unix.EISCONN:
			return true, nil
		case unix.EINPROGRESS, unix.EALREADY:
			return false, nil
		case unix.EINTR:
			continue
		default:
			return false, fmt.Errorf("connect: %w", err)
		}
	}
}

// FinishConnect queries the outcome of an in-progress connect via SO_ERROR.
func FinishConnect(fd int) error {
	soerr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}
	if soerr != 0 {
		return unix.Errno(soerr)
	}
	return nil
}

// Accept accepts one pending connection. ok is false when no connection is
// pending (this ends an accept pass, it is not an error).
func Accept(fd int) (nfd int, ok bool, err error) {
	for {
		nfd, _, err = unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch err {
		case nil:
			return nfd, true, nil
		case unix.EAGAIN, unix.ECONNABORTED:
			return -1, false, nil
		case unix.EINTR:
			continue
		default:
			return -1, false, fmt.Errorf("accept: %w", err)
		}
	}
}

// Read performs one non-blocking read into p.
func Read(fd int, p []byte) (IOResult, error) {
	for {
		n, err := unix.Read(fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return IOResult{Again: true}, nil
		case err != nil:
			return IOResult{}, fmt.Errorf("read: %w", err)
		case n == 0 && len(p) > 0:
			return IOResult{EOF: true}, nil
		default:
			return IOResult{N: n}, nil
		}
	}
}

// Write performs one non-blocking write of p.
func Write(fd int, p []byte) (IOResult, error) {
	for {
		n, err := unix.Write(fd, p)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return IOResult{Again: true}, nil
		case err != nil:
			return IOResult{}, fmt.Errorf("write: %w", err)
		default:
			return IOResult{N: n}, nil
		}
	}
}

// Writev performs one scatter/gather write of iov.
func Writev(fd int, iov [][]byte) (IOResult, error) {
	for {
		n, err := unix.Writev(fd, iov)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return IOResult{Again: true}, nil
		case err != nil:
			return IOResult{}, fmt.Errorf("writev: %w", err)
		default:
			return IOResult{N: n}, nil
		}
	}
}

// Sendfile transfers up to count bytes from src at *off to dst, advancing
// *off by the amount transferred.
func Sendfile(dst, src int, off *int64, count int64) (IOResult, error) {
	for {
		n, err := unix.Sendfile(dst, src, off, int(count))
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return IOResult{Again: true}, nil
		case err != nil:
			return IOResult{}, fmt.Errorf("sendfile: %w", err)
		default:
			return IOResult{N: n}, nil
		}
	}
}

// Shutdown closes the read and/or write half of the socket.
func Shutdown(fd int, read, write bool) error {
	var how int
	switch {
	case read && write:
		how = unix.SHUT_RDWR
	case read:
		how = unix.SHUT_RD
	case write:
		how = unix.SHUT_WR
	default:
		return nil
	}
	if err := unix.Shutdown(fd, how); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the descriptor.
func Close(fd int) error {
	if err := unix.Close(fd); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// LocalAddr queries the bound local address of fd.
func LocalAddr(fd int) (*net.TCPAddr, error) {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return sockaddrToTCP(sa), nil
}

// RemoteAddr queries the peer address of fd.
func RemoteAddr(fd int) (*net.TCPAddr, error) {
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return nil, fmt.Errorf("getpeername: %w", err)
	}
	return sockaddrToTCP(sa), nil
}

func tcpToSockaddr(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if addr == nil {
		return nil, fmt.Errorf("nil address")
	}
	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], addr.IP.To16())
	return sa, nil
}

func sockaddrToTCP(sa unix.Sockaddr) *net.TCPAddr {
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: append([]byte(nil), a.Addr[:]...), Port: a.Port}
	default:
		return nil
	}
}
