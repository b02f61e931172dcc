//go:build linux

// File: eventloop/poller_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) poller with an eventfd wakeup channel.
// Level-triggered: interest masks mirror the channel's in-process flags.

package eventloop

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

type pollEvent struct {
	fd       int
	readable bool
	writable bool
}

type poller interface {
	Add(fd int, interest Interest) error
	Mod(fd int, interest Interest) error
	Del(fd int) error
	Wait(events []pollEvent, timeoutMs int) (int, error)
	Wake()
	Close() error
}

type epollPoller struct {
	epfd   int
	wakeFD int
}

func newPoller() (poller, Kind, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, KindEpoll, fmt.Errorf("epoll create: %w", err)
	}
	wakeFD, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, KindEpoll, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakeFD)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakeFD, &ev); err != nil {
		_ = unix.Close(epfd)
		_ = unix.Close(wakeFD)
		return nil, KindEpoll, fmt.Errorf("epoll ctl add wakeup: %w", err)
	}
	return &epollPoller{epfd: epfd, wakeFD: wakeFD}, KindEpoll, nil
}

func interestToEpoll(interest Interest) uint32 {
	var events uint32
	if interest&InterestRead != 0 {
		events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&InterestWrite != 0 {
		events |= unix.EPOLLOUT
	}
	return events
}

func (p *epollPoller) Add(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl add: %w", err)
	}
	return nil
}

func (p *epollPoller) Mod(fd int, interest Interest) error {
	ev := unix.EpollEvent{Events: interestToEpoll(interest), Fd: int32(fd)}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll ctl mod: %w", err)
	}
	return nil
}

func (p *epollPoller) Del(fd int) error {
	err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	switch err {
	case nil, unix.ENOENT, unix.EBADF:
		// Already gone: deregister after close is tolerated.
		return nil
	default:
		return fmt.Errorf("epoll ctl del: %w", err)
	}
}

func (p *epollPoller) Wait(events []pollEvent, timeoutMs int) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	var n int
	var err error
	for {
		n, err = unix.EpollWait(p.epfd, raw, timeoutMs)
		if err == unix.EINTR {
			continue
		}
		break
	}
	if err != nil {
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == p.wakeFD {
			p.drainWake()
			continue
		}
		e := raw[i].Events
		hadErr := e&(unix.EPOLLERR|unix.EPOLLHUP) != 0
		events[out] = pollEvent{
			fd:       fd,
			readable: e&(unix.EPOLLIN|unix.EPOLLRDHUP) != 0 || hadErr,
			writable: e&unix.EPOLLOUT != 0 || hadErr,
		}
		out++
	}
	return out, nil
}

func (p *epollPoller) Wake() {
	var one [8]byte
	binary.LittleEndian.PutUint64(one[:], 1)
	_, _ = unix.Write(p.wakeFD, one[:])
}

func (p *epollPoller) drainWake() {
	var buf [8]byte
	_, _ = unix.Read(p.wakeFD, buf[:])
}

func (p *epollPoller) Close() error {
	_ = unix.Close(p.wakeFD)
	return unix.Close(p.epfd)
}
