// Package eventloop implements the single-threaded readiness reactor that
// drives sockchan channels: epoll-based readiness multiplexing, cross-thread
// task marshalling onto the loop goroutine, and monotonic timer scheduling.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package eventloop
