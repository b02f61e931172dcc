// File: internal/sock/sock.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Result types shared by the platform syscall wrappers.
//
// End-of-stream and would-block are ordinary results here, not errors:
// the channel read/write loops branch on them without unwrapping errno.

package sock

// IOResult reports the outcome of one non-blocking IO syscall.
// Exactly one of the following holds: N > 0 (data moved), EOF (stream end),
// Again (would block), or all zero (zero-length op).
type IOResult struct {
	N     int
	EOF   bool
	Again bool
}
