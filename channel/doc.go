// Package channel implements the readiness-driven socket channels: a
// connecting/connected stream channel and a listening channel, both bound
// to a single eventloop.Loop that serializes every descriptor operation
// and state mutation.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package channel
