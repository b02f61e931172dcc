// Package pool provides the default BufferPool and adaptive receive sizer
// used by sockchan channels. Backing storage is recycled through
// valyala/bytebufferpool; cursor bookkeeping lives in this package.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package pool
