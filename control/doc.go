// Package control carries the operational surface of sockchan: file-based
// configuration with hot-reload, and prometheus metrics for the transport.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package control
