// File: api/inbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Inbound is the consumption side of a channel: the component that receives
// decoded readiness results. Channels never interpret payloads themselves;
// they push buffers, accepted connections and lifecycle notifications here.

package api

// Inbound receives everything a channel produces.
//
// All callbacks run on the channel's owning event loop goroutine.
// OnDataReceived transfers ownership of the buffer to the callee.
type Inbound interface {
	// OnDataReceived delivers one filled read buffer.
	OnDataReceived(buf Buffer)

	// OnAccepted delivers one accepted child channel. Only listening
	// channels emit this.
	OnAccepted(ch Channel)

	// OnReadComplete marks the end of one read (or accept) pass.
	OnReadComplete()

	// OnActive signals the inactive-to-active transition.
	OnActive()

	// OnExceptionCaught surfaces an error captured on the read, write or
	// accept path.
	OnExceptionCaught(err error)

	// OnUserEvent delivers out-of-band notifications such as
	// InputShutdownEvent.
	OnUserEvent(evt any)
}

// NopInbound discards every notification. Useful as an embedding base so
// consumers override only the callbacks they care about.
type NopInbound struct{}

func (NopInbound) OnDataReceived(buf Buffer)   { buf.Release() }
func (NopInbound) OnAccepted(ch Channel)       { _ = ch.Close() }
func (NopInbound) OnReadComplete()             {}
func (NopInbound) OnActive()                   {}
func (NopInbound) OnExceptionCaught(err error) {}
func (NopInbound) OnUserEvent(evt any)         {}
