// Package channel implements the bidirectional, attachment-carrying
// message channel pair (spec.md §4.E): bounded ring buffers gated by
// counting semaphores, five waitqueues per half, and the send/receive/
// close protocol those wire together.
package channel

import "github.com/anillo-os/ferrocore/internal/vm"

// AttachmentKind discriminates the tagged union spec.md §3 "Message"
// describes.
type AttachmentKind int

const (
	AttachNull AttachmentKind = iota
	AttachChannel
	AttachMapping
	AttachData
)

// Attachment is one slot of a Message's attachment array. Exactly one
// of Channel/Mapping/Data is meaningful, selected by Kind.
type Attachment struct {
	Kind AttachmentKind

	// AttachChannel: ownership of this half transfers to the receiver
	// on a successful receive. The sender must not use it again after
	// Send returns nil.
	Channel *Channel

	// AttachMapping: a retained reference; the receiver owns the
	// reference after receive, or it is dropped if the message itself
	// is dropped unreceived.
	Mapping *vm.Mapping

	// AttachData: inline bytes, or bytes backed by a shared mapping
	// (DataShared). Data is held as given; it is never taken from or
	// returned to internal/channel's buffer pool.
	Data       []byte
	DataShared bool
}

// Message is one entry in a channel's ring: a body plus an ordered
// attachment list. A message currently enqueued owns its body and
// attachments; they are released exactly once, when the receiving peer
// consumes or drops the message (through Message.Release, which the
// receiver calls after Channel.Receive and the half's drop-on-close path
// calls for messages nobody received).
type Message struct {
	ConversationID uint64
	MessageID      uint64

	Body        []byte
	Attachments []Attachment

	pooled bool // Body came from getBodyBuffer; Release must putBodyBuffer
}

// NewMessage creates a message with the given body and attachments. If
// the body fits the pooled buffer's bucket, the caller may instead use
// NewMessageFromPool to avoid an allocation on the hot send path.
func NewMessage(body []byte, attachments ...Attachment) *Message {
	return &Message{Body: body, Attachments: attachments}
}

// NewMessageFromPool copies src into a pooled buffer sized to the
// smallest bucket that fits and uses it as the message Body; Release
// returns the buffer to the pool. Attachments are stored as given.
func NewMessageFromPool(src []byte, attachments ...Attachment) *Message {
	buf := getBodyBuffer(len(src))
	n := copy(buf, src)
	return &Message{Body: buf[:n], Attachments: attachments, pooled: true}
}

// Release drops a message's resources: non-channel, non-shared-mapping
// attachments are released immediately; channel attachments are closed
// (since a dropped message with an un-received channel attachment must
// not leak the half); pooled bodies return to the pool. Called both by
// the receiver once it is done with a message and by a half closing out
// from under messages still queued in its ring.
func (m *Message) Release() {
	for i := range m.Attachments {
		a := &m.Attachments[i]
		switch a.Kind {
		case AttachChannel:
			if a.Channel != nil {
				_ = a.Channel.Close()
				a.Channel = nil
			}
		case AttachMapping:
			a.Mapping = nil
		}
	}
	if m.pooled {
		putBodyBuffer(m.Body)
		m.pooled = false
	}
	m.Body = nil
}
