// Package bot contains the message dispatch core: inbound event fan-out
// with per-identity ordering, the outbound send queue, and the handler
// context passed to commands.
package bot

import (
	"context"
	"time"

	"github.com/m3rciful/paybot/core/identity"
)

// InboundEvent is one received message, already reduced by the transport
// to the fields the dispatch core consumes.
type InboundEvent struct {
	// Sender is the normalized identity of the message author.
	Sender identity.Identity
	// SenderName is the author's profile name if the transport knows it.
	SenderName string
	// Text is the message body, possibly empty for attachment-only messages.
	Text string
	// Attachment holds raw image bytes when the message carried one.
	Attachment []byte
	// Timestamp is the transport's message timestamp.
	Timestamp time.Time
	// ID is a transport-assigned sequence number used for log correlation.
	ID int64
}

// OutboundMessage is one message to deliver.
type OutboundMessage struct {
	Recipient identity.Identity
	Text      string
	// Image holds raw PNG bytes to attach, typically a rendered QR code.
	Image []byte
}

// Transport is the messaging collaborator. Subscribe yields inbound
// events until ctx is done; Send performs one blocking delivery attempt.
type Transport interface {
	Subscribe(ctx context.Context) (<-chan InboundEvent, error)
	Send(ctx context.Context, msg OutboundMessage) error
}
