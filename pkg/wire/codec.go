package wire

import (
	"fmt"
	"io"
	"time"
)

// SendMessage frames and writes e to w in one call: MarshalMsg then
// WriteFrame. Callers on a long-lived heartbeat socket typically pass
// a net.Conn; callers on a one-shot request/response socket may pass
// any io.Writer.
func SendMessage(w io.Writer, e *Envelope) error {
	payload, err := e.MarshalMsg(nil)
	if err != nil {
		return fmt.Errorf("wire: marshal envelope: %w", err)
	}
	return WriteFrame(w, payload)
}

// ReceiveMessage reads one frame from r and decodes it as an Envelope.
// deadline is forwarded to ReadFrame; pass 0 for unbounded reads.
func ReceiveMessage(r io.Reader, deadline time.Duration) (*Envelope, error) {
	payload, err := ReadFrame(r, deadline)
	if err != nil {
		return nil, err
	}
	return DecodeEnvelope(payload)
}
