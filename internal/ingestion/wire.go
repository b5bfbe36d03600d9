package ingestion

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/traceloupe/traceloupe/internal/database"
)

// MessageType discriminates the kind of payload in the wire protocol.
type MessageType byte

const (
	MsgApp         MessageType = 0x01
	MsgRecord      MessageType = 0x02
	MsgCall        MessageType = 0x03
	MsgFeedback    MessageType = 0x04
	MsgBatch       MessageType = 0x05
	MsgFeedbackDef MessageType = 0x06
)

// Acknowledgement bytes written back after each frame.
const (
	ackOK  = 0x00
	ackErr = 0x01
)

// maxPayloadBytes caps a single frame's payload. Oversized frames are
// rejected and the connection dropped.
const maxPayloadBytes = 10 * 1024 * 1024

// BatchMessage contains multiple items of different types. Batches are
// journaled to pending_writes before processing, so a crash mid-batch
// is replayed on the next startup.
type BatchMessage struct {
	Apps         []*database.App            `json:"apps,omitempty"`
	Records      []*database.Record         `json:"records,omitempty"`
	Calls        []*database.Call           `json:"calls,omitempty"`
	FeedbackDefs []*database.FeedbackDef    `json:"feedback_defs,omitempty"`
	Feedbacks    []*database.FeedbackResult `json:"feedbacks,omitempty"`
}

// writeFrame writes one wire frame:
// [1 byte type][4 bytes length (big-endian)][payload JSON]
func writeFrame(w io.Writer, msgType MessageType, payload []byte) error {
	if len(payload) > maxPayloadBytes {
		return fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	header := make([]byte, 5)
	header[0] = byte(msgType)
	binary.BigEndian.PutUint32(header[1:], uint32(len(payload)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("writing frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing frame payload: %w", err)
	}
	return nil
}

// writeJSONFrame marshals v and writes it as one frame.
func writeJSONFrame(w io.Writer, msgType MessageType, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling %T: %w", v, err)
	}
	return writeFrame(w, msgType, payload)
}

// readFrame reads one wire frame. The type byte is read separately so
// a client closing between messages surfaces as a plain io.EOF rather
// than a framing error.
func readFrame(r io.Reader) (MessageType, []byte, error) {
	var header [5]byte
	if _, err := io.ReadFull(r, header[:1]); err != nil {
		return 0, nil, err
	}
	if _, err := io.ReadFull(r, header[1:]); err != nil {
		return 0, nil, fmt.Errorf("reading frame length: %w", err)
	}

	msgType := MessageType(header[0])
	payloadLen := binary.BigEndian.Uint32(header[1:])
	if payloadLen > maxPayloadBytes {
		return 0, nil, fmt.Errorf("frame too large: %d bytes", payloadLen)
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, fmt.Errorf("reading frame payload: %w", err)
	}
	return msgType, payload, nil
}
