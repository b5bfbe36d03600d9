package ingestion

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"

	"github.com/traceloupe/traceloupe/internal/database"
)

// TestFrameRoundTrip verifies that frames written to a stream are read
// back in order with their type and payload intact.
func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	first := []byte(`{"record_id":"rec-1"}`)
	second := []byte(`{"call_id":"call-1"}`)

	if err := writeFrame(&buf, MsgRecord, first); err != nil {
		t.Fatalf("writeFrame failed: %v", err)
	}
	if err := writeFrame(&buf, MsgCall, second); err != nil {
		t.Fatalf("writeFrame failed: %v", err)
	}

	msgType, payload, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame failed: %v", err)
	}
	if msgType != MsgRecord {
		t.Errorf("expected type MsgRecord, got 0x%02x", byte(msgType))
	}
	if !bytes.Equal(payload, first) {
		t.Errorf("expected payload %q, got %q", first, payload)
	}

	msgType, payload, err = readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame failed on second frame: %v", err)
	}
	if msgType != MsgCall {
		t.Errorf("expected type MsgCall, got 0x%02x", byte(msgType))
	}
	if !bytes.Equal(payload, second) {
		t.Errorf("expected payload %q, got %q", second, payload)
	}
}

// TestFrameHeaderLayout verifies the on-wire layout: one type byte
// followed by a 4-byte big-endian payload length.
func TestFrameHeaderLayout(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"app_id":"app-1"}`)

	if err := writeFrame(&buf, MsgApp, payload); err != nil {
		t.Fatalf("writeFrame failed: %v", err)
	}

	raw := buf.Bytes()
	if len(raw) != 5+len(payload) {
		t.Fatalf("expected %d bytes on the wire, got %d", 5+len(payload), len(raw))
	}
	if raw[0] != byte(MsgApp) {
		t.Errorf("expected type byte 0x%02x, got 0x%02x", byte(MsgApp), raw[0])
	}
	if got := binary.BigEndian.Uint32(raw[1:5]); got != uint32(len(payload)) {
		t.Errorf("expected length %d, got %d", len(payload), got)
	}
}

// TestWriteJSONFrameBatch verifies that a batch message survives the
// marshal, frame, and unmarshal round trip.
func TestWriteJSONFrameBatch(t *testing.T) {
	var buf bytes.Buffer

	input := "question"
	batch := BatchMessage{
		Records: []*database.Record{
			{RecordID: "rec-1", AppID: "app-1", Input: &input},
		},
		Calls: []*database.Call{
			{CallID: "call-1", RecordID: "rec-1", Component: "LLM"},
		},
	}

	if err := writeJSONFrame(&buf, MsgBatch, batch); err != nil {
		t.Fatalf("writeJSONFrame failed: %v", err)
	}

	msgType, payload, err := readFrame(&buf)
	if err != nil {
		t.Fatalf("readFrame failed: %v", err)
	}
	if msgType != MsgBatch {
		t.Errorf("expected type MsgBatch, got 0x%02x", byte(msgType))
	}

	var decoded BatchMessage
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshaling batch failed: %v", err)
	}
	if len(decoded.Records) != 1 || decoded.Records[0].RecordID != "rec-1" {
		t.Errorf("expected one record rec-1, got %+v", decoded.Records)
	}
	if len(decoded.Calls) != 1 || decoded.Calls[0].Component != "LLM" {
		t.Errorf("expected one LLM call, got %+v", decoded.Calls)
	}
}

// TestReadFrameEOFOnIdleClose verifies that a connection closed between
// messages yields a clean io.EOF, not a framing error.
func TestReadFrameEOFOnIdleClose(t *testing.T) {
	_, _, err := readFrame(bytes.NewReader(nil))
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

// TestReadFrameTruncatedPayload verifies that a frame cut off mid-payload
// is reported as an error rather than returning partial data.
func TestReadFrameTruncatedPayload(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(MsgRecord))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], 64)
	buf.Write(lenBuf[:])
	buf.WriteString("short")

	_, _, err := readFrame(&buf)
	if err == nil {
		t.Fatal("expected error for truncated payload, got nil")
	}
	if err == io.EOF {
		t.Error("truncation mid-frame should not look like a clean EOF")
	}
}

// TestWriteFrameRejectsOversizePayload verifies the 10 MB payload cap on
// the send side.
func TestWriteFrameRejectsOversizePayload(t *testing.T) {
	var buf bytes.Buffer
	payload := make([]byte, maxPayloadBytes+1)

	if err := writeFrame(&buf, MsgRecord, payload); err == nil {
		t.Fatal("expected error for oversized payload, got nil")
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written for rejected frame, got %d bytes", buf.Len())
	}
}

// TestReadFrameRejectsOversizeHeader verifies that a forged header
// claiming a payload above the cap is rejected before allocation.
func TestReadFrameRejectsOversizeHeader(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteByte(byte(MsgRecord))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], maxPayloadBytes+1)
	buf.Write(lenBuf[:])

	_, _, err := readFrame(&buf)
	if err == nil {
		t.Fatal("expected error for oversized length header, got nil")
	}
}
