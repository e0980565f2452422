package framing

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []Frame{
		{RequestID: 1, Payload: Message{Type: TypeAck, Ack: &AckPayload{}}},
		{
			RequestID: 42,
			Payload: Message{
				Type: TypeIoData,
				IoData: &IoDataPayload{
					SessionID: "sess-1",
					TsMs:      1234,
					Direction: DirOutput,
					Data:      []byte("hello\r\n"),
				},
			},
		},
		{
			RequestID: 7,
			Payload: Message{
				Type: TypeCommandComplete,
				CommandComplete: &CommandComplete{Record: CommandRecord{
					CommandID:     "c1",
					SessionID:     "s1",
					StartedAtMs:   100,
					OutputSummary: "ok",
					StreamOffset:  10,
					StreamLength:  5,
				}},
			},
		},
	}

	for _, f := range cases {
		data, err := Encode(f)
		if err != nil {
			t.Fatalf("Encode: %v", err)
		}
		got, err := DecodeFrame(bytes.NewReader(data))
		if err != nil {
			t.Fatalf("DecodeFrame: %v", err)
		}
		if got.RequestID != f.RequestID {
			t.Fatalf("RequestID = %d, want %d", got.RequestID, f.RequestID)
		}
		if got.Payload.Type != f.Payload.Type {
			t.Fatalf("Type = %v, want %v", got.Payload.Type, f.Payload.Type)
		}
	}
}

func TestDecodeFrameBadMagic(t *testing.T) {
	buf := []byte{'X', 'Y', 0, 0, 0, 0}
	_, err := DecodeFrame(bytes.NewReader(buf))
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeFrameLengthTooLarge(t *testing.T) {
	var hdr bytes.Buffer
	hdr.Write(magic[:])
	hdr.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	_, err := DecodeFrame(&hdr)
	if err == nil {
		t.Fatal("expected error for oversized length")
	}
}

func TestDecodeFrameShortReadIsEOF(t *testing.T) {
	_, err := DecodeFrame(bytes.NewReader(nil))
	if err != io.EOF {
		t.Fatalf("expected io.EOF on empty reader, got %v", err)
	}
}

func TestDecodeFrameTruncatedPayload(t *testing.T) {
	full, err := Encode(Frame{RequestID: 1, Payload: Message{Type: TypeAck, Ack: &AckPayload{}}})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	truncated := full[:len(full)-2]
	_, err = DecodeFrame(bytes.NewReader(truncated))
	if err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestWriteFrameThenDecode(t *testing.T) {
	var buf bytes.Buffer
	f := Frame{RequestID: 99, Payload: Message{Type: TypeSessionEnd, SessionEnd: &SessionEndPayload{SessionID: "s9", EndedAtMs: 5}}}
	if err := WriteFrame(&buf, f); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	got, err := DecodeFrame(&buf)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if got.Payload.SessionEnd == nil || got.Payload.SessionEnd.SessionID != "s9" {
		t.Fatalf("got %+v", got.Payload.SessionEnd)
	}
}
