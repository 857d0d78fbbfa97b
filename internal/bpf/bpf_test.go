package bpf

import (
	"errors"
	"testing"
)

func TestParseRecord_RoundTripLayout(t *testing.T) {
	hdr := BlockHeader{Timestamp: 0x0102030405060708, BytesUsed: 4, Tag: 0xbeef}
	raw := AppendRecord(nil, hdr, []byte("data"))

	if len(raw) != BlockHeaderSize+4 {
		t.Fatalf("record length = %d, want %d", len(raw), BlockHeaderSize+4)
	}
	// Little endian, timestamp first.
	if raw[0] != 0x08 || raw[7] != 0x01 {
		t.Errorf("timestamp bytes = % x", raw[:8])
	}
	if raw[12] != 0xef || raw[13] != 0xbe {
		t.Errorf("tag bytes = % x", raw[12:14])
	}

	got, payload, err := ParseRecord(raw)
	if err != nil {
		t.Fatalf("ParseRecord() error = %v", err)
	}
	if got != hdr {
		t.Errorf("header = %+v, want %+v", got, hdr)
	}
	if string(payload) != "data" {
		t.Errorf("payload = %q, want data", payload)
	}
}

func TestParseRecord_Short(t *testing.T) {
	_, _, err := ParseRecord(make([]byte, BlockHeaderSize-1))
	if !errors.Is(err, ErrShortRecord) {
		t.Errorf("ParseRecord() error = %v, want ErrShortRecord", err)
	}
}
