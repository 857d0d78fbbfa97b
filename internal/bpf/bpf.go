// Package bpf describes the records a kernel-side capture producer writes to
// the block ring buffer.
package bpf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// BlockHeaderSize is the encoded size of BlockHeader.
const BlockHeaderSize = 16

// ErrShortRecord is returned for records smaller than a header.
var ErrShortRecord = errors.New("record shorter than block header")

// BlockHeader matches struct block_hdr in the producer:
//
//	struct block_hdr {
//		__u64 timestamp;   /* bpf_ktime_get_ns() at fill */
//		__u32 bytes_used;  /* bytes the transfer filled */
//		__u16 tag;         /* frame tag */
//		__u16 pad;
//	};
//
// The payload follows the header directly.
type BlockHeader struct {
	Timestamp uint64
	BytesUsed uint32
	Tag       uint16
	Pad       uint16
}

// ParseRecord splits a raw ring buffer sample into header and payload.
func ParseRecord(raw []byte) (BlockHeader, []byte, error) {
	var hdr BlockHeader
	if len(raw) < BlockHeaderSize {
		return hdr, nil, fmt.Errorf("%w: %d bytes", ErrShortRecord, len(raw))
	}
	if err := binary.Read(bytes.NewReader(raw[:BlockHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return hdr, nil, fmt.Errorf("parsing block header: %w", err)
	}
	return hdr, raw[BlockHeaderSize:], nil
}

// AppendRecord encodes a record the way the producer lays it out.
func AppendRecord(dst []byte, hdr BlockHeader, payload []byte) []byte {
	dst = binary.LittleEndian.AppendUint64(dst, hdr.Timestamp)
	dst = binary.LittleEndian.AppendUint32(dst, hdr.BytesUsed)
	dst = binary.LittleEndian.AppendUint16(dst, hdr.Tag)
	dst = binary.LittleEndian.AppendUint16(dst, hdr.Pad)
	return append(dst, payload...)
}
