// Package protocol implements the Entropy Packet wire format and its
// HMAC-SHA256 signing/verification, exactly as laid out in section 6 of the
// specification. Integer fields on the wire are little-endian; the HMAC is
// computed over a canonical triple that uses big-endian encodings of the
// timestamp and sequence, independent of their wire representation.
package protocol

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Version is the only protocol version this implementation understands.
const Version uint8 = 1

const (
	headerFixedLen = 1 + 16 + 8 + 8 + 4 // version, uuid, sequence, timestamp, length
	trailerLen     = 4 + 32             // crc32, hmac tag
	hmacTagLen     = 32
)

// Packet is a framed, signed, sequenced unit of transport from the
// Collector to the Gateway.
type Packet struct {
	VersionByte uint8
	ID          uuid.UUID
	Sequence    uint64
	Timestamp   time.Time // UTC, millisecond precision
	Payload     []byte
	CRC32       uint32
	HMACTag     [hmacTagLen]byte
}

// New builds an unsigned packet with a fresh UUID, CRC32, and millisecond
// UTC timestamp. Call Sign before transmitting.
func New(sequence uint64, payload []byte) *Packet {
	return &Packet{
		VersionByte: Version,
		ID:          uuid.New(),
		Sequence:    sequence,
		Timestamp:   time.Now().UTC().Truncate(time.Millisecond),
		Payload:     payload,
		CRC32:       crc32.ChecksumIEEE(payload),
	}
}

// timestampMillis returns the Unix timestamp in milliseconds.
func (p *Packet) timestampMillis() uint64 {
	return uint64(p.Timestamp.UnixMilli())
}

// canonicalBytes returns payload ‖ timestamp-big-endian-8 ‖ sequence-big-endian-8,
// the exact input the HMAC in section 4.3/4.5 is computed over.
func (p *Packet) canonicalBytes() []byte {
	buf := make([]byte, 0, len(p.Payload)+16)
	buf = append(buf, p.Payload...)
	var tsBE, seqBE [8]byte
	binary.BigEndian.PutUint64(tsBE[:], p.timestampMillis())
	binary.BigEndian.PutUint64(seqBE[:], p.Sequence)
	buf = append(buf, tsBE[:]...)
	buf = append(buf, seqBE[:]...)
	return buf
}

// Sign computes and stores the HMAC-SHA256 tag over the canonical triple.
func (p *Packet) Sign(secret []byte) {
	mac := hmac.New(sha256.New, secret)
	mac.Write(p.canonicalBytes())
	copy(p.HMACTag[:], mac.Sum(nil))
}

// VerifyHMAC recomputes the tag and compares it in constant time. An
// early-exit comparison here would be a defect per the specification.
func (p *Packet) VerifyHMAC(secret []byte) bool {
	mac := hmac.New(sha256.New, secret)
	mac.Write(p.canonicalBytes())
	expected := mac.Sum(nil)
	return hmac.Equal(expected, p.HMACTag[:])
}

// VerifyCRC recomputes the payload checksum and compares it to the stored one.
func (p *Packet) VerifyCRC() bool {
	return crc32.ChecksumIEEE(p.Payload) == p.CRC32
}

// Encode serializes the packet into the wire layout from section 6:
// version(1) uuid(16) sequence(8,LE) timestamp-ms(8,LE) length(4,LE)
// payload(L) crc32(4,LE) hmac(32).
func (p *Packet) Encode() []byte {
	total := headerFixedLen + len(p.Payload) + trailerLen
	out := make([]byte, total)

	out[0] = p.VersionByte
	copy(out[1:17], p.ID[:])
	binary.LittleEndian.PutUint64(out[17:25], p.Sequence)
	binary.LittleEndian.PutUint64(out[25:33], p.timestampMillis())
	binary.LittleEndian.PutUint32(out[33:37], uint32(len(p.Payload)))
	copy(out[37:37+len(p.Payload)], p.Payload)

	trailerOffset := 37 + len(p.Payload)
	binary.LittleEndian.PutUint32(out[trailerOffset:trailerOffset+4], p.CRC32)
	copy(out[trailerOffset+4:trailerOffset+4+hmacTagLen], p.HMACTag[:])
	return out
}

// Decode parses the wire layout into a Packet. It performs only structural
// validation (lengths, bounds); CRC and HMAC checks are the caller's
// responsibility via VerifyCRC/VerifyHMAC so the admission algorithm in
// section 4.5 can run its checks in the specified order.
func Decode(data []byte) (*Packet, error) {
	if len(data) < headerFixedLen+trailerLen {
		return nil, errors.New("packet too short for fixed header and trailer")
	}

	p := &Packet{}
	p.VersionByte = data[0]
	if p.VersionByte != Version {
		return nil, errors.Errorf("unsupported protocol version %d", p.VersionByte)
	}
	copy(p.ID[:], data[1:17])
	p.Sequence = binary.LittleEndian.Uint64(data[17:25])
	tsMillis := binary.LittleEndian.Uint64(data[25:33])
	p.Timestamp = time.UnixMilli(int64(tsMillis)).UTC()

	payloadLen := binary.LittleEndian.Uint32(data[33:37])
	expectedTotal := headerFixedLen + int(payloadLen) + trailerLen
	if expectedTotal < 0 || len(data) != expectedTotal {
		return nil, errors.Errorf("length mismatch: declared payload %d bytes, frame is %d bytes", payloadLen, len(data))
	}
	if payloadLen == 0 {
		return nil, errors.New("payload must be non-empty")
	}

	p.Payload = make([]byte, payloadLen)
	copy(p.Payload, data[37:37+payloadLen])

	trailerOffset := 37 + int(payloadLen)
	p.CRC32 = binary.LittleEndian.Uint32(data[trailerOffset : trailerOffset+4])
	copy(p.HMACTag[:], data[trailerOffset+4:trailerOffset+4+hmacTagLen])
	return p, nil
}
