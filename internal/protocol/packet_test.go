package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	secret := []byte("shared-secret")
	p := New(42, []byte{0xDE, 0xAD, 0xBE, 0xEF})
	p.Sign(secret)

	encoded := p.Encode()
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	assert.Equal(t, p.Sequence, decoded.Sequence)
	assert.Equal(t, p.Payload, decoded.Payload)
	assert.Equal(t, p.ID, decoded.ID)
	assert.Equal(t, p.timestampMillis(), decoded.timestampMillis())
	assert.True(t, decoded.VerifyCRC())
	assert.True(t, decoded.VerifyHMAC(secret))
}

func TestHMACDiffersForDifferentSequences(t *testing.T) {
	secret := []byte("shared-secret")
	p1 := New(1, []byte("same payload"))
	p1.Sign(secret)
	p2 := New(2, []byte("same payload"))
	p2.Timestamp = p1.Timestamp
	p2.Sign(secret)

	assert.NotEqual(t, p1.HMACTag, p2.HMACTag)
}

func TestVerifyHMACRejectsTamperedPayload(t *testing.T) {
	secret := []byte("shared-secret")
	p := New(1, []byte("original"))
	p.Sign(secret)

	p.Payload = []byte("modified")
	assert.False(t, p.VerifyHMAC(secret))
}

func TestVerifyHMACRejectsWrongSecret(t *testing.T) {
	p := New(1, []byte("original"))
	p.Sign([]byte("secret-a"))
	assert.False(t, p.VerifyHMAC([]byte("secret-b")))
}

func TestDecodeRejectsShortFrame(t *testing.T) {
	_, err := Decode([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestDecodeRejectsLengthMismatch(t *testing.T) {
	p := New(1, []byte("payload"))
	p.Sign([]byte("secret"))
	encoded := p.Encode()
	truncated := encoded[:len(encoded)-5]
	_, err := Decode(truncated)
	assert.Error(t, err)
}

func TestDecodeRejectsEmptyPayload(t *testing.T) {
	p := &Packet{VersionByte: Version, Sequence: 1}
	p.CRC32 = 0
	encoded := p.Encode()
	_, err := Decode(encoded)
	assert.Error(t, err)
}

func TestDecodeRejectsUnsupportedVersion(t *testing.T) {
	p := New(1, []byte("payload"))
	p.Sign([]byte("secret"))
	encoded := p.Encode()
	encoded[0] = 99
	_, err := Decode(encoded)
	assert.Error(t, err)
}
