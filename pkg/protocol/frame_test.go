package protocol

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSON, Compact} {
		t.Run(codec.Name(), func(t *testing.T) {
			v := M(map[string]Value{"action": S("ping"), "username": S("alice")})

			frame, err := EncodeValue(codec, ProtocolVersion, v)
			require.NoError(t, err)

			reader := NewFrameReader(codec, ProtocolVersion)
			reader.Feed(frame)

			payload, err := reader.Next()
			require.NoError(t, err)
			require.NotNil(t, payload)

			got, err := codec.Decode(payload)
			require.NoError(t, err)
			assert.True(t, v.Equal(got))

			// No leftovers, no phantom second frame.
			payload, err = reader.Next()
			require.NoError(t, err)
			assert.Nil(t, payload)
			assert.Equal(t, 0, reader.Buffered())
		})
	}
}

func TestFrameReaderPartialDelivery(t *testing.T) {
	v := M(map[string]Value{"action": S("login"), "username": S("bob"), "password": S("pw")})
	frame, err := EncodeValue(JSON, ProtocolVersion, v)
	require.NoError(t, err)

	reader := NewFrameReader(JSON, ProtocolVersion)
	for i := 0; i < len(frame); i++ {
		payload, err := reader.Next()
		require.NoError(t, err)
		require.Nil(t, payload, "frame completed %d bytes early", len(frame)-i)
		reader.Feed(frame[i : i+1])
	}

	payload, err := reader.Next()
	require.NoError(t, err)
	require.NotNil(t, payload)
	got, err := JSON.Decode(payload)
	require.NoError(t, err)
	assert.True(t, v.Equal(got))
}

// TestFrameVersionGate checks that a frame declaring an unsupported version
// never reaches the codec: the reader fails on the first byte.
func TestFrameVersionGate(t *testing.T) {
	frame, err := EncodeValue(JSON, ProtocolVersion+1, M(map[string]Value{"action": S("ping")}))
	require.NoError(t, err)

	reader := NewFrameReader(JSON, ProtocolVersion)
	reader.Feed(frame[:1]) // just the version byte is enough to reject

	_, err = reader.Next()
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestFrameHeaderTooLarge(t *testing.T) {
	raw := []byte{ProtocolVersion, 0, 0}
	binary.BigEndian.PutUint16(raw[1:3], MaxHeaderSize+1)

	reader := NewFrameReader(JSON, ProtocolVersion)
	reader.Feed(raw)

	_, err := reader.Next()
	assert.ErrorIs(t, err, ErrHeaderTooLarge)
}

func TestFrameHeaderMissingLength(t *testing.T) {
	header, err := JSON.Encode(M(map[string]Value{"content-encoding": S("utf-8")}))
	require.NoError(t, err)

	raw := []byte{ProtocolVersion, 0, 0}
	binary.BigEndian.PutUint16(raw[1:3], uint16(len(header)))
	raw = append(raw, header...)

	reader := NewFrameReader(JSON, ProtocolVersion)
	reader.Feed(raw)

	_, err = reader.Next()
	require.Error(t, err)
	var derr *DecodeError
	assert.ErrorAs(t, err, &derr)
}

func TestFrameHeaderBadEncoding(t *testing.T) {
	header, err := JSON.Encode(M(map[string]Value{
		"content-length":   I(0),
		"content-encoding": S("utf-16"),
	}))
	require.NoError(t, err)

	raw := []byte{ProtocolVersion, 0, 0}
	binary.BigEndian.PutUint16(raw[1:3], uint16(len(header)))
	raw = append(raw, header...)

	reader := NewFrameReader(JSON, ProtocolVersion)
	reader.Feed(raw)

	_, err = reader.Next()
	require.Error(t, err)
}

func TestFramePayloadTooLarge(t *testing.T) {
	_, err := EncodeFrame(JSON, ProtocolVersion, make([]byte, MaxPayloadSize+1))
	assert.ErrorIs(t, err, ErrPayloadTooLarge)

	// Same limit enforced on the read side via the declared header value.
	header, err := JSON.Encode(M(map[string]Value{"content-length": I(MaxPayloadSize + 1)}))
	require.NoError(t, err)
	raw := []byte{ProtocolVersion, 0, 0}
	binary.BigEndian.PutUint16(raw[1:3], uint16(len(header)))
	raw = append(raw, header...)

	reader := NewFrameReader(JSON, ProtocolVersion)
	reader.Feed(raw)
	_, err = reader.Next()
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}

// TestCodecMismatchFailsFirstFrame checks that a client and server
// configured with different codecs fail on the first frame rather than
// exchanging garbage.
func TestCodecMismatchFailsFirstFrame(t *testing.T) {
	frame, err := EncodeValue(Compact, ProtocolVersion, M(map[string]Value{"action": S("ping")}))
	require.NoError(t, err)

	reader := NewFrameReader(JSON, ProtocolVersion)
	reader.Feed(frame)

	_, err = reader.Next()
	require.Error(t, err)
	var derr *DecodeError
	assert.ErrorAs(t, err, &derr)
}
