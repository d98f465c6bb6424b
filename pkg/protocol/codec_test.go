package protocol

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleValues() map[string]Value {
	return map[string]Value{
		"null":        Null(),
		"true":        B(true),
		"false":       B(false),
		"zero":        I(0),
		"negative":    I(-12345),
		"large":       I(1<<62 + 1),
		"empty str":   S(""),
		"plain str":   S("hello"),
		"delimiters":  S(`semi;colon\back\\slash;`),
		"unicode":     S("héllo wörld é世界"),
		"newlines":    S("line one\nline two\r\n"),
		"empty list":  L(),
		"empty map":   M(nil),
		"flat list":   L(I(1), S("two"), B(true), Null()),
		"flat map":    M(map[string]Value{"a": I(1), "b": S("x"), "c": B(false)}),
		"nested": M(map[string]Value{
			"action": S("login"),
			"inner": M(map[string]Value{
				"list": L(L(L(S("deep")))),
				"map":  M(map[string]Value{"k": Null()}),
			}),
		}),
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for _, codec := range []Codec{JSON, Compact} {
		for name, v := range sampleValues() {
			t.Run(codec.Name()+"/"+name, func(t *testing.T) {
				data, err := codec.Encode(v)
				require.NoError(t, err)

				got, err := codec.Decode(data)
				require.NoError(t, err)
				assert.True(t, v.Equal(got), "round-trip mismatch: sent %#v got %#v", v, got)
			})
		}
	}
}

func TestCodecByName(t *testing.T) {
	c, err := ByName("json")
	require.NoError(t, err)
	assert.Equal(t, "json", c.Name())

	c, err = ByName("compact")
	require.NoError(t, err)
	assert.Equal(t, "compact", c.Name())

	_, err = ByName("msgpack")
	assert.Error(t, err)
}

func TestJSONDecodeRejectsFloats(t *testing.T) {
	_, err := JSON.Decode([]byte(`{"x": 1.5}`))
	require.Error(t, err)
	var derr *DecodeError
	assert.ErrorAs(t, err, &derr)
}

func TestJSONIntegerPrecision(t *testing.T) {
	// A round-trip through float64 would corrupt this value.
	v := M(map[string]Value{"id": I(9007199254740993)})
	data, err := JSON.Encode(v)
	require.NoError(t, err)

	got, err := JSON.Decode(data)
	require.NoError(t, err)
	id, ok := got.GetInt("id")
	require.True(t, ok)
	assert.Equal(t, int64(9007199254740993), id)
}

func TestCompactDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"unknown tag", "q"},
		{"unterminated int", "i42"},
		{"bad int", "iforty;"},
		{"unterminated string", "sabc"},
		{"dangling escape", `sabc\`},
		{"unterminated count", "l3"},
		{"negative count", "l-1,"},
		{"count past end", "l5,ttt"},
		{"truncated children", "m2,sa;i1;"},
		{"non-string map key", "m1,i1;i2;"},
		{"trailing garbage", "tz"},
		{"count not matching boundary", "l1,tt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compact.Decode([]byte(tt.input))
			require.Error(t, err, "input %q should not decode", tt.input)
			var derr *DecodeError
			assert.ErrorAs(t, err, &derr)
		})
	}
}

func TestCompactDecodeDepthLimit(t *testing.T) {
	deep := strings.Repeat("l1,", maxCompactDepth+2) + "z"
	_, err := Compact.Decode([]byte(deep))
	require.Error(t, err)
}

func TestCompactStringEscaping(t *testing.T) {
	v := S(`a;b\c`)
	data, err := Compact.Encode(v)
	require.NoError(t, err)
	assert.Equal(t, `sa\;b\\c;`, string(data))

	got, err := Compact.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

// TestCompactSmallerThanJSON checks the size design goal on payloads shaped
// like real traffic. This is an empirical property of the message shapes,
// not an algebraic guarantee over all values.
func TestCompactSmallerThanJSON(t *testing.T) {
	history := make([]ChatMessage, 8)
	for i := range history {
		history[i] = ChatMessage{
			ID:        int64(1000 + i),
			Sender:    "alice",
			Recipient: "bob",
			Body:      "the quick brown fox jumps over the lazy dog",
			Timestamp: 1735689600000 + int64(i),
			Delivered: i%2 == 0,
		}
	}
	resp := Response{Action: ActionLoadChat, Result: true, Messages: history}

	payloads := map[string]Value{
		"login request":  LoginRequest{Username: "alice", Password: "hunter22"}.EncodeValue(),
		"send request":   SendMessageRequest{Recipient: "bob", Body: "hi there, how are you?"}.EncodeValue(),
		"login response": Response{Action: ActionLogin, Result: true, Users: []string{"bob", "carol", "dave"}, Undelivered: 3}.EncodeValue(),
		"chat history":   resp.EncodeValue(),
		"push":           Push{Kind: PushNewMessage, Message: &history[0]}.EncodeValue(),
	}

	for name, v := range payloads {
		t.Run(name, func(t *testing.T) {
			jsonBytes, err := JSON.Encode(v)
			require.NoError(t, err)
			compactBytes, err := Compact.Encode(v)
			require.NoError(t, err)

			assert.LessOrEqual(t, len(compactBytes), len(jsonBytes),
				"compact=%d json=%d", len(compactBytes), len(jsonBytes))
		})
	}
}
