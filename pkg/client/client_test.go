package client

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boltchat/pkg/protocol"
)

// fakeServer answers frames on the far end of a pipe so client behavior
// can be tested without a real server.
type fakeServer struct {
	t      *testing.T
	conn   net.Conn
	reader *protocol.FrameReader
}

func newFakeServer(t *testing.T) (*fakeServer, *Client) {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()
	c := New(clientEnd, protocol.JSON)
	t.Cleanup(func() { c.Close(); serverEnd.Close() })
	return &fakeServer{
		t:      t,
		conn:   serverEnd,
		reader: protocol.NewFrameReader(protocol.JSON, protocol.ProtocolVersion),
	}, c
}

func (f *fakeServer) recv() protocol.Value {
	f.t.Helper()
	buf := make([]byte, 4096)
	require.NoError(f.t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		payload, err := f.reader.Next()
		require.NoError(f.t, err)
		if payload != nil {
			v, err := protocol.JSON.Decode(payload)
			require.NoError(f.t, err)
			return v
		}
		n, err := f.conn.Read(buf)
		require.NoError(f.t, err)
		f.reader.Feed(buf[:n])
	}
}

func (f *fakeServer) send(v protocol.Value) {
	f.t.Helper()
	require.NoError(f.t, protocol.WriteValue(f.conn, protocol.JSON, protocol.ProtocolVersion, v))
}

func TestPushesRoutedAroundPendingCall(t *testing.T) {
	srv, c := newFakeServer(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		req := srv.recv()
		action, _ := req.GetString("action")
		assert.Equal(t, protocol.ActionCheckUsername, action)

		// A push sneaks in ahead of the response; the call must still
		// resolve with the response, and the push must surface on
		// Notifications.
		srv.send(protocol.Push{Kind: protocol.PushUserAdded, Username: "carol"}.EncodeValue())
		srv.send(protocol.Response{Action: protocol.ActionCheckUsername, Result: true, Exists: true}.EncodeValue())
	}()

	exists, err := c.CheckUsername("carol")
	require.NoError(t, err)
	assert.True(t, exists)

	select {
	case p := <-c.Notifications():
		assert.Equal(t, protocol.PushUserAdded, p.Kind)
		assert.Equal(t, "carol", p.Username)
	case <-time.After(2 * time.Second):
		t.Fatal("push never delivered")
	}
	<-done
}

func TestFailureResponseBecomesRequestError(t *testing.T) {
	srv, c := newFakeServer(t)

	go func() {
		srv.recv()
		srv.send(protocol.Fail(protocol.ActionLogin, protocol.ErrCodeInvalidCredentials, "unknown username or wrong password").EncodeValue())
	}()

	_, _, err := c.Login("alice", "nope")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.EqualValues(t, protocol.ErrCodeInvalidCredentials, reqErr.Code)
	assert.Equal(t, protocol.ActionLogin, reqErr.Action)
	assert.Contains(t, reqErr.Error(), "login failed")
}

func TestCallFailsAfterServerClose(t *testing.T) {
	srv, c := newFakeServer(t)
	srv.conn.Close()

	c.Timeout = 2 * time.Second
	_, err := c.CheckUsername("alice")
	require.Error(t, err)
}
