package session

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/vsrinivas/fuchsia-debug/pkg/debugipc"
	"github.com/vsrinivas/fuchsia-debug/pkg/mloop"
)

const connectTimeout = 30 * time.Second

// pendingConnection runs one connection attempt. Name resolution and the
// blocking dial happen on a dedicated goroutine; the goroutine touches only
// its own socket and posts its single result back to the loop before any
// shared state is read. Cancellation is by identity: the Session compares
// the posted result's pendingConnection against its current one and discards
// stale results.
type pendingConnection struct {
	session *Session
	loop    *mloop.Loop
	addr    string
	cb      func(error)

	canceled bool // loop goroutine only
}

func newPendingConnection(s *Session, addr string, cb func(error)) *pendingConnection {
	return &pendingConnection{session: s, loop: s.loop, addr: addr, cb: cb}
}

func (pc *pendingConnection) start() {
	go pc.run()
}

// cancel is called on the loop when Disconnect aborts the attempt. The
// original Connect callback still fires, with ErrCanceled, never with stale
// data.
func (pc *pendingConnection) cancel() {
	pc.canceled = true
	cb := pc.cb
	pc.loop.Post(func() { cb(ErrCanceled) })
}

// run executes on the background goroutine.
func (pc *pendingConnection) run() {
	conn, hello, err := dialAndHandshake(pc.addr)
	pc.loop.Post(func() {
		if pc.canceled {
			if conn != nil {
				conn.Close()
			}
			return
		}
		pc.session.connectionResolved(pc, conn, hello, err)
	})
}

// dialAndHandshake dials the agent and performs the Hello handshake directly
// on the socket. The handshake bypasses the request/reply machinery (the
// Session plumbing is not live yet): it writes one Hello request and reads
// exactly header + HelloReply bytes, then validates the magic signature and
// the protocol version. Version mismatch is a hard failure with no retry.
func dialAndHandshake(addr string) (net.Conn, *debugipc.HelloReply, error) {
	conn, err := net.DialTimeout("tcp", addr, connectTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to %s: %v", addr, err)
	}

	msg, err := debugipc.EncodeMessage(debugipc.MsgHello, 1, &debugipc.HelloRequest{})
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	conn.SetDeadline(time.Now().Add(connectTimeout))
	if _, err := conn.Write(msg); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("sending handshake: %v", err)
	}

	hdrBytes := make([]byte, debugipc.HeaderSize)
	if _, err := io.ReadFull(conn, hdrBytes); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("reading handshake: %v", err)
	}
	hdr := debugipc.DecodeHeader(hdrBytes)
	if hdr.Kind != debugipc.MsgHello || hdr.Size > debugipc.MaxMessageSize {
		conn.Close()
		return nil, nil, fmt.Errorf("corrupted handshake reply from %s", addr)
	}
	body := make([]byte, hdr.Size)
	if _, err := io.ReadFull(conn, body); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("reading handshake: %v", err)
	}

	var hello debugipc.HelloReply
	if err := debugipc.DecodeBody(debugipc.MsgHello, body, &hello); err != nil {
		conn.Close()
		return nil, nil, err
	}
	if hello.Signature != debugipc.HelloSignature {
		conn.Close()
		return nil, nil, fmt.Errorf("%s is not a debug agent (bad signature)", addr)
	}
	if hello.Version != debugipc.Version {
		conn.Close()
		return nil, nil, VersionMismatchError{Agent: hello.Version, Client: debugipc.Version}
	}
	conn.SetDeadline(time.Time{})
	return conn, &hello, nil
}

// startConnReader pumps bytes from conn into the stream buffer. The reader
// goroutine never touches session state: it posts every chunk (and the final
// error) to the loop.
func startConnReader(loop *mloop.Loop, conn io.Reader, stream *StreamBuffer, onErr func(error)) {
	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				loop.Post(func() { stream.AddReadData(data) })
			}
			if err != nil {
				loop.Post(func() { onErr(err) })
				return
			}
		}
	}()
}
