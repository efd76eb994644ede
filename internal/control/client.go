package control

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"
)

// Conn sends one control request to a rig and returns the raw reply
// line. The concrete implementation dials the rig's Unix socket; tests
// substitute a mock.
type Conn interface {
	Send(req *Request) (json.RawMessage, error)
}

// dialTimeout bounds connecting to a rig socket; a live rig accepts
// immediately.
const dialTimeout = 2 * time.Second

// requestTimeout bounds one full request/response exchange.
const requestTimeout = 5 * time.Second

// ErrNotRunning is returned when nothing listens where a rig socket
// should be (a missing or stale socket).
var ErrNotRunning = errors.New("rig is not running")

// socketConn is the production Conn over a Unix stream socket.
type socketConn struct {
	path string
}

// Dial returns a Conn for the named rig.
func Dial(name string) Conn {
	return &socketConn{path: SocketPath(name)}
}

// DialPath returns a Conn for an explicit socket path.
func DialPath(path string) Conn {
	return &socketConn{path: path}
}

// Send performs one request/response cycle: connect, write one JSON
// line, read one JSON line, close.
func (c *socketConn) Send(req *Request) (json.RawMessage, error) {
	conn, err := net.DialTimeout("unix", c.path, dialTimeout)
	if err != nil {
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return nil, ErrNotRunning
		}
		return nil, fmt.Errorf("connect %s: %w", c.path, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(requestTimeout))

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	payload = append(payload, '\n')
	if _, err := conn.Write(payload); err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}

	line, err := bufio.NewReader(conn).ReadBytes('\n')
	if err != nil && len(line) == 0 {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return json.RawMessage(line), nil
}

// SendAck sends a request whose reply is a bare acknowledgement (ping,
// destroy, trigger).
func SendAck(c Conn, req *Request) (*Ack, error) {
	raw, err := c.Send(req)
	if err != nil {
		return nil, err
	}
	var ack Ack
	if err := json.Unmarshal(raw, &ack); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &ack, nil
}

// SendStatus queries a rig's status document.
func SendStatus(c Conn) (*Status, error) {
	raw, err := c.Send(&Request{Op: OpStatus})
	if err != nil {
		return nil, err
	}
	return decodeDocument[Status](raw)
}

// SendInfo queries a rig's detailed info document.
func SendInfo(c Conn) (*Info, error) {
	raw, err := c.Send(&Request{Op: OpInfo})
	if err != nil {
		return nil, err
	}
	return decodeDocument[Info](raw)
}

// decodeDocument decodes an op-specific reply, surfacing a protocol
// error envelope as an error.
func decodeDocument[T any](raw json.RawMessage) (*T, error) {
	var ack Ack
	if err := json.Unmarshal(raw, &ack); err == nil && ack.Err != "" {
		return nil, errors.New(ack.Err)
	}
	var doc T
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &doc, nil
}
