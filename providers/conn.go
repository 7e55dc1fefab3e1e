package providers

import (
	"errors"
	"io"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/orchestra-mcp/relay/src/types"
)

// wsConn adapts fasthttp/websocket.Conn to types.Conn. Control frames are
// consumed by handlers inside ReadMessage, so a pump goroutine surfaces them
// as frames the moment they arrive.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	frames chan types.Frame
	err    error // set before frames is closed

	closed    chan struct{}
	closeOnce sync.Once
}

func newWSConn(conn *websocket.Conn, writeTimeout time.Duration) *wsConn {
	c := &wsConn{
		conn:         conn,
		writeTimeout: writeTimeout,
		frames:       make(chan types.Frame, 16),
		closed:       make(chan struct{}),
	}
	conn.SetPingHandler(func(data string) error {
		c.push(types.Frame{Kind: types.FramePing, Data: []byte(data)})
		return nil
	})
	conn.SetPongHandler(func(data string) error {
		c.push(types.Frame{Kind: types.FramePong, Data: []byte(data)})
		return nil
	})
	go c.pump()
	return c
}

func (c *wsConn) pump() {
	defer close(c.frames)

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				c.push(types.Frame{Kind: types.FrameClose, Data: []byte(ce.Text)})
				c.err = io.EOF
				return
			}
			c.err = err
			return
		}
		switch kind {
		case websocket.TextMessage:
			c.push(types.Frame{Kind: types.FrameText, Data: data})
		case websocket.BinaryMessage:
			c.push(types.Frame{Kind: types.FrameBinary, Data: data})
		}
	}
}

func (c *wsConn) push(f types.Frame) {
	select {
	case c.frames <- f:
	case <-c.closed:
	}
}

func (c *wsConn) ReadFrame() (types.Frame, error) {
	f, ok := <-c.frames
	if !ok {
		if c.err != nil {
			return types.Frame{}, c.err
		}
		return types.Frame{}, io.EOF
	}
	return f, nil
}

// WriteFrame writes the frames a session emits: text envelopes and
// heartbeat control frames. Close replies are sent by the websocket
// library's close handler.
func (c *wsConn) WriteFrame(f types.Frame) error {
	deadline := time.Now().Add(c.writeTimeout)

	switch f.Kind {
	case types.FrameText:
		if err := c.conn.SetWriteDeadline(deadline); err != nil {
			return err
		}
		return c.conn.WriteMessage(websocket.TextMessage, f.Data)
	case types.FramePing:
		return c.conn.WriteControl(websocket.PingMessage, f.Data, deadline)
	case types.FramePong:
		return c.conn.WriteControl(websocket.PongMessage, f.Data, deadline)
	default:
		return errors.New("unsupported frame kind " + f.Kind.String())
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
