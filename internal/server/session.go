package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zsiec/wscast/internal/ws"
)

const (
	negotiationTimeout = 5 * time.Second
	writeTimeout       = 10 * time.Second

	// outQueueDepth bounds the per-session send queue. A client that
	// falls this far behind the pacing ticker is dropped.
	outQueueDepth = 256

	// maxRequestBytes caps the buffered HTTP upgrade request.
	maxRequestBytes = 8 << 10

	// maxClientFrame caps an inbound WebSocket frame. Clients only send
	// small control and answer frames; a declared length beyond this is
	// a protocol violation.
	maxClientFrame = 1 << 20
)

// session is one client connection. The read goroutine owns the state
// machine and recv buffer; the write goroutine owns the conn's send
// side and drains out in FIFO order, which gives each session a total
// write order. Pacing cursors are touched only by the scheduler once
// the session is Streaming.
type session struct {
	id   uint64
	srv  *Server
	conn net.Conn
	log  *slog.Logger

	mu            sync.Mutex
	state         State
	offerDeadline time.Time

	recv []byte

	// scheduler-owned cursors
	auIndex        int64
	packetIndex    int64
	playbackTimeMs int64

	out       chan []byte
	done      chan struct{}
	closeOnce sync.Once

	connectedAt time.Time
	messages    atomic.Int64
	bytesSent   atomic.Int64
}

func (c *session) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *session) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *session) negotiationExpired(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateNegotiating && now.After(c.offerDeadline)
}

// shutdown moves the session to Closing and wakes the writer, which
// flushes anything already queued (closeFrame included, when given)
// before closing the transport. Safe to call from any goroutine,
// repeatedly.
func (c *session) shutdown(closeFrame []byte) {
	c.closeOnce.Do(func() {
		c.setState(StateClosing)
		if closeFrame != nil {
			select {
			case c.out <- closeFrame:
			default:
			}
		}
		close(c.done)
	})
}

// send enqueues a fully encoded frame for the writer. A full queue
// means the client cannot keep up with the pacing rate; the session is
// dropped rather than blocking the caller.
func (c *session) send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- frame:
		c.messages.Add(1)
		c.bytesSent.Add(int64(len(frame)))
		c.srv.totalMessages.Add(1)
		c.srv.totalBytes.Add(int64(len(frame)))
		return true
	default:
		c.log.Warn("outbound queue full, dropping slow client")
		c.shutdown(nil)
		return false
	}
}

func (c *session) writeLoop() {
	for {
		select {
		case buf := <-c.out:
			if !c.write(buf) {
				return
			}
		case <-c.done:
			for {
				select {
				case buf := <-c.out:
					if !c.write(buf) {
						return
					}
				default:
					c.conn.Close()
					return
				}
			}
		}
	}
}

func (c *session) write(buf []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := c.conn.Write(buf); err != nil {
		select {
		case <-c.done:
		default:
			c.log.Debug("write failed", "err", err)
		}
		c.shutdown(nil)
		c.conn.Close()
		return false
	}
	return true
}

func (c *session) readLoop() {
	buf := make([]byte, 32<<10)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if ferr := c.feed(buf[:n]); ferr != nil {
				c.log.Warn("dropping client", "err", ferr)
				c.shutdown(nil)
				return
			}
		}
		if err != nil {
			select {
			case <-c.done:
			default:
				if err != io.EOF {
					c.log.Debug("read ended", "err", err)
				}
			}
			c.shutdown(nil)
			return
		}
	}
}

// feed consumes newly received plaintext. The recv buffer carries any
// partial HTTP request or WebSocket frame across reads.
func (c *session) feed(data []byte) error {
	c.recv = append(c.recv, data...)
	switch c.State() {
	case StateHandshakingWS:
		return c.tryUpgrade()
	case StateNegotiating, StateStreaming:
		return c.processFrames()
	default:
		c.recv = c.recv[:0]
		return nil
	}
}

// tryUpgrade waits for a complete HTTP request head, answers the
// WebSocket handshake and immediately sends the media offer. Anything
// that does not start with a GET is rejected outright.
func (c *session) tryUpgrade() error {
	if len(c.recv) >= 4 && !ws.IsHTTPRequest(c.recv) {
		return errors.New("not an HTTP GET request")
	}
	idx := bytes.Index(c.recv, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(c.recv) > maxRequestBytes {
			return errors.New("oversized upgrade request")
		}
		return nil
	}
	end := idx + 4

	resp, err := ws.Handshake(c.recv[:end])
	if err != nil {
		return err
	}
	c.recv = c.recv[:copy(c.recv, c.recv[end:])]

	c.send(resp)
	c.send(ws.EncodeFrame(ws.OpText, c.srv.offer))

	c.mu.Lock()
	c.state = StateNegotiating
	c.offerDeadline = time.Now().Add(negotiationTimeout)
	c.mu.Unlock()
	c.log.Debug("websocket established, media offer sent")

	return c.processFrames()
}

func (c *session) processFrames() error {
	off := 0
	for {
		frame, n, ok := ws.ParseFrame(c.recv[off:])
		if !ok {
			if len(c.recv)-off > maxClientFrame {
				return errors.New("inbound frame exceeds size limit")
			}
			break
		}
		off += n
		c.handleFrame(frame)

		select {
		case <-c.done:
			c.recv = c.recv[:0]
			return nil
		default:
		}
	}
	c.recv = c.recv[:copy(c.recv, c.recv[off:])]
	return nil
}

func (c *session) handleFrame(f ws.Frame) {
	switch f.Opcode {
	case ws.OpClose:
		c.log.Debug("client sent close")
		c.shutdown(nil)
	case ws.OpPing:
		c.send(ws.PongFrame(f.Payload))
	case ws.OpText:
		c.handleText(f.Payload)
	case ws.OpBinary:
		c.log.Debug("binary frame from client", "size", len(f.Payload))
	case ws.OpPong, ws.OpContinuation:
		// nothing to do
	default:
		c.log.Debug("unexpected frame from client", "opcode", f.Opcode)
	}
}

func (c *session) handleText(payload []byte) {
	if c.State() != StateNegotiating {
		c.log.Debug("text frame from client", "size", len(payload))
		return
	}

	var ans answer
	if err := json.Unmarshal(payload, &ans); err != nil {
		c.log.Warn("ignoring malformed text frame during negotiation", "err", err)
		return
	}
	if ans.Type != "media-answer" {
		c.log.Debug("ignoring text frame during negotiation", "type", ans.Type)
		return
	}
	if !ans.Accepted {
		c.log.Info("media offer rejected", "reason", ans.Reason)
		c.shutdown(ws.CloseFrame(ws.CloseNormalClosure, "Negotiation rejected"))
		return
	}
	c.log.Info("media offer accepted, streaming")
	c.setState(StateStreaming)
}
