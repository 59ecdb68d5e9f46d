package bridge

import (
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/net/websocket"
)

// wsConn adapts a dialed websocket to the Conn interface. The envelope
// origin is derived from the dialed URL, not from anything the peer sends,
// so a compromised peer cannot spoof a trusted origin.
type wsConn struct {
	ws     *websocket.Conn
	origin string
	recv   chan Envelope

	closeOnce sync.Once
}

// Dial connects to a bridge endpoint. bridgeURL is the ws:// or wss://
// endpoint URL (including origin/tool query parameters); selfOrigin is the
// origin the consumer declares for itself.
func Dial(bridgeURL, selfOrigin string) (Conn, error) {
	u, err := url.Parse(bridgeURL)
	if err != nil {
		return nil, fmt.Errorf("parsing bridge url: %w", err)
	}

	q := u.Query()
	if q.Get("origin") == "" {
		q.Set("origin", selfOrigin)
		u.RawQuery = q.Encode()
	}

	ws, err := websocket.Dial(u.String(), "", originFor(u))
	if err != nil {
		return nil, fmt.Errorf("dialing bridge: %w", err)
	}

	c := &wsConn{
		ws:     ws,
		origin: originFor(u),
		recv:   make(chan Envelope, 16),
	}
	go c.readLoop()
	return c, nil
}

// originFor maps the bridge endpoint URL to the http(s) origin its
// messages are attributed to.
func originFor(u *url.URL) string {
	scheme := "http"
	if u.Scheme == "wss" || u.Scheme == "https" {
		scheme = "https"
	}
	return scheme + "://" + u.Host
}

func (c *wsConn) readLoop() {
	defer c.closeRecv()
	for {
		var raw []byte
		if err := websocket.Message.Receive(c.ws, &raw); err != nil {
			return
		}
		msg, ok := ParseMessage(raw)
		if !ok {
			continue
		}
		c.recv <- Envelope{Origin: c.origin, Message: msg}
	}
}

func (c *wsConn) closeRecv() {
	c.closeOnce.Do(func() { close(c.recv) })
}

func (c *wsConn) Send(m Message) error {
	return websocket.JSON.Send(c.ws, m)
}

func (c *wsConn) Receive() <-chan Envelope {
	return c.recv
}

// Close tears the connection down; the receive channel closes shortly after.
func (c *wsConn) Close() error {
	return c.ws.Close()
}

// Pipe returns two in-process Conns wired back to back, each seeing the
// other's messages stamped with the given origins. Used by tests and by
// same-process embedding where no socket is needed.
func Pipe(originA, originB string) (Conn, Conn) {
	ab := make(chan Envelope, 16)
	ba := make(chan Envelope, 16)
	a := &pipeConn{selfOrigin: originA, out: ab, in: ba}
	b := &pipeConn{selfOrigin: originB, out: ba, in: ab}
	return a, b
}

type pipeConn struct {
	selfOrigin string
	out        chan Envelope
	in         chan Envelope

	mu     sync.Mutex
	closed bool
}

func (p *pipeConn) Send(m Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("bridge pipe closed")
	}
	select {
	case p.out <- Envelope{Origin: p.selfOrigin, Message: m}:
		return nil
	default:
		return fmt.Errorf("bridge pipe full")
	}
}

func (p *pipeConn) Receive() <-chan Envelope {
	return p.in
}

// Close stops delivery toward the peer.
func (p *pipeConn) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.out)
	}
	return nil
}
