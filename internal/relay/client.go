package relay

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ldnlink/internal/ldnerr"
)

// Datagram is one relayed application datagram.
type Datagram struct {
	Header  Header
	Payload []byte
}

// Stats are receive-side diagnostics. Loss or reordering at this layer
// indicates a fault in the underlying stream; it is reported, never
// retransmitted here.
type Stats struct {
	Sent      uint64
	Received  uint64
	Lost      uint64
	Reordered uint64
}

// Client carries relay datagrams for one session token over a
// websocket connection to the relay server.
type Client struct {
	token uint32

	writeMu      sync.Mutex
	conn         *websocket.Conn
	seq          uint32
	writeTimeout time.Duration

	statsMu sync.Mutex
	stats   Stats
	lastSeq uint32
	gotAny  bool

	closeRecv sync.Once
	closeOnce sync.Once
	closeErr  error
	recv      chan Datagram
	readErr   error
	done      chan struct{}
}

// Dial connects to the relay server and starts the read loop.
// authToken, when non-empty, is sent as a bearer token.
func Dial(ctx context.Context, url string, sessionToken uint32, authToken string, writeTimeout time.Duration) (*Client, error) {
	hdr := http.Header{}
	if authToken != "" {
		hdr.Set("Authorization", "Bearer "+authToken)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, hdr)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, ldnerr.Wrap(ldnerr.KindUnauthenticated, "relay dial", err)
		}
		return nil, ldnerr.Wrap(ldnerr.KindTransportFault, "relay dial", err)
	}
	c := &Client{
		token:        sessionToken,
		conn:         conn,
		writeTimeout: writeTimeout,
		recv:         make(chan Datagram, 64),
		done:         make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Send frames payload and writes it to the relay stream. The sequence
// number increments per datagram.
func (c *Client) Send(payload []byte) error {
	return c.SendChannel(payload, 0)
}

// SendChannel tags the datagram with an application channel, carried in
// the header's reserved byte.
func (c *Client) SendChannel(payload []byte, channel uint8) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	frame, err := EncodeFrame(Header{
		SessionToken: c.token,
		Flags:        FlagData,
		Reserved:     channel,
		Seq:          c.seq,
	}, payload)
	if err != nil {
		return ldnerr.Wrap(ldnerr.KindValidationFailed, "relay send", err)
	}
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		return ldnerr.Wrap(ldnerr.KindTransportFault, "relay send", err)
	}
	c.seq++

	c.statsMu.Lock()
	c.stats.Sent++
	c.statsMu.Unlock()
	return nil
}

// Receive returns the next datagram, honoring ctx cancellation.
func (c *Client) Receive(ctx context.Context) (Datagram, error) {
	select {
	case d, ok := <-c.recv:
		if !ok {
			return Datagram{}, c.receiveError()
		}
		return d, nil
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return Datagram{}, ldnerr.Wrap(ldnerr.KindTimeout, "relay receive", ctx.Err())
		}
		return Datagram{}, ctx.Err()
	}
}

func (c *Client) receiveError() error {
	c.statsMu.Lock()
	err := c.readErr
	c.statsMu.Unlock()
	if err == nil {
		err = fmt.Errorf("relay stream closed")
	}
	return ldnerr.Wrap(ldnerr.KindTransportFault, "relay receive", err)
}

// Stats returns a snapshot of the diagnostics counters.
func (c *Client) Stats() Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	return c.stats
}

// Close tears down the websocket. In-flight Receive calls fail with a
// transport fault. Safe to call from multiple goroutines.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.done)
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *Client) readLoop() {
	defer c.closeRecv.Do(func() { close(c.recv) })
	for {
		_, buf, err := c.conn.ReadMessage()
		if err != nil {
			c.statsMu.Lock()
			c.readErr = err
			c.statsMu.Unlock()
			return
		}
		h, payload, err := DecodeFrame(buf)
		if err != nil {
			c.statsMu.Lock()
			c.readErr = err
			c.statsMu.Unlock()
			return
		}
		if h.Flags&FlagKeepalive != 0 {
			continue
		}
		c.trackSeq(h.Seq)

		data := make([]byte, len(payload))
		copy(data, payload)
		select {
		case c.recv <- Datagram{Header: h, Payload: data}:
		case <-c.done:
			return
		}
	}
}

func (c *Client) trackSeq(seq uint32) {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	c.stats.Received++
	if !c.gotAny {
		c.gotAny = true
		c.lastSeq = seq
		return
	}
	switch {
	case seq == c.lastSeq+1:
		c.lastSeq = seq
	case seq > c.lastSeq+1:
		c.stats.Lost += uint64(seq - c.lastSeq - 1)
		c.lastSeq = seq
	default:
		c.stats.Reordered++
	}
}
