// Package direct implements the internet backend's direct data path: a
// UDP socket with a probe/ack hole punch and a 1-byte channel prefix on
// data frames.
package direct

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
)

const (
	punchPrefix = "ldnlink-punch:"
	ackPrefix   = "ldnlink-ack:"

	dataMagic byte = 0xD7
	maxFrame       = 2048
)

// Packet is one received application datagram.
type Packet struct {
	Data    []byte
	Channel uint8
}

// Link is a punched UDP channel to a single peer.
type Link struct {
	conn *net.UDPConn

	mu      sync.Mutex
	peer    *net.UDPAddr
	pending map[string]chan struct{}
	closed  bool
	dropped uint64

	recv chan Packet
	done chan struct{}
}

// Listen opens the link socket (addr like ":0") and starts the read loop.
func Listen(addr string) (*Link, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	l := &Link{
		conn:    conn,
		pending: make(map[string]chan struct{}),
		recv:    make(chan Packet, 64),
		done:    make(chan struct{}),
	}
	go l.readLoop()
	return l, nil
}

// LocalAddr returns the bound address of the link socket.
func (l *Link) LocalAddr() string {
	if l == nil || l.conn == nil {
		return ""
	}
	return l.conn.LocalAddr().String()
}

// SetPeer pins the remote address data frames are sent to.
func (l *Link) SetPeer(addr string) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.peer = udpAddr
	l.mu.Unlock()
	return nil
}

// HasPeer reports whether a remote address is pinned.
func (l *Link) HasPeer() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.peer != nil
}

// Punch sends probes to addr until an ack arrives or ctx expires. On
// success the peer is pinned and the observed round trip is returned.
func (l *Link) Punch(ctx context.Context, addr string, interval time.Duration) (time.Duration, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return 0, err
	}
	nonce, err := newNonce()
	if err != nil {
		return 0, err
	}

	ackCh := make(chan struct{}, 1)
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0, fmt.Errorf("link closed")
	}
	l.pending[nonce] = ackCh
	l.mu.Unlock()
	defer func() {
		l.mu.Lock()
		delete(l.pending, nonce)
		l.mu.Unlock()
	}()

	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	probe := []byte(punchPrefix + nonce)
	start := time.Now()
	for {
		if _, err := l.conn.WriteToUDP(probe, udpAddr); err != nil {
			return 0, err
		}
		select {
		case <-ackCh:
			rtt := time.Since(start)
			l.mu.Lock()
			l.peer = udpAddr
			l.mu.Unlock()
			return rtt, nil
		case <-ticker.C:
			start = time.Now()
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// Send writes one data frame to the pinned peer.
func (l *Link) Send(data []byte, channel uint8) error {
	l.mu.Lock()
	peer := l.peer
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return fmt.Errorf("link closed")
	}
	if peer == nil {
		return fmt.Errorf("no peer pinned")
	}
	if len(data) > maxFrame-2 {
		return fmt.Errorf("frame exceeds %d bytes", maxFrame-2)
	}

	frame := make([]byte, 0, len(data)+2)
	frame = append(frame, dataMagic, channel)
	frame = append(frame, data...)
	_, err := l.conn.WriteToUDP(frame, peer)
	return err
}

// Receive returns the next data frame, honoring ctx.
func (l *Link) Receive(ctx context.Context) (Packet, error) {
	select {
	case p, ok := <-l.recv:
		if !ok {
			return Packet{}, fmt.Errorf("link closed")
		}
		return p, nil
	case <-ctx.Done():
		return Packet{}, ctx.Err()
	}
}

// Dropped reports frames discarded because the receive queue was full.
func (l *Link) Dropped() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Close tears the socket down. In-flight Punch/Receive calls fail.
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	close(l.done)
	return l.conn.Close()
}

func (l *Link) readLoop() {
	defer close(l.recv)
	buf := make([]byte, maxFrame)
	for {
		n, from, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		if n >= 2 && buf[0] == dataMagic {
			data := make([]byte, n-2)
			copy(data, buf[2:n])
			select {
			case l.recv <- Packet{Data: data, Channel: buf[1]}:
			default:
				l.mu.Lock()
				l.dropped++
				l.mu.Unlock()
			}
			continue
		}

		msg := string(buf[:n])
		if strings.HasPrefix(msg, punchPrefix) {
			nonce := strings.TrimPrefix(msg, punchPrefix)
			_, _ = l.conn.WriteToUDP([]byte(ackPrefix+nonce), from)
			// The remote punched us; pin it so the host side can answer
			// without its own punch.
			l.mu.Lock()
			if l.peer == nil {
				l.peer = from
			}
			l.mu.Unlock()
			continue
		}
		if strings.HasPrefix(msg, ackPrefix) {
			nonce := strings.TrimPrefix(msg, ackPrefix)
			l.mu.Lock()
			ch := l.pending[nonce]
			l.mu.Unlock()
			if ch != nil {
				select {
				case ch <- struct{}{}:
				default:
				}
			}
		}
	}
}

func newNonce() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
