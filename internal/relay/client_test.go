package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// echoRelay upgrades and echoes binary frames back, like a relay with
// a single session member on each side of a loopback.
func echoRelay(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			mt, buf, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if err := conn.WriteMessage(mt, buf); err != nil {
				return
			}
		}
	}))
}

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func TestClientSendReceive(t *testing.T) {
	t.Parallel()

	srv := echoRelay(t)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := Dial(ctx, wsURL(srv), 0xBEEF, "token", time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	if err := c.Send([]byte("ping-0")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := c.Send([]byte("ping-1")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	d, err := c.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d.Header.SessionToken != 0xBEEF || d.Header.Seq != 0 || string(d.Payload) != "ping-0" {
		t.Fatalf("d=%+v payload=%q", d.Header, d.Payload)
	}

	d, err = c.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if d.Header.Seq != 1 || string(d.Payload) != "ping-1" {
		t.Fatalf("d=%+v payload=%q", d.Header, d.Payload)
	}

	st := c.Stats()
	if st.Sent != 2 || st.Received != 2 || st.Lost != 0 || st.Reordered != 0 {
		t.Fatalf("stats=%+v", st)
	}
}

func TestClientReceive_Timeout(t *testing.T) {
	t.Parallel()

	srv := echoRelay(t)
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), 1, "", time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.Receive(ctx); err == nil {
		t.Fatalf("expected timeout")
	}
}

func TestClose_Concurrent(t *testing.T) {
	t.Parallel()

	srv := echoRelay(t)
	defer srv.Close()

	c, err := Dial(context.Background(), wsURL(srv), 1, "", time.Second)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Close()
		}()
	}
	wg.Wait()

	// Repeated close reports the first result, it never panics.
	if err := c.Close(); err != nil {
		t.Fatalf("repeat close: %v", err)
	}
}

func TestSeqTracking(t *testing.T) {
	t.Parallel()

	c := &Client{}
	c.trackSeq(0)
	c.trackSeq(1)
	c.trackSeq(4) // 2,3 lost
	c.trackSeq(3) // arrives late
	st := c.stats
	if st.Received != 4 || st.Lost != 2 || st.Reordered != 1 {
		t.Fatalf("stats=%+v", st)
	}
}
