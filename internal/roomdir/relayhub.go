package roomdir

import (
	"log"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

// relayHub forwards relay frames between the members of a session.
// Membership is keyed by the session token carried in the query string;
// frames from one member are fanned out to every other member. The hub
// does not inspect payloads and keeps no per-frame state.
type relayHub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	rooms map[uint32]map[*hubConn]struct{}
}

type hubConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func newRelayHub() *relayHub {
	return &relayHub{rooms: make(map[uint32]map[*hubConn]struct{})}
}

func (h *relayHub) handle(w http.ResponseWriter, r *http.Request) {
	token64, err := strconv.ParseUint(r.URL.Query().Get("token"), 10, 32)
	if err != nil || token64 == 0 {
		http.Error(w, "missing session token", http.StatusBadRequest)
		return
	}
	token := uint32(token64)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &hubConn{ws: ws}

	h.mu.Lock()
	if h.rooms[token] == nil {
		h.rooms[token] = make(map[*hubConn]struct{})
	}
	h.rooms[token][conn] = struct{}{}
	members := len(h.rooms[token])
	h.mu.Unlock()
	log.Printf("relay join token=%#x members=%d", token, members)

	defer func() {
		h.mu.Lock()
		delete(h.rooms[token], conn)
		if len(h.rooms[token]) == 0 {
			delete(h.rooms, token)
		}
		h.mu.Unlock()
		_ = ws.Close()
	}()

	for {
		mt, frame, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		h.broadcast(token, conn, frame)
	}
}

func (h *relayHub) broadcast(token uint32, from *hubConn, frame []byte) {
	h.mu.Lock()
	peers := make([]*hubConn, 0, len(h.rooms[token]))
	for c := range h.rooms[token] {
		if c != from {
			peers = append(peers, c)
		}
	}
	h.mu.Unlock()

	for _, c := range peers {
		c.writeMu.Lock()
		err := c.ws.WriteMessage(websocket.BinaryMessage, frame)
		c.writeMu.Unlock()
		if err != nil {
			// Reader side will notice and drop the member.
			continue
		}
	}
}
