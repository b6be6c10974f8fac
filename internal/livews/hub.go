// Package livews streams orchestrator state to page observers over
// websockets and accepts lifecycle commands back.
package livews

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MJE43/minigame-hub/internal/selector"
)

// Message types.
const (
	TypeSelectorState = "selector_state"
	TypeCommandAck    = "command_ack"
	TypeCommandReject = "command_reject"
)

var errNoCommands = errors.New("livews: commands are not accepted")

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

// Message is the envelope for every server-sent frame.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
	Seq  uint64          `json:"seq,omitempty"`
	Err  string          `json:"error,omitempty"`
}

// Command is a client request. Cmd is one of the host commands ("select",
// "action", "reload") and Arg its argument.
type Command struct {
	Cmd string `json:"cmd"`
	Arg string `json:"arg,omitempty"`
	Seq uint64 `json:"seq,omitempty"`
}

// CommandFunc executes a client command.
type CommandFunc func(ctx context.Context, cmd Command) error

// Config configures a Hub.
type Config struct {
	Logger    *log.Logger
	OnCommand CommandFunc
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Hub fans snapshots out to every connected observer. New observers receive
// the most recent snapshot on connect.
type Hub struct {
	logger    *log.Logger
	onCommand CommandFunc
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	last    []byte
}

// New creates a hub.
func New(cfg Config) *Hub {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[livews] ", log.LstdFlags)
	}
	return &Hub{
		logger:    logger,
		onCommand: cfg.OnCommand,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// EmitSelectorState broadcasts a snapshot.
func (h *Hub) EmitSelectorState(s selector.Snapshot) {
	h.Publish(TypeSelectorState, s)
}

// Publish broadcasts v under the given message type. Slow observers whose
// buffer is full are disconnected.
func (h *Hub) Publish(typ string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Printf("marshal %s failed: %v", typ, err)
		return
	}
	frame, _ := json.Marshal(Message{Type: typ, Data: data})

	h.mu.Lock()
	if typ == TypeSelectorState {
		h.last = frame
	}
	var dropped []*client
	for c := range h.clients {
		select {
		case c.send <- frame:
		default:
			dropped = append(dropped, c)
		}
	}
	for _, c := range dropped {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()

	for range dropped {
		h.logger.Printf("dropping slow observer")
	}
}

// Clients reports the number of connected observers.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and serves one observer until it
// disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("upgrade failed: %v", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	if h.last != nil {
		c.send <- h.last
	}
	h.mu.Unlock()

	go h.writeLoop(c)
	h.readLoop(r.Context(), c)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	h.mu.Unlock()
}

func (h *Hub) writeLoop(c *client) {
	defer c.conn.Close()
	for frame := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			h.remove(c)
			for range c.send {
			}
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) readLoop(ctx context.Context, c *client) {
	defer h.remove(c)
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var cmd Command
		if err := json.Unmarshal(payload, &cmd); err != nil {
			h.logger.Printf("discarding malformed message: %v", err)
			continue
		}
		h.reply(c, cmd, h.dispatch(ctx, cmd))
	}
}

func (h *Hub) dispatch(ctx context.Context, cmd Command) error {
	if h.onCommand == nil {
		return errNoCommands
	}
	return h.onCommand(ctx, cmd)
}

func (h *Hub) reply(c *client, cmd Command, err error) {
	msg := Message{Type: TypeCommandAck, Seq: cmd.Seq}
	if err != nil {
		msg.Type = TypeCommandReject
		msg.Err = err.Error()
	}
	frame, _ := json.Marshal(msg)
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}
