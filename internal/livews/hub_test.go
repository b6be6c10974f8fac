package livews

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MJE43/minigame-hub/internal/selector"
)

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
		if resp != nil {
			resp.Body.Close()
		}
	})
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", h.Clients(), n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubBroadcastsSnapshots(t *testing.T) {
	hub := New(Config{Logger: log.New(io.Discard, "", 0)})
	hub.EmitSelectorState(selector.Snapshot{State: selector.StateIdle})

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	conn := dial(t, srv)

	first := readMessage(t, conn)
	if first.Type != TypeSelectorState {
		t.Fatalf("first message type = %s", first.Type)
	}
	var snap selector.Snapshot
	json.Unmarshal(first.Data, &snap)
	if snap.State != selector.StateIdle {
		t.Errorf("replayed state = %s, want idle", snap.State)
	}

	waitClients(t, hub, 1)
	hub.EmitSelectorState(selector.Snapshot{State: selector.StateReady, Game: "trivia"})
	next := readMessage(t, conn)
	json.Unmarshal(next.Data, &snap)
	if snap.State != selector.StateReady || snap.Game != "trivia" {
		t.Errorf("broadcast snapshot = %+v", snap)
	}
}

func TestHubCommands(t *testing.T) {
	var mu sync.Mutex
	var got []Command
	hub := New(Config{
		Logger: log.New(io.Discard, "", 0),
		OnCommand: func(ctx context.Context, cmd Command) error {
			mu.Lock()
			got = append(got, cmd)
			mu.Unlock()
			if cmd.Cmd == "select" && cmd.Arg == "chess" {
				return errors.New("unknown game")
			}
			return nil
		},
	})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	conn := dial(t, srv)

	conn.WriteJSON(Command{Cmd: "action", Arg: "start", Seq: 1})
	ack := readMessage(t, conn)
	if ack.Type != TypeCommandAck || ack.Seq != 1 {
		t.Errorf("ack = %+v", ack)
	}

	conn.WriteJSON(Command{Cmd: "select", Arg: "chess", Seq: 2})
	rej := readMessage(t, conn)
	if rej.Type != TypeCommandReject || rej.Seq != 2 || rej.Err != "unknown game" {
		t.Errorf("reject = %+v", rej)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Errorf("commands = %+v", got)
	}
}

func TestHubRemovesClosedObservers(t *testing.T) {
	hub := New(Config{Logger: log.New(io.Discard, "", 0)})
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	conn := dial(t, srv)
	waitClients(t, hub, 1)
	conn.Close()
	waitClients(t, hub, 0)

	hub.Publish(TypeSelectorState, selector.Snapshot{State: selector.StateIdle})
}
