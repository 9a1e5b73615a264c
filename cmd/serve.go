// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2026 Openrail Contributors

package cmd

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"

	"github.com/openrail/signalbox/pkg/station"
)

// wireFrame is one message on the event link: either an asynchronous
// station event or a textual reply/response.
type wireFrame struct {
	Kind  string         `cbor:"kind"` // "event" or "reply"
	Event *station.Event `cbor:"event,omitempty"`
	Reply string         `cbor:"reply,omitempty"`
}

// broadcaster fans frames out to every connected client.
type broadcaster struct {
	mu       sync.Mutex
	sockets  map[*websocket.Conn]bool
	messages chan []byte
}

func newBroadcaster() *broadcaster {
	b := &broadcaster{
		sockets:  make(map[*websocket.Conn]bool),
		messages: make(chan []byte, 256),
	}
	go b.writer()
	return b
}

func (b *broadcaster) writer() {
	for msg := range b.messages {
		b.mu.Lock()
		for conn := range b.sockets {
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				conn.Close()
				delete(b.sockets, conn)
			}
		}
		b.mu.Unlock()
	}
}

func (b *broadcaster) addSocket(conn *websocket.Conn) {
	b.mu.Lock()
	b.sockets[conn] = true
	b.mu.Unlock()
}

func (b *broadcaster) removeSocket(conn *websocket.Conn) {
	b.mu.Lock()
	if b.sockets[conn] {
		conn.Close()
		delete(b.sockets, conn)
	}
	b.mu.Unlock()
}

// sendFrame encodes and queues one frame, dropping it if the fan-out
// queue is saturated.
func (b *broadcaster) sendFrame(f wireFrame) {
	data, err := cbor.Marshal(f)
	if err != nil {
		log.Printf("event encode error: %v", err)
		return
	}
	select {
	case b.messages <- data:
	default:
	}
}

// startEventServer serves the station's event stream at /events and
// accepts console command lines as text messages on the same socket.
// The caller pumps station notifications through the returned
// broadcaster.
func startEventServer(addr string, st *station.Station) (*http.Server, *broadcaster) {
	b := newBroadcaster()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("websocket upgrade failed: %v", err)
			return
		}
		b.addSocket(conn)
		defer b.removeSocket(conn)

		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.TextMessage {
				continue
			}
			response, err := dispatch(st, string(data))
			switch {
			case err != nil:
				b.sendFrame(wireFrame{Kind: "reply", Reply: "error: " + err.Error()})
			case response != "":
				b.sendFrame(wireFrame{Kind: "reply", Reply: response})
			}
		}
	})

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Printf("event server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("event server: %v", err)
		}
	}()

	return server, b
}
