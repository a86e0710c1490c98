package ui

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// writeWait is the timeout for writing to a WebSocket.
	writeWait = 10 * time.Second

	// pongWait is the timeout for pong responses.
	pongWait = 60 * time.Second

	// pingPeriod is how often to send ping frames.
	pingPeriod = (pongWait * 9) / 10

	// sendBuffer bounds queued events per session. A slow client drops
	// events rather than stalling the chat request.
	sendBuffer = 256
)

// SessionSink is a Sink backed by one WebSocket connection to the UI.
// It is bound once per active UI session and rebound on session change.
type SessionSink struct {
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewSessionSink wraps an upgraded WebSocket connection and starts its
// write pump.
func NewSessionSink(conn *websocket.Conn) *SessionSink {
	s := &SessionSink{
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}
	go s.writePump()
	go s.readPump()
	return s
}

// Push implements Sink. Events are dropped when the session buffer is full
// or the session is closed.
func (s *SessionSink) Push(event Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}

	select {
	case <-s.done:
	case s.send <- payload:
	default:
		log.Debug().Str("type", string(event.Type)).Msg("ui session buffer full, dropping event")
	}
}

// Close tears the session down. Safe to call more than once.
func (s *SessionSink) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.conn.Close()
	})
}

// Closed reports whether the session has been torn down.
func (s *SessionSink) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// writePump drains the send channel to the connection, keeping the
// connection alive with pings.
func (s *SessionSink) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.Close()
	}()

	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Msg("ui session write failed")
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound frames and handles pong deadlines. The sink is
// one-way; reads exist only to detect a departed client.
func (s *SessionSink) readPump() {
	defer s.Close()

	s.conn.SetReadLimit(512)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
	}
}
