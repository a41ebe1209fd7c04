package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-rewards/internal/models"
)

var ErrNoSession = errors.New("notify: no websocket session")

// WSSession is a connected rider app.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(receipt models.MintReceipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(receipt)
}

// WSRegistry holds one session per recipient; a newer connection replaces
// the previous one.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[models.Address]*WSSession
}

func NewWSRegistry() *WSRegistry {
	return &WSRegistry{sessions: make(map[models.Address]*WSSession)}
}

func (r *WSRegistry) Add(recipient models.Address, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.sessions[recipient]; ok {
		_ = old.conn.Close()
	}
	r.sessions[recipient] = &WSSession{conn: conn}
}

// Remove drops the session only if it is still bound to conn.
func (r *WSRegistry) Remove(recipient models.Address, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[recipient]; ok && s.conn == conn {
		delete(r.sessions, recipient)
	}
}

func (r *WSRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Notify sends the receipt to the recipient's session. Riders without an open
// session are skipped silently.
func (r *WSRegistry) Notify(_ context.Context, receipt models.MintReceipt) error {
	if err := r.Send(receipt); !errors.Is(err, ErrNoSession) {
		return err
	}
	return nil
}

// Send is Notify without the silent skip.
func (r *WSRegistry) Send(receipt models.MintReceipt) error {
	r.mu.RLock()
	s, ok := r.sessions[receipt.Recipient]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	return s.Send(receipt)
}
