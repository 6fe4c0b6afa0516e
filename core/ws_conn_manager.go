package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

type ManagerConfig struct {
	// SendBuffer is the number of outbound items queued per connection.
	// Items beyond it are dropped. A batch, such as a history replay, takes
	// one item.
	SendBuffer int
	// MaxMessageSize is the largest inbound frame accepted, in bytes.
	MaxMessageSize int64
	// WriteWait is the time allowed to write a frame to the peer.
	WriteWait time.Duration
	// PongWait is the time allowed to read the next pong from the peer.
	PongWait time.Duration
}

var DefaultManagerConfig = ManagerConfig{
	SendBuffer:     64,
	MaxMessageSize: 4096,
	WriteWait:      10 * time.Second,
	PongWait:       60 * time.Second,
}

// pingPeriod must be less than PongWait.
func (c ManagerConfig) pingPeriod() time.Duration {
	return (c.PongWait * 9) / 10
}

type ConnIDGenerator interface {
	Generate(r *http.Request) (ConnID, error)
}

type AutoIncrementConnIDGenerator struct {
	counter atomic.Int64
}

func (g *AutoIncrementConnIDGenerator) Generate(_ *http.Request) (ConnID, error) {
	return ConnID(g.counter.Add(1)), nil
}

// ConnManager adapts gorilla websocket connections to the Transport boundary.
// It owns the read and write goroutines of every connection and reports
// connection lifecycle through callbacks.
type ConnManager struct {
	conns       *SyncMap[ConnID, *Conn]
	connWg      sync.WaitGroup
	context     context.Context
	cancel      context.CancelFunc
	logger      *slog.Logger
	cfg         ManagerConfig
	idGenerator ConnIDGenerator
	upgrader    websocket.Upgrader

	onConnect    func(ConnID, RoomKey)
	onFrame      func(ConnID, []byte)
	onDisconnect func(ConnID)
	onError      func(ConnID, error)
}

var defaultUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type ManagerOption func(*ConnManager)

func WithCheckOrigin(f func(r *http.Request) bool) ManagerOption {
	return func(m *ConnManager) {
		m.upgrader.CheckOrigin = f
	}
}

func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *ConnManager) {
		m.logger = l
	}
}

func WithIDGenerator(g ConnIDGenerator) ManagerOption {
	return func(m *ConnManager) {
		m.idGenerator = g
	}
}

func NewConnManager(ctx context.Context, cfg ManagerConfig, opts ...ManagerOption) *ConnManager {
	ctx, cancel := context.WithCancel(ctx)
	m := &ConnManager{
		conns:        NewSyncMap[ConnID, *Conn](),
		context:      ctx,
		cancel:       cancel,
		logger:       slog.New(slog.NewTextHandler(os.Stdout, nil)),
		cfg:          cfg,
		idGenerator:  &AutoIncrementConnIDGenerator{},
		upgrader:     defaultUpgrader,
		onConnect:    func(ConnID, RoomKey) {},
		onFrame:      func(ConnID, []byte) {},
		onDisconnect: func(ConnID) {},
		onError:      func(ConnID, error) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnConnect is called once per connection before any of its frames is handled.
func (m *ConnManager) OnConnect(f func(ConnID, RoomKey)) {
	m.onConnect = f
}

// OnFrame is called for every inbound text frame, in order per connection.
func (m *ConnManager) OnFrame(f func(ConnID, []byte)) {
	m.onFrame = f
}

// OnDisconnect is called exactly once per connection.
func (m *ConnManager) OnDisconnect(f func(ConnID)) {
	m.onDisconnect = f
}

func (m *ConnManager) OnError(f func(ConnID, error)) {
	m.onError = f
}

// Connect upgrades the request and attaches the new connection to room.
func (m *ConnManager) Connect(room RoomKey, w http.ResponseWriter, r *http.Request) error {
	id, err := m.idGenerator.Generate(r)
	if err != nil {
		http.Error(w, "connection rejected", http.StatusBadRequest)
		return fmt.Errorf("generating connection id: %w", err)
	}

	conn, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// the upgrader has already replied to the client
		return fmt.Errorf("upgrade: %w", err)
	}

	wsConn := &Conn{
		ID:          id,
		Room:        room,
		conn:        conn,
		context:     m.context,
		cfg:         m.cfg,
		writeStream: make(chan [][]byte, m.cfg.SendBuffer),
		logger:      m.logger.With(slog.Int64("conn", int64(id)), slog.String("room", string(room))),
		onFrame: func(b []byte) {
			m.onFrame(id, b)
		},
		onError: func(err error) {
			m.onError(id, err)
		},
		notifyDisconnect: func() {
			m.release(id)
		},
	}
	m.conns.Store(id, wsConn)
	m.onConnect(id, room)

	m.connWg.Add(2)
	go func() {
		defer m.connWg.Done()
		wsConn.readLoop()
	}()
	go func() {
		defer m.connWg.Done()
		wsConn.writeLoop()
	}()
	return nil
}

// release forgets the connection and reports it. It runs on the read loop
// of the connection once that loop has stopped, so OnDisconnect never
// overlaps the OnFrame calls of the same connection.
func (m *ConnManager) release(id ConnID) {
	conn, ok := m.conns.LoadAndDelete(id)
	if !ok {
		return
	}
	conn.close()
	m.onDisconnect(id)
}

// Disconnect closes the connection from the server side. Frames still queued
// are written before the close frame. OnDisconnect follows once the read loop
// of the connection has stopped.
func (m *ConnManager) Disconnect(id ConnID) {
	if conn, ok := m.conns.Load(id); ok {
		conn.close()
	}
}

// Send implements Transport.
func (m *ConnManager) Send(id ConnID, payload []byte) bool {
	conn, ok := m.conns.Load(id)
	if !ok {
		return false
	}
	return conn.send(payload)
}

// SendBatch implements Transport.
func (m *ConnManager) SendBatch(id ConnID, payloads [][]byte) bool {
	conn, ok := m.conns.Load(id)
	if !ok {
		return false
	}
	return conn.send(payloads...)
}

func (m *ConnManager) IsConnected(id ConnID) bool {
	_, ok := m.conns.Load(id)
	return ok
}

func (m *ConnManager) Len() int {
	return m.conns.Len()
}

// Close disconnects every connection and waits for their goroutines to exit.
func (m *ConnManager) Close() {
	for _, id := range m.conns.Keys() {
		m.Disconnect(id)
	}
	m.cancel()
	m.connWg.Wait()
}

// Shutdown is Close bounded by ctx.
func (m *ConnManager) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
