package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

const testRoom RoomKey = "test"

type WSState int
type WSPeerType int

const (
	WSOpened WSState = iota
	WSOpening
	WSClosed
	WSClosing
)

const (
	WSServer WSPeerType = iota
	WSClient
)

type wsFixture struct {
	server   *testWSServer
	clients  []*testWSClient
	t        *testing.T
	clientWg sync.WaitGroup
	mu       sync.Mutex
	logger   *slog.Logger
	cm       *ConnManager
}

func setUpWSFixture(t *testing.T, nClients int) *wsFixture {
	f := &wsFixture{t: t, logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))}

	f.cm = NewConnManager(context.Background(), DefaultManagerConfig,
		WithIDGenerator(&testWSIDGenerator{}),
		WithLogger(f.logger.WithGroup("server")))

	f.server = newTestWSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		room := RoomKey(r.URL.Query().Get("room"))
		if room == "" {
			room = testRoom
		}
		f.cm.Connect(room, w, r)
	}))

	clientLogger := f.logger.WithGroup("client")
	f.mu.Lock()
	for i := 1; i <= nClients; i++ {
		f.clients = append(f.clients, NewTestWSClient(i, clientLogger.With(slog.Int("id", i))))
	}
	f.mu.Unlock()

	return f
}

func (f *wsFixture) connectClientsToServer() {
	url := getWSURLFromHTTPURL(f.server.URL)
	var connectWg sync.WaitGroup
	for _, client := range f.clients {
		connectWg.Add(1)
		go func(client *testWSClient) {
			defer connectWg.Done()
			err := client.Connect(url)
			require.NoErrorf(f.t, err, "client %d: failed to connect to server", client.id)
			f.clientWg.Add(1)
			go func() {
				defer f.clientWg.Done()
				client.readLoop()
			}()
		}(client)
	}

	waitOrTimeout(f.t, func() {
		connectWg.Wait()
	}, baseTimeout, "Timeout waiting for clients to open connection")
}

func (f *wsFixture) tearDown() {
	f.mu.Lock()
	for _, client := range f.clients {
		client.Close()
	}
	f.mu.Unlock()
	waitOrTimeout(f.t, f.clientWg.Wait, 2*baseTimeout, "Timeout waiting for clients to close")

	f.server.Close()
	f.cm.Close()
}

type testWSServer struct {
	*httptest.Server
}

func newTestWSServer(h http.Handler) *testWSServer {
	return &testWSServer{Server: httptest.NewServer(h)}
}

func (s *testWSServer) Close() {
	if s.Server == nil {
		return
	}
	s.Server.Close()
}

type closeEvent struct {
	code      int
	initiator WSPeerType
	err       error
}

type testWSClient struct {
	conn *websocket.Conn
	// writeMu serializes writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex
	onMsg   func([]byte)
	id      int
	onClose func(closeEvent)
	state   atomic.Int64
	logger  *slog.Logger
}

func NewTestWSClient(id int, logger *slog.Logger) *testWSClient {
	return &testWSClient{
		id:      id,
		onClose: func(ce closeEvent) {},
		onMsg:   func([]byte) {},
		logger:  logger,
	}
}

func (c *testWSClient) OnClose(f func(closeEvent)) {
	c.onClose = f
}

func (c *testWSClient) UpdateState(state WSState) {
	c.state.Store(int64(state))
}

func (c *testWSClient) State() WSState {
	return WSState(c.state.Load())
}

func (c *testWSClient) Send(format int, r io.Reader) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	w, err := c.conn.NextWriter(format)
	if err != nil {
		return fmt.Errorf("get writer: %w", err)
	}

	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying message to connection writer: %w", err)
	}
	return w.Close()
}

func (c *testWSClient) SendText(s string) error {
	return c.Send(websocket.TextMessage, bytes.NewBufferString(s))
}

func (c *testWSClient) Connect(_url string) error {
	c.UpdateState(WSOpening)
	url, err := url.Parse(_url)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	query := url.Query()
	query.Set("id", strconv.Itoa(c.id))
	url.RawQuery = query.Encode()

	conn, res, err := websocket.DefaultDialer.Dial(url.String(), nil)
	if err != nil {
		return err
	}

	if res.StatusCode != http.StatusSwitchingProtocols {
		return fmt.Errorf("unexpected status code: %d", res.StatusCode)
	}

	c.conn = conn
	c.UpdateState(WSOpened)
	return nil
}

// ForceClose closes the underlying connection without sending a close message to the server.
func (c *testWSClient) ForceClose() {
	c.conn.Close()
	c.UpdateState(WSClosed)
}

func (c *testWSClient) readLoop() {
	defer func() {
		c.conn.Close()
		c.UpdateState(WSClosed)
	}()
	for {
		format, data, err := c.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				ce := closeEvent{code: closeErr.Code}
				if c.State() == WSClosing {
					ce.initiator = WSClient
				} else {
					ce.initiator = WSServer
				}
				c.onClose(ce)
				return
			}
			c.onClose(closeEvent{initiator: WSClient, err: err})
			return
		}
		if format == websocket.TextMessage {
			c.onMsg(data)
		}
	}
}

func (c *testWSClient) OnMsg(f func([]byte)) {
	c.onMsg = f
}

// Close sends a close message to the server. It does not wait for the reply;
// the read loop exits when the server answers.
func (c *testWSClient) Close() error {
	if c.State() != WSOpened {
		return nil
	}
	c.UpdateState(WSClosing)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	err := c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return fmt.Errorf("send close message: %w", err)
	}
	return nil
}

func getWSURLFromHTTPURL(url string) string {
	return strings.Replace(url, "http://", "ws://", 1)
}

// waitOrTimeout waits for fn to return or fails the test after timeout.
func waitOrTimeout(t *testing.T, fn func(), timeout time.Duration, s string, args ...interface{}) {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return
	case <-time.After(timeout):
		require.Failf(t, "timeout", s, args...)
	}
}

type testWSIDGenerator struct{}

func (ig *testWSIDGenerator) Generate(r *http.Request) (ConnID, error) {
	rawID := r.URL.Query().Get("id")
	if rawID == "" {
		return 0, errors.New("id query is empty")
	}
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing id: %w", err)
	}
	return ConnID(id), nil
}
