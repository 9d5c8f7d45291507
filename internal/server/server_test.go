package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/claudian/claudian/internal/claude"
	"github.com/claudian/claudian/internal/render"
	"github.com/claudian/claudian/internal/session"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu       sync.Mutex
	prompts  []string
	cancels  int
	toggled  []string
	files    []string
	startErr error
	state    session.State
}

func (f *fakeController) Start(_ context.Context, prompt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.startErr
}

func (f *fakeController) Cancel(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return session.ErrNotRunning
}

func (f *fakeController) ToggleCard(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggled = append(f.toggled, id)
	return nil
}

func (f *fakeController) SetActiveFile(_ context.Context, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files = append(f.files, path)
	return nil
}

func (f *fakeController) State() session.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func newTestServer(t *testing.T, ctrl Controller) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	ts := httptest.NewServer(New(ctrl, hub).Handler())
	t.Cleanup(func() {
		hub.Close()
		ts.Close()
	})
	return hub, ts
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) render.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f render.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func readAck(t *testing.T, conn *websocket.Conn) Ack {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ack Ack
	require.NoError(t, conn.ReadJSON(&ack))
	return ack
}

func waitClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Clients() == n }, 2*time.Second, 5*time.Millisecond)
}

func TestHubBroadcastsFrames(t *testing.T) {
	hub, ts := newTestServer(t, &fakeController{})
	conn := dial(t, ts)
	waitClients(t, hub, 1)

	sink := hub.Sink()
	sink.AppendText("hello", true)
	sink.SetStatus(session.StatusRunning, "Running...")

	require.Equal(t, render.Frame{Type: render.FrameText, Text: "hello", NewBlock: true}, readFrame(t, conn))
	require.Equal(t, render.Frame{Type: render.FrameStatus, Status: session.StatusRunning, Summary: "Running..."}, readFrame(t, conn))
}

func TestHubCatchUpCoalescesText(t *testing.T) {
	hub, ts := newTestServer(t, &fakeController{})

	sink := hub.Sink()
	sink.AppendText("stale", true)
	sink.Reset()
	sink.SetStatus(session.StatusRunning, "Running...")
	sink.AppendText("Hel", true)
	sink.AppendText("lo", false)
	sink.OpenToolCard(session.ToolCard{ToolUse: claude.ToolUse{ID: "t1", Name: "LS", Input: map[string]any{"path": "/vault"}}})
	sink.AppendText("A", true)
	sink.AppendText("B", false)

	require.Equal(t, []render.Frame{
		{Type: render.FrameReset},
		{Type: render.FrameStatus, Status: session.StatusRunning, Summary: "Running..."},
		{Type: render.FrameText, Text: "Hello", NewBlock: true},
		{Type: render.FrameToolUse, ID: "t1", Tool: "LS", Label: "/vault", Input: map[string]any{"path": "/vault"}},
		{Type: render.FrameText, Text: "AB", NewBlock: true},
	}, hub.Backlog())

	conn := dial(t, ts)
	for _, want := range hub.Backlog() {
		require.Equal(t, want, readFrame(t, conn))
	}

	// Live frames follow the backlog.
	waitClients(t, hub, 1)
	sink.AppendText("C", false)
	require.Equal(t, render.Frame{Type: render.FrameText, Text: "C"}, readFrame(t, conn))
}

func TestCommandsAreDispatchedAndAcked(t *testing.T) {
	ctrl := &fakeController{startErr: session.ErrRunning}
	_, ts := newTestServer(t, ctrl)
	conn := dial(t, ts)

	require.NoError(t, conn.WriteJSON(Command{Type: "start", Prompt: "fix the build"}))
	require.Equal(t, Ack{Type: "ack", Command: "start", Error: session.ErrRunning.Error()}, readAck(t, conn))

	require.NoError(t, conn.WriteJSON(Command{Type: "toggle", ID: "t3"}))
	require.Equal(t, Ack{Type: "ack", Command: "toggle"}, readAck(t, conn))

	require.NoError(t, conn.WriteJSON(Command{Type: "set_file", Path: "notes/a.md"}))
	require.Equal(t, Ack{Type: "ack", Command: "set_file"}, readAck(t, conn))

	require.NoError(t, conn.WriteJSON(Command{Type: "cancel"}))
	require.Equal(t, Ack{Type: "ack", Command: "cancel", Error: session.ErrNotRunning.Error()}, readAck(t, conn))

	require.NoError(t, conn.WriteJSON(Command{Type: "explode"}))
	ack := readAck(t, conn)
	require.Contains(t, ack.Error, "unknown command")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	ack = readAck(t, conn)
	require.Contains(t, ack.Error, "invalid command")

	ctrl.mu.Lock()
	defer ctrl.mu.Unlock()
	require.Equal(t, []string{"fix the build"}, ctrl.prompts)
	require.Equal(t, []string{"t3"}, ctrl.toggled)
	require.Equal(t, []string{"notes/a.md"}, ctrl.files)
	require.Equal(t, 1, ctrl.cancels)
}

func TestStateEndpoint(t *testing.T) {
	ctrl := &fakeController{state: session.State{
		Status:  session.StatusDone,
		Prompt:  "summarize",
		Turns:   1,
		CostUSD: 0.25,
		Output:  []session.Item{{Kind: session.ItemText, Text: "summary"}},
	}}
	_, ts := newTestServer(t, ctrl)

	resp, err := http.Get(ts.URL + "/state")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body StateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Equal(t, session.StatusDone, body.Status)
	require.Equal(t, "Done (1 turn · $0.2500)", body.Summary)
	require.Equal(t, "summarize", body.Prompt)
	require.Equal(t, []render.Frame{
		{Type: render.FrameReset},
		{Type: render.FrameText, Text: "summary", NewBlock: true},
		{Type: render.FrameStatus, Status: session.StatusDone, Summary: "Done (1 turn · $0.2500)"},
	}, body.Frames)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub, ts := newTestServer(t, &fakeController{})
	conn := dial(t, ts)
	waitClients(t, hub, 1)

	hub.Close()
	require.Zero(t, hub.Clients())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))

	// Broadcasting after close is a no-op.
	hub.Broadcast(render.Frame{Type: render.FrameReset})
	require.Empty(t, hub.Backlog())
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := NewHub()
	c := hub.attach("slow", nil)
	require.True(t, hub.attached(c))

	// Nothing drains c.send, so the queue overflows.
	for i := 0; i <= clientSendBuffer; i++ {
		hub.Broadcast(render.Frame{Type: render.FrameText, Text: "x", NewBlock: true})
	}
	require.False(t, hub.attached(c))
	require.Zero(t, hub.Clients())

	// Replies to a dropped client are discarded.
	hub.reply(c, Ack{Type: "ack", Command: "start"})
}

func TestRouter(t *testing.T) {
	_, ts := newTestServer(t, &fakeController{})

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/state", "application/json", strings.NewReader("{}"))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/state", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServeStopsOnContextCancel(t *testing.T) {
	srv := New(&fakeController{}, NewHub())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx, "127.0.0.1:0") }()

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
