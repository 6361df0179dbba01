package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	commands []string
	failNext error
}

func (f *fakeController) run(name string) error {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return err
	}
	f.commands = append(f.commands, name)
	return nil
}

func (f *fakeController) Start() error         { return f.run("start") }
func (f *fakeController) Stop() error          { return f.run("stop") }
func (f *fakeController) Pause() error         { return f.run("pause") }
func (f *fakeController) Resume() error        { return f.run("resume") }
func (f *fakeController) EmergencyStop() error { return f.run("emergency_stop") }

func (f *fakeController) Status() interface{} {
	return map[string]interface{}{"state": "IDLE", "kill_switch": false}
}

func newTestServer(ctrl *fakeController) *Server {
	return NewServer(Config{Host: "127.0.0.1", Port: 0}, ctrl,
		func() interface{} { return []string{} },
		func() interface{} { return []string{} })
}

func TestServer_Status(t *testing.T) {
	s := newTestServer(&fakeController{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	s.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "IDLE", body["state"])
}

func TestServer_ControlCommands(t *testing.T) {
	ctrl := &fakeController{}
	s := newTestServer(ctrl)

	for _, cmd := range []string{"start", "pause", "resume", "stop", "emergency-stop"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/control/"+cmd, nil)
		s.Router().ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, cmd)
	}

	assert.Equal(t, []string{"start", "pause", "resume", "stop", "emergency_stop"}, ctrl.commands)
}

func TestServer_ControlFailureIsConflict(t *testing.T) {
	ctrl := &fakeController{failNext: errors.New("already running")}
	s := newTestServer(ctrl)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/control/start", nil)
	s.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "already running")
}

func TestHub_SnapshotThenDeltas(t *testing.T) {
	hub := NewHub("events", func() interface{} {
		return map[string]string{"state": "IDLE"}
	})
	go hub.Run()

	srv := httptest.NewServer(http.HandlerFunc(hub.serveWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// First frame is always the snapshot.
	var first StreamMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "snapshot", first.Type)
	assert.Equal(t, "events", first.Stream)

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Broadcast(map[string]string{"state": "PERCEPTION"}))

	var second StreamMessage
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, "delta", second.Type)
	assert.Contains(t, string(second.Data), "PERCEPTION")
}
