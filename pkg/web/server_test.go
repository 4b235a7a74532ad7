package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-semaphore/pkg/capture"
	"github.com/teslashibe/go-semaphore/pkg/pipeline"
	"github.com/teslashibe/go-semaphore/pkg/playback"
	"github.com/teslashibe/go-semaphore/pkg/pose"
	"github.com/teslashibe/go-semaphore/pkg/protocol"
	"github.com/teslashibe/go-semaphore/pkg/settings"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, open playback.Opener) (*Server, *pipeline.Decoder) {
	t.Helper()
	est := pose.NewSyntheticEstimator(pose.MediaPipeJoints, func(uint64) (pose.Arms, bool) {
		return pose.Arms{}, false
	})
	dec := pipeline.New(pipeline.DefaultConfig(), est, settings.NewManager(settings.Default()),
		pipeline.WithLogger(quietLogger()))
	srv := NewServer(DefaultConfig(), dec, open, quietLogger())
	dec.Observe(srv)
	return srv, dec
}

func mockOpener() (capture.Source, error) {
	return capture.NewMockSource(-1, capture.WithInterval(time.Millisecond)), nil
}

func do(t *testing.T, srv *Server, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.App().Test(req, -1)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, data
}

func decodeStatus(t *testing.T, data []byte) StatusResponse {
	t.Helper()
	var st StatusResponse
	if err := json.Unmarshal(data, &st); err != nil {
		t.Fatalf("decode status %s: %v", data, err)
	}
	return st
}

func TestServer_Lifecycle(t *testing.T) {
	srv, _ := newTestServer(t, mockOpener)

	steps := []struct {
		method, path string
		wantCode     int
		wantState    string
	}{
		{"GET", "/api/status", 200, "idle"},
		{"POST", "/api/pause", 409, ""},
		{"POST", "/api/start", 200, "playing"},
		{"POST", "/api/start", 409, ""},
		{"POST", "/api/pause", 200, "paused"},
		{"POST", "/api/pause", 200, "playing"},
		{"POST", "/api/restart", 200, "idle"},
		{"POST", "/api/start", 200, "playing"},
	}

	for _, step := range steps {
		resp, data := do(t, srv, step.method, step.path, "")
		if resp.StatusCode != step.wantCode {
			t.Fatalf("%s %s = %d (%s), want %d", step.method, step.path, resp.StatusCode, data, step.wantCode)
		}
		if step.wantState == "" {
			continue
		}
		st := decodeStatus(t, data)
		if st.State != step.wantState {
			t.Errorf("%s %s state = %q, want %q", step.method, step.path, st.State, step.wantState)
		}
	}

	_, data := do(t, srv, "GET", "/api/status", "")
	st := decodeStatus(t, data)
	if st.Epoch != 3 {
		t.Errorf("epoch = %d, want 3", st.Epoch)
	}
	if st.Session == "" {
		t.Error("expected a session id while playing")
	}
	if st.Settings.Language != "en" || st.Settings.DwellSeconds != 2 {
		t.Errorf("settings = %+v", st.Settings)
	}
}

func TestServer_StartFailure(t *testing.T) {
	srv, dec := newTestServer(t, func() (capture.Source, error) {
		return nil, errors.New("camera busy")
	})

	resp, data := do(t, srv, "POST", "/api/start", "")
	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("start = %d, want 502", resp.StatusCode)
	}
	if !strings.Contains(string(data), "camera busy") {
		t.Errorf("error body %s should name the cause", data)
	}
	if got := dec.Snapshot().Playback.State; got != playback.Idle {
		t.Errorf("state = %v, want idle", got)
	}
}

func TestServer_NoOpener(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	resp, _ := do(t, srv, "POST", "/api/start", "")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("start = %d, want 503", resp.StatusCode)
	}
}

func TestServer_Settings(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		wantCode int
		want     protocol.SettingsData
	}{
		{"language", `{"language":"uk"}`, 200, protocol.SettingsData{Language: "uk", DwellSeconds: 2}},
		{"dwell", `{"dwell_seconds":0.5}`, 200, protocol.SettingsData{Language: "en", DwellSeconds: 0.5}},
		{"both", `{"language":"uk","dwell":"1s"}`, 200, protocol.SettingsData{Language: "uk", DwellSeconds: 1}},
		{"unknown language", `{"language":"fr"}`, 400, protocol.SettingsData{}},
		{"zero dwell", `{"dwell":0}`, 400, protocol.SettingsData{}},
		{"bad body", `{`, 400, protocol.SettingsData{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv, dec := newTestServer(t, mockOpener)
			resp, data := do(t, srv, "PUT", "/api/settings", tc.body)
			if resp.StatusCode != tc.wantCode {
				t.Fatalf("PUT = %d (%s), want %d", resp.StatusCode, data, tc.wantCode)
			}
			if tc.wantCode != 200 {
				if dec.Settings().Get() != settings.Default() {
					t.Error("rejected update changed settings")
				}
				return
			}
			var got protocol.SettingsData
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("PUT = %+v, want %+v", got, tc.want)
			}

			_, data = do(t, srv, "GET", "/api/settings", "")
			got = protocol.SettingsData{}
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("GET = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestServer_SettingsOptions(t *testing.T) {
	srv, _ := newTestServer(t, mockOpener)
	resp, data := do(t, srv, "GET", "/api/settings/options", "")
	if resp.StatusCode != 200 {
		t.Fatalf("options = %d", resp.StatusCode)
	}
	var opts OptionsResponse
	if err := json.Unmarshal(data, &opts); err != nil {
		t.Fatal(err)
	}
	codes := map[string]int{}
	for _, l := range opts.Languages {
		codes[l.Code] = l.Letters
	}
	if codes["en"] != 28 || codes["uk"] != 31 {
		t.Errorf("languages = %+v", opts.Languages)
	}
	if len(opts.DwellSeconds) != 4 || opts.DwellSeconds[0] != 0.5 {
		t.Errorf("dwell presets = %v", opts.DwellSeconds)
	}
}

func TestServer_WebsocketRequiresUpgrade(t *testing.T) {
	srv, _ := newTestServer(t, mockOpener)
	resp, _ := do(t, srv, "GET", "/ws/events", "")
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("plain GET /ws/events = %d, want 426", resp.StatusCode)
	}
}

func serve(t *testing.T, srv *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().String()
}

func dial(t *testing.T, addr, path string) *websocket.Conn {
	t.Helper()
	var (
		conn *websocket.Conn
		err  error
	)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, _, err = websocket.DefaultDialer.Dial("ws://"+addr+path, nil)
		if err == nil {
			t.Cleanup(func() { conn.Close() })
			return conn
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("dial %s: %v", path, err)
	return nil
}

func readMessage(t *testing.T, conn *websocket.Conn) *protocol.Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatal(err)
	}
	return msg
}

func waitClients(t *testing.T, count func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("clients = %d, want %d", count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestServer_EventsWebsocket(t *testing.T) {
	srv, dec := newTestServer(t, mockOpener)
	addr := serve(t, srv)
	conn := dial(t, addr, "/ws/events")

	if msg := readMessage(t, conn); msg.Type != protocol.TypeSettings {
		t.Fatalf("first message = %s, want settings", msg.Type)
	}
	state, err := readMessage(t, conn).GetStateData()
	if err != nil || state.State != "idle" || !state.Placeholder {
		t.Fatalf("greeting state = %+v, %v", state, err)
	}

	waitClients(t, srv.events.ClientCount, 1)

	srv.OnCommit(protocol.CommitData{Symbol: "A", Kind: "letter", Appended: "A", Text: "A"})
	commit, err := readMessage(t, conn).GetCommitData()
	if err != nil || commit.Text != "A" {
		t.Fatalf("commit = %+v, %v", commit, err)
	}

	if err := dec.Settings().Update(map[string]any{"language": "uk"}); err != nil {
		t.Fatal(err)
	}
	set, err := readMessage(t, conn).GetSettingsData()
	if err != nil || set.Language != "uk" {
		t.Fatalf("settings = %+v, %v", set, err)
	}

	if err := dec.Start(mockOpener); err != nil {
		t.Fatal(err)
	}
	state, err = readMessage(t, conn).GetStateData()
	if err != nil || state.State != "playing" || state.Session == "" {
		t.Fatalf("state = %+v, %v", state, err)
	}
}

func TestServer_CameraWebsocket(t *testing.T) {
	srv, _ := newTestServer(t, mockOpener)
	addr := serve(t, srv)
	conn := dial(t, addr, "/ws/camera")
	waitClients(t, srv.camera.ClientCount, 1)

	srv.OnFrame(capture.Frame{})
	srv.OnFrame(capture.Frame{Seq: 1, JPEG: []byte{0xFF, 0xD8, 0xFF}})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	typ, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatal(err)
	}
	if typ != websocket.BinaryMessage || len(data) != 3 {
		t.Errorf("frame = type %d len %d", typ, len(data))
	}
}
