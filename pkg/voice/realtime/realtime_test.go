package realtime_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/voicemesh/voicemesh/pkg/voice"
	"github.com/voicemesh/voicemesh/pkg/voice/realtime"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// startModelServer launches a test WebSocket server standing in for the
// voice-model endpoint. The handler receives the accepted conn.
func startModelServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		handler(conn, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// readJSON reads one text frame and decodes it into v.
func readJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("readJSON: %v", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("readJSON unmarshal: %v", err)
	}
}

// writeJSON marshals v and sends it as a text frame.
func writeJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, _ := json.Marshal(v)
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Logf("writeJSON: %v (may be expected on close)", err)
	}
}

func TestStart_SendsConfiguration(t *testing.T) {
	t.Parallel()

	gotCfg := make(chan map[string]any, 1)
	srv := startModelServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		gotCfg <- raw
		<-conn.CloseRead(context.Background()).Done()
	})

	b := realtime.New(wsURL(srv), "test-key")
	defer b.Stop()

	err := b.SetConfig(voice.Config{
		SystemPrompt: "You are a triage agent.",
		VoiceID:      "tiffany",
		Tools:        []voice.ToolSpec{{Name: "transfer_to_idv", Description: "hand off"}},
		MaxTokens:    1024,
		Temperature:  0.7,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Start(context.Background(), "s-1"); err != nil {
		t.Fatal(err)
	}

	select {
	case raw := <-gotCfg:
		if raw["type"] != "session.configure" {
			t.Errorf("expected session.configure, got %v", raw["type"])
		}
		if raw["prompt"] != "You are a triage agent." {
			t.Errorf("prompt not sent: %v", raw["prompt"])
		}
		if raw["voice"] != "tiffany" {
			t.Errorf("voice not sent: %v", raw["voice"])
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received configuration")
	}
}

func TestSetConfig_AfterStartRejected(t *testing.T) {
	t.Parallel()
	srv := startModelServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	b := realtime.New(wsURL(srv), "test-key")
	defer b.Stop()
	if _, err := b.Start(context.Background(), "s-1"); err != nil {
		t.Fatal(err)
	}
	if err := b.SetConfig(voice.Config{}); err == nil {
		t.Error("SetConfig after Start should fail")
	}
}

func TestAudioDelta_PaddedAndSurfaced(t *testing.T) {
	t.Parallel()
	srv := startModelServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		// 2049 bytes — odd. The bridge must pad to even before surfacing.
		writeJSON(t, conn, map[string]any{
			"type":  "audio.delta",
			"delta": base64.StdEncoding.EncodeToString(make([]byte, 2049)),
		})
		<-conn.CloseRead(context.Background()).Done()
	})

	// Model rate equals the session rate so no resampling obscures lengths.
	b := realtime.New(wsURL(srv), "test-key", realtime.WithModelRate(16000))
	defer b.Stop()
	events, err := b.Start(context.Background(), "s-1")
	if err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-events:
		if evt.Kind != voice.EventAudio {
			t.Fatalf("expected audio event, got %s", evt.Kind)
		}
		if len(evt.Audio) != 2050 {
			t.Errorf("expected padded 2050 bytes, got %d", len(evt.Audio))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no audio event received")
	}
}

func TestServerEvents_Translated(t *testing.T) {
	t.Parallel()
	srv := startModelServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		writeJSON(t, conn, map[string]any{"type": "session.start"})
		writeJSON(t, conn, map[string]any{"type": "transcript", "role": "user", "text": "balance please", "final": true})
		writeJSON(t, conn, map[string]any{"type": "tool.use", "toolName": "agentcore_balance", "toolUseId": "u-1", "input": map[string]any{}})
		writeJSON(t, conn, map[string]any{"type": "usage", "inputTokens": 5, "outputTokens": 7, "totalTokens": 12})
		writeJSON(t, conn, map[string]any{"type": "turn.end"})
		<-conn.CloseRead(context.Background()).Done()
	})

	b := realtime.New(wsURL(srv), "test-key")
	defer b.Stop()
	events, err := b.Start(context.Background(), "s-1")
	if err != nil {
		t.Fatal(err)
	}

	want := []voice.EventKind{
		voice.EventSessionStart,
		voice.EventTranscript,
		voice.EventToolUse,
		voice.EventUsage,
		voice.EventTurnEnd,
	}
	for _, kind := range want {
		select {
		case evt := <-events:
			if evt.Kind != kind {
				t.Fatalf("expected %s, got %s", kind, evt.Kind)
			}
			switch kind {
			case voice.EventTranscript:
				if evt.Transcript.Role != "user" || !evt.Transcript.Final {
					t.Errorf("bad transcript: %+v", evt.Transcript)
				}
			case voice.EventToolUse:
				if evt.ToolUse.ToolUseID != "u-1" {
					t.Errorf("bad tool use: %+v", evt.ToolUse)
				}
			case voice.EventUsage:
				if evt.Usage.TotalTokens != 12 {
					t.Errorf("bad usage: %+v", evt.Usage)
				}
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func TestSendAudio_PadsOddChunks(t *testing.T) {
	t.Parallel()
	gotAudio := make(chan []byte, 1)
	srv := startModelServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw) // configure
		var msg struct {
			Type  string `json:"type"`
			Audio string `json:"audio"`
		}
		readJSON(t, conn, &msg)
		pcm, _ := base64.StdEncoding.DecodeString(msg.Audio)
		gotAudio <- pcm
		<-conn.CloseRead(context.Background()).Done()
	})

	b := realtime.New(wsURL(srv), "test-key")
	defer b.Stop()
	if _, err := b.Start(context.Background(), "s-1"); err != nil {
		t.Fatal(err)
	}
	if err := b.SendAudio(make([]byte, 321)); err != nil {
		t.Fatal(err)
	}

	select {
	case pcm := <-gotAudio:
		if len(pcm) != 322 {
			t.Errorf("expected 322 bytes after padding, got %d", len(pcm))
		}
	case <-time.After(3 * time.Second):
		t.Fatal("server never received audio")
	}
}

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()
	srv := startModelServer(t, func(conn *websocket.Conn, _ *http.Request) {
		var raw map[string]any
		readJSON(t, conn, &raw)
		<-conn.CloseRead(context.Background()).Done()
	})

	b := realtime.New(wsURL(srv), "test-key")
	events, err := b.Start(context.Background(), "s-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := b.Stop(); err != nil {
		t.Fatal("second Stop should be a no-op, got", err)
	}

	select {
	case _, ok := <-events:
		if ok {
			// Drain any buffered event; channel must eventually close.
			for range events {
			}
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event channel never closed after Stop")
	}
}

func TestStop_BeforeStart(t *testing.T) {
	t.Parallel()
	b := realtime.New("ws://unused", "key")
	if err := b.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestSendText_EmptyIgnored(t *testing.T) {
	t.Parallel()
	b := realtime.New("ws://unused", "key")
	if err := b.SendText(""); err != nil {
		t.Errorf("empty text should be ignored, got %v", err)
	}
}
