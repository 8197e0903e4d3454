package gemini

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/Johtaguerrero/Biblia-Responde-2.1/domain/repositories"
)

var upgrader = websocket.Upgrader{}

func newLiveServer(t *testing.T, handler func(conn *websocket.Conn, r *http.Request)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

func nextEvent(t *testing.T, ch repositories.LiveChannel) repositories.LiveEvent {
	t.Helper()
	select {
	case event, ok := <-ch.Events():
		require.True(t, ok, "events channel closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return repositories.LiveEvent{}
}

func liveConfig() repositories.LiveConfig {
	return repositories.LiveConfig{
		APIKey:             "test-key",
		Model:              "gemini-2.5-flash-native-audio-preview-12-2025",
		VoiceName:          "Kore",
		SystemInstruction:  "Você é um companheiro bíblico.",
		ResponseModalities: []string{repositories.ResponseModalityAudio},
	}
}

func TestLiveDialer_SetupStreamAndClose(t *testing.T) {
	received := make(chan map[string]interface{}, 1)

	server := newLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))

		var setup map[string]interface{}
		if err := conn.ReadJSON(&setup); err != nil {
			t.Errorf("failed to read setup: %v", err)
			return
		}
		received <- setup

		_ = conn.WriteJSON(ServerMessage{SetupComplete: &SetupComplete{}})

		var input realtimeInputMessage
		if err := conn.ReadJSON(&input); err != nil {
			return
		}
		if len(input.RealtimeInput.MediaChunks) != 1 {
			t.Errorf("expected one media chunk, got %d", len(input.RealtimeInput.MediaChunks))
			return
		}
		assert.Equal(t, "audio/pcm;rate=16000", input.RealtimeInput.MediaChunks[0].MIMEType)

		_ = conn.WriteJSON(ServerMessage{ServerContent: &ServerContent{
			ModelTurn: &ModelTurn{Parts: []Part{
				{InlineData: &InlineData{MimeType: "audio/pcm;rate=24000", Data: "AAAA"}},
				{InlineData: &InlineData{MimeType: "image/png", Data: "BBBB"}},
			}},
		}})
		_ = conn.WriteJSON(ServerMessage{ServerContent: &ServerContent{Interrupted: true}})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "done"))
		_, _, _ = conn.ReadMessage()
	})

	dialer := NewLiveDialer(LiveDialerConfig{URL: wsURL(server)}, zaptest.NewLogger(t))
	ch, err := dialer.Dial(context.Background(), liveConfig())
	require.NoError(t, err)
	defer ch.Close()

	setup := <-received
	raw, _ := json.Marshal(setup)
	var parsed setupMessage
	require.NoError(t, json.Unmarshal(raw, &parsed))
	assert.Equal(t, "models/gemini-2.5-flash-native-audio-preview-12-2025", parsed.Setup.Model)
	assert.Equal(t, []string{"AUDIO"}, parsed.Setup.GenerationConfig.ResponseModalities)
	require.NotNil(t, parsed.Setup.GenerationConfig.SpeechConfig)
	assert.Equal(t, "Kore", parsed.Setup.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName)
	require.NotNil(t, parsed.Setup.SystemInstruction)
	assert.Equal(t, "Você é um companheiro bíblico.", parsed.Setup.SystemInstruction.Parts[0].Text)

	assert.Equal(t, repositories.LiveEventOpen, nextEvent(t, ch).Type)

	require.NoError(t, ch.SendRealtimeInput(context.Background(), repositories.MediaBlob{
		Data:     "AAAA",
		MIMEType: "audio/pcm;rate=16000",
	}))

	event := nextEvent(t, ch)
	require.Equal(t, repositories.LiveEventMessage, event.Type)
	require.Len(t, event.Message.Audio, 1)
	assert.Equal(t, "AAAA", event.Message.Audio[0].Data)

	event = nextEvent(t, ch)
	require.Equal(t, repositories.LiveEventMessage, event.Type)
	assert.True(t, event.Message.Interrupted)

	event = nextEvent(t, ch)
	assert.Equal(t, repositories.LiveEventClose, event.Type)
	assert.Equal(t, "done", event.Reason)
}

func TestLiveDialer_AbnormalCloseIsError(t *testing.T) {
	server := newLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "API key not valid"))
		_, _, _ = conn.ReadMessage()
	})

	dialer := NewLiveDialer(LiveDialerConfig{URL: wsURL(server)}, zaptest.NewLogger(t))
	ch, err := dialer.Dial(context.Background(), liveConfig())
	require.NoError(t, err)
	defer ch.Close()

	event := nextEvent(t, ch)
	require.Equal(t, repositories.LiveEventError, event.Type)
	require.Error(t, event.Err)
	assert.Contains(t, event.Err.Error(), "API key not valid")
}

func TestLiveDialer_HandshakeStatusInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	dialer := NewLiveDialer(LiveDialerConfig{URL: wsURL(server)}, zaptest.NewLogger(t))
	_, err := dialer.Dial(context.Background(), liveConfig())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestLiveDialer_LocalCloseEmitsNothing(t *testing.T) {
	server := newLiveServer(t, func(conn *websocket.Conn, r *http.Request) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	dialer := NewLiveDialer(LiveDialerConfig{URL: wsURL(server)}, zaptest.NewLogger(t))
	ch, err := dialer.Dial(context.Background(), liveConfig())
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	require.NoError(t, ch.Close())

	select {
	case event, ok := <-ch.Events():
		assert.False(t, ok, "unexpected event %v", event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("events channel was not closed")
	}

	err = ch.SendRealtimeInput(context.Background(), repositories.MediaBlob{Data: "AAAA"})
	assert.ErrorIs(t, err, ErrChannelClosed)
}

func TestDial_RequiresAPIKey(t *testing.T) {
	dialer := NewLiveDialer(LiveDialerConfig{URL: "ws://127.0.0.1:1"}, zaptest.NewLogger(t))
	_, err := dialer.Dial(context.Background(), repositories.LiveConfig{})
	assert.Error(t, err)
}
