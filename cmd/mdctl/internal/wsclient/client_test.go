package wsclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shubham-shewale/market-cache/cmd/mdctl/internal/wsclient"
	"github.com/shubham-shewale/market-cache/pkg/protocol"
)

// fakeGateway pushes one event before every reply and rejects unknown actions.
func fakeGateway(t *testing.T) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			var req protocol.WSRequest
			if err := conn.ReadJSON(&req); err != nil {
				return
			}
			_ = conn.WriteJSON(protocol.WSResponse{Type: protocol.TypeEvent, Data: map[string]string{"kind": "quote_updated"}})

			switch req.Action {
			case protocol.ActionGetQuote:
				_ = conn.WriteJSON(protocol.WSResponse{Type: protocol.TypeQuote, ID: req.ID, Status: "success",
					Data: protocol.QuoteData{Instrument: req.Payload.Symbols[0]}})
			case protocol.ActionSubscribe:
				_ = conn.WriteJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: req.ID, Status: "success"})
			default:
				_ = conn.WriteJSON(protocol.WSResponse{Type: protocol.TypeError, ID: req.ID, Status: "error", Message: "Unknown action"})
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestClient_DoMatchesReplyByID(t *testing.T) {
	c, err := wsclient.Dial(context.Background(), fakeGateway(t))
	require.NoError(t, err)
	defer c.Close()

	var others []wsclient.Frame
	c.OnFrame = func(f wsclient.Frame) { others = append(others, f) }

	f, err := c.Do(context.Background(), protocol.ActionGetQuote, protocol.RequestPayload{Symbols: []string{"AAPL"}})
	require.NoError(t, err)
	assert.Equal(t, protocol.TypeQuote, f.Type)
	assert.Contains(t, string(f.Data), `"AAPL"`)

	require.Len(t, others, 1)
	assert.Equal(t, protocol.TypeEvent, others[0].Type)
}

func TestClient_ErrorReply(t *testing.T) {
	c, err := wsclient.Dial(context.Background(), fakeGateway(t))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Do(context.Background(), "bogus", protocol.RequestPayload{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, wsclient.ErrServer))
	assert.Contains(t, err.Error(), "Unknown action")
}

func TestClient_StreamStopsOnCancel(t *testing.T) {
	c, err := wsclient.Dial(context.Background(), fakeGateway(t))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.Do(context.Background(), protocol.ActionSubscribe, protocol.RequestPayload{Symbols: []string{"AAPL"}})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err = c.Stream(ctx, func(wsclient.Frame) {})
	assert.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDial_Unreachable(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := wsclient.Dial(ctx, "ws://127.0.0.1:1/ws")
	assert.Error(t, err)
}
