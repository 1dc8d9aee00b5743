package handlers

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openpark/lobbyd/internal/lobby"
)

// A kick, ban, supersede, or lobby close surfaces to the write pump as a
// closed out channel. The client must see the forbidden close code, not a
// generic going-away.
func TestWritePumpForcedDropSendsForbiddenCode(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	conn := lobby.NewConn(uuid.New(), "alice", false, func() {})
	pumpDone := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		writePump(r.Context(), c, conn, logger)
		close(pumpDone)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer client.CloseNow()

	// Frames flow while the connection is live.
	require.True(t, conn.Write(map[string]interface{}{"type": "ping"}))
	_, data, err := client.Read(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"ping"`)

	// Forced drop: the core closes the handle, the pump closes the socket.
	conn.Close()
	_, _, err = client.Read(ctx)
	require.Error(t, err)
	assert.Equal(t, CloseForbidden, websocket.CloseStatus(err))

	select {
	case <-pumpDone:
	case <-time.After(5 * time.Second):
		t.Fatal("write pump did not exit after the connection was dropped")
	}
}
