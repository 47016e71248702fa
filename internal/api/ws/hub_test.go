package ws

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/your-org/faceid/internal/models"
	"github.com/your-org/faceid/pkg/dto"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func TestHubFiltersByIdentity(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	go hub.Run(ctx)

	r := gin.New()
	r.GET("/ws", hub.HandleWS)
	srv := httptest.NewServer(r)
	defer srv.Close()

	all := dial(t, srv, "")
	defer all.Close()
	bob := dial(t, srv, "?identity_id=bob")
	defer bob.Close()

	// registration happens asynchronously after the upgrade
	time.Sleep(50 * time.Millisecond)

	alice := "alice"
	if err := hub.BroadcastAuthEvent(ctx, &models.AuthEvent{
		ID: uuid.New(), AttemptID: uuid.New(), Method: "face",
		Outcome: models.OutcomeAuthenticated, IdentityID: &alice, Timestamp: time.Now(),
	}); err != nil {
		t.Fatal(err)
	}

	_ = all.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := all.ReadMessage()
	if err != nil {
		t.Fatalf("unfiltered client read: %v", err)
	}
	var evt dto.WSEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		t.Fatal(err)
	}
	if evt.Type != "auth_event" || evt.Data.IdentityID == nil || *evt.Data.IdentityID != "alice" {
		t.Errorf("unexpected event: %+v", evt)
	}

	_ = bob.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := bob.ReadMessage(); err == nil {
		t.Error("filtered client received another identity's event")
	}
}
