package handler

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/careline/careline-api/internal/apperr"
	"github.com/careline/careline-api/internal/security"
	"github.com/careline/careline-api/internal/ws"
	"github.com/careline/careline-api/pkg/auth"
)

// WSHandler handles WebSocket connections for household dashboards
type WSHandler struct {
	hub        *ws.Hub
	jwtManager *auth.JWTManager
	gate       *security.Gate
	upgrader   websocket.Upgrader
}

func NewWSHandler(hub *ws.Hub, jwtManager *auth.JWTManager, gate *security.Gate) *WSHandler {
	return &WSHandler{
		hub:        hub,
		jwtManager: jwtManager,
		gate:       gate,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return gate.CheckOrigin(r.Header.Get("Origin")) == nil
			},
		},
	}
}

// HandleWebSocket upgrades HTTP to WebSocket and subscribes the client
// to one household's event stream.
// Client connects with: ws://host/ws?token=<jwt>&household_id=<uuid>
func (h *WSHandler) HandleWebSocket(c *gin.Context) {
	// Authenticate via query parameter (WebSocket can't use Authorization header)
	tokenString := c.Query("token")
	if tokenString == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Token required"})
		return
	}

	claims, err := h.jwtManager.ValidateToken(tokenString)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}

	householdID, err := uuid.Parse(c.Query("household_id"))
	if err != nil {
		respondError(c, apperr.Validation("invalid household id"))
		return
	}

	if claims.IsDevice() {
		if claims.HouseholdID != householdID {
			respondError(c, apperr.Forbidden("device is not bound to this household"))
			return
		}
	} else if err := h.gate.RequireMember(householdID, claims.UserID); err != nil {
		respondError(c, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := ws.NewClient(h.hub, conn, householdID, claims.UserID)
	h.hub.Register(client)

	log.Printf("✅ WS Connected: HouseholdID=%s UserID=%s", householdID, claims.UserID)

	go client.WritePump()
	go client.ReadPump()
}
