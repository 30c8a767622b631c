package adsb

import (
	"context"
	"time"

	"github.com/yegors/sbs-radar/internal/websocket"
	"github.com/yegors/sbs-radar/pkg/logger"
)

// SiteInfo is the observation site sent to new subscribers
type SiteInfo struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat"`
	Lon  float64 `json:"lon"`
}

// WebSocketHandler greets new subscribers and answers their requests
type WebSocketHandler struct {
	service *Service
	storage Storage
	site    SiteInfo
	logger  *logger.Logger
}

// NewWebSocketHandler creates a new WebSocket message handler
func NewWebSocketHandler(service *Service, storage Storage, site SiteInfo, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		service: service,
		storage: storage,
		site:    site,
		logger:  log.Named("adsb-ws-handler"),
	}
}

// HandleConnect sends every known identifier and the site to a new subscriber
func (h *WebSocketHandler) HandleConnect(client *websocket.Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	icaos, err := h.storage.GetAllKnownIdentifiers(ctx)
	if err != nil {
		h.logger.Error("Failed to load known identifiers", logger.Error(err))
		icaos = []string{}
	}

	h.sendToClient(client, &websocket.Message{
		Type: websocket.MessageTypeInitialState,
		Data: map[string]any{
			"icaos": icaos,
			"site":  h.site,
		},
	})
}

// HandleMessage handles incoming WebSocket messages
func (h *WebSocketHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeAircraftBulkRequest:
		response := h.service.GetAllAircraft()
		h.sendToClient(client, &websocket.Message{
			Type: websocket.MessageTypeAircraftBulkResponse,
			Data: map[string]any{
				"aircraft": response.Aircraft,
				"count":    response.Count,
			},
		})
		return nil
	default:
		h.logger.Debug("Unhandled message type", logger.String("type", messageType))
		return nil
	}
}

func (h *WebSocketHandler) sendToClient(client *websocket.Client, message *websocket.Message) {
	if !client.SendMessage(message) {
		h.logger.Warn("Client send channel full, dropping message", logger.String("type", message.Type))
	}
}
