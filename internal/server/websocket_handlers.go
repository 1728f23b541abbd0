package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/MeKo-Tech/vinoscan/internal/pipeline"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsMaxMessage   = 32 << 20
)

// WebSocket upgrader; any origin is accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketScanRequest is a scan request sent over the socket.
// Image is base64 in JSON.
type WebSocketScanRequest struct {
	Type      string `json:"type"` // "scan"
	RequestID string `json:"request_id,omitempty"`
	Image     []byte `json:"image"`
	Mode      string `json:"mode,omitempty"`
	Debug     bool   `json:"debug,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// WebSocketScanResponse is one progress, result or error frame.
type WebSocketScanResponse struct {
	Type      string               `json:"type"`   // "scan_progress", "scan_result", "error"
	Status    string               `json:"status"` // "processing", "completed", "error"
	Stage     pipeline.Stage       `json:"stage,omitempty"`
	Progress  float64              `json:"progress"`
	ElapsedMS int64                `json:"elapsed_ms,omitempty"`
	Result    *pipeline.ScanResult `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
	ErrorType string               `json:"error_type,omitempty"`
	RequestID string               `json:"request_id,omitempty"`
}

// stageOrder drives the progress fraction of stage frames.
var stageOrder = map[pipeline.Stage]int{
	pipeline.StageReceived:        1,
	pipeline.StageVisionResolved:  2,
	pipeline.StageGrouped:         3,
	pipeline.StageMatched:         4,
	pipeline.StageRatingsResolved: 5,
	pipeline.StageAssembled:       6,
	pipeline.StageSynced:          7,
}

// scanWebSocketHandler streams stage progress for scans sent over a socket.
func (s *Server) scanWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	slog.Info("WebSocket connection established", "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(r.Context(), conn)
}

// handleWebSocketConnection processes messages until the client goes away.
func (s *Server) handleWebSocketConnection(ctx context.Context, conn *websocket.Conn) {
	conn.SetReadLimit(wsMaxMessage)
	_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					return
				}
			}
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("WebSocket error", "error", err)
			}
			return
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()

		if messageType == websocket.TextMessage {
			s.handleWebSocketMessage(ctx, conn, data)
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	}
}

// handleWebSocketMessage runs one scan request and writes its frames.
func (s *Server) handleWebSocketMessage(ctx context.Context, conn WebSocketConnWriter, data []byte) {
	var req WebSocketScanRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.sendWebSocketError(conn, "", errTypeInvalidRequest, fmt.Sprintf("Failed to parse request: %v", err))
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	if req.Type != "scan" {
		s.sendWebSocketError(conn, req.RequestID, errTypeInvalidRequest, "Unsupported request type: "+req.Type)
		return
	}
	if len(req.Image) == 0 {
		s.sendWebSocketError(conn, req.RequestID, errTypeInvalidRequest, "No image data provided")
		return
	}

	opts := s.scanner.DefaultOptions()
	if req.Mode != "" {
		mode, err := pipeline.ParseMode(req.Mode)
		if err != nil {
			s.sendWebSocketError(conn, req.RequestID, errTypeInvalidRequest, err.Error())
			return
		}
		opts = pipeline.OptionsFor(mode)
	}
	opts.Debug = req.Debug
	opts.OnStage = func(stage pipeline.Stage, elapsed time.Duration) {
		s.sendWebSocketResponse(conn, WebSocketScanResponse{
			Type:      "scan_progress",
			Status:    "processing",
			Stage:     stage,
			Progress:  float64(stageOrder[stage]) / float64(len(stageOrder)),
			ElapsedMS: elapsed.Milliseconds(),
			RequestID: req.RequestID,
		})
	}

	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout())
	defer cancel()

	start := time.Now()
	res, err := s.scanner.Recognize(ctx, req.Image, opts)
	scanRequestDuration.WithLabelValues("websocket").Observe(time.Since(start).Seconds())
	if err != nil {
		scanRequestsTotal.WithLabelValues("websocket", "error").Inc()
		_, errType := scanErrorStatus(err)
		s.sendWebSocketError(conn, req.RequestID, errType, err.Error())
		return
	}

	scanRequestsTotal.WithLabelValues("websocket", scanStatus(res)).Inc()
	s.sendWebSocketResponse(conn, WebSocketScanResponse{
		Type:      "scan_result",
		Status:    "completed",
		Progress:  1.0,
		Result:    res,
		RequestID: req.RequestID,
	})
}

// sendWebSocketResponse sends a response message over WebSocket.
func (s *Server) sendWebSocketResponse(conn WebSocketConnWriter, response WebSocketScanResponse) {
	data, err := json.Marshal(response)
	if err != nil {
		slog.Error("Failed to marshal WebSocket response", "error", err)
		return
	}

	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "error", err)
		return
	}

	websocketMessagesTotal.WithLabelValues("sent").Inc()
}

// sendWebSocketError sends an error message over WebSocket.
func (s *Server) sendWebSocketError(conn WebSocketConnWriter, requestID, errorType, message string) {
	s.sendWebSocketResponse(conn, WebSocketScanResponse{
		Type:      "error",
		Status:    "error",
		Error:     message,
		ErrorType: errorType,
		RequestID: requestID,
	})
}
