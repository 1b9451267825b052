package web

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scholar/pkg/api"
	"scholar/pkg/llm"
	"scholar/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

const (
	attachmentsDir = "data/attachments"
	attachmentTTL  = 7 * 24 * time.Hour
)

type WebConfig struct {
	Port int `json:"port"` // Default: 8080
}

// IncomingMessage is the JSON frame a browser sends over the websocket.
// Plain (non-JSON) frames are treated as bare text for compatibility.
type IncomingMessage struct {
	Text   string `json:"text"`
	Images []struct {
		Name string `json:"name"`
		Mime string `json:"mime"`
		Data string `json:"data"` // Base64 encoded
	} `json:"images"`
}

// SafeConn serializes websocket writes; streaming and signals write from
// different goroutines.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteMessage(messageType int, data []byte) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(messageType, data)
}

// WebChannel serves the browser UI: a websocket for live question/answer
// streaming plus a small REST surface for listing chats and reading
// transcripts. Prometheus metrics and health checks ride on the same port.
type WebChannel struct {
	config      WebConfig
	server      *http.Server
	sessions    *llm.SessionManager
	connections map[string]*SafeConn // UserID -> WS connection
	mu          sync.RWMutex
}

func NewWebChannel(cfg WebConfig, sessions *llm.SessionManager) *WebChannel {
	return &WebChannel{
		config:      cfg,
		sessions:    sessions,
		connections: make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return "web"
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	r := chi.NewRouter()

	r.Get("/", c.handleIndex)
	r.Get("/ws", func(w http.ResponseWriter, req *http.Request) {
		c.handleWebSocket(w, req, ctx)
	})
	r.Get("/api/chats", c.handleListChats)
	r.Get("/api/chats/{sessionID}/messages", c.handleChatMessages)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	addr := fmt.Sprintf(":%d", c.config.Port)
	c.server = &http.Server{
		Addr:    addr,
		Handler: r,
	}

	slog.Info("🌐 Web API listening", "port", c.config.Port)

	go sweepAttachments()

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("❌ Web API server error", "error", err)
		}
	}()

	return nil
}

// sweepAttachments deletes uploads whose timestamp prefix has aged past
// attachmentTTL. Runs once per Start; the directory stays small enough for
// a full scan.
func sweepAttachments() {
	entries, err := os.ReadDir(attachmentsDir)
	if err != nil {
		return // nothing uploaded yet
	}
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() || !utils.IsOlderThan(entry.Name(), attachmentTTL) {
			continue
		}
		if err := os.Remove(attachmentsDir + "/" + entry.Name()); err == nil {
			removed++
		}
	}
	if removed > 0 {
		slog.Info("🧹 Removed expired attachments", "count", removed)
	}
}

func (c *WebChannel) Stop() error {
	if c.server != nil {
		return c.server.Close()
	}
	return nil
}

func (c *WebChannel) Send(session api.SessionContext, message string) error {
	conn, ok := c.connection(session.UserID)
	if !ok {
		return fmt.Errorf("web user %s not connected", session.UserID)
	}
	frame, err := json.Marshal(map[string]string{"type": "text", "text": message})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"done"}`))
}

// SendSignal implements the api.SignalingChannel interface.
func (c *WebChannel) SendSignal(session api.SessionContext, signal string) error {
	conn, ok := c.connection(session.UserID)
	if !ok {
		return fmt.Errorf("web user %s not connected", session.UserID)
	}

	frame, err := json.Marshal(map[string]string{"type": "signal", "value": signal})
	if err != nil {
		return fmt.Errorf("failed to marshal signal: %w", err)
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

// Stream implements api.Channel. Each content block goes out as one JSON
// frame; a final {"type":"done"} frame closes the answer.
func (c *WebChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	conn, ok := c.connection(session.UserID)
	if !ok {
		return fmt.Errorf("web user %s not connected", session.UserID)
	}

	for block := range blocks {
		frame := map[string]any{
			"type": block.Type,
		}

		if block.Type == llm.BlockTypeImage && block.Source != nil {
			switch {
			case block.Source.Type == "base64" && len(block.Source.Data) > 0:
				frame["data"] = base64.StdEncoding.EncodeToString(block.Source.Data)
				frame["mime"] = block.Source.MediaType
			case block.Source.Type == "file" && block.Source.Path != "":
				fileData, err := os.ReadFile(block.Source.Path)
				if err != nil {
					slog.Error("❌ Failed to read local image for stream", "path", block.Source.Path, "error", err)
					continue
				}
				frame["data"] = base64.StdEncoding.EncodeToString(fileData)
				frame["mime"] = block.Source.MediaType
			case block.Source.Type == "url":
				frame["url"] = block.Source.URL
			}
		} else {
			frame["text"] = block.Text
		}

		frameJSON, err := json.Marshal(frame)
		if err != nil {
			slog.Error("❌ Failed to marshal stream block", "error", err)
			continue
		}

		if err := conn.WriteMessage(websocket.TextMessage, frameJSON); err != nil {
			return err
		}
	}

	return conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"done"}`))
}

func (c *WebChannel) connection(userID string) (*SafeConn, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connections[userID]
	return conn, ok
}

//----------------------------------------------------------------
// HTTP handlers
//----------------------------------------------------------------

func (c *WebChannel) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(indexHTML))
}

// handleListChats returns all known sessions with their titles.
func (c *WebChannel) handleListChats(w http.ResponseWriter, r *http.Request) {
	ids, err := c.sessions.ListSessions(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list sessions: %v", err), http.StatusInternalServerError)
		return
	}

	type chatInfo struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	chats := make([]chatInfo, 0, len(ids))
	for _, id := range ids {
		h, err := c.sessions.GetHistory(r.Context(), id)
		if err != nil {
			slog.Warn("⚠️ Skipping unreadable session", "session", id, "error", err)
			continue
		}
		title := h.Title()
		if title == "" {
			title = id
		}
		chats = append(chats, chatInfo{ID: id, Title: title})
	}

	writeJSON(w, chats)
}

// handleChatMessages returns the display transcript of one session.
func (c *WebChannel) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	h, err := c.sessions.GetHistory(r.Context(), sessionID)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to load session: %v", err), http.StatusNotFound)
		return
	}
	writeJSON(w, h.GetMessagesForUI())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, fmt.Sprintf("encode error: %v", err), http.StatusInternalServerError)
		return
	}
	w.Write(data)
}

//----------------------------------------------------------------
// WebSocket
//----------------------------------------------------------------

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("❌ WS upgrade failed", "error", err)
		return
	}

	conn := &SafeConn{Conn: rawConn}
	userID := r.RemoteAddr

	// Each browser tab picks its chat with ?chat=<id>; they share history
	// under the same id.
	chatID := r.URL.Query().Get("chat")
	if chatID == "" {
		chatID = "global"
	}

	c.mu.Lock()
	c.connections[userID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.connections, userID)
		c.mu.Unlock()
		conn.Close()
	}()

	session := api.SessionContext{
		ChannelID: "web",
		UserID:    userID,
		ChatID:    chatID,
		Username:  "WebUser",
	}

	c.sendHistory(r, conn, session.SessionKey())

	for {
		_, msgBytes, err := conn.ReadMessage()
		if err != nil {
			break
		}

		content, files := c.parseIncoming(msgBytes)
		if content == "" && len(files) == 0 {
			continue
		}

		ctx.OnMessage(c.ID(), &api.UnifiedMessage{
			Session: session,
			Content: content,
			Files:   files,
		})
	}
}

// sendHistory pushes the existing transcript to a freshly connected client.
func (c *WebChannel) sendHistory(r *http.Request, conn *SafeConn, sessionKey string) {
	h, err := c.sessions.GetHistory(r.Context(), sessionKey)
	if err != nil {
		slog.Warn("⚠️ Failed to load history for new connection", "session", sessionKey, "error", err)
		return
	}
	historyMsgs := h.GetMessagesForUI()
	if len(historyMsgs) == 0 {
		return
	}
	frame, err := json.Marshal(map[string]any{
		"type": "history",
		"data": historyMsgs,
	})
	if err != nil {
		slog.Error("❌ Failed to marshal history", "error", err)
		return
	}
	conn.WriteMessage(websocket.TextMessage, frame)
}

// parseIncoming decodes a websocket frame into text plus saved attachments.
func (c *WebChannel) parseIncoming(msgBytes []byte) (string, []api.FileAttachment) {
	var incoming IncomingMessage
	if err := json.Unmarshal(msgBytes, &incoming); err != nil {
		// Plain text frame
		return string(msgBytes), nil
	}

	var files []api.FileAttachment
	for _, img := range incoming.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			slog.Error("❌ Failed to decode base64 image", "name", img.Name, "error", err)
			continue
		}

		if err := os.MkdirAll(attachmentsDir, 0755); err != nil {
			slog.Error("❌ Failed to create attachments dir", "error", err)
			continue
		}

		// Content-hash naming dedupes repeated uploads; the timestamp
		// prefix makes expiry sweeps cheap.
		hash := sha256.Sum256(data)
		sniffedMime, ext := utils.DetectMimeAndExt(data)
		if img.Mime == "" {
			img.Mime = sniffedMime
		}
		localFileName := fmt.Sprintf("%s%s%s", utils.GenerateTimestampPrefix(), hex.EncodeToString(hash[:]), ext)
		localPath := fmt.Sprintf("%s/%s", attachmentsDir, localFileName)

		if _, err := os.Stat(localPath); os.IsNotExist(err) {
			if err := os.WriteFile(localPath, data, 0644); err != nil {
				slog.Error("❌ Failed to save image to disk", "path", localPath, "error", err)
				continue
			}
		}

		files = append(files, api.FileAttachment{
			Filename: img.Name,
			MimeType: img.Mime,
			Data:     nil, // Don't hold in memory
			Path:     localPath,
		})
		slog.Debug("Received and saved image", "name", img.Name, "path", localPath)
	}

	return incoming.Text, files
}
