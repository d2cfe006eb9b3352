package internal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/trivia-rooms/internal/limiter"
	apperrors "github.com/koopa0/system-design/trivia-rooms/pkg/errors"
)

// 系統設計問題：
//   瀏覽器只開一條 WebSocket，卻要收到三種範圍的事件：
//   只給自己、給同房間、給所有人。
//
// 設計方案：
//   - Hub 保存 connID -> Client，以及 roomID -> 訂閱者 兩張表
//   - Manager 透過 Broadcaster 介面送事件，Hub 序列化一次後丟進各 Client 的 Send 緩衝
//   - 緩衝滿就丟棄該則訊息（慢客戶端不拖累房間，也不阻塞 Manager 的鎖）
//   - Ping/Pong 心跳偵測死連線（54s/60s）

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 64 * 1024
	sendBufferSize = 256
	ledgerTimeout  = 5 * time.Second
)

// RateLimit 每條連線的入站訊息限流，Burst 為 0 表示不限流
type RateLimit struct {
	Burst  int64
	Refill int64
}

// WebSocketHub WebSocket 連線中心，實作 Broadcaster
//
// 鎖順序：Manager.mu → hub.mu。Hub 持有 hub.mu 時不會呼叫 Manager。
type WebSocketHub struct {
	manager  *Manager
	logger   *slog.Logger
	upgrader websocket.Upgrader
	limits   RateLimit

	clients map[string]*Client            // connID -> Client
	groups  map[string]map[string]*Client // roomID -> connID -> Client
	mu      sync.RWMutex

	ops sync.WaitGroup // 進行中的計分庫操作
}

// Client 一條 WebSocket 連線
type Client struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	Hub  *WebSocketHub

	limiter   *limiter.TokenBucket
	closeOnce sync.Once
}

// NewWebSocketHub 創建 Hub；需再呼叫 Attach 綁定 Manager 才能處理連線
func NewWebSocketHub(logger *slog.Logger, limits RateLimit) *WebSocketHub {
	return &WebSocketHub{
		logger: logger,
		limits: limits,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 在生產環境應該檢查來源
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[string]*Client),
		groups:  make(map[string]map[string]*Client),
	}
}

// Attach 綁定處理入站事件的 Manager
func (hub *WebSocketHub) Attach(manager *Manager) {
	hub.manager = manager
}

// ServeWS 升級連線、註冊到 Manager（送出 welcome）並啟動讀寫 goroutine
func (hub *WebSocketHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if hub.manager == nil {
		http.Error(w, "hub not attached", http.StatusServiceUnavailable)
		return
	}

	conn, err := hub.upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("升級 WebSocket 失敗", "error", err)
		return
	}

	client := &Client{
		ID:   uuid.NewString(),
		Conn: conn,
		Send: make(chan []byte, sendBufferSize),
		Hub:  hub,
	}
	if hub.limits.Burst > 0 {
		client.limiter = limiter.NewTokenBucket(hub.limits.Burst, hub.limits.Refill)
	}

	// 先註冊，welcome 才有地方送
	hub.register(client)
	go client.writePump()

	if _, err := hub.manager.Connect(client.ID); err != nil {
		hub.logger.Error("註冊連線失敗", "conn_id", client.ID, "error", err)
		hub.unregister(client)
		return
	}

	go client.readPump()
}

func (hub *WebSocketHub) register(c *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()
	hub.clients[c.ID] = c
}

// unregister 移除連線並關閉 Send（writePump 隨後送出 close frame）
func (hub *WebSocketHub) unregister(c *Client) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if actual, ok := hub.clients[c.ID]; !ok || actual != c {
		return
	}
	delete(hub.clients, c.ID)
	for roomID, members := range hub.groups {
		delete(members, c.ID)
		if len(members) == 0 {
			delete(hub.groups, roomID)
		}
	}
	c.closeOnce.Do(func() { close(c.Send) })
}

// Emit 送給單一連線
func (hub *WebSocketHub) Emit(connID string, event Event) {
	message, ok := hub.encode(event)
	if !ok {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	if c, exists := hub.clients[connID]; exists {
		hub.deliver(c, message, event.Type)
	}
}

// EmitRoom 送給房間訂閱者
func (hub *WebSocketHub) EmitRoom(roomID string, event Event, except string) {
	message, ok := hub.encode(event)
	if !ok {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for connID, c := range hub.groups[roomID] {
		if connID == except {
			continue
		}
		hub.deliver(c, message, event.Type)
	}
}

// EmitAll 送給所有連線
func (hub *WebSocketHub) EmitAll(event Event) {
	message, ok := hub.encode(event)
	if !ok {
		return
	}

	hub.mu.RLock()
	defer hub.mu.RUnlock()
	for _, c := range hub.clients {
		hub.deliver(c, message, event.Type)
	}
}

// Subscribe 加入房間的廣播群組
func (hub *WebSocketHub) Subscribe(connID, roomID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	c, ok := hub.clients[connID]
	if !ok {
		return
	}
	if hub.groups[roomID] == nil {
		hub.groups[roomID] = make(map[string]*Client)
	}
	hub.groups[roomID][connID] = c
}

// Unsubscribe 離開房間的廣播群組
func (hub *WebSocketHub) Unsubscribe(connID, roomID string) {
	hub.mu.Lock()
	defer hub.mu.Unlock()

	if members, ok := hub.groups[roomID]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(hub.groups, roomID)
		}
	}
}

func (hub *WebSocketHub) encode(event Event) ([]byte, bool) {
	message, err := json.Marshal(event)
	if err != nil {
		hub.logger.Error("序列化事件失敗", "event", event.Type, "error", err)
		return nil, false
	}
	return message, true
}

// deliver 呼叫端需持有 hub.mu（讀鎖即可）
func (hub *WebSocketHub) deliver(c *Client, message []byte, eventType string) {
	select {
	case c.Send <- message:
	default:
		hub.logger.Warn("連接緩衝區滿，丟棄訊息", "conn_id", c.ID, "event", eventType)
	}
}

// ConnectionCount 目前 WebSocket 連線數
func (hub *WebSocketHub) ConnectionCount() int {
	hub.mu.RLock()
	defer hub.mu.RUnlock()
	return len(hub.clients)
}

// Stop 關閉所有連線並等待進行中的計分庫操作
func (hub *WebSocketHub) Stop() {
	hub.mu.Lock()
	for _, c := range hub.clients {
		c.closeOnce.Do(func() { close(c.Send) })
		c.Conn.Close()
	}
	hub.clients = make(map[string]*Client)
	hub.groups = make(map[string]map[string]*Client)
	hub.mu.Unlock()

	hub.ops.Wait()
	hub.logger.Info("WebSocket Hub 已停止")
}

// readPump 讀取客戶端事件，連線結束時通知 Manager 隱式離開房間
//
// 心跳：60 秒內沒收到任何訊息（包含 Pong）就視為死連線。
func (c *Client) readPump() {
	defer func() {
		if err := c.Hub.manager.Disconnect(c.ID); err != nil {
			c.Hub.logger.Debug("斷線時連線已不存在", "conn_id", c.ID, "error", err)
		}
		c.Hub.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	if err := c.Conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.Hub.logger.Error("設置讀取期限失敗", "error", err)
	}
	c.Conn.SetPongHandler(func(string) error {
		return c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Warn("WebSocket 讀取錯誤", "conn_id", c.ID, "error", err)
			}
			return
		}
		if messageType == websocket.TextMessage {
			c.Hub.dispatch(c, message)
		}
	}
}

// writePump 將 Send 中的訊息寫出，並每 54 秒送一次 Ping
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				// Hub 關閉了通道，嘗試送出 close frame（連線可能已斷）
				_ = c.Conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.Conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// inboundFrame 客戶端送來的訊框，data 延後解析
type inboundFrame struct {
	Type string          `json:"event"`
	Data json.RawMessage `json:"data"`
}

type eventHandler func(hub *WebSocketHub, c *Client, data json.RawMessage) error

// eventHandlers 入站事件分派表
var eventHandlers = map[string]eventHandler{
	EventJoinRoom: func(hub *WebSocketHub, c *Client, data json.RawMessage) error {
		var p struct {
			RoomID string `json:"roomId"`
		}
		if err := decode(data, &p); err != nil {
			return err
		}
		return hub.manager.JoinRoom(c.ID, p.RoomID)
	},
	EventCreateRoom: func(hub *WebSocketHub, c *Client, data json.RawMessage) error {
		var p struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := decode(data, &p); err != nil {
			return err
		}
		_, err := hub.manager.CreateRoom(c.ID, p.Name, p.Description)
		return err
	},
	EventLeaveRoom: func(hub *WebSocketHub, c *Client, _ json.RawMessage) error {
		return hub.manager.LeaveRoom(c.ID)
	},
	EventGetRooms: func(hub *WebSocketHub, c *Client, _ json.RawMessage) error {
		return hub.manager.SendRooms(c.ID)
	},
	EventSendMessage: func(hub *WebSocketHub, c *Client, data json.RawMessage) error {
		var p struct {
			Message string `json:"message"`
		}
		if err := decode(data, &p); err != nil {
			return err
		}
		return hub.manager.SendMessage(c.ID, p.Message)
	},
	EventToggleReady: func(hub *WebSocketHub, c *Client, data json.RawMessage) error {
		var p struct {
			Ready  bool   `json:"ready"`
			RoomID string `json:"roomId"`
		}
		if err := decode(data, &p); err != nil {
			return err
		}
		return hub.manager.ToggleReady(c.ID, p.RoomID, p.Ready)
	},
	EventStartGame: func(hub *WebSocketHub, c *Client, data json.RawMessage) error {
		var p struct {
			RoomID    string     `json:"roomId"`
			Questions []Question `json:"questions"`
		}
		if err := decode(data, &p); err != nil {
			return err
		}
		return hub.manager.StartGame(c.ID, p.RoomID, p.Questions)
	},
	EventSubmitAnswer: func(hub *WebSocketHub, c *Client, data json.RawMessage) error {
		var p AnswerSubmission
		if err := decode(data, &p); err != nil {
			return err
		}
		return hub.manager.SubmitAnswer(c.ID, p)
	},
	EventResetGame: func(hub *WebSocketHub, c *Client, data json.RawMessage) error {
		var p struct {
			RoomID string `json:"roomId"`
		}
		if err := decode(data, &p); err != nil {
			return err
		}
		return hub.manager.ResetGame(p.RoomID)
	},
	EventSaveScore: func(hub *WebSocketHub, c *Client, data json.RawMessage) error {
		var p struct {
			Username string `json:"username"`
			Points   int    `json:"points"`
		}
		if err := decode(data, &p); err != nil {
			return err
		}
		hub.async(c, EventSaveScore, func(ctx context.Context) error {
			return hub.manager.SaveScore(ctx, c.ID, p.Username, p.Points)
		})
		return nil
	},
	EventGetScores: func(hub *WebSocketHub, c *Client, _ json.RawMessage) error {
		hub.async(c, EventGetScores, func(ctx context.Context) error {
			return hub.manager.SendScores(ctx, c.ID)
		})
		return nil
	},
}

// dispatch 解析並分派入站事件
//
// 前置條件不成立與格式錯誤一律靜默忽略（只記 debug），不回覆客戶端。
func (hub *WebSocketHub) dispatch(c *Client, message []byte) {
	if c.limiter != nil && !c.limiter.Allow() {
		hub.logger.Warn("訊息過於頻繁，丟棄", "conn_id", c.ID)
		return
	}

	var frame inboundFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		hub.logger.Debug("解析客戶端訊息失敗", "conn_id", c.ID, "error", err)
		return
	}

	handle, ok := eventHandlers[frame.Type]
	if !ok {
		hub.logger.Debug("收到未知事件", "conn_id", c.ID, "event", frame.Type)
		return
	}

	hub.report(c, frame.Type, handle(hub, c, frame.Data))
}

// async 計分庫操作不佔用讀取 goroutine，也不持有 Manager 的鎖
func (hub *WebSocketHub) async(c *Client, eventType string, fn func(ctx context.Context) error) {
	hub.ops.Add(1)
	go func() {
		defer hub.ops.Done()
		ctx, cancel := context.WithTimeout(context.Background(), ledgerTimeout)
		defer cancel()
		hub.report(c, eventType, fn(ctx))
	}()
}

func (hub *WebSocketHub) report(c *Client, eventType string, err error) {
	switch {
	case err == nil:
	case apperrors.IsPrecondition(err), apperrors.IsInvalidInput(err):
		hub.logger.Debug("忽略事件", "conn_id", c.ID, "event", eventType, "reason", err)
	default:
		hub.logger.Warn("處理事件失敗", "conn_id", c.ID, "event", eventType, "error", err)
	}
}

// decode 缺少 data 時保留零值
func decode(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInvalidInput, "malformed payload")
	}
	return nil
}
