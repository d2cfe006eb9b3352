package internal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/koopa0/system-design/trivia-rooms/internal/events"
	"github.com/koopa0/system-design/trivia-rooms/internal/ledger"
	apperrors "github.com/koopa0/system-design/trivia-rooms/pkg/errors"
)

// 系統設計問題：
//   多個房間、多條連線、每個房間還有自己的計時器，狀態怎麼保持一致？
//
// 核心挑戰：
//   1. 連線在哪個房間、房間有多少人、遊戲進行到哪，三者互相牽動
//   2. 計時器在任意時間觸發，可能撞上正在處理的使用者事件
//   3. 房間列表的人數變動要推送給所有人，不只同房間
//
// 設計方案：
//   - 單一寫者：Manager 用一把 Mutex 包住每個入站事件與每個計時器回呼，
//     每次處理都跑完才放鎖，不需要跨元件的鎖順序
//   - 房間人數由連線的 RoomID 推導，不另外記成員
//   - 對外只透過 Broadcaster 送事件（非阻塞）
//   - 計分庫與事件匯流排的 I/O 一律在鎖外進行
//
// 已知限制：某個房間評分時其他房間要等鎖，這個規模下可接受。

// Manager 房間與遊戲的協調者
type Manager struct {
	mu       sync.Mutex
	registry *Registry
	rooms    *Directory
	games    *Games
	out      Broadcaster
	logger   *slog.Logger
	gameCfg  GameConfig
	nameFunc func() string
	stopped  bool
	now      func() time.Time

	ledger    ledger.Ledger
	publisher events.Publisher
	pubCh     chan *events.GameEvent

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option 設定 Manager
type Option func(*Manager)

// WithGameConfig 遊戲計時設定
func WithGameConfig(cfg GameConfig) Option {
	return func(m *Manager) { m.gameCfg = cfg }
}

// WithLedger 計分庫（預設為記憶體）
func WithLedger(l ledger.Ledger) Option {
	return func(m *Manager) { m.ledger = l }
}

// WithUsernameGenerator 替換顯示名稱產生器
func WithUsernameGenerator(gen func() string) Option {
	return func(m *Manager) { m.nameFunc = gen }
}

// WithPublisher 遊戲事件發布者（預設不發布）
func WithPublisher(p events.Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// NewManager 創建 Manager 並建立預設房間
func NewManager(out Broadcaster, logger *slog.Logger, opts ...Option) *Manager {
	if out == nil {
		out = NopBroadcaster{}
	}

	m := &Manager{
		out:       out,
		logger:    logger,
		gameCfg:   DefaultGameConfig(),
		nameFunc:  GenerateUsername,
		now:       time.Now,
		ledger:    ledger.NewMemory(),
		publisher: events.Nop{},
		pubCh:     make(chan *events.GameEvent, 256),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.registry = NewRegistry()
	m.registry.nameFunc = m.nameFunc
	m.rooms = NewDirectory(m.registry)
	m.rooms.seed(DefaultRoomID, DefaultRoomName, "Default chat room", "System")

	m.games = NewGames(m.gameCfg, out, m.schedule, logger)
	m.games.publish = m.enqueuePublish

	m.wg.Add(1)
	go m.publishLoop()

	return m
}

// Connect 註冊新連線並送出 welcome
func (m *Manager) Connect(connID string) (Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn := m.registry.Register(connID)
	m.out.Emit(connID, Event{
		Type: EventWelcome,
		Data: Welcome{Username: conn.Username, Rooms: m.rooms.ListAll()},
	})

	m.logger.Info("連線已建立", "conn_id", connID, "username", conn.Username)
	return conn, nil
}

// Disconnect 連線中斷：先隱式離開房間，再移除連線
func (m *Manager) Disconnect(connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.registry.Lookup(connID)
	if !ok {
		return apperrors.ErrConnectionNotFound.WithDetails(connID)
	}

	inRoom := conn.RoomID != ""
	if inRoom {
		m.leaveLocked(conn)
	}
	m.registry.Remove(connID)

	if inRoom {
		m.out.EmitAll(Event{Type: EventRoomsList, Data: m.rooms.ListAll()})
	}

	m.logger.Info("連線已中斷", "conn_id", connID, "username", conn.Username)
	return nil
}

// JoinRoom 加入房間；已在其他房間時先離開
func (m *Manager) JoinRoom(connID, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.registry.Lookup(connID)
	if !ok {
		return apperrors.ErrConnectionNotFound.WithDetails(connID)
	}
	if !m.rooms.Exists(roomID) {
		return apperrors.ErrRoomNotFound.WithDetails(roomID)
	}

	// 已在同一個房間：房間從未清空，只重送快照，遊戲與準備名單不動
	if conn.RoomID == roomID {
		view, _ := m.rooms.Get(roomID)
		m.out.Emit(connID, Event{Type: EventJoinedRoom, Data: view})
		return nil
	}

	if conn.RoomID != "" {
		m.leaveLocked(conn)
	}

	m.out.Subscribe(connID, roomID)
	m.registry.SetRoom(connID, roomID)

	view, _ := m.rooms.Get(roomID)
	m.out.Emit(connID, Event{Type: EventJoinedRoom, Data: view})
	m.out.EmitRoom(roomID, Event{
		Type: EventUserJoined,
		Data: UserNotice{Username: conn.Username, Message: conn.Username + " joined the room"},
	}, connID)
	m.out.EmitAll(Event{Type: EventRoomsList, Data: m.rooms.ListAll()})

	m.logger.Info("加入房間",
		"conn_id", connID,
		"username", conn.Username,
		"room_id", roomID,
		"occupants", view.UserCount)
	return nil
}

// LeaveRoom 離開目前房間
func (m *Manager) LeaveRoom(connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.registry.Lookup(connID)
	if !ok {
		return apperrors.ErrConnectionNotFound.WithDetails(connID)
	}
	if conn.RoomID == "" {
		return apperrors.ErrNotInRoom.WithDetails(connID)
	}

	m.leaveLocked(conn)

	rooms := m.rooms.ListAll()
	m.out.Emit(connID, Event{Type: EventLeftRoom})
	m.out.Emit(connID, Event{Type: EventRoomsList, Data: rooms})
	m.out.EmitAll(Event{Type: EventRoomsList, Data: rooms})

	m.logger.Info("離開房間", "conn_id", connID, "room_id", conn.RoomID)
	return nil
}

// leaveLocked 離開房間的共同部分（主動離開、換房、斷線）
//
// 房間清空時一併丟棄該房間的遊戲與準備名單，不發通知。
// 房間本身保留。
func (m *Manager) leaveLocked(conn Connection) {
	roomID := conn.RoomID

	m.out.Unsubscribe(conn.ID, roomID)
	m.out.EmitRoom(roomID, Event{
		Type: EventUserLeft,
		Data: UserNotice{Username: conn.Username, Message: conn.Username + " left the room"},
	}, conn.ID)
	m.registry.SetRoom(conn.ID, "")

	remaining := m.registry.Occupants(roomID)
	if len(remaining) == 0 {
		if phase := m.games.Phase(roomID); phase != PhaseIdle {
			m.logger.Info("房間已清空，丟棄遊戲狀態", "room_id", roomID, "phase", phase)
		}
		m.games.discard(roomID)
		return
	}

	// 同名的其他連線還在房間時保留準備狀態
	for _, other := range remaining {
		if other.Username == conn.Username {
			return
		}
	}
	m.games.dropReady(roomID, conn.Username)
}

// CreateRoom 建立房間並回覆建立者；建立者不會自動加入
func (m *Manager) CreateRoom(connID, name, description string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.registry.Lookup(connID)
	if !ok {
		return "", apperrors.ErrConnectionNotFound.WithDetails(connID)
	}

	roomID, ok := m.rooms.Create(name, description, conn.Username)
	if !ok {
		return "", apperrors.ErrEmptyInput.WithDetails("room name")
	}

	m.out.Emit(connID, Event{Type: EventRoomCreated, Data: RoomCreated{RoomID: roomID}})
	m.out.EmitAll(Event{Type: EventRoomsList, Data: m.rooms.ListAll()})

	m.logger.Info("房間已創建",
		"room_id", roomID,
		"name", name,
		"created_by", conn.Username)
	return roomID, nil
}

// ListRooms 所有房間，依人數遞減
func (m *Manager) ListRooms() []RoomView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms.ListAll()
}

// GetRoom 取得房間
func (m *Manager) GetRoom(roomID string) (RoomView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rooms.Get(roomID)
}

// SendRooms 回覆房間列表給單一連線（get_rooms）
func (m *Manager) SendRooms(connID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.registry.Lookup(connID); !ok {
		return apperrors.ErrConnectionNotFound.WithDetails(connID)
	}
	m.out.Emit(connID, Event{Type: EventRoomsList, Data: m.rooms.ListAll()})
	return nil
}

// Lookup 查詢連線
func (m *Manager) Lookup(connID string) (Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.Lookup(connID)
}

// ToggleReady 切換準備狀態；roomID 為空時使用連線目前的房間
func (m *Manager) ToggleReady(connID, roomID string, ready bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.memberLocked(connID, roomID)
	if err != nil {
		return err
	}

	players := m.games.ToggleReady(conn.RoomID, conn.Username, ready)
	m.logger.Debug("準備狀態變更",
		"room_id", conn.RoomID,
		"username", conn.Username,
		"ready", ready,
		"ready_players", len(players))
	return nil
}

// StartGame 以房間目前的準備名單開始遊戲
func (m *Manager) StartGame(connID, roomID string, questions []Question) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.memberLocked(connID, roomID)
	if err != nil {
		return err
	}
	return m.games.Start(conn.RoomID, questions)
}

// SubmitAnswer 提交目前題目的答案，不回覆
func (m *Manager) SubmitAnswer(connID string, sub AnswerSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, err := m.memberLocked(connID, sub.RoomID)
	if err != nil {
		return err
	}
	return m.games.Submit(conn.RoomID, conn.Username, sub)
}

// ResetGame 重置房間的遊戲，任何階段都可以呼叫
func (m *Manager) ResetGame(roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.rooms.Exists(roomID) {
		return apperrors.ErrRoomNotFound.WithDetails(roomID)
	}
	m.games.Reset(roomID)
	return nil
}

// GamePhase 房間目前的遊戲階段
func (m *Manager) GamePhase(roomID string) GamePhase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.games.Phase(roomID)
}

// memberLocked 確認連線存在且在指定房間（roomID 為空表示目前房間）
func (m *Manager) memberLocked(connID, roomID string) (Connection, error) {
	conn, ok := m.registry.Lookup(connID)
	if !ok {
		return Connection{}, apperrors.ErrConnectionNotFound.WithDetails(connID)
	}
	if conn.RoomID == "" || (roomID != "" && roomID != conn.RoomID) {
		return Connection{}, apperrors.ErrNotInRoom.WithDetails(roomID)
	}
	return conn, nil
}

// SaveScore 將分數寫入計分庫，結果回覆給發起的連線
//
// 計分庫 I/O 在鎖外進行，不影響其他房間。username 為空時使用連線的名稱。
// 只有計分庫失敗會回覆 error 事件，輸入錯誤維持靜默。
func (m *Manager) SaveScore(ctx context.Context, connID, username string, points int) error {
	conn, ok := m.Lookup(connID)
	if !ok {
		return apperrors.ErrConnectionNotFound.WithDetails(connID)
	}
	if username == "" {
		username = conn.Username
	}

	score, err := m.ledger.Append(ctx, username, points)
	if err != nil {
		if apperrors.IsLedgerFailure(err) {
			m.logger.Error("儲存分數失敗", "conn_id", connID, "username", username, "error", err)
			m.out.Emit(connID, Event{Type: EventError, Data: ErrorNotice{Message: "Failed to save score"}})
		}
		return err
	}

	m.out.Emit(connID, Event{Type: EventScoreSaved, Data: score})
	m.logger.Info("分數已儲存", "username", username, "points", points)
	return nil
}

// SendScores 回覆排行榜（前 10 名）
func (m *Manager) SendScores(ctx context.Context, connID string) error {
	if _, ok := m.Lookup(connID); !ok {
		return apperrors.ErrConnectionNotFound.WithDetails(connID)
	}

	scores, err := m.ledger.TopScores(ctx, ledger.DefaultTopLimit)
	if err != nil {
		m.logger.Error("讀取排行榜失敗", "conn_id", connID, "error", err)
		m.out.Emit(connID, Event{Type: EventError, Data: ErrorNotice{Message: "Failed to fetch scores"}})
		return err
	}

	m.out.Emit(connID, Event{Type: EventScoreList, Data: scores})
	return nil
}

// TopScores 排行榜（HTTP 用）
func (m *Manager) TopScores(ctx context.Context, limit int) ([]ledger.Score, error) {
	return m.ledger.TopScores(ctx, limit)
}

// Stats 統計資訊
func (m *Manager) Stats() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := m.registry.OccupantCounts()
	inRooms := 0
	for _, n := range counts {
		inRooms += n
	}

	stats := map[string]any{
		"total_rooms":       m.rooms.Count(),
		"occupied_rooms":    len(counts),
		"total_connections": m.registry.Count(),
		"in_rooms":          inRooms,
		"active_games":      m.games.ActiveCount(),
	}
	// 計分庫有快取層時一併回報命中統計
	if c, ok := m.ledger.(cacheReporter); ok {
		stats["score_cache"] = c.Stats()
	}
	return stats
}

type cacheReporter interface {
	Stats() ledger.CacheStats
}

// Stop 取消所有計時器、送完待發布的事件後關閉發布者
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		m.stopped = true
		m.games.StopAll()
		m.mu.Unlock()

		close(m.stopCh)
		m.wg.Wait()
		m.publisher.Close()

		m.logger.Info("房間管理器已停止")
	})
}

// schedule 計時器回呼在 Manager 的鎖內執行；Stop 之後的回呼直接丟棄
func (m *Manager) schedule(d time.Duration, fn func()) *time.Timer {
	return time.AfterFunc(d, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.stopped {
			return
		}
		fn()
	})
}

// enqueuePublish 在鎖內呼叫，只放進佇列；佇列滿時丟棄
func (m *Manager) enqueuePublish(roomID, eventType string, data any) {
	select {
	case m.pubCh <- events.NewGameEvent(roomID, eventType, data):
	default:
		m.logger.Warn("事件佇列已滿，丟棄遊戲事件", "room_id", roomID, "event", eventType)
	}
}

// publishLoop 依序發布遊戲事件
func (m *Manager) publishLoop() {
	defer m.wg.Done()

	for {
		select {
		case evt := <-m.pubCh:
			m.publish(evt)
		case <-m.stopCh:
			for {
				select {
				case evt := <-m.pubCh:
					m.publish(evt)
				default:
					return
				}
			}
		}
	}
}

func (m *Manager) publish(evt *events.GameEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.publisher.Publish(ctx, evt); err != nil {
		m.logger.Warn("發布遊戲事件失敗",
			"room_id", evt.RoomID,
			"event", evt.Type,
			"error", err)
	}
}
