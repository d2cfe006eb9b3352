package internal

import "time"

// Event 傳輸層的訊框，進出方向共用
type Event struct {
	Type string `json:"event"`
	Data any    `json:"data"`
}

// 客戶端送來的事件
const (
	EventJoinRoom     = "join_room"
	EventCreateRoom   = "create_room"
	EventLeaveRoom    = "leave_room"
	EventGetRooms     = "get_rooms"
	EventSendMessage  = "send_message"
	EventToggleReady  = "toggle_ready"
	EventStartGame    = "start_game"
	EventSubmitAnswer = "submit_answer"
	EventResetGame    = "reset_game"
	EventSaveScore    = "save_score"
	EventGetScores    = "get_scores"
)

// 伺服器推送的事件
const (
	EventWelcome         = "welcome"
	EventRoomsList       = "rooms_list"
	EventJoinedRoom      = "joined_room"
	EventLeftRoom        = "left_room"
	EventUserJoined      = "user_joined"
	EventUserLeft        = "user_left"
	EventRoomCreated     = "room_created"
	EventReceiveMessage  = "receive_message"
	EventPlayerReady     = "player_ready"
	EventGameStarted     = "game_started"
	EventNextQuestion    = "next_question"
	EventQuestionResults = "question_results"
	EventGameFinished    = "game_finished"
	EventGameReset       = "game_reset"
	EventScoreSaved      = "score_saved"
	EventScoreList       = "score_list"
	EventError           = "error"
)

// Broadcaster 核心對外送出事件的邊界
//
// 實作必須非阻塞：Manager 在持有鎖時呼叫這些方法。
type Broadcaster interface {
	// Emit 送給單一連線
	Emit(connID string, event Event)
	// EmitRoom 送給房間內所有訂閱者，except 非空時略過該連線
	EmitRoom(roomID string, event Event, except string)
	// EmitAll 送給所有連線
	EmitAll(event Event)
	// Subscribe 將連線加入房間的廣播群組
	Subscribe(connID, roomID string)
	// Unsubscribe 將連線移出房間的廣播群組
	Unsubscribe(connID, roomID string)
}

// Welcome 連線建立後送給該連線
type Welcome struct {
	Username string     `json:"username"`
	Rooms    []RoomView `json:"rooms"`
}

// UserNotice 有人加入/離開房間
type UserNotice struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

// RoomCreated 建立房間的回覆
type RoomCreated struct {
	RoomID string `json:"roomId"`
}

// ChatMessage 聊天訊息
type ChatMessage struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RoomID    string    `json:"roomId"`
}

// ReadyUpdate 房間目前已準備的玩家
type ReadyUpdate struct {
	ReadyPlayers []string `json:"readyPlayers"`
}

// GameStarted 遊戲開始
type GameStarted struct {
	Questions []Question     `json:"questions"`
	Scores    map[string]int `json:"scores"`
}

// NextQuestion 下一題
type NextQuestion struct {
	Question      Question `json:"question"`
	QuestionIndex int      `json:"questionIndex"`
}

// QuestionResults 一題的評分結果，包含所有人的作答
type QuestionResults struct {
	CorrectAnswer int               `json:"correctAnswer"`
	Scores        map[string]int    `json:"scores"`
	Answers       map[string]Answer `json:"answers"`
}

// Winner 最高分玩家
type Winner struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
}

// GameFinished 遊戲結束，沒有玩家時 Winner 為 nil
type GameFinished struct {
	FinalScores map[string]int `json:"finalScores"`
	Winner      *Winner        `json:"winner"`
}

// ErrorNotice 回報給發起連線的錯誤
type ErrorNotice struct {
	Message string `json:"message"`
}

// NopBroadcaster 丟棄所有事件
type NopBroadcaster struct{}

func (NopBroadcaster) Emit(string, Event) {}
func (NopBroadcaster) EmitRoom(string, Event, string) {}
func (NopBroadcaster) EmitAll(Event) {}
func (NopBroadcaster) Subscribe(string, string) {}
func (NopBroadcaster) Unsubscribe(string, string) {}
