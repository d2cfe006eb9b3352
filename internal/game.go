package internal

import (
	"log/slog"
	"maps"
	"math"
	"slices"
	"sort"
	"time"

	apperrors "github.com/koopa0/system-design/trivia-rooms/pkg/errors"
)

// 問答遊戲狀態機（每個房間至多一個 GameSession）
//
//	Idle → Lobby(ready set) → Active → Settling → Active(下一題) | Finished
//	任何狀態 --reset--> Idle
//
// 計時：
//   - Active 進入時排程「出題逾時」，觸發後評分
//   - 評分後進入 Settling，排程「公布答案」，觸發後出下一題或結束
//
// 一個 session 同時最多只有一個待觸發的計時器。
// 每個 session 有唯一的 epoch，計時器回呼會先確認房間目前的 session
// 仍是同一個 epoch、且計時器序號相符，否則直接返回。
// reset 之後即使 Stop() 沒攔到已經觸發的回呼，也不會動到新的狀態。
//
// Games 本身不加鎖，所有方法（包含計時器回呼）都在 Manager 的鎖內執行。

// GamePhase 遊戲階段
type GamePhase string

const (
	PhaseIdle     GamePhase = "idle"     // 沒有 session，也沒人準備
	PhaseLobby    GamePhase = "lobby"    // 有人準備，尚未開始
	PhaseActive   GamePhase = "active"   // 作答中
	PhaseSettling GamePhase = "settling" // 公布答案中
	PhaseFinished GamePhase = "finished" // 已結束，等待 reset
)

// Question 題目，形狀由客戶端決定，伺服器不驗證
//
// ID 原樣保存與轉送，數字或字串都可以。
type Question struct {
	ID      any      `json:"id"`
	Prompt  string   `json:"question"`
	Answers []string `json:"answers"`
	Correct int      `json:"correct"`
	Points  int      `json:"points"`
}

// Answer 某玩家對目前題目的作答
//
// TimeLeft 是客戶端回報的剩餘秒數；ServerTimeLeft 是伺服器依出題時間推算的值。
// 預設以 TimeLeft 計分，GameConfig.ServerTiming 開啟時改用 ServerTimeLeft。
type Answer struct {
	AnswerIndex    int       `json:"answerIndex"`
	TimeLeft       float64   `json:"timeLeft"`
	ServerTimeLeft float64   `json:"serverTimeLeft"`
	Timestamp      time.Time `json:"timestamp"`
}

// AnswerSubmission submit_answer 的內容
type AnswerSubmission struct {
	RoomID      string  `json:"roomId"`
	QuestionID  any     `json:"questionId"`
	AnswerIndex int     `json:"answerIndex"`
	TimeLeft    float64 `json:"timeLeft"`
}

// GameSession 一場進行中的遊戲
type GameSession struct {
	RoomID    string
	Questions []Question
	Index     int
	Scores    map[string]int
	Answers   map[string]Answer
	Phase     GamePhase
	StartedAt time.Time // 目前題目的出題時間

	epoch    uint64
	timerSeq uint64
	timer    *time.Timer
}

// Current 目前題目
func (s *GameSession) Current() Question {
	return s.Questions[s.Index]
}

// scheduleFunc 排程回呼，回呼必須在 Manager 的鎖內執行
type scheduleFunc func(d time.Duration, fn func()) *time.Timer

// publishFunc 將遊戲事件交給事件匯流排（非阻塞）
type publishFunc func(roomID, eventType string, data any)

// Games 所有房間的遊戲狀態
type Games struct {
	cfg      GameConfig
	sessions map[string]*GameSession
	ready    map[string][]string // roomID -> 準備中的玩家（依準備順序）
	out      Broadcaster
	schedule scheduleFunc
	publish  publishFunc
	now      func() time.Time
	logger   *slog.Logger
	epoch    uint64
}

// NewGames 創建遊戲引擎
func NewGames(cfg GameConfig, out Broadcaster, schedule scheduleFunc, logger *slog.Logger) *Games {
	return &Games{
		cfg:      cfg,
		sessions: make(map[string]*GameSession),
		ready:    make(map[string][]string),
		out:      out,
		schedule: schedule,
		publish:  func(string, string, any) {},
		now:      time.Now,
		logger:   logger,
	}
}

// ToggleReady 更新準備狀態並廣播準備名單
func (g *Games) ToggleReady(roomID, username string, ready bool) []string {
	players := g.ready[roomID]
	idx := slices.Index(players, username)

	switch {
	case ready && idx < 0:
		players = append(players, username)
	case !ready && idx >= 0:
		players = slices.Delete(players, idx, idx+1)
	}

	if len(players) == 0 {
		delete(g.ready, roomID)
	} else {
		g.ready[roomID] = players
	}

	list := g.ReadyPlayers(roomID)
	g.out.EmitRoom(roomID, Event{Type: EventPlayerReady, Data: ReadyUpdate{ReadyPlayers: list}}, "")
	return list
}

// dropReady 玩家離開房間時移出準備名單，名單有變動才廣播
func (g *Games) dropReady(roomID, username string) {
	if !slices.Contains(g.ready[roomID], username) {
		return
	}
	g.ToggleReady(roomID, username, false)
}

// ReadyPlayers 準備名單的副本
func (g *Games) ReadyPlayers(roomID string) []string {
	return append([]string{}, g.ready[roomID]...)
}

// Start 以目前的準備名單開始遊戲
//
// 之後才加入的玩家不在計分名單內。
// 房間若已有 session（包含進行中），舊的計時器會先取消再被取代。
func (g *Games) Start(roomID string, questions []Question) error {
	if len(questions) == 0 {
		return apperrors.ErrNoQuestions.WithDetails(roomID)
	}

	if old, ok := g.sessions[roomID]; ok {
		g.cancel(old)
	}

	scores := make(map[string]int)
	for _, name := range g.ready[roomID] {
		scores[name] = 0
	}

	g.epoch++
	s := &GameSession{
		RoomID:    roomID,
		Questions: slices.Clone(questions),
		Scores:    scores,
		Answers:   make(map[string]Answer),
		Phase:     PhaseActive,
		StartedAt: g.now(),
		epoch:     g.epoch,
	}
	g.sessions[roomID] = s

	payload := GameStarted{Questions: slices.Clone(s.Questions), Scores: maps.Clone(s.Scores)}
	g.out.EmitRoom(roomID, Event{Type: EventGameStarted, Data: payload}, "")
	g.publish(roomID, EventGameStarted, payload)

	g.arm(s, g.cfg.QuestionTimeout, g.grade)

	g.logger.Info("遊戲開始",
		"room_id", roomID,
		"players", len(scores),
		"questions", len(questions))
	return nil
}

// Submit 記錄作答，每題每位玩家只記第一次
func (g *Games) Submit(roomID, username string, sub AnswerSubmission) error {
	s, ok := g.sessions[roomID]
	if !ok {
		return apperrors.ErrNoSession.WithDetails(roomID)
	}
	if s.Phase != PhaseActive {
		return apperrors.ErrNotAccepting.WithDetails(string(s.Phase))
	}
	if _, answered := s.Answers[username]; answered {
		return apperrors.ErrAlreadyAnswered.WithDetails(username)
	}

	now := g.now()
	elapsed := now.Sub(s.StartedAt).Seconds()
	s.Answers[username] = Answer{
		AnswerIndex:    sub.AnswerIndex,
		TimeLeft:       sub.TimeLeft,
		ServerTimeLeft: math.Max(0, g.cfg.AnswerWindow.Seconds()-elapsed),
		Timestamp:      now,
	}
	return nil
}

// Reset 取消計時器、刪除 session 與準備名單，並通知房間
func (g *Games) Reset(roomID string) {
	g.discard(roomID)
	g.out.EmitRoom(roomID, Event{Type: EventGameReset}, "")
	g.publish(roomID, EventGameReset, nil)
	g.logger.Info("遊戲已重置", "room_id", roomID)
}

// discard 同 Reset 但不通知（房間清空時用）
func (g *Games) discard(roomID string) {
	if s, ok := g.sessions[roomID]; ok {
		g.cancel(s)
		delete(g.sessions, roomID)
	}
	delete(g.ready, roomID)
}

// StopAll 取消所有計時器（關閉服務時用）
func (g *Games) StopAll() {
	for _, s := range g.sessions {
		g.cancel(s)
	}
}

// Phase 房間目前的遊戲階段
func (g *Games) Phase(roomID string) GamePhase {
	if s, ok := g.sessions[roomID]; ok {
		return s.Phase
	}
	if len(g.ready[roomID]) > 0 {
		return PhaseLobby
	}
	return PhaseIdle
}

// Session 房間的 session（唯讀使用）
func (g *Games) Session(roomID string) (*GameSession, bool) {
	s, ok := g.sessions[roomID]
	return s, ok
}

// ActiveCount 進行中（未結束）的遊戲數
func (g *Games) ActiveCount() int {
	n := 0
	for _, s := range g.sessions {
		if s.Phase != PhaseFinished {
			n++
		}
	}
	return n
}

// grade 評分目前題目並進入公布答案階段
//
// 先算出所有加分再一次套用，中途出錯不會留下只加了一半的分數。
func (g *Games) grade(s *GameSession) {
	q := s.Current()

	deltas := make(map[string]int, len(s.Answers))
	for name, answer := range s.Answers {
		if _, player := s.Scores[name]; !player {
			continue
		}
		if answer.AnswerIndex != q.Correct {
			continue
		}
		deltas[name] = Points(q.Points, g.timeLeft(answer))
	}
	for name, delta := range deltas {
		s.Scores[name] += delta
	}

	s.Phase = PhaseSettling
	payload := QuestionResults{
		CorrectAnswer: q.Correct,
		Scores:        maps.Clone(s.Scores),
		Answers:       maps.Clone(s.Answers),
	}
	g.out.EmitRoom(s.RoomID, Event{Type: EventQuestionResults, Data: payload}, "")
	g.publish(s.RoomID, EventQuestionResults, payload)

	g.arm(s, g.cfg.ResultsDisplay, g.advance)
}

// advance 出下一題，題目用完則結束遊戲
func (g *Games) advance(s *GameSession) {
	s.Index++
	s.Answers = make(map[string]Answer)

	if s.Index < len(s.Questions) {
		s.Phase = PhaseActive
		s.StartedAt = g.now()
		g.out.EmitRoom(s.RoomID, Event{
			Type: EventNextQuestion,
			Data: NextQuestion{Question: s.Current(), QuestionIndex: s.Index},
		}, "")
		g.arm(s, g.cfg.QuestionTimeout, g.grade)
		return
	}

	s.Phase = PhaseFinished
	payload := GameFinished{
		FinalScores: maps.Clone(s.Scores),
		Winner:      PickWinner(s.Scores),
	}
	g.out.EmitRoom(s.RoomID, Event{Type: EventGameFinished, Data: payload}, "")
	g.publish(s.RoomID, EventGameFinished, payload)

	g.logger.Info("遊戲結束", "room_id", s.RoomID, "players", len(s.Scores))
}

func (g *Games) timeLeft(a Answer) float64 {
	if g.cfg.ServerTiming {
		return a.ServerTimeLeft
	}
	return a.TimeLeft
}

// arm 為 session 排程下一步，取代原本的計時器
func (g *Games) arm(s *GameSession, d time.Duration, step func(*GameSession)) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timerSeq++

	roomID, epoch, seq := s.RoomID, s.epoch, s.timerSeq
	s.timer = g.schedule(d, func() {
		cur, ok := g.sessions[roomID]
		if !ok || cur.epoch != epoch || cur.timerSeq != seq {
			return
		}
		cur.timer = nil

		defer func() {
			if r := recover(); r != nil {
				// 停在 Finished，等 reset 或重新開始
				cur.Phase = PhaseFinished
				g.logger.Error("遊戲計時步驟失敗",
					"room_id", roomID,
					"question_index", cur.Index,
					"panic", r)
			}
		}()
		step(cur)
	})
}

func (g *Games) cancel(s *GameSession) {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	// 已觸發、正在等鎖的回呼會因序號不符而放棄
	s.timerSeq++
}

// Points 答對的得分：基本分 + floor(2 × 剩餘秒數)，剩餘秒數小於 0 視為 0
func Points(base int, timeLeft float64) int {
	if timeLeft < 0 || math.IsNaN(timeLeft) {
		timeLeft = 0
	}
	return base + int(math.Floor(2*timeLeft))
}

// PickWinner 最高分玩家；同分取名稱排序較前者，沒有玩家回傳 nil
func PickWinner(scores map[string]int) *Winner {
	if len(scores) == 0 {
		return nil
	}

	names := make([]string, 0, len(scores))
	for name := range scores {
		names = append(names, name)
	}
	sort.Strings(names)

	best := &Winner{Username: names[0], Score: scores[names[0]]}
	for _, name := range names[1:] {
		if scores[name] > best.Score {
			best = &Winner{Username: name, Score: scores[name]}
		}
	}
	return best
}
