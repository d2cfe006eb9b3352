package internal_test

import (
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koopa0/system-design/trivia-rooms/internal"
)

// testLogger 創建測試用的 logger
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError, // 測試時只顯示錯誤
	}))
}

// delivery 一次送出的事件與實際收到的連線
type delivery struct {
	event      internal.Event
	recipients []string // nil 且 all 為 true 代表所有連線
	all        bool
}

// recorder 記錄 Manager 送出的事件，並模擬房間訂閱
type recorder struct {
	mu         sync.Mutex
	deliveries []delivery
	groups     map[string]map[string]bool
	onRoom     func(event internal.Event) // 可選：EmitRoom 時呼叫（模擬傳輸層出錯）
}

func newRecorder() *recorder {
	return &recorder{groups: make(map[string]map[string]bool)}
}

func (r *recorder) Emit(connID string, event internal.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{event: event, recipients: []string{connID}})
}

func (r *recorder) EmitRoom(roomID string, event internal.Event, except string) {
	r.mu.Lock()
	var recipients []string
	for connID := range r.groups[roomID] {
		if connID != except {
			recipients = append(recipients, connID)
		}
	}
	r.deliveries = append(r.deliveries, delivery{event: event, recipients: recipients})
	hook := r.onRoom
	r.mu.Unlock()

	if hook != nil {
		hook(event)
	}
}

func (r *recorder) EmitAll(event internal.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, delivery{event: event, all: true})
}

func (r *recorder) Subscribe(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groups[roomID] == nil {
		r.groups[roomID] = make(map[string]bool)
	}
	r.groups[roomID][connID] = true
}

func (r *recorder) Unsubscribe(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups[roomID], connID)
}

// received connID 收到的某類事件（依送出順序）
func (r *recorder) received(connID, eventType string) []internal.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []internal.Event
	for _, d := range r.deliveries {
		if d.event.Type != eventType {
			continue
		}
		if d.all || slices.Contains(d.recipients, connID) {
			result = append(result, d.event)
		}
	}
	return result
}

// count 某類事件總共送出幾次
func (r *recorder) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, d := range r.deliveries {
		if d.event.Type == eventType {
			n++
		}
	}
	return n
}

// last 最後一次送出的某類事件
func (r *recorder) last(eventType string) (internal.Event, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := len(r.deliveries) - 1; i >= 0; i-- {
		if r.deliveries[i].event.Type == eventType {
			return r.deliveries[i].event, true
		}
	}
	return internal.Event{}, false
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}

func (r *recorder) setOnRoom(fn func(internal.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRoom = fn
}

// sequentialNames 產生 player1, player2, ...
func sequentialNames() func() string {
	var n atomic.Int64
	return func() string {
		return fmt.Sprintf("player%d", n.Add(1))
	}
}

// fastGame 測試用的短計時
func fastGame() internal.GameConfig {
	return internal.GameConfig{
		QuestionTimeout: 80 * time.Millisecond,
		ResultsDisplay:  40 * time.Millisecond,
		AnswerWindow:    60 * time.Millisecond,
	}
}

// slowGame 測試期間不會觸發的計時
func slowGame() internal.GameConfig {
	return internal.GameConfig{
		QuestionTimeout: time.Hour,
		ResultsDisplay:  time.Hour,
		AnswerWindow:    time.Hour,
	}
}

func newTestManager(t *testing.T, opts ...internal.Option) (*internal.Manager, *recorder) {
	t.Helper()
	rec := newRecorder()
	opts = append([]internal.Option{internal.WithUsernameGenerator(sequentialNames())}, opts...)
	m := internal.NewManager(rec, testLogger(), opts...)
	t.Cleanup(m.Stop)
	return m, rec
}

// connect 建立連線並回傳 (connID, username)
func connect(t *testing.T, m *internal.Manager, connID string) string {
	t.Helper()
	conn, err := m.Connect(connID)
	if err != nil {
		t.Fatalf("connect %s: %v", connID, err)
	}
	return conn.Username
}

func sampleQuestions() []internal.Question {
	return []internal.Question{
		{ID: 1, Prompt: "2 + 2 = ?", Answers: []string{"3", "4", "5", "22"}, Correct: 1, Points: 100},
		{ID: 2, Prompt: "Capital of France?", Answers: []string{"Berlin", "Madrid", "Paris", "Rome"}, Correct: 2, Points: 100},
	}
}
