package internal_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koopa0/system-design/trivia-rooms/internal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// frame 客戶端收到的訊框
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

// newWSServer 啟動 Hub + Manager，回傳 ws:// 位址
func newWSServer(t *testing.T, limits internal.RateLimit) (string, *internal.WebSocketHub, *internal.Manager) {
	t.Helper()

	hub := internal.NewWebSocketHub(testLogger(), limits)
	m := internal.NewManager(hub, testLogger(), internal.WithUsernameGenerator(sequentialNames()))
	hub.Attach(m)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		server.Close()
		hub.Stop()
		m.Stop()
	})
	return "ws" + strings.TrimPrefix(server.URL, "http"), hub, m
}

func dial(t *testing.T, url string) *wsClient {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(event string, data any) {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteJSON(map[string]any{"event": event, "data": data}))
}

// expect 讀到指定事件為止，略過其他事件
func (c *wsClient) expect(event string) json.RawMessage {
	c.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(c.t, c.conn.SetReadDeadline(deadline))
		var f frame
		require.NoError(c.t, c.conn.ReadJSON(&f), "waiting for %s", event)
		if f.Event == event {
			return f.Data
		}
	}
}

// countFor 在 window 內計算收到幾次指定事件
func (c *wsClient) countFor(event string, window time.Duration) int {
	deadline := time.Now().Add(window)
	n := 0
	for {
		if err := c.conn.SetReadDeadline(deadline); err != nil {
			return n
		}
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			return n
		}
		if f.Event == event {
			n++
		}
	}
}

func TestWebSocket_WelcomeAndJoin(t *testing.T) {
	url, hub, m := newWSServer(t, internal.RateLimit{})
	alice := dial(t, url)

	var welcome internal.Welcome
	require.NoError(t, json.Unmarshal(alice.expect(internal.EventWelcome), &welcome))
	assert.Equal(t, "player1", welcome.Username)
	require.NotEmpty(t, welcome.Rooms)
	assert.Equal(t, internal.DefaultRoomID, welcome.Rooms[0].ID)

	alice.send(internal.EventJoinRoom, map[string]string{"roomId": internal.DefaultRoomID})

	var joined map[string]any
	require.NoError(t, json.Unmarshal(alice.expect(internal.EventJoinedRoom), &joined))
	assert.Equal(t, internal.DefaultRoomID, joined["id"])
	assert.Equal(t, float64(1), joined["userCount"])
	assert.Equal(t, []any{"player1"}, joined["users"])

	alice.expect(internal.EventRoomsList)
	assert.Equal(t, 1, hub.ConnectionCount())
	assert.Equal(t, 1, m.Stats()["in_rooms"])
}

func TestWebSocket_ChatEcho(t *testing.T) {
	url, _, _ := newWSServer(t, internal.RateLimit{})
	alice := dial(t, url)
	alice.expect(internal.EventWelcome)
	bob := dial(t, url)
	bob.expect(internal.EventWelcome)

	alice.send(internal.EventJoinRoom, map[string]string{"roomId": internal.DefaultRoomID})
	alice.expect(internal.EventJoinedRoom)
	bob.send(internal.EventJoinRoom, map[string]string{"roomId": internal.DefaultRoomID})
	bob.expect(internal.EventJoinedRoom)

	var notice internal.UserNotice
	require.NoError(t, json.Unmarshal(alice.expect(internal.EventUserJoined), &notice))
	assert.Equal(t, "player2", notice.Username)

	alice.send(internal.EventSendMessage, map[string]string{"message": "  hello  "})

	// 發送者也會收到自己的訊息
	for _, c := range []*wsClient{alice, bob} {
		var msg internal.ChatMessage
		require.NoError(t, json.Unmarshal(c.expect(internal.EventReceiveMessage), &msg))
		assert.Equal(t, "  hello  ", msg.Message)
		assert.Equal(t, "player1", msg.Username)
		assert.Equal(t, internal.DefaultRoomID, msg.RoomID)
		assert.NotEmpty(t, msg.ID)
	}
}

func TestWebSocket_MalformedFramesAreIgnored(t *testing.T) {
	url, _, _ := newWSServer(t, internal.RateLimit{})
	c := dial(t, url)
	c.expect(internal.EventWelcome)

	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	c.send("no_such_event", nil)
	require.NoError(t, c.conn.WriteMessage(websocket.TextMessage,
		[]byte(`{"event":"join_room","data":"wrong shape"}`)))
	c.send(internal.EventSendMessage, map[string]string{"message": "outside any room"})

	// 連線仍然可用，且前面的訊框沒有任何回覆
	c.send(internal.EventGetRooms, nil)
	var rooms []internal.RoomView
	require.NoError(t, json.Unmarshal(c.expect(internal.EventRoomsList), &rooms))
	assert.Len(t, rooms, 1)
	assert.Equal(t, 0, rooms[0].UserCount)
}

func TestWebSocket_DisconnectLeavesRoom(t *testing.T) {
	url, hub, m := newWSServer(t, internal.RateLimit{})
	alice := dial(t, url)
	alice.expect(internal.EventWelcome)
	bob := dial(t, url)
	bob.expect(internal.EventWelcome)

	for _, c := range []*wsClient{alice, bob} {
		c.send(internal.EventJoinRoom, map[string]string{"roomId": internal.DefaultRoomID})
		c.expect(internal.EventJoinedRoom)
	}

	require.NoError(t, alice.conn.Close())

	var notice internal.UserNotice
	require.NoError(t, json.Unmarshal(bob.expect(internal.EventUserLeft), &notice))
	assert.Equal(t, "player1", notice.Username)

	require.Eventually(t, func() bool {
		return hub.ConnectionCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
	room, _ := m.GetRoom(internal.DefaultRoomID)
	assert.Equal(t, []string{"player2"}, room.Users)
}

func TestWebSocket_ScoresRoundTrip(t *testing.T) {
	url, _, _ := newWSServer(t, internal.RateLimit{})
	c := dial(t, url)
	c.expect(internal.EventWelcome)

	c.send(internal.EventSaveScore, map[string]any{"points": 320})
	var saved map[string]any
	require.NoError(t, json.Unmarshal(c.expect(internal.EventScoreSaved), &saved))
	assert.Equal(t, "player1", saved["username"])
	assert.Equal(t, float64(320), saved["points"])

	c.send(internal.EventGetScores, nil)
	var scores []map[string]any
	require.NoError(t, json.Unmarshal(c.expect(internal.EventScoreList), &scores))
	require.Len(t, scores, 1)
	assert.Equal(t, "player1", scores[0]["username"])
}

func TestWebSocket_RateLimit(t *testing.T) {
	url, _, _ := newWSServer(t, internal.RateLimit{Burst: 3, Refill: 0})
	c := dial(t, url)
	c.expect(internal.EventWelcome)

	for range 6 {
		c.send(internal.EventGetRooms, nil)
	}
	assert.Equal(t, 3, c.countFor(internal.EventRoomsList, 300*time.Millisecond))
}

func TestWebSocket_StartGameAcceptsAnyQuestionID(t *testing.T) {
	url, _, m := newWSServer(t, internal.RateLimit{})
	c := dial(t, url)
	c.expect(internal.EventWelcome)

	c.send(internal.EventJoinRoom, map[string]string{"roomId": internal.DefaultRoomID})
	c.expect(internal.EventJoinedRoom)
	c.send(internal.EventToggleReady, map[string]any{"ready": true, "roomId": internal.DefaultRoomID})
	c.expect(internal.EventPlayerReady)

	c.send(internal.EventStartGame, map[string]any{
		"roomId": internal.DefaultRoomID,
		"questions": []map[string]any{
			{"id": "q-geo-1", "question": "Capital of Japan?", "answers": []string{"Osaka", "Tokyo"}, "correct": 1, "points": 100},
			{"id": 7, "question": "2 + 3 = ?", "answers": []string{"5", "6"}, "correct": 0, "points": 50},
		},
	})

	var started struct {
		Questions []map[string]any `json:"questions"`
		Scores    map[string]int   `json:"scores"`
	}
	require.NoError(t, json.Unmarshal(c.expect(internal.EventGameStarted), &started))
	require.Len(t, started.Questions, 2)
	assert.Equal(t, "q-geo-1", started.Questions[0]["id"])
	assert.Equal(t, float64(7), started.Questions[1]["id"])
	assert.Equal(t, map[string]int{"player1": 0}, started.Scores)
	assert.Equal(t, internal.PhaseActive, m.GamePhase(internal.DefaultRoomID))
}

func TestAnswerSubmission_DecodesAnyQuestionID(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want any
	}{
		{"string id", `{"questionId":"q-7","answerIndex":2,"timeLeft":3.5}`, "q-7"},
		{"numeric id", `{"questionId":7,"answerIndex":2,"timeLeft":3.5}`, float64(7)},
		{"missing id", `{"answerIndex":2,"timeLeft":3.5}`, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var sub internal.AnswerSubmission
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &sub))
			assert.Equal(t, tt.want, sub.QuestionID)
			assert.Equal(t, 2, sub.AnswerIndex)
			assert.Equal(t, 3.5, sub.TimeLeft)
		})
	}
}
