package internal

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"time"
)

// Connection 一條存活中的傳輸連線
//
// RoomID 是「我在哪個房間」的唯一依據，空字串代表未加入任何房間。
// 房間的成員清單一律由此推導，房間本身不保存成員。
type Connection struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	RoomID      string    `json:"roomId,omitempty"`
	ConnectedAt time.Time `json:"connectedAt"`
	JoinedAt    time.Time `json:"joinedAt,omitzero"`
}

// Registry 連線註冊表
//
// 非並發安全：所有讀寫都在 Manager 的鎖內進行。
type Registry struct {
	conns    map[string]*Connection
	nameFunc func() string
	now      func() time.Time
}

// NewRegistry 創建連線註冊表
func NewRegistry() *Registry {
	return &Registry{
		conns:    make(map[string]*Connection),
		nameFunc: GenerateUsername,
		now:      time.Now,
	}
}

// Register 為新連線產生暫時的顯示名稱
//
// 名稱不檢查重複，兩條連線可能拿到相同名稱。
// 重複註冊同一個 connID 會回傳既有的連線。
func (r *Registry) Register(connID string) Connection {
	if existing, ok := r.conns[connID]; ok {
		return *existing
	}

	conn := &Connection{
		ID:          connID,
		Username:    r.nameFunc(),
		ConnectedAt: r.now(),
	}
	r.conns[connID] = conn
	return *conn
}

// Lookup 查詢連線（回傳副本）
func (r *Registry) Lookup(connID string) (Connection, bool) {
	conn, ok := r.conns[connID]
	if !ok {
		return Connection{}, false
	}
	return *conn, true
}

// SetRoom 設定連線目前所在房間，roomID 為空代表離開
func (r *Registry) SetRoom(connID, roomID string) {
	conn, ok := r.conns[connID]
	if !ok {
		return
	}
	conn.RoomID = roomID
	if roomID == "" {
		conn.JoinedAt = time.Time{}
	} else {
		conn.JoinedAt = r.now()
	}
}

// Remove 移除連線
func (r *Registry) Remove(connID string) {
	delete(r.conns, connID)
}

// Count 目前連線數
func (r *Registry) Count() int {
	return len(r.conns)
}

// Occupants 房間內的連線，依加入時間排序
//
// O(總連線數)，單一進程的聊天室規模可以接受。
func (r *Registry) Occupants(roomID string) []Connection {
	var result []Connection
	for _, conn := range r.conns {
		if conn.RoomID == roomID {
			result = append(result, *conn)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].JoinedAt.Equal(result[j].JoinedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].JoinedAt.Before(result[j].JoinedAt)
	})
	return result
}

// OccupantCounts 一次掃描算出所有房間的人數
func (r *Registry) OccupantCounts() map[string]int {
	counts := make(map[string]int)
	for _, conn := range r.conns {
		if conn.RoomID != "" {
			counts[conn.RoomID]++
		}
	}
	return counts
}

var (
	usernameAdjectives = []string{
		"Happy", "Swift", "Clever", "Brave", "Calm", "Eager", "Gentle", "Jolly",
		"Lucky", "Mighty", "Quiet", "Witty", "Bold", "Bright", "Cosmic", "Fuzzy",
	}
	usernameNouns = []string{
		"Panda", "Tiger", "Falcon", "Otter", "Fox", "Koala", "Dolphin", "Wolf",
		"Eagle", "Badger", "Lynx", "Raven", "Turtle", "Moose", "Gecko", "Heron",
	}
)

// GenerateUsername 形容詞 + 名詞 + 兩位數，例如 "SwiftOtter42"
func GenerateUsername() string {
	adj := usernameAdjectives[rand.IntN(len(usernameAdjectives))]
	noun := usernameNouns[rand.IntN(len(usernameNouns))]
	return fmt.Sprintf("%s%s%02d", adj, noun, 10+rand.IntN(90))
}
