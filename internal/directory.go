package internal

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// 預設房間，進程啟動時建立，永不刪除
const (
	DefaultRoomID   = "general"
	DefaultRoomName = "General"
)

// Room 房間的靜態資料
//
// 成員不存在這裡：人數與名單每次都從 Registry 推導，
// 避免兩邊各記一份導致不一致。
type Room struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"createdBy"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RoomView 房間資料 + 即時計算的成員資訊
type RoomView struct {
	Room
	UserCount int      `json:"userCount"`
	Users     []string `json:"users"`
}

// Directory 房間目錄
//
// rooms 保留插入順序，ListAll 的同人數排序因此穩定，
// 但呼叫端不應依賴同人數時的先後。
// 非並發安全：由 Manager 的鎖保護。
type Directory struct {
	rooms    []*Room
	index    map[string]*Room
	registry *Registry
	newID    func() string
	now      func() time.Time
}

// NewDirectory 創建房間目錄
func NewDirectory(registry *Registry) *Directory {
	return &Directory{
		index:    make(map[string]*Room),
		registry: registry,
		newID:    func() string { return "room_" + uuid.NewString() },
		now:      time.Now,
	}
}

// Create 建立房間，名稱為空時不做任何事
func (d *Directory) Create(name, description, creator string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", false
	}

	id := d.newID()
	for d.Exists(id) {
		id = d.newID()
	}

	d.insert(&Room{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedBy:   creator,
		CreatedAt:   d.now(),
	})
	return id, true
}

// seed 以固定 ID 建立房間（預設房間用）
func (d *Directory) seed(id, name, description, creator string) {
	if d.Exists(id) {
		return
	}
	d.insert(&Room{
		ID:          id,
		Name:        name,
		Description: description,
		CreatedBy:   creator,
		CreatedAt:   d.now(),
	})
}

func (d *Directory) insert(room *Room) {
	d.rooms = append(d.rooms, room)
	d.index[room.ID] = room
}

// Exists 房間是否存在
func (d *Directory) Exists(roomID string) bool {
	_, ok := d.index[roomID]
	return ok
}

// Count 房間數
func (d *Directory) Count() int {
	return len(d.rooms)
}

// Get 取得房間與其目前成員
func (d *Directory) Get(roomID string) (RoomView, bool) {
	room, ok := d.index[roomID]
	if !ok {
		return RoomView{}, false
	}

	occupants := d.registry.Occupants(roomID)
	users := make([]string, 0, len(occupants))
	for _, conn := range occupants {
		users = append(users, conn.Username)
	}

	return RoomView{
		Room:      *room,
		UserCount: len(users),
		Users:     users,
	}, true
}

// ListAll 所有房間，依人數遞減排序
func (d *Directory) ListAll() []RoomView {
	views := make([]RoomView, 0, len(d.rooms))
	for _, room := range d.rooms {
		view, _ := d.Get(room.ID)
		views = append(views, view)
	}

	sort.SliceStable(views, func(i, j int) bool {
		return views[i].UserCount > views[j].UserCount
	})
	return views
}
