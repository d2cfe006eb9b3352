package internal

import (
	"github.com/google/uuid"
	apperrors "github.com/koopa0/system-design/trivia-rooms/pkg/errors"
)

// SendMessage 把聊天訊息廣播給同房間所有人（包含發送者自己）
//
// 內容原樣轉送（不修剪空白），只拒絕空字串。訊息不保存，也不去重。
func (m *Manager) SendMessage(connID, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	conn, ok := m.registry.Lookup(connID)
	if !ok {
		return apperrors.ErrConnectionNotFound.WithDetails(connID)
	}
	if conn.RoomID == "" {
		return apperrors.ErrNotInRoom.WithDetails(connID)
	}

	if text == "" {
		return apperrors.ErrEmptyInput.WithDetails("message")
	}

	msg := ChatMessage{
		ID:        uuid.NewString(),
		Username:  conn.Username,
		Message:   text,
		Timestamp: m.now(),
		RoomID:    conn.RoomID,
	}
	m.out.EmitRoom(conn.RoomID, Event{Type: EventReceiveMessage, Data: msg}, "")
	return nil
}
