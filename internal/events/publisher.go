// Package events 將遊戲事件發布到 NATS JetStream
//
// 房間內的廣播走 WebSocket；這裡發布的是給其他服務（統計、回放、排行）
// 消費的副本。主題格式為 {prefix}.{roomID}.{eventType}，例如
// trivia.room_1234.question_results。
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
)

// GameEvent 發布出去的遊戲事件
type GameEvent struct {
	ID        string    `json:"id"`
	RoomID    string    `json:"roomId"`
	Type      string    `json:"type"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// NewGameEvent 產生帶 ID 與時間戳的事件
func NewGameEvent(roomID, eventType string, data any) *GameEvent {
	return &GameEvent{
		ID:        uuid.NewString(),
		RoomID:    roomID,
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	}
}

// Publisher 事件發布者
type Publisher interface {
	Publish(ctx context.Context, event *GameEvent) error
	Close()
}

// Nop 未設定 NATS 時使用，丟棄所有事件
type Nop struct{}

func (Nop) Publish(context.Context, *GameEvent) error { return nil }
func (Nop) Close() {}

// Config JetStream 設定
type Config struct {
	URL        string
	StreamName string
	Subject    string        // 主題前綴
	MaxAge     time.Duration // 事件保留時間
}

// NATSPublisher 以 JetStream 發布，等待 PubAck
type NATSPublisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	cfg  Config
}

// NewNATSPublisher 連線 NATS 並確保 stream 存在
func NewNATSPublisher(cfg Config) (*NATSPublisher, error) {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 24 * time.Hour
	}

	conn, err := nats.Connect(
		cfg.URL,
		nats.Name("trivia-rooms"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	p := &NATSPublisher{conn: conn, js: js, cfg: cfg}
	if err := p.ensureStream(); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// ensureStream 不存在則建立，存在則更新設定
func (p *NATSPublisher) ensureStream() error {
	streamCfg := &nats.StreamConfig{
		Name:      p.cfg.StreamName,
		Subjects:  []string{p.cfg.Subject + ".>"},
		Storage:   nats.FileStorage,
		Retention: nats.LimitsPolicy,
		Discard:   nats.DiscardOld,
		MaxAge:    p.cfg.MaxAge,
		Replicas:  1,
	}

	_, err := p.js.StreamInfo(p.cfg.StreamName)
	switch {
	case errors.Is(err, nats.ErrStreamNotFound):
		if _, err := p.js.AddStream(streamCfg); err != nil {
			return fmt.Errorf("create stream %s: %w", p.cfg.StreamName, err)
		}
	case err != nil:
		return fmt.Errorf("lookup stream %s: %w", p.cfg.StreamName, err)
	default:
		if _, err := p.js.UpdateStream(streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", p.cfg.StreamName, err)
		}
	}
	return nil
}

// Publish 同步發布，事件 ID 作為 JetStream 去重鍵
func (p *NATSPublisher) Publish(ctx context.Context, event *GameEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := Subject(p.cfg.Subject, event.RoomID, event.Type)
	if _, err := p.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(event.ID)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Close 送出緩衝中的訊息後關閉連線
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Subject 組出事件主題；房間 ID 中的 "." 會換成 "_"，避免多出一層主題
func Subject(prefix, roomID, eventType string) string {
	return fmt.Sprintf("%s.%s.%s", prefix, strings.ReplaceAll(roomID, ".", "_"), eventType)
}
