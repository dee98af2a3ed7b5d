package services

import (
	"context"

	"github.com/qianlnk/werewolf-judge/models"
)

// Event 推送给客户端的游戏事件
type Event struct {
	Type    string           `json:"type"`
	GameID  string           `json:"game_id"`
	Day     int              `json:"day"`
	Phase   models.GamePhase `json:"phase,omitempty"`
	Payload interface{}      `json:"payload,omitempty"`
}

// EventSink 事件出口，WebSocketManager是默认实现
type EventSink interface {
	Broadcast(gameID string, event Event)
	SendToPlayer(gameID string, playerID int, event Event)
}

// NopSink 丢弃所有事件
type NopSink struct{}

func (NopSink) Broadcast(string, Event)         {}
func (NopSink) SendToPlayer(string, int, Event) {}

// SummaryRecorder 对局摘要的持久化出口
type SummaryRecorder interface {
	SaveSummary(ctx context.Context, summary models.GameSummary) error
}
