package services

import (
	"context"
	"io"
	"log"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/qianlnk/werewolf-judge/models"
)

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// recordingSink 记录所有推送的事件
type recordingSink struct {
	mutex     sync.Mutex
	broadcast []Event
	direct    map[int][]Event
}

func newRecordingSink() *recordingSink {
	return &recordingSink{direct: make(map[int][]Event)}
}

func (s *recordingSink) Broadcast(gameID string, e Event) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.broadcast = append(s.broadcast, e)
}

func (s *recordingSink) SendToPlayer(gameID string, playerID int, e Event) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.direct[playerID] = append(s.direct[playerID], e)
}

func (s *recordingSink) broadcastOf(typ string) []Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]Event, 0)
	for _, e := range s.broadcast {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

func (s *recordingSink) sentTo(playerID int, typ string) []Event {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]Event, 0)
	for _, e := range s.direct[playerID] {
		if e.Type == typ {
			out = append(out, e)
		}
	}
	return out
}

// script 按步骤返回固定决策，未列出的步骤返回空决策
type script map[Step]func(req DecisionRequest) models.Decision

func (s script) agent() Agent {
	return AgentFunc(func(ctx context.Context, req DecisionRequest) (models.Decision, error) {
		if fn, ok := s[req.Key.Step]; ok {
			return fn(req), nil
		}
		return models.Decision{}, nil
	})
}

// newTestState 按顺序分配座位，全部为AI玩家
func newTestState(roles ...models.Role) *GameState {
	players := make([]models.Player, len(roles))
	for i, r := range roles {
		players[i] = NewPlayer(i, r, false)
	}
	cfg := models.GameConfig{
		TotalPlayers:  len(roles),
		VictoryMode:   models.EdgeMode,
		SpeakingOrder: models.Clockwise,
	}
	return NewGameState("test", cfg, players)
}

func newTestBroker(agent Agent, sink EventSink) *DecisionBroker {
	return NewDecisionBroker("test", agent, sink, BrokerOptions{Logger: quietLogger()})
}

func newTestDay(state *GameState, agent Agent, sink EventSink) *DayOrchestrator {
	return NewDayOrchestrator(state, newTestBroker(agent, sink), sink, rand.New(rand.NewSource(1)), quietLogger())
}

// waitPending 等待broker挂起该玩家的请求
func waitPending(t *testing.T, b *DecisionBroker, playerID int) RequestKey {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if key, ok := b.Pending(playerID); ok {
			return key
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("no pending request for player %d", playerID)
	return RequestKey{}
}

func deathOf(summary models.GameSummary, playerID int) (models.DeathRecord, bool) {
	for _, d := range summary.DeathHistory {
		if d.PlayerID == playerID {
			return d, true
		}
	}
	return models.DeathRecord{}, false
}
