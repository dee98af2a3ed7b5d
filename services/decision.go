package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/qianlnk/werewolf-judge/models"
	"github.com/qianlnk/werewolf-judge/rules"
)

var (
	ErrGameInactive       = errors.New("游戏已结束或已中止")
	ErrDuplicateRequest   = errors.New("重复的决策请求")
	ErrUnexpectedDecision = errors.New("当前没有等待该玩家的决策")
	ErrDecisionAborted    = errors.New("决策请求被调用方取消")
)

// aborted 游戏中止或调用方取消，结果不得写入也不得兜底
func aborted(err error) bool {
	return errors.Is(err, ErrGameInactive) || errors.Is(err, ErrDecisionAborted)
}

// Step 决策步骤
type Step string

const (
	StepGuard       Step = "guard"
	StepMagician    Step = "magician"
	StepDreamweaver Step = "dreamweaver"
	StepWerewolf    Step = "werewolf"
	StepSeer        Step = "seer"
	StepWitch       Step = "witch"
	StepSpeech      Step = "speech"
	StepVote        Step = "vote"
	StepHunter      Step = "hunter"
)

// nightSteps 夜晚角色对应的步骤
var nightSteps = map[models.Role]Step{
	models.Guard:       StepGuard,
	models.Magician:    StepMagician,
	models.Dreamweaver: StepDreamweaver,
	models.Werewolf:    StepWerewolf,
	models.Seer:        StepSeer,
	models.Witch:       StepWitch,
}

// RequestKey 标识一次挂起的决策
type RequestKey struct {
	PlayerID int  `json:"player_id"`
	Day      int  `json:"day"`
	Step     Step `json:"step"`
}

func (k RequestKey) String() string {
	return fmt.Sprintf("%d/%d/%s", k.PlayerID, k.Day, k.Step)
}

// DecisionRequest 发给决策方的请求
type DecisionRequest struct {
	Key     RequestKey             `json:"key"`
	Role    models.Role            `json:"role"`
	Player  models.Player          `json:"player"`
	Board   rules.Board            `json:"-"`
	Context map[string]interface{} `json:"context"`
}

// Agent 外部决策方（通常是LLM），必须支持ctx取消
type Agent interface {
	Decide(ctx context.Context, req DecisionRequest) (models.Decision, error)
}

// AgentFunc 函数形式的Agent
type AgentFunc func(ctx context.Context, req DecisionRequest) (models.Decision, error)

// Decide 实现Agent
func (f AgentFunc) Decide(ctx context.Context, req DecisionRequest) (models.Decision, error) {
	return f(ctx, req)
}

// pendingHuman 等待真人提交的请求
type pendingHuman struct {
	key RequestKey
	ch  chan models.Decision
}

// DecisionBroker 决策分发：AI走Agent，真人挂起等待SubmitDecision
type DecisionBroker struct {
	agent        Agent
	events       EventSink
	gameID       string
	agentTimeout time.Duration
	humanTimeout time.Duration
	logger       *log.Logger

	active atomic.Bool
	ctx    context.Context
	cancel context.CancelFunc

	inflight map[RequestKey]bool
	pending  map[int]*pendingHuman
	mutex    sync.Mutex
}

// BrokerOptions 决策超时设置，0表示不限时
type BrokerOptions struct {
	AgentTimeout time.Duration
	HumanTimeout time.Duration
	Logger       *log.Logger
}

// NewDecisionBroker 创建决策分发器
func NewDecisionBroker(gameID string, agent Agent, events EventSink, opts BrokerOptions) *DecisionBroker {
	ctx, cancel := context.WithCancel(context.Background())
	if events == nil {
		events = NopSink{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	b := &DecisionBroker{
		agent:        agent,
		events:       events,
		gameID:       gameID,
		agentTimeout: opts.AgentTimeout,
		humanTimeout: opts.HumanTimeout,
		logger:       logger,
		ctx:          ctx,
		cancel:       cancel,
		inflight:     make(map[RequestKey]bool),
		pending:      make(map[int]*pendingHuman),
	}
	b.active.Store(true)
	return b
}

// Active 游戏是否仍在进行
func (b *DecisionBroker) Active() bool {
	return b.active.Load()
}

// Stop 中止游戏，取消所有未完成的请求
func (b *DecisionBroker) Stop() {
	if b.active.CompareAndSwap(true, false) {
		b.cancel()
	}
}

// Request 发出决策请求并等待结果。
// 请求前后都会检查游戏是否仍在进行；游戏中止后返回ErrGameInactive，
// 调用方ctx取消后返回ErrDecisionAborted，两种情况调用方都不得再写入结果。
// 只有Agent或真人自身超时才返回可兜底的错误
func (b *DecisionBroker) Request(ctx context.Context, req DecisionRequest) (models.Decision, error) {
	if !b.Active() {
		return models.Decision{}, ErrGameInactive
	}
	parent := ctx
	if err := parent.Err(); err != nil {
		return models.Decision{}, fmt.Errorf("%w: %v", ErrDecisionAborted, err)
	}

	b.mutex.Lock()
	if b.inflight[req.Key] {
		b.mutex.Unlock()
		return models.Decision{}, ErrDuplicateRequest
	}
	b.inflight[req.Key] = true
	b.mutex.Unlock()
	defer func() {
		b.mutex.Lock()
		delete(b.inflight, req.Key)
		b.mutex.Unlock()
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(b.ctx, cancel)
	defer stop()

	var (
		d   models.Decision
		err error
	)
	if req.Player.IsUser() {
		d, err = b.awaitHuman(ctx, req)
	} else {
		d, err = b.askAgent(ctx, req)
	}

	if !b.Active() {
		return models.Decision{}, ErrGameInactive
	}
	if perr := parent.Err(); perr != nil {
		return models.Decision{}, fmt.Errorf("%w: %v", ErrDecisionAborted, perr)
	}
	return d, err
}

func (b *DecisionBroker) askAgent(ctx context.Context, req DecisionRequest) (models.Decision, error) {
	if b.agent == nil {
		return models.Decision{}, errors.New("未配置决策Agent")
	}
	if b.agentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.agentTimeout)
		defer cancel()
	}
	return b.agent.Decide(ctx, req)
}

func (b *DecisionBroker) awaitHuman(ctx context.Context, req DecisionRequest) (models.Decision, error) {
	p := &pendingHuman{key: req.Key, ch: make(chan models.Decision, 1)}

	b.mutex.Lock()
	b.pending[req.Key.PlayerID] = p
	b.mutex.Unlock()
	defer func() {
		b.mutex.Lock()
		if b.pending[req.Key.PlayerID] == p {
			delete(b.pending, req.Key.PlayerID)
		}
		b.mutex.Unlock()
	}()

	b.events.SendToPlayer(b.gameID, req.Key.PlayerID, Event{
		Type: "decision_request",
		Day:  req.Key.Day,
		Payload: map[string]interface{}{
			"step":    req.Key.Step,
			"role":    req.Role,
			"context": req.Context,
		},
	})

	var timeout <-chan time.Time
	if b.humanTimeout > 0 {
		timer := time.NewTimer(b.humanTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case d := <-p.ch:
		return d, nil
	case <-timeout:
		b.logger.Printf("[决策] 玩家 %d 在 %s 步骤超时", req.Key.PlayerID, req.Key.Step)
		return models.Decision{}, context.DeadlineExceeded
	case <-ctx.Done():
		return models.Decision{}, ctx.Err()
	}
}

// Pending 当前等待该玩家的请求
func (b *DecisionBroker) Pending(playerID int) (RequestKey, bool) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	p, ok := b.pending[playerID]
	if !ok {
		return RequestKey{}, false
	}
	return p.key, true
}

// Submit 真人提交决策，只接受与当前等待的玩家和步骤完全匹配的提交
func (b *DecisionBroker) Submit(playerID int, step Step, d models.Decision) error {
	if !b.Active() {
		return ErrGameInactive
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()
	p, ok := b.pending[playerID]
	if !ok || p.key.Step != step {
		return ErrUnexpectedDecision
	}
	delete(b.pending, playerID)
	p.ch <- d
	return nil
}
