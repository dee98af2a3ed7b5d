package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/qianlnk/werewolf-judge/models"
	"github.com/qianlnk/werewolf-judge/rules"
)

var (
	ErrGameBusy = errors.New("游戏正在推进中")
	ErrGameOver = errors.New("游戏已结束")
)

// ControllerOptions 控制器依赖
type ControllerOptions struct {
	Agent        Agent
	Events       EventSink
	Recorder     SummaryRecorder
	AgentTimeout time.Duration
	HumanTimeout time.Duration
	Logger       *log.Logger
}

// GameController 游戏流程控制器，阶段切换只在这里发生
type GameController struct {
	state    *GameState
	broker   *DecisionBroker
	night    *NightEngine
	day      *DayOrchestrator
	events   EventSink
	recorder SummaryRecorder
	logger   *log.Logger

	resume models.GamePhase // 猎人开枪后回到的阶段
	mutex  sync.Mutex
}

// NewGameController 校验配置、分配角色并创建控制器
func NewGameController(id string, cfg models.GameConfig, opts ControllerOptions) (*GameController, error) {
	cfg, err := ValidateConfig(cfg)
	if err != nil {
		return nil, err
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	players := assignRoles(cfg, rng)
	return newGameController(NewGameState(id, cfg, players), rng, opts), nil
}

// newGameController 直接使用给定的玩家状态，测试中用来构造固定阵容
func newGameController(state *GameState, rng *rand.Rand, opts ControllerOptions) *GameController {
	events := opts.Events
	if events == nil {
		events = NopSink{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	broker := NewDecisionBroker(state.ID(), opts.Agent, events, BrokerOptions{
		AgentTimeout: opts.AgentTimeout,
		HumanTimeout: opts.HumanTimeout,
		Logger:       logger,
	})
	return &GameController{
		state:    state,
		broker:   broker,
		night:    NewNightEngine(state, broker, events, rng, logger),
		day:      NewDayOrchestrator(state, broker, events, rng, logger),
		events:   events,
		recorder: opts.Recorder,
		logger:   logger,
	}
}

// ID 游戏ID
func (gc *GameController) ID() string {
	return gc.state.ID()
}

// State 游戏状态
func (gc *GameController) State() *GameState {
	return gc.state
}

// Start 开局：私发角色并进入第一晚
func (gc *GameController) Start() error {
	if gc.state.Phase() != models.PhaseSetup {
		return ErrGameBusy
	}
	for _, p := range gc.state.Players() {
		gc.events.SendToPlayer(gc.state.ID(), p.ID, Event{
			Type: "role_assigned",
			Payload: map[string]interface{}{
				"role":    p.Role,
				"message": "游戏开始，你的角色是：" + p.Role.DisplayName(),
			},
		})
	}
	gc.events.Broadcast(gc.state.ID(), Event{Type: "game_started", Payload: "游戏已开始"})
	return gc.Proceed(context.Background())
}

// Proceed 推进一个阶段。同一时刻只允许一个调用在推进
func (gc *GameController) Proceed(ctx context.Context) error {
	if !gc.mutex.TryLock() {
		return ErrGameBusy
	}
	defer gc.mutex.Unlock()

	phase := gc.state.Phase()
	if phase == models.PhaseGameOver {
		return ErrGameOver
	}
	if !gc.broker.Active() {
		return ErrGameInactive
	}

	var err error
	switch phase {
	case models.PhaseSetup:
		gc.enterNight()
	case models.PhaseNight:
		err = gc.runNight(ctx)
	case models.PhaseDayAnnounce:
		gc.announceDay()
	case models.PhaseDayDiscussion:
		err = gc.runDiscussion(ctx)
	case models.PhaseDayVoting:
		if _, err = gc.day.RunVoting(ctx); err == nil {
			gc.setPhase(models.PhaseDayProcessing)
		}
	case models.PhaseDayProcessing:
		gc.processElimination()
	case models.PhaseHunterShoot:
		err = gc.runHunterShots(ctx)
	default:
		err = fmt.Errorf("未知阶段: %s", phase)
	}
	if err != nil {
		gc.logger.Printf("[错误] 游戏 %s 在 %s 阶段出错: %v", gc.state.ID(), phase, err)
	}
	return err
}

// Run 连续推进直到游戏结束或中止
func (gc *GameController) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := gc.Proceed(ctx)
		if errors.Is(err, ErrGameOver) {
			return nil
		}
		if err != nil {
			return err
		}
		if gc.state.Phase() == models.PhaseGameOver {
			return nil
		}
	}
}

// Stop 中止游戏，所有挂起的请求被取消
func (gc *GameController) Stop() {
	gc.broker.Stop()
}

// SubmitDecision 真人玩家提交决策
func (gc *GameController) SubmitDecision(playerID int, step Step, d models.Decision) error {
	return gc.broker.Submit(playerID, step, d)
}

// PendingRequest 正在等待该玩家的请求
func (gc *GameController) PendingRequest(playerID int) (RequestKey, bool) {
	return gc.broker.Pending(playerID)
}

// Snapshot 状态快照
func (gc *GameController) Snapshot() Snapshot {
	return gc.state.Snapshot()
}

// Summary 对局摘要
func (gc *GameController) Summary() models.GameSummary {
	return gc.state.Summary()
}

func (gc *GameController) setPhase(phase models.GamePhase) {
	gc.state.SetPhase(phase)
	gc.broadcastGameState()
}

func (gc *GameController) enterNight() {
	gc.state.BeginNight()
	gc.setPhase(models.PhaseNight)
}

func (gc *GameController) runNight(ctx context.Context) error {
	if err := gc.night.Run(ctx); err != nil {
		return err
	}
	gc.night.Resolve()
	if gc.checkWin() {
		return nil
	}
	gc.setPhase(models.PhaseDayAnnounce)
	return nil
}

// announceDay 公布夜间死讯，死者中能开枪的猎人先开枪
func (gc *GameController) announceDay() {
	dead := gc.state.LastNightDeaths()
	text := "昨晚是平安夜"
	if len(dead) > 0 {
		names := make([]string, 0, len(dead))
		for _, id := range dead {
			names = append(names, fmt.Sprintf("%d号", id))
		}
		text = fmt.Sprintf("昨晚%s死亡", strings.Join(names, "、"))
	}
	gc.state.Announce(text)
	gc.events.Broadcast(gc.state.ID(), Event{
		Type:    "announcement",
		Day:     gc.state.Day(),
		Phase:   models.PhaseDayAnnounce,
		Payload: map[string]interface{}{"deaths": dead, "message": text},
	})

	if len(gc.pendingHunters()) > 0 {
		gc.resume = models.PhaseDayDiscussion
		gc.setPhase(models.PhaseHunterShoot)
		return
	}
	gc.setPhase(models.PhaseDayDiscussion)
}

func (gc *GameController) runDiscussion(ctx context.Context) error {
	res, err := gc.day.RunDiscussion(ctx)
	if err != nil {
		return err
	}
	if gc.checkWin() {
		return nil
	}
	if res.Preempted {
		// 决斗出狼人，当天直接入夜
		gc.enterNight()
		return nil
	}
	gc.setPhase(models.PhaseDayVoting)
	return nil
}

func (gc *GameController) processElimination() {
	if len(gc.pendingHunters()) > 0 {
		gc.resume = models.PhaseNight
		gc.setPhase(models.PhaseHunterShoot)
		return
	}
	if gc.checkWin() {
		return
	}
	gc.enterNight()
}

func (gc *GameController) runHunterShots(ctx context.Context) error {
	for _, id := range gc.pendingHunters() {
		if _, err := gc.day.ResolveHunterShot(ctx, id); err != nil {
			return err
		}
	}
	if gc.checkWin() {
		return nil
	}
	if gc.resume == models.PhaseNight {
		gc.enterNight()
		return nil
	}
	gc.setPhase(models.PhaseDayDiscussion)
	return nil
}

// pendingHunters 已死亡且仍能开枪的猎人
func (gc *GameController) pendingHunters() []int {
	ids := make([]int, 0)
	for _, p := range gc.state.Players() {
		if p.Role == models.Hunter && !p.Alive && p.Ability.CanShoot {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// checkWin 判定胜负，分出胜负时结束游戏
func (gc *GameController) checkWin() bool {
	result := rules.Evaluate(gc.state.Players(), gc.state.Config().VictoryMode)
	if result == models.NoWinner {
		return false
	}
	gc.handleGameEnd(result)
	return true
}

// handleGameEnd 处理游戏结束
func (gc *GameController) handleGameEnd(result models.WinResult) {
	gc.state.SetResult(result)
	text := "好人阵营获胜"
	if result == models.WolfWin {
		text = "狼人阵营获胜"
	}
	gc.state.Announce(text)
	gc.setPhase(models.PhaseGameOver)
	gc.broker.Stop()

	gc.events.Broadcast(gc.state.ID(), Event{
		Type:    "game_end",
		Day:     gc.state.Day(),
		Phase:   models.PhaseGameOver,
		Payload: map[string]interface{}{"result": result, "message": text, "players": gc.state.Players()},
	})

	if gc.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := gc.recorder.SaveSummary(ctx, gc.state.Summary()); err != nil {
		gc.logger.Printf("[错误] 保存对局 %s 摘要失败: %v", gc.state.ID(), err)
	}
}

// broadcastGameState 广播游戏状态，不含角色信息
func (gc *GameController) broadcastGameState() {
	snap := gc.state.Snapshot()
	gc.logger.Printf("[广播游戏状态] 游戏ID: %s, 阶段: %s, 天数: %d, 存活玩家: %d",
		snap.GameID, snap.Phase, snap.Day, countAlivePlayers(snap.Players))
	gc.events.Broadcast(snap.GameID, Event{
		Type:    "game_state",
		Day:     snap.Day,
		Phase:   snap.Phase,
		Payload: snap.PublicView(),
	})
}

// countAlivePlayers 统计存活玩家数量
func countAlivePlayers(players []models.Player) int {
	count := 0
	for _, player := range players {
		if player.Alive {
			count++
		}
	}
	return count
}
