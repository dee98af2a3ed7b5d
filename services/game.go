package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/qianlnk/werewolf-judge/models"
)

// MinPlayers 最少玩家数
const MinPlayers = 6

var (
	ErrInvalidConfig  = errors.New("无效的游戏配置")
	ErrGameNotFound   = errors.New("游戏不存在")
	ErrGameInProgress = errors.New("游戏正在进行中")
)

// ValidateConfig 校验开局配置，返回补全默认值后的配置
func ValidateConfig(cfg models.GameConfig) (models.GameConfig, error) {
	invalid := func(format string, args ...interface{}) (models.GameConfig, error) {
		return cfg, fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if cfg.TotalPlayers < MinPlayers {
		return invalid("至少需要%d名玩家，当前%d", MinPlayers, cfg.TotalPlayers)
	}
	total, wolves, good := 0, 0, 0
	for role, n := range cfg.Roles {
		if !role.Known() {
			return invalid("未知角色 %s", role)
		}
		if n < 0 {
			return invalid("%s 数量不能为负", role)
		}
		if role.IsUnique() && n > 1 {
			return invalid("%s 最多只能有1名", role.DisplayName())
		}
		total += n
		if role == models.Werewolf {
			wolves += n
		} else {
			good += n
		}
	}
	if total != cfg.TotalPlayers {
		return invalid("角色总数%d与玩家数%d不一致", total, cfg.TotalPlayers)
	}
	if wolves == 0 {
		return invalid("至少需要1名狼人")
	}
	if good <= wolves {
		return invalid("好人数量必须多于狼人")
	}

	switch cfg.VictoryMode {
	case "":
		cfg.VictoryMode = models.EdgeMode
	case models.EdgeMode, models.TownMode:
	default:
		return invalid("未知胜利模式 %s", cfg.VictoryMode)
	}
	switch cfg.SpeakingOrder {
	case "", models.Clockwise, models.Counterclockwise:
	default:
		return invalid("未知发言顺序 %s", cfg.SpeakingOrder)
	}

	seen := make(map[int]bool, len(cfg.HumanSeats))
	for _, seat := range cfg.HumanSeats {
		if seat < 0 || seat >= cfg.TotalPlayers {
			return invalid("座位 %d 超出范围", seat)
		}
		if seen[seat] {
			return invalid("座位 %d 重复", seat)
		}
		seen[seat] = true
	}
	return cfg, nil
}

// assignRoles 随机分配角色，座位号即玩家ID
func assignRoles(cfg models.GameConfig, rng *rand.Rand) []models.Player {
	roles := make([]models.Role, 0, cfg.TotalPlayers)
	// 按固定顺序展开，保证同一种子得到同一分配
	for _, role := range models.AllRoles {
		for i := 0; i < cfg.Roles[role]; i++ {
			roles = append(roles, role)
		}
	}
	rng.Shuffle(len(roles), func(i, j int) {
		roles[i], roles[j] = roles[j], roles[i]
	})

	humans := make(map[int]bool, len(cfg.HumanSeats))
	for _, seat := range cfg.HumanSeats {
		humans[seat] = true
	}

	players := make([]models.Player, len(roles))
	for i, role := range roles {
		players[i] = NewPlayer(i, role, humans[i])
	}
	return players
}

// NewPlayer 按角色初始化玩家和技能状态
func NewPlayer(id int, role models.Role, human bool) models.Player {
	p := models.Player{
		ID:    id,
		Name:  fmt.Sprintf("%d号", id),
		Type:  models.AIPlayer,
		Role:  role,
		Alive: true,
	}
	if human {
		p.Type = models.HumanPlayer
	}
	switch role {
	case models.Witch:
		p.Ability.HasSave = true
		p.Ability.HasPoison = true
	case models.Hunter:
		p.Ability.CanShoot = true
	}
	return p
}

// GameManager 游戏管理器
type GameManager struct {
	games map[string]*GameController
	opts  ControllerOptions
	start func(*GameController) error
	mutex sync.RWMutex
}

// NewGameManager 创建游戏管理器实例
func NewGameManager(opts ControllerOptions) *GameManager {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &GameManager{
		games: make(map[string]*GameController),
		opts:  opts,
		start: (*GameController).Start,
	}
}

// CreateGame 创建并开始游戏，autoRun为true时在后台一直推进到结束
func (gm *GameManager) CreateGame(cfg models.GameConfig, autoRun bool) (*GameController, error) {
	gc, err := NewGameController(uuid.NewString(), cfg, gm.opts)
	if err != nil {
		return nil, err
	}

	gm.mutex.Lock()
	gm.games[gc.ID()] = gc
	gm.mutex.Unlock()

	if err := gm.start(gc); err != nil {
		gm.mutex.Lock()
		delete(gm.games, gc.ID())
		gm.mutex.Unlock()
		gc.Stop()
		return nil, err
	}
	gm.opts.Logger.Printf("[游戏管理] 创建游戏 %s, 玩家数: %d", gc.ID(), cfg.TotalPlayers)

	if autoRun {
		go func() {
			if err := gc.Run(context.Background()); err != nil && !errors.Is(err, ErrGameInactive) {
				gm.opts.Logger.Printf("[错误] 游戏 %s 自动运行中止: %v", gc.ID(), err)
			}
		}()
	}
	return gc, nil
}

// GetGame 获取游戏
func (gm *GameManager) GetGame(id string) (*GameController, error) {
	gm.mutex.RLock()
	defer gm.mutex.RUnlock()
	gc, ok := gm.games[id]
	if !ok {
		return nil, ErrGameNotFound
	}
	return gc, nil
}

// ListGames 所有游戏的快照，按ID排序
func (gm *GameManager) ListGames() []Snapshot {
	gm.mutex.RLock()
	defer gm.mutex.RUnlock()
	out := make([]Snapshot, 0, len(gm.games))
	for _, gc := range gm.games {
		out = append(out, gc.Snapshot().PublicView())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameID < out[j].GameID })
	return out
}

// RemoveGame 中止并移除游戏
func (gm *GameManager) RemoveGame(id string) error {
	gm.mutex.Lock()
	gc, ok := gm.games[id]
	delete(gm.games, id)
	gm.mutex.Unlock()
	if !ok {
		return ErrGameNotFound
	}
	gc.Stop()
	return nil
}

// SubmitDecision 转发真人玩家的决策
func (gm *GameManager) SubmitDecision(gameID string, playerID int, step Step, d models.Decision) error {
	gc, err := gm.GetGame(gameID)
	if err != nil {
		return err
	}
	return gc.SubmitDecision(playerID, step, d)
}
