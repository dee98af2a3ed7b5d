package models

// Role 游戏角色
type Role string

const (
	// 基础角色
	Werewolf Role = "werewolf" // 狼人
	Villager Role = "villager" // 村民
	Seer     Role = "seer"     // 预言家
	Witch    Role = "witch"    // 女巫

	// 标准角色
	Hunter Role = "hunter" // 猎人
	Guard  Role = "guard"  // 守卫

	// 扩展角色
	Magician    Role = "magician"    // 魔术师
	Dreamweaver Role = "dreamweaver" // 摄梦人
	Knight      Role = "knight"      // 骑士
)

// AllRoles 所有已知角色
var AllRoles = []Role{Werewolf, Villager, Seer, Witch, Hunter, Guard, Magician, Dreamweaver, Knight}

var roleNames = map[Role]string{
	Werewolf:    "狼人",
	Villager:    "村民",
	Seer:        "预言家",
	Witch:       "女巫",
	Hunter:      "猎人",
	Guard:       "守卫",
	Magician:    "魔术师",
	Dreamweaver: "摄梦人",
	Knight:      "骑士",
}

// DisplayName 角色中文名
func (r Role) DisplayName() string {
	if name, ok := roleNames[r]; ok {
		return name
	}
	return string(r)
}

// Known 是否为已知角色
func (r Role) Known() bool {
	_, ok := roleNames[r]
	return ok
}

// IsGod 神职判定：狼人与村民以外的角色都算神职
func (r Role) IsGod() bool {
	return r != Werewolf && r != Villager
}

// IsUnique 每局至多出现一次的角色
func (r Role) IsUnique() bool {
	return r.IsGod()
}

// PlayerType 玩家类型
type PlayerType string

const (
	HumanPlayer PlayerType = "human" // 真人玩家
	AIPlayer    PlayerType = "ai"    // AI玩家
)

// AbilityState 角色技能状态
type AbilityState struct {
	HasSave   bool `json:"has_save,omitempty"`   // 女巫解药
	HasPoison bool `json:"has_poison,omitempty"` // 女巫毒药
	CanShoot  bool `json:"can_shoot,omitempty"`  // 猎人能否开枪，被毒死时为false
	HasDueled bool `json:"has_dueled,omitempty"` // 骑士是否已决斗
}

// Player 玩家信息
type Player struct {
	ID      int          `json:"id"`
	Name    string       `json:"name"`
	Type    PlayerType   `json:"type"`
	Role    Role         `json:"role"`
	Alive   bool         `json:"alive"`
	Ability AbilityState `json:"ability"`
}

// IsUser 是否由真人操作
func (p Player) IsUser() bool {
	return p.Type == HumanPlayer
}

// GamePhase 游戏阶段
type GamePhase string

const (
	PhaseSetup         GamePhase = "setup"
	PhaseNight         GamePhase = "night"
	PhaseDayAnnounce   GamePhase = "day_announce"
	PhaseDayDiscussion GamePhase = "day_discussion"
	PhaseDayVoting     GamePhase = "day_voting"
	PhaseDayProcessing GamePhase = "day_processing"
	PhaseHunterShoot   GamePhase = "hunter_shoot"
	PhaseGameOver      GamePhase = "game_over"
)

// VictoryMode 胜利模式
type VictoryMode string

const (
	EdgeMode VictoryMode = "edge" // 屠边
	TownMode VictoryMode = "town" // 屠城
)

// SpeakingOrder 发言顺序
type SpeakingOrder string

const (
	Clockwise        SpeakingOrder = "clockwise"
	Counterclockwise SpeakingOrder = "counterclockwise"
)

// WinResult 胜负结果
type WinResult string

const (
	NoWinner WinResult = ""
	GoodWin  WinResult = "good_win"
	WolfWin  WinResult = "wolf_win"
)

// GameConfig 开局配置
type GameConfig struct {
	TotalPlayers  int           `json:"total_players" mapstructure:"total_players"`
	Roles         map[Role]int  `json:"roles" mapstructure:"roles"`
	VictoryMode   VictoryMode   `json:"victory_mode" mapstructure:"victory_mode"`
	SpeakingOrder SpeakingOrder `json:"speaking_order,omitempty" mapstructure:"speaking_order"` // 为空时每天随机
	HumanSeats    []int         `json:"human_seats,omitempty" mapstructure:"human_seats"`
	Seed          int64         `json:"seed,omitempty" mapstructure:"seed"`
}

// Target 构造可选的玩家ID
func Target(id int) *int {
	return &id
}
