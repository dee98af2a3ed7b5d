package models

// DeathPhase 死亡发生的阶段
type DeathPhase string

const (
	DeathAtNight  DeathPhase = "夜"
	DeathByVote   DeathPhase = "投票"
	DeathByHunter DeathPhase = "猎人枪"
	DeathByDuel   DeathPhase = "决斗"
)

// 死因
const (
	CauseWolfKill         = "被狼人杀害"
	CauseGuardAndSave     = "同守同救"
	CausePoison           = "被女巫毒死"
	CauseDreamConsecutive = "连梦致死（摄梦人）"
	CauseDreamSympathy    = "同生共死（摄梦人）"
	CauseVotedOut         = "被投票放逐"
	CauseHunterShot       = "被猎人带走"
	CauseDuelExposed      = "被骑士决斗"
	CauseDuelFailed       = "决斗失败（以死谢罪）"
)

// DeathRecord 死亡记录，追加后不再修改
type DeathRecord struct {
	Day      int        `json:"day" db:"day"`
	Phase    DeathPhase `json:"phase" db:"phase"`
	PlayerID int        `json:"player_id" db:"player_id"`
	Cause    string     `json:"cause" db:"cause"`
}

// Vote 单张选票
type Vote struct {
	From int `json:"from"`
	To   int `json:"to"`
}

// VoteRecord 每天一条投票记录
type VoteRecord struct {
	Day        int    `json:"day"`
	Votes      []Vote `json:"votes"`
	Eliminated *int   `json:"eliminated"`
}

// SpeechRecord 发言记录，每人每天至多一条
type SpeechRecord struct {
	PlayerID      int    `json:"player_id"`
	Day           int    `json:"day"`
	Content       string `json:"content"`
	VoteIntention *int   `json:"vote_intention,omitempty"`
}

// SeerCheck 预言家查验记录
// TargetID 是预言家选择的目标，RevealedID 是魔术师交换后实际被查验的玩家
type SeerCheck struct {
	Night      int  `json:"night"`
	SeerID     int  `json:"seer_id"`
	TargetID   int  `json:"target_id"`
	RevealedID int  `json:"revealed_id"`
	IsWerewolf bool `json:"is_werewolf"`
}

// GuardRecord 守卫每晚的守护记录
type GuardRecord struct {
	Night    int  `json:"night"`
	TargetID *int `json:"target_id"`
}

// Announcement 公告
type Announcement struct {
	Day  int    `json:"day"`
	Text string `json:"text"`
}

// Transition 状态变更日志
type Transition struct {
	Version uint64 `json:"version"`
	Name    string `json:"name"`
	Detail  string `json:"detail,omitempty"`
}

// GameSummary 对局结束时导出的摘要
type GameSummary struct {
	GameID        string         `json:"game_id"`
	Players       []Player       `json:"players"`
	DeathHistory  []DeathRecord  `json:"death_history"`
	VoteHistory   []VoteRecord   `json:"vote_history"`
	SpeechHistory []SpeechRecord `json:"speech_history"`
	SeerChecks    []SeerCheck    `json:"seer_checks"`
	GuardHistory  []GuardRecord  `json:"guard_history"`
	WitchHistory  WitchHistory   `json:"witch_history"`
	VictoryMode   VictoryMode    `json:"victory_mode"`
	Result        WinResult      `json:"result"`
	Announcements []Announcement `json:"announcements"`
	Transitions   []Transition   `json:"transitions,omitempty"`
}
