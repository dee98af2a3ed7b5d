package services

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/qianlnk/werewolf-judge/models"
	"github.com/qianlnk/werewolf-judge/rules"
)

var (
	ErrPlayerNotFound  = errors.New("玩家不存在")
	ErrSlotFilled      = errors.New("该技能今晚已提交")
	ErrStaleVersion    = errors.New("状态已变更，结果作废")
	ErrDuplicateSpeech = errors.New("该玩家今天已经发言")
	ErrDuplicateVote   = errors.New("今天已经完成投票")
)

// GameState 游戏状态，所有读写都经过这里
// 每次变更都是一个具名操作，版本号加一并记入日志
type GameState struct {
	id      string
	cfg     models.GameConfig
	version uint64

	players   []models.Player
	phase     models.GamePhase
	day       int
	nightStep int
	night     models.NightBuffer

	guard    models.GuardHistory
	witch    models.WitchHistory
	magician models.MagicianHistory
	dream    models.DreamweaverHistory

	seerChecks    []models.SeerCheck
	guardLog      []models.GuardRecord
	deaths        []models.DeathRecord
	votes         []models.VoteRecord
	speeches      []models.SpeechRecord
	announcements []models.Announcement
	transitions   []models.Transition

	lastNightDeaths []int
	result          models.WinResult

	mutex sync.RWMutex
}

// NewGameState 创建游戏状态实例
func NewGameState(id string, cfg models.GameConfig, players []models.Player) *GameState {
	ps := make([]models.Player, len(players))
	copy(ps, players)
	return &GameState{
		id:       id,
		cfg:      cfg,
		players:  ps,
		phase:    models.PhaseSetup,
		night:    models.NewNightBuffer(),
		magician: models.MagicianHistory{SwappedPlayers: make(map[int]bool)},
	}
}

// bump 必须在持有写锁时调用
func (gs *GameState) bump(name, detail string) {
	gs.version++
	gs.transitions = append(gs.transitions, models.Transition{
		Version: gs.version,
		Name:    name,
		Detail:  detail,
	})
}

// ID 游戏ID
func (gs *GameState) ID() string {
	return gs.id
}

// Config 开局配置
func (gs *GameState) Config() models.GameConfig {
	return gs.cfg
}

// Version 当前版本号
func (gs *GameState) Version() uint64 {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	return gs.version
}

// Phase 当前阶段
func (gs *GameState) Phase() models.GamePhase {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	return gs.phase
}

// Day 当前天数，第N晚之后是第N天
func (gs *GameState) Day() int {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	return gs.day
}

// NightStep 当前夜晚步骤
func (gs *GameState) NightStep() int {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	return gs.nightStep
}

// Result 胜负结果
func (gs *GameState) Result() models.WinResult {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	return gs.result
}

// Players 玩家列表副本
func (gs *GameState) Players() []models.Player {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	out := make([]models.Player, len(gs.players))
	copy(out, gs.players)
	return out
}

// Player 获取玩家
func (gs *GameState) Player(id int) (models.Player, error) {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	if p := gs.findLocked(id); p != nil {
		return *p, nil
	}
	return models.Player{}, ErrPlayerNotFound
}

func (gs *GameState) findLocked(id int) *models.Player {
	for i := range gs.players {
		if gs.players[i].ID == id {
			return &gs.players[i]
		}
	}
	return nil
}

// Board 规则判定用的只读快照
func (gs *GameState) Board() rules.Board {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	return gs.boardLocked()
}

func (gs *GameState) boardLocked() rules.Board {
	players := make([]models.Player, len(gs.players))
	copy(players, gs.players)

	swapped := make(map[int]bool, len(gs.magician.SwappedPlayers))
	for k, v := range gs.magician.SwappedPlayers {
		swapped[k] = v
	}
	var lastSwap *models.Swap
	if gs.magician.LastSwap != nil {
		s := *gs.magician.LastSwap
		lastSwap = &s
	}

	return rules.Board{
		Night:   gs.day,
		Players: players,
		Tonight: gs.night.Clone(),
		Guard:   models.GuardHistory{LastGuardTarget: cloneTarget(gs.guard.LastGuardTarget)},
		Witch: models.WitchHistory{
			SavedIDs:    append([]int(nil), gs.witch.SavedIDs...),
			PoisonedIDs: append([]int(nil), gs.witch.PoisonedIDs...),
		},
		Magician: models.MagicianHistory{SwappedPlayers: swapped, LastSwap: lastSwap},
		Dream: models.DreamweaverHistory{
			DreamedPlayers:  append([]int(nil), gs.dream.DreamedPlayers...),
			LastDreamTarget: cloneTarget(gs.dream.LastDreamTarget),
		},
		SeerChecks: append([]models.SeerCheck(nil), gs.seerChecks...),
	}
}

// Night 当晚缓冲区副本
func (gs *GameState) Night() models.NightBuffer {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	return gs.night.Clone()
}

// LastNightDeaths 上一晚死亡的玩家，升序
func (gs *GameState) LastNightDeaths() []int {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	return append([]int(nil), gs.lastNightDeaths...)
}

// Speech 查找玩家某天的发言
func (gs *GameState) Speech(playerID, day int) (models.SpeechRecord, bool) {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	for _, s := range gs.speeches {
		if s.PlayerID == playerID && s.Day == day {
			return s, true
		}
	}
	return models.SpeechRecord{}, false
}

// HasSpoken 玩家当天是否已经发言
func (gs *GameState) HasSpoken(playerID, day int) bool {
	_, ok := gs.Speech(playerID, day)
	return ok
}

// VoteRecord 某天的投票记录
func (gs *GameState) VoteRecord(day int) (models.VoteRecord, bool) {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	for _, v := range gs.votes {
		if v.Day == day {
			return v, true
		}
	}
	return models.VoteRecord{}, false
}

// SetPhase 切换阶段，只由GameController调用
func (gs *GameState) SetPhase(phase models.GamePhase) {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	from := gs.phase
	gs.phase = phase
	gs.bump("set_phase", fmt.Sprintf("%s -> %s", from, phase))
}

// BeginNight 进入新的夜晚，清空缓冲区
func (gs *GameState) BeginNight() {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	gs.day++
	gs.nightStep = 0
	gs.night = models.NewNightBuffer()
	gs.lastNightDeaths = nil
	gs.bump("begin_night", fmt.Sprintf("night %d", gs.day))
}

// AdvanceNightStep 夜晚步骤前进一步
func (gs *GameState) AdvanceNightStep() {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	gs.nightStep++
	gs.bump("advance_night_step", fmt.Sprintf("step %d", gs.nightStep))
}

// commitSlot 写入单个夜晚技能槽位
func (gs *GameState) commitSlot(expected uint64, role models.Role, detail string, apply func(nb *models.NightBuffer)) error {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	if gs.version != expected {
		return ErrStaleVersion
	}
	if gs.night.Filled[role] {
		return ErrSlotFilled
	}
	apply(&gs.night)
	gs.night.Filled[role] = true
	gs.bump("commit_"+string(role), detail)
	return nil
}

// CommitGuard 提交守卫目标，nil为空守
func (gs *GameState) CommitGuard(expected uint64, target *int) error {
	return gs.commitSlot(expected, models.Guard, targetString(target), func(nb *models.NightBuffer) {
		nb.GuardTarget = cloneTarget(target)
	})
}

// CommitMagician 提交魔术师交换，nil为不交换
func (gs *GameState) CommitMagician(expected uint64, swap *models.Swap) error {
	detail := "none"
	if swap != nil {
		detail = fmt.Sprintf("%d<->%d", swap.A, swap.B)
	}
	return gs.commitSlot(expected, models.Magician, detail, func(nb *models.NightBuffer) {
		if swap != nil {
			s := *swap
			nb.MagicianSwap = &s
		}
	})
}

// CommitDream 提交摄梦目标
func (gs *GameState) CommitDream(expected uint64, target *int) error {
	return gs.commitSlot(expected, models.Dreamweaver, targetString(target), func(nb *models.NightBuffer) {
		nb.DreamTarget = cloneTarget(target)
	})
}

// CommitWolf 提交狼人刀口
func (gs *GameState) CommitWolf(expected uint64, target *int, skipKill bool) error {
	detail := targetString(target)
	if skipKill {
		detail = "skip"
	}
	return gs.commitSlot(expected, models.Werewolf, detail, func(nb *models.NightBuffer) {
		nb.WolfSkipKill = skipKill
		if !skipKill {
			nb.WolfTarget = cloneTarget(target)
		}
	})
}

// CommitSeer 提交查验结果，并记入预言家的查验记录
func (gs *GameState) CommitSeer(expected uint64, check *models.SeerCheck) error {
	detail := "none"
	if check != nil {
		detail = fmt.Sprintf("%d checks %d", check.SeerID, check.TargetID)
	}
	return gs.commitSlot(expected, models.Seer, detail, func(nb *models.NightBuffer) {
		if check == nil {
			return
		}
		c := *check
		nb.SeerResult = &c
		gs.seerChecks = append(gs.seerChecks, c)
	})
}

// CommitWitch 提交女巫用药
func (gs *GameState) CommitWitch(expected uint64, save bool, poison *int) error {
	detail := fmt.Sprintf("save=%t poison=%s", save, targetString(poison))
	return gs.commitSlot(expected, models.Witch, detail, func(nb *models.NightBuffer) {
		nb.WitchSave = save
		nb.WitchPoison = cloneTarget(poison)
	})
}

// ApplyNightOutcome 写入夜晚结算结果并更新各角色记忆，返回死亡玩家
func (gs *GameState) ApplyNightOutcome(out NightOutcome) []int {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()

	nb := gs.night
	dead := make([]int, 0, len(out.Deaths))
	for _, d := range out.Deaths {
		if gs.killLocked(models.DeathAtNight, d.PlayerID, d.Cause, d.Poisoned) {
			dead = append(dead, d.PlayerID)
		}
	}
	sort.Ints(dead)

	// 守卫记的是原始目标
	gs.guard.LastGuardTarget = cloneTarget(nb.GuardTarget)
	if nb.Filled[models.Guard] {
		gs.guardLog = append(gs.guardLog, models.GuardRecord{Night: gs.day, TargetID: cloneTarget(nb.GuardTarget)})
	}

	if nb.WitchSave && nb.WolfTarget != nil {
		gs.witch.SavedIDs = append(gs.witch.SavedIDs, *nb.WolfTarget)
		gs.updateRoleLocked(models.Witch, func(p *models.Player) { p.Ability.HasSave = false })
	}
	if nb.WitchPoison != nil {
		gs.witch.PoisonedIDs = append(gs.witch.PoisonedIDs, *nb.WitchPoison)
		gs.updateRoleLocked(models.Witch, func(p *models.Player) { p.Ability.HasPoison = false })
	}

	if nb.MagicianSwap != nil {
		s := *nb.MagicianSwap
		gs.magician.SwappedPlayers[s.A] = true
		gs.magician.SwappedPlayers[s.B] = true
		gs.magician.LastSwap = &s
	} else {
		gs.magician.LastSwap = nil
	}

	if out.FinalDream != nil {
		gs.dream.DreamedPlayers = append(gs.dream.DreamedPlayers, *out.FinalDream)
	}
	gs.dream.LastDreamTarget = cloneTarget(out.FinalDream)

	gs.lastNightDeaths = dead
	gs.night = models.NewNightBuffer()
	gs.bump("apply_night_outcome", fmt.Sprintf("night %d deaths %v", gs.day, dead))
	return dead
}

func (gs *GameState) updateRoleLocked(role models.Role, fn func(p *models.Player)) {
	for i := range gs.players {
		if gs.players[i].Role == role {
			fn(&gs.players[i])
		}
	}
}

// killLocked 标记死亡并追加死亡记录，已死亡的玩家不重复记录
func (gs *GameState) killLocked(phase models.DeathPhase, id int, cause string, poisoned bool) bool {
	p := gs.findLocked(id)
	if p == nil || !p.Alive {
		return false
	}
	p.Alive = false
	if poisoned {
		p.Ability.CanShoot = false
	}
	gs.deaths = append(gs.deaths, models.DeathRecord{
		Day:      gs.day,
		Phase:    phase,
		PlayerID: id,
		Cause:    cause,
	})
	return true
}

// ShootPlayer 猎人开枪：目标死亡，猎人失去开枪能力
func (gs *GameState) ShootPlayer(expected uint64, hunterID, targetID int) error {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	if gs.version != expected {
		return ErrStaleVersion
	}
	hunter := gs.findLocked(hunterID)
	if hunter == nil {
		return ErrPlayerNotFound
	}
	if !hunter.Ability.CanShoot {
		return rules.ErrCannotShoot
	}
	hunter.Ability.CanShoot = false
	gs.killLocked(models.DeathByHunter, targetID, models.CauseHunterShot, false)
	gs.bump("hunter_shoot", fmt.Sprintf("%d shoots %d", hunterID, targetID))
	return nil
}

// RevokeShot 猎人放弃或无法开枪
func (gs *GameState) RevokeShot(hunterID int) {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	if p := gs.findLocked(hunterID); p != nil && p.Ability.CanShoot {
		p.Ability.CanShoot = false
		gs.bump("revoke_shot", fmt.Sprintf("%d", hunterID))
	}
}

// Duel 骑士决斗，loserID死亡
func (gs *GameState) Duel(expected uint64, knightID, loserID int, cause string) error {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	if gs.version != expected {
		return ErrStaleVersion
	}
	knight := gs.findLocked(knightID)
	if knight == nil {
		return ErrPlayerNotFound
	}
	if knight.Ability.HasDueled {
		return rules.ErrAlreadyDueled
	}
	knight.Ability.HasDueled = true
	gs.killLocked(models.DeathByDuel, loserID, cause, false)
	gs.bump("duel", fmt.Sprintf("%d duels, %d dies", knightID, loserID))
	return nil
}

// AppendSpeech 追加发言记录，每人每天一条
func (gs *GameState) AppendSpeech(expected uint64, rec models.SpeechRecord) error {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	if gs.version != expected {
		return ErrStaleVersion
	}
	for _, s := range gs.speeches {
		if s.PlayerID == rec.PlayerID && s.Day == rec.Day {
			return ErrDuplicateSpeech
		}
	}
	rec.VoteIntention = cloneTarget(rec.VoteIntention)
	gs.speeches = append(gs.speeches, rec)
	gs.bump("append_speech", fmt.Sprintf("day %d player %d", rec.Day, rec.PlayerID))
	return nil
}

// AppendVote 追加当天投票记录并放逐出局玩家
func (gs *GameState) AppendVote(expected uint64, rec models.VoteRecord) error {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	if gs.version != expected {
		return ErrStaleVersion
	}
	for _, v := range gs.votes {
		if v.Day == rec.Day {
			return ErrDuplicateVote
		}
	}
	rec.Votes = append([]models.Vote(nil), rec.Votes...)
	rec.Eliminated = cloneTarget(rec.Eliminated)
	gs.votes = append(gs.votes, rec)
	if rec.Eliminated != nil {
		gs.killLocked(models.DeathByVote, *rec.Eliminated, models.CauseVotedOut, false)
	}
	gs.bump("append_vote", fmt.Sprintf("day %d eliminated %s", rec.Day, targetString(rec.Eliminated)))
	return nil
}

// Announce 追加公告
func (gs *GameState) Announce(text string) {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	gs.announcements = append(gs.announcements, models.Announcement{Day: gs.day, Text: text})
	gs.bump("announce", text)
}

// SetResult 记录胜负
func (gs *GameState) SetResult(result models.WinResult) {
	gs.mutex.Lock()
	defer gs.mutex.Unlock()
	gs.result = result
	gs.bump("set_result", string(result))
}

// Snapshot 对外展示的游戏状态
type Snapshot struct {
	GameID        string                `json:"game_id"`
	Version       uint64                `json:"version"`
	Phase         models.GamePhase      `json:"phase"`
	Day           int                   `json:"day"`
	NightStep     int                   `json:"night_step"`
	Players       []models.Player       `json:"players"`
	Deaths        []models.DeathRecord  `json:"deaths"`
	Votes         []models.VoteRecord   `json:"votes"`
	Speeches      []models.SpeechRecord `json:"speeches"`
	Announcements []models.Announcement `json:"announcements"`
	Result        models.WinResult      `json:"result"`
}

// Snapshot 获取状态快照
func (gs *GameState) Snapshot() Snapshot {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	players := make([]models.Player, len(gs.players))
	copy(players, gs.players)
	return Snapshot{
		GameID:        gs.id,
		Version:       gs.version,
		Phase:         gs.phase,
		Day:           gs.day,
		NightStep:     gs.nightStep,
		Players:       players,
		Deaths:        append([]models.DeathRecord(nil), gs.deaths...),
		Votes:         append([]models.VoteRecord(nil), gs.votes...),
		Speeches:      append([]models.SpeechRecord(nil), gs.speeches...),
		Announcements: append([]models.Announcement(nil), gs.announcements...),
		Result:        gs.result,
	}
}

// PublicView 隐藏所有身份，游戏结束后全部公开
func (s Snapshot) PublicView() Snapshot {
	return s.view(func(models.Player) bool { return false })
}

// ViewFor 玩家视角：能看到自己的身份，狼人能看到狼队友
func (s Snapshot) ViewFor(playerID int) Snapshot {
	var self models.Player
	for _, p := range s.Players {
		if p.ID == playerID {
			self = p
		}
	}
	return s.view(func(p models.Player) bool {
		if p.ID == playerID {
			return true
		}
		return self.Role == models.Werewolf && p.Role == models.Werewolf
	})
}

func (s Snapshot) view(visible func(models.Player) bool) Snapshot {
	if s.Phase == models.PhaseGameOver {
		return s
	}
	players := make([]models.Player, len(s.Players))
	for i, p := range s.Players {
		if !visible(p) {
			p.Role = ""
			p.Ability = models.AbilityState{}
		}
		players[i] = p
	}
	s.Players = players
	return s
}

// Summary 导出对局摘要
func (gs *GameState) Summary() models.GameSummary {
	gs.mutex.RLock()
	defer gs.mutex.RUnlock()
	players := make([]models.Player, len(gs.players))
	copy(players, gs.players)
	return models.GameSummary{
		GameID:        gs.id,
		Players:       players,
		DeathHistory:  append([]models.DeathRecord(nil), gs.deaths...),
		VoteHistory:   append([]models.VoteRecord(nil), gs.votes...),
		SpeechHistory: append([]models.SpeechRecord(nil), gs.speeches...),
		SeerChecks:    append([]models.SeerCheck(nil), gs.seerChecks...),
		GuardHistory:  append([]models.GuardRecord(nil), gs.guardLog...),
		WitchHistory: models.WitchHistory{
			SavedIDs:    append([]int(nil), gs.witch.SavedIDs...),
			PoisonedIDs: append([]int(nil), gs.witch.PoisonedIDs...),
		},
		VictoryMode:   gs.cfg.VictoryMode,
		Result:        gs.result,
		Announcements: append([]models.Announcement(nil), gs.announcements...),
		Transitions:   append([]models.Transition(nil), gs.transitions...),
	}
}

func cloneTarget(p *int) *int {
	if p == nil {
		return nil
	}
	return models.Target(*p)
}

func targetString(p *int) string {
	if p == nil {
		return "none"
	}
	return fmt.Sprintf("%d", *p)
}
