package services

import (
	"context"
	"fmt"
	"log"
	"math/rand"

	"github.com/qianlnk/werewolf-judge/models"
	"github.com/qianlnk/werewolf-judge/rules"
)

// nightPriority 夜晚行动顺序，女巫需要狼人刀口所以总在最后
var nightPriority = []models.Role{
	models.Guard,
	models.Magician,
	models.Dreamweaver,
	models.Werewolf,
	models.Seer,
	models.Witch,
}

// NightSequence 按分配到的角色生成夜晚行动顺序
func NightSequence(players []models.Player) []models.Role {
	present := make(map[models.Role]bool)
	for _, p := range players {
		present[p.Role] = true
	}
	seq := make([]models.Role, 0, len(nightPriority))
	for _, role := range nightPriority {
		if present[role] {
			seq = append(seq, role)
		}
	}
	return seq
}

// NightDeath 夜晚死亡
type NightDeath struct {
	PlayerID int    `json:"player_id"`
	Cause    string `json:"cause"`
	Poisoned bool   `json:"poisoned"`
}

// NightOutcome 夜晚结算结果
type NightOutcome struct {
	Deaths      []NightDeath `json:"deaths"`
	FinalWolf   *int         `json:"final_wolf"`
	FinalPoison *int         `json:"final_poison"`
	FinalGuard  *int         `json:"final_guard"`
	FinalDream  *int         `json:"final_dream"`
	DreamImmune *int         `json:"dream_immune"`
	Consecutive bool         `json:"consecutive"`
	Notes       []string     `json:"notes"`
}

// Died 该玩家是否在本晚死亡
func (o NightOutcome) Died(id int) bool {
	for _, d := range o.Deaths {
		if d.PlayerID == id {
			return true
		}
	}
	return false
}

// NightInput 结算所需的输入
type NightInput struct {
	Buffer          models.NightBuffer
	LastDreamTarget *int
	DreamweaverID   *int // 入夜时存活的摄梦人
}

// ResolveNight 夜晚结算
func ResolveNight(in NightInput) NightOutcome {
	nb := in.Buffer
	swap := nb.MagicianSwap

	out := NightOutcome{
		FinalPoison: rules.ApplySwapTarget(nb.WitchPoison, swap),
		FinalGuard:  rules.ApplySwapTarget(nb.GuardTarget, swap),
		FinalDream:  rules.ApplySwapTarget(nb.DreamTarget, swap),
	}
	if !nb.WolfSkipKill {
		out.FinalWolf = rules.ApplySwapTarget(nb.WolfTarget, swap)
	}

	add := func(id int, cause string, poisoned bool) {
		for i := range out.Deaths {
			if out.Deaths[i].PlayerID == id {
				out.Deaths[i].Poisoned = out.Deaths[i].Poisoned || poisoned
				return
			}
		}
		out.Deaths = append(out.Deaths, NightDeath{PlayerID: id, Cause: cause, Poisoned: poisoned})
	}

	// 连梦优先级最高，当晚不再有梦境免疫
	if out.FinalDream != nil && in.LastDreamTarget != nil && *out.FinalDream == *in.LastDreamTarget {
		out.Consecutive = true
		add(*out.FinalDream, models.CauseDreamConsecutive, false)
	} else if out.FinalDream != nil {
		out.DreamImmune = models.Target(*out.FinalDream)
	}
	immune := func(id int) bool {
		return out.DreamImmune != nil && *out.DreamImmune == id
	}

	if out.FinalWolf != nil {
		target := *out.FinalWolf
		guarded := out.FinalGuard != nil && *out.FinalGuard == target
		saved := nb.WitchSave
		switch {
		case immune(target):
			out.Notes = append(out.Notes, fmt.Sprintf("%d号梦境免疫", target))
		case guarded && saved:
			add(target, models.CauseGuardAndSave, false)
		case guarded || saved:
			out.Notes = append(out.Notes, fmt.Sprintf("%d号被守护或解救", target))
		default:
			add(target, models.CauseWolfKill, false)
		}
	}

	if out.FinalPoison != nil {
		if immune(*out.FinalPoison) {
			out.Notes = append(out.Notes, fmt.Sprintf("%d号梦境免疫毒药", *out.FinalPoison))
		} else {
			add(*out.FinalPoison, models.CausePoison, true)
		}
	}

	// 摄梦人死亡，梦中人同生共死
	if !out.Consecutive && in.DreamweaverID != nil && out.FinalDream != nil && out.Died(*in.DreamweaverID) {
		add(*out.FinalDream, models.CauseDreamSympathy, false)
	}

	return out
}

// NightEngine 夜晚流程：按顺序逐个角色行动，最后统一结算
type NightEngine struct {
	state    *GameState
	broker   *DecisionBroker
	events   EventSink
	sequence []models.Role
	rng      *rand.Rand
	logger   *log.Logger
}

// NewNightEngine 创建夜晚引擎
func NewNightEngine(state *GameState, broker *DecisionBroker, events EventSink, rng *rand.Rand, logger *log.Logger) *NightEngine {
	return &NightEngine{
		state:    state,
		broker:   broker,
		events:   events,
		sequence: NightSequence(state.Players()),
		rng:      rng,
		logger:   logger,
	}
}

// Sequence 夜晚行动顺序
func (ne *NightEngine) Sequence() []models.Role {
	return append([]models.Role(nil), ne.sequence...)
}

// Run 从当前步骤继续执行到所有角色行动完毕
func (ne *NightEngine) Run(ctx context.Context) error {
	for {
		step := ne.state.NightStep()
		if step >= len(ne.sequence) {
			return nil
		}
		if err := ne.RunStep(ctx, ne.sequence[step]); err != nil {
			return err
		}
		if !ne.broker.Active() {
			return ErrGameInactive
		}
		ne.state.AdvanceNightStep()
	}
}

// actorFor 选出当晚行动的玩家，狼人优先由真人玩家决定
func actorFor(role models.Role, board rules.Board) (models.Player, bool) {
	actors := board.AliveWithRole(role)
	if len(actors) == 0 {
		return models.Player{}, false
	}
	for _, a := range actors {
		if a.IsUser() {
			return a, true
		}
	}
	return actors[0], true
}

// RunStep 执行单个角色的夜晚行动
func (ne *NightEngine) RunStep(ctx context.Context, role models.Role) error {
	board := ne.state.Board()
	actor, ok := actorFor(role, board)
	if !ok {
		ne.logger.Printf("[夜晚] 第%d晚 %s 无存活玩家，跳过", board.Night, role.DisplayName())
		return nil
	}
	ability, err := rules.For(role)
	if err != nil {
		return err
	}

	version := ne.state.Version()
	req := DecisionRequest{
		Key:     RequestKey{PlayerID: actor.ID, Day: board.Night, Step: nightSteps[role]},
		Role:    role,
		Player:  actor,
		Board:   board,
		Context: nightContext(role, actor, ability, board),
	}
	req.Context["speeches"] = ne.previousSpeeches(board.Night - 1)
	d, err := ne.broker.Request(ctx, req)
	if aborted(err) {
		return err
	}
	var proposed *models.Decision
	if err != nil {
		ne.logger.Printf("[夜晚] %d号 %s 决策失败，使用兜底: %v", actor.ID, role.DisplayName(), err)
	} else {
		proposed = &d
	}

	res, err := rules.Resolve(ability, actor, proposed, board, ne.rng)
	if res.Rejected != nil {
		ne.logger.Printf("[夜晚] %d号 %s 决策无效(%v)，使用兜底", actor.ID, role.DisplayName(), res.Rejected)
	}
	if err != nil {
		ne.logger.Printf("[错误] 第%d晚 %s %v，本轮技能视为空操作", board.Night, role.DisplayName(), err)
		res.Decision = models.Decision{}
	}

	if err := ne.commit(version, role, actor, res.Decision, board); err != nil {
		ne.logger.Printf("[夜晚] %d号 %s 的结果被丢弃: %v", actor.ID, role.DisplayName(), err)
	}
	return nil
}

func (ne *NightEngine) commit(version uint64, role models.Role, actor models.Player, d models.Decision, board rules.Board) error {
	switch role {
	case models.Guard:
		return ne.state.CommitGuard(version, d.TargetID)
	case models.Magician:
		return ne.state.CommitMagician(version, d.Swap())
	case models.Dreamweaver:
		return ne.state.CommitDream(version, d.TargetID)
	case models.Werewolf:
		return ne.state.CommitWolf(version, d.TargetID, d.SkipKill)
	case models.Seer:
		if d.TargetID == nil {
			return ne.state.CommitSeer(version, nil)
		}
		// 查验对象在查验时按魔术师交换重定向，记忆里保留原始选择
		revealed := rules.ApplySwap(*d.TargetID, board.Tonight.MagicianSwap)
		target, _ := board.Player(revealed)
		check := &models.SeerCheck{
			Night:      board.Night,
			SeerID:     actor.ID,
			TargetID:   *d.TargetID,
			RevealedID: revealed,
			IsWerewolf: target.Role == models.Werewolf,
		}
		if err := ne.state.CommitSeer(version, check); err != nil {
			return err
		}
		ne.events.SendToPlayer(ne.state.ID(), actor.ID, Event{
			Type:    "seer_result",
			Day:     board.Night,
			Payload: map[string]interface{}{"target_id": check.TargetID, "is_werewolf": check.IsWerewolf},
		})
		return nil
	case models.Witch:
		var poison *int
		if d.UsePoison {
			poison = d.TargetID
		}
		return ne.state.CommitWitch(version, d.UseSave, poison)
	}
	return rules.ErrNoAbility
}

// nightContext 提供给决策方的上下文
func nightContext(role models.Role, actor models.Player, ability rules.Ability, board rules.Board) map[string]interface{} {
	ctx := map[string]interface{}{
		"night":         board.Night,
		"role":          role,
		"valid_targets": ability.ValidTargets(actor, board),
		"alive":         board.AliveIDs(),
	}
	switch role {
	case models.Werewolf:
		mates := make([]int, 0)
		for _, p := range board.AliveWithRole(models.Werewolf) {
			mates = append(mates, p.ID)
		}
		ctx["teammates"] = mates
	case models.Witch:
		ctx["has_save"] = actor.Ability.HasSave
		ctx["has_poison"] = actor.Ability.HasPoison
		if rules.CanSave(actor, board) == nil {
			ctx["wolf_target"] = *board.Tonight.WolfTarget
		}
	case models.Guard:
		ctx["last_guard_target"] = board.Guard.LastGuardTarget
	case models.Dreamweaver:
		ctx["last_dream_target"] = board.Dream.LastDreamTarget
	}
	return ctx
}

// previousSpeeches 前一天白天的发言
func (ne *NightEngine) previousSpeeches(day int) []models.SpeechRecord {
	out := make([]models.SpeechRecord, 0)
	for _, s := range ne.state.Snapshot().Speeches {
		if s.Day == day {
			out = append(out, s)
		}
	}
	return out
}

// Resolve 结算当晚结果并写入状态，返回死亡玩家
func (ne *NightEngine) Resolve() (NightOutcome, []int) {
	board := ne.state.Board()
	in := NightInput{
		Buffer:          board.Tonight,
		LastDreamTarget: board.Dream.LastDreamTarget,
	}
	if dws := board.AliveWithRole(models.Dreamweaver); len(dws) > 0 {
		in.DreamweaverID = models.Target(dws[0].ID)
	}
	out := ResolveNight(in)
	for _, note := range out.Notes {
		ne.logger.Printf("[夜晚结算] 第%d晚 %s", board.Night, note)
	}
	dead := ne.state.ApplyNightOutcome(out)
	ne.logger.Printf("[夜晚结算] 第%d晚 死亡: %v", board.Night, dead)
	return out, dead
}
