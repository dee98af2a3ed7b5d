package rules

import (
	"errors"
	"math/rand"
	"sort"

	"github.com/qianlnk/werewolf-judge/models"
)

var (
	ErrUnknownPlayer   = errors.New("目标玩家不存在")
	ErrTargetDead      = errors.New("目标玩家已死亡")
	ErrTargetSelf      = errors.New("不能以自己为目标")
	ErrTargetRequired  = errors.New("必须选择目标")
	ErrTargetIsWolf    = errors.New("狼人不能袭击狼人")
	ErrRepeatGuard     = errors.New("不能连续两晚守护同一名玩家")
	ErrAlreadyChecked  = errors.New("该玩家已被查验过")
	ErrNoSavePotion    = errors.New("解药已使用")
	ErrNoPoison        = errors.New("毒药已使用")
	ErrSaveAndPoison   = errors.New("同一晚不能同时使用解药和毒药")
	ErrNothingToSave   = errors.New("今晚无人被袭击")
	ErrCannotSaveSelf  = errors.New("女巫只有首夜可以自救")
	ErrSwapSame        = errors.New("不能交换同一名玩家")
	ErrSwapIncomplete  = errors.New("交换需要选择两名玩家")
	ErrSwapUsed        = errors.New("该玩家已被交换过")
	ErrSwapConsecutive = errors.New("不能交换上一晚交换过的玩家")
	ErrAlreadyDueled   = errors.New("骑士已经决斗过")
	ErrCannotShoot     = errors.New("猎人无法开枪")
	ErrActorDead       = errors.New("行动玩家已死亡")
	ErrNoLegalTarget   = errors.New("没有合法目标")
	ErrNoAbility       = errors.New("该角色没有主动技能")
)

// Ability 角色技能
type Ability interface {
	Role() models.Role
	// ValidTargets 当前局面下的合法目标，升序
	ValidTargets(actor models.Player, b Board) []int
	// Validate 校验决策，返回原因
	Validate(actor models.Player, d models.Decision, b Board) error
	// Fallback 决策无效或缺失时的兜底；必选技能随机选择合法目标，可选技能返回空操作
	Fallback(actor models.Player, b Board, rng *rand.Rand) (models.Decision, error)
}

var abilities = map[models.Role]Ability{
	models.Guard:       guardAbility{},
	models.Werewolf:    wolfAbility{},
	models.Seer:        seerAbility{},
	models.Witch:       witchAbility{},
	models.Magician:    magicianAbility{},
	models.Dreamweaver: dreamAbility{},
	models.Knight:      knightAbility{},
	models.Hunter:      hunterAbility{},
}

// For 获取角色技能
func For(role models.Role) (Ability, error) {
	a, ok := abilities[role]
	if !ok {
		return nil, ErrNoAbility
	}
	return a, nil
}

// Outcome 校验后的决策
type Outcome struct {
	Decision models.Decision
	FellBack bool  // 是否使用了兜底策略
	Rejected error // 原决策被拒绝的原因，决策缺失时为nil
}

// Resolve 校验决策，不合法或缺失时使用兜底策略。
// 只有兜底也给不出结果时才返回error（例如必选技能没有合法目标）
func Resolve(a Ability, actor models.Player, d *models.Decision, b Board, rng *rand.Rand) (Outcome, error) {
	out := Outcome{FellBack: true}
	if d != nil {
		err := a.Validate(actor, *d, b)
		if err == nil {
			return Outcome{Decision: *d}, nil
		}
		out.Rejected = err
	}
	fb, err := a.Fallback(actor, b, rng)
	if err != nil {
		return out, err
	}
	out.Decision = fb
	return out, nil
}

func pickRandom(ids []int, rng *rand.Rand) (int, error) {
	if len(ids) == 0 {
		return 0, ErrNoLegalTarget
	}
	return ids[rng.Intn(len(ids))], nil
}

// aliveOthers 除自己外的存活玩家
func aliveOthers(actor models.Player, b Board) []int {
	out := make([]int, 0)
	for _, id := range b.AliveIDs() {
		if id != actor.ID {
			out = append(out, id)
		}
	}
	return out
}

// checkAliveTarget 目标必须存在且存活
func checkAliveTarget(id int, b Board) error {
	p, ok := b.Player(id)
	if !ok {
		return ErrUnknownPlayer
	}
	if !p.Alive {
		return ErrTargetDead
	}
	return nil
}

// 守卫：不能连续两晚守同一人，空守总是合法
type guardAbility struct{}

func (guardAbility) Role() models.Role { return models.Guard }

func (guardAbility) ValidTargets(actor models.Player, b Board) []int {
	out := make([]int, 0)
	for _, id := range b.AliveIDs() {
		if b.Guard.LastGuardTarget != nil && *b.Guard.LastGuardTarget == id {
			continue
		}
		out = append(out, id)
	}
	return out
}

func (guardAbility) Validate(actor models.Player, d models.Decision, b Board) error {
	if d.TargetID == nil {
		return nil
	}
	if err := checkAliveTarget(*d.TargetID, b); err != nil {
		return err
	}
	if b.Guard.LastGuardTarget != nil && *b.Guard.LastGuardTarget == *d.TargetID {
		return ErrRepeatGuard
	}
	return nil
}

func (guardAbility) Fallback(models.Player, Board, *rand.Rand) (models.Decision, error) {
	return models.Decision{}, nil
}

// 狼人：目标存活且不是狼人；不刀是显式决定，不是兜底
type wolfAbility struct{}

func (wolfAbility) Role() models.Role { return models.Werewolf }

func (wolfAbility) ValidTargets(actor models.Player, b Board) []int {
	out := make([]int, 0)
	for _, p := range b.Players {
		if p.Alive && p.Role != models.Werewolf {
			out = append(out, p.ID)
		}
	}
	sort.Ints(out)
	return out
}

func (wolfAbility) Validate(actor models.Player, d models.Decision, b Board) error {
	if d.SkipKill {
		return nil
	}
	if d.TargetID == nil {
		return ErrTargetRequired
	}
	p, ok := b.Player(*d.TargetID)
	if !ok {
		return ErrUnknownPlayer
	}
	if !p.Alive {
		return ErrTargetDead
	}
	if p.Role == models.Werewolf {
		return ErrTargetIsWolf
	}
	return nil
}

func (a wolfAbility) Fallback(actor models.Player, b Board, rng *rand.Rand) (models.Decision, error) {
	id, err := pickRandom(a.ValidTargets(actor, b), rng)
	if err != nil {
		return models.Decision{}, err
	}
	return models.Decision{TargetID: models.Target(id)}, nil
}

// 预言家：目标存活、非自己、未被本预言家查验过
type seerAbility struct{}

func (seerAbility) Role() models.Role { return models.Seer }

func (seerAbility) ValidTargets(actor models.Player, b Board) []int {
	checked := b.checkedBy(actor.ID)
	out := make([]int, 0)
	for _, id := range aliveOthers(actor, b) {
		if !checked[id] {
			out = append(out, id)
		}
	}
	return out
}

func (seerAbility) Validate(actor models.Player, d models.Decision, b Board) error {
	if d.TargetID == nil {
		return ErrTargetRequired
	}
	if *d.TargetID == actor.ID {
		return ErrTargetSelf
	}
	if err := checkAliveTarget(*d.TargetID, b); err != nil {
		return err
	}
	if b.checkedBy(actor.ID)[*d.TargetID] {
		return ErrAlreadyChecked
	}
	return nil
}

func (seerAbility) Fallback(models.Player, Board, *rand.Rand) (models.Decision, error) {
	return models.Decision{}, nil
}

// 女巫：解药和毒药同晚互斥，非首夜不能自救
type witchAbility struct{}

func (witchAbility) Role() models.Role { return models.Witch }

// ValidTargets 毒药的合法目标
func (witchAbility) ValidTargets(actor models.Player, b Board) []int {
	if !actor.Ability.HasPoison {
		return []int{}
	}
	return b.AliveIDs()
}

// CanSave 今晚能否使用解药
func CanSave(actor models.Player, b Board) error {
	if !actor.Ability.HasSave {
		return ErrNoSavePotion
	}
	if b.Tonight.WolfSkipKill || b.Tonight.WolfTarget == nil {
		return ErrNothingToSave
	}
	if *b.Tonight.WolfTarget == actor.ID && b.Night != 1 {
		return ErrCannotSaveSelf
	}
	return nil
}

func (witchAbility) Validate(actor models.Player, d models.Decision, b Board) error {
	if d.UseSave && d.UsePoison {
		return ErrSaveAndPoison
	}
	if d.UseSave {
		return CanSave(actor, b)
	}
	if d.UsePoison {
		if !actor.Ability.HasPoison {
			return ErrNoPoison
		}
		if d.TargetID == nil {
			return ErrTargetRequired
		}
		return checkAliveTarget(*d.TargetID, b)
	}
	return nil
}

func (witchAbility) Fallback(models.Player, Board, *rand.Rand) (models.Decision, error) {
	return models.Decision{}, nil
}

// 魔术师：a≠b，两人存活，整局未被交换过，且不在上一晚的交换中
type magicianAbility struct{}

func (magicianAbility) Role() models.Role { return models.Magician }

func (magicianAbility) ValidTargets(actor models.Player, b Board) []int {
	out := make([]int, 0)
	for _, id := range b.AliveIDs() {
		if swappable(id, b) {
			out = append(out, id)
		}
	}
	return out
}

func swappable(id int, b Board) bool {
	if b.Magician.Used(id) {
		return false
	}
	if b.Magician.LastSwap != nil && b.Magician.LastSwap.Contains(id) {
		return false
	}
	return true
}

func (magicianAbility) Validate(actor models.Player, d models.Decision, b Board) error {
	if d.Player1ID == nil && d.Player2ID == nil {
		return nil
	}
	swap := d.Swap()
	if swap == nil {
		return ErrSwapIncomplete
	}
	if swap.A == swap.B {
		return ErrSwapSame
	}
	for _, id := range []int{swap.A, swap.B} {
		if err := checkAliveTarget(id, b); err != nil {
			return err
		}
		if b.Magician.LastSwap != nil && b.Magician.LastSwap.Contains(id) {
			return ErrSwapConsecutive
		}
		if b.Magician.Used(id) {
			return ErrSwapUsed
		}
	}
	return nil
}

func (magicianAbility) Fallback(models.Player, Board, *rand.Rand) (models.Decision, error) {
	return models.Decision{}, nil
}

// 摄梦人：每晚必须选择一名存活的其他玩家
type dreamAbility struct{}

func (dreamAbility) Role() models.Role { return models.Dreamweaver }

func (dreamAbility) ValidTargets(actor models.Player, b Board) []int {
	return aliveOthers(actor, b)
}

func (dreamAbility) Validate(actor models.Player, d models.Decision, b Board) error {
	if d.TargetID == nil {
		return ErrTargetRequired
	}
	if *d.TargetID == actor.ID {
		return ErrTargetSelf
	}
	return checkAliveTarget(*d.TargetID, b)
}

func (a dreamAbility) Fallback(actor models.Player, b Board, rng *rand.Rand) (models.Decision, error) {
	id, err := pickRandom(a.ValidTargets(actor, b), rng)
	if err != nil {
		return models.Decision{}, err
	}
	return models.Decision{TargetID: models.Target(id)}, nil
}

// 骑士：白天发言时发起，整局一次
type knightAbility struct{}

func (knightAbility) Role() models.Role { return models.Knight }

func (knightAbility) ValidTargets(actor models.Player, b Board) []int {
	if actor.Ability.HasDueled {
		return []int{}
	}
	return aliveOthers(actor, b)
}

func (knightAbility) Validate(actor models.Player, d models.Decision, b Board) error {
	if !actor.Alive {
		return ErrActorDead
	}
	if actor.Ability.HasDueled {
		return ErrAlreadyDueled
	}
	if d.DuelTargetID == nil {
		return ErrTargetRequired
	}
	if *d.DuelTargetID == actor.ID {
		return ErrTargetSelf
	}
	return checkAliveTarget(*d.DuelTargetID, b)
}

// Fallback 不决斗
func (knightAbility) Fallback(models.Player, Board, *rand.Rand) (models.Decision, error) {
	return models.Decision{}, nil
}

// 猎人：未被毒死才能开枪，有合法目标时必须开枪
type hunterAbility struct{}

func (hunterAbility) Role() models.Role { return models.Hunter }

func (hunterAbility) ValidTargets(actor models.Player, b Board) []int {
	if !actor.Ability.CanShoot {
		return []int{}
	}
	return aliveOthers(actor, b)
}

func (hunterAbility) Validate(actor models.Player, d models.Decision, b Board) error {
	if !actor.Ability.CanShoot {
		return ErrCannotShoot
	}
	if d.TargetID == nil {
		return ErrTargetRequired
	}
	if *d.TargetID == actor.ID {
		return ErrTargetSelf
	}
	return checkAliveTarget(*d.TargetID, b)
}

func (a hunterAbility) Fallback(actor models.Player, b Board, rng *rand.Rand) (models.Decision, error) {
	id, err := pickRandom(a.ValidTargets(actor, b), rng)
	if err != nil {
		return models.Decision{}, err
	}
	return models.Decision{TargetID: models.Target(id)}, nil
}
