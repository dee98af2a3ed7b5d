package services

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"

	"github.com/qianlnk/werewolf-judge/models"
	"github.com/qianlnk/werewolf-judge/rules"
)

// 性格特征
const (
	PersonalityAggressive = "aggressive" // 激进
	PersonalityCautious   = "cautious"   // 谨慎
	PersonalityStrategic  = "strategic"  // 策略
	PersonalityRandom     = "random"     // 随机
)

var personalities = []string{
	PersonalityAggressive,
	PersonalityCautious,
	PersonalityStrategic,
	PersonalityRandom,
}

// RuleAgent 基于规则的AI决策方，没有接入LLM时使用
type RuleAgent struct {
	rng           *rand.Rand
	dialogue      *AIDialogue
	personalities map[int]string
	mutex         sync.Mutex
}

// NewRuleAgent 创建规则AI
func NewRuleAgent(seed int64) *RuleAgent {
	rng := rand.New(rand.NewSource(seed))
	return &RuleAgent{
		rng:           rng,
		dialogue:      NewAIDialogue(rng),
		personalities: make(map[int]string),
	}
}

// SetPersonality 指定某个座位的性格
func (ai *RuleAgent) SetPersonality(playerID int, personality string) {
	ai.mutex.Lock()
	defer ai.mutex.Unlock()
	ai.personalities[playerID] = personality
}

func (ai *RuleAgent) personalityOf(playerID int) string {
	if p, ok := ai.personalities[playerID]; ok {
		return p
	}
	p := personalities[ai.rng.Intn(len(personalities))]
	ai.personalities[playerID] = p
	return p
}

// Decide 实现Agent
func (ai *RuleAgent) Decide(ctx context.Context, req DecisionRequest) (models.Decision, error) {
	if err := ctx.Err(); err != nil {
		return models.Decision{}, err
	}
	ai.mutex.Lock()
	defer ai.mutex.Unlock()

	v := newAIView(req, ai.personalityOf(req.Player.ID))
	switch req.Key.Step {
	case StepGuard:
		return ai.selectProtectTarget(v), nil
	case StepMagician:
		return ai.selectSwap(v), nil
	case StepDreamweaver:
		return ai.selectDreamTarget(v), nil
	case StepWerewolf:
		return ai.selectKillTarget(v), nil
	case StepSeer:
		return ai.selectCheckTarget(v), nil
	case StepWitch:
		return ai.decideWitchAction(v), nil
	case StepSpeech:
		return ai.decideSpeech(v), nil
	case StepVote:
		return ai.selectVoteTarget(v), nil
	case StepHunter:
		return ai.selectShootTarget(v), nil
	}
	return models.Decision{}, fmt.Errorf("不支持的决策步骤: %s", req.Key.Step)
}

// aiView AI玩家能看到的信息
type aiView struct {
	self        models.Player
	personality string
	board       rules.Board
	day         int
	known       map[int]models.Role // 已知的玩家角色，预言家查到的好人记为村民
	speeches    []models.SpeechRecord
}

func newAIView(req DecisionRequest, personality string) *aiView {
	v := &aiView{
		self:        req.Player,
		personality: personality,
		board:       req.Board,
		day:         req.Key.Day,
		known:       map[int]models.Role{req.Player.ID: req.Player.Role},
	}
	if speeches, ok := req.Context["speeches"].([]models.SpeechRecord); ok {
		v.speeches = speeches
	}
	switch req.Player.Role {
	case models.Werewolf:
		for _, p := range req.Board.Players {
			if p.Role == models.Werewolf {
				v.known[p.ID] = models.Werewolf
			}
		}
	case models.Seer:
		for _, c := range req.Board.SeerChecks {
			if c.SeerID != req.Player.ID {
				continue
			}
			if c.IsWerewolf {
				v.known[c.TargetID] = models.Werewolf
			} else {
				v.known[c.TargetID] = models.Villager
			}
		}
	}
	return v
}

func (v *aiView) isWolf(id int) bool {
	return v.known[id] == models.Werewolf
}

func (v *aiView) isKnownGood(id int) bool {
	role, ok := v.known[id]
	return ok && role != models.Werewolf
}

// others 除自己外的存活玩家
func (v *aiView) others() []int {
	out := make([]int, 0)
	for _, id := range v.board.AliveIDs() {
		if id != v.self.ID {
			out = append(out, id)
		}
	}
	return out
}

// isSuspicious 判断玩家是否可疑：已知狼人，或者发言时把票投向已知好人
func (v *aiView) isSuspicious(id int) bool {
	if v.self.Role != models.Werewolf && v.isWolf(id) {
		return true
	}
	for _, s := range v.speeches {
		if s.PlayerID != id || s.VoteIntention == nil {
			continue
		}
		if v.self.Role == models.Werewolf {
			// 对狼人来说，踩狼队友的人最可疑
			if v.isWolf(*s.VoteIntention) {
				return true
			}
		} else if v.isKnownGood(*s.VoteIntention) {
			return true
		}
	}
	return false
}

// isActive 当天是否已经发言
func (v *aiView) isActive(id int) bool {
	for _, s := range v.speeches {
		if s.PlayerID == id {
			return true
		}
	}
	return false
}

// popularTarget 当天发言中被点名最多的玩家
func (v *aiView) popularTarget() (int, bool) {
	counts := make(map[int]int)
	best, top := 0, 0
	for _, s := range v.speeches {
		if s.VoteIntention == nil || *s.VoteIntention == v.self.ID || !v.board.IsAlive(*s.VoteIntention) {
			continue
		}
		counts[*s.VoteIntention]++
		n := counts[*s.VoteIntention]
		if n > top || (n == top && *s.VoteIntention < best) {
			best, top = *s.VoteIntention, n
		}
	}
	return best, top > 0
}

func filter(ids []int, keep func(int) bool) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if keep(id) {
			out = append(out, id)
		}
	}
	return out
}

func (ai *RuleAgent) pick(ids []int) *int {
	if len(ids) == 0 {
		return nil
	}
	return models.Target(ids[ai.rng.Intn(len(ids))])
}

// pickPreferred 优先从preferred中选，没有时退回all
func (ai *RuleAgent) pickPreferred(preferred, all []int) *int {
	if t := ai.pick(preferred); t != nil {
		return t
	}
	return ai.pick(all)
}

// selectProtectTarget 选择守护目标
func (ai *RuleAgent) selectProtectTarget(v *aiView) models.Decision {
	ability, _ := rules.For(models.Guard)
	valid := ability.ValidTargets(v.self, v.board)

	switch v.personality {
	case PersonalityCautious:
		// 谨慎型守卫偶尔空守，避免同守同救
		if ai.rng.Float64() < 0.25 {
			return models.Decision{}
		}
		return models.Decision{TargetID: ai.pick(valid)}
	case PersonalityStrategic:
		// 优先守护发言活跃的玩家
		active := filter(valid, func(id int) bool { return id != v.self.ID && v.isActive(id) })
		return models.Decision{TargetID: ai.pickPreferred(active, valid)}
	default:
		return models.Decision{TargetID: ai.pick(valid)}
	}
}

// selectSwap 魔术师交换
func (ai *RuleAgent) selectSwap(v *aiView) models.Decision {
	if v.personality == PersonalityCautious || ai.rng.Float64() < 0.5 {
		return models.Decision{}
	}
	ability, _ := rules.For(models.Magician)
	valid := ability.ValidTargets(v.self, v.board)
	if len(valid) < 2 {
		return models.Decision{}
	}
	perm := ai.rng.Perm(len(valid))
	return models.Decision{
		Player1ID: models.Target(valid[perm[0]]),
		Player2ID: models.Target(valid[perm[1]]),
	}
}

// selectDreamTarget 摄梦人选择梦游者，除激进型外避免连续两晚同一人
func (ai *RuleAgent) selectDreamTarget(v *aiView) models.Decision {
	valid := v.others()
	if v.personality == PersonalityAggressive {
		return models.Decision{TargetID: ai.pick(valid)}
	}
	last := v.board.Dream.LastDreamTarget
	fresh := filter(valid, func(id int) bool { return last == nil || *last != id })
	return models.Decision{TargetID: ai.pickPreferred(fresh, valid)}
}

// selectKillTarget 选择击杀目标
func (ai *RuleAgent) selectKillTarget(v *aiView) models.Decision {
	ability, _ := rules.For(models.Werewolf)
	valid := ability.ValidTargets(v.self, v.board)

	switch v.personality {
	case PersonalityAggressive:
		// 优先击杀踩狼的玩家
		return models.Decision{TargetID: ai.pickPreferred(filter(valid, v.isSuspicious), valid)}
	case PersonalityStrategic:
		// 优先击杀跳预言家的玩家
		claimed := filter(valid, func(id int) bool {
			for _, s := range v.speeches {
				if s.PlayerID == id && strings.Contains(s.Content, "预言家") {
					return true
				}
			}
			return false
		})
		return models.Decision{TargetID: ai.pickPreferred(claimed, valid)}
	default:
		return models.Decision{TargetID: ai.pick(valid)}
	}
}

// selectCheckTarget 选择查验目标
func (ai *RuleAgent) selectCheckTarget(v *aiView) models.Decision {
	ability, _ := rules.For(models.Seer)
	valid := ability.ValidTargets(v.self, v.board)

	switch v.personality {
	case PersonalityAggressive:
		// 优先查验可疑的玩家
		return models.Decision{TargetID: ai.pickPreferred(filter(valid, v.isSuspicious), valid)}
	case PersonalityCautious:
		// 优先查验安静的玩家
		quiet := filter(valid, func(id int) bool { return !v.isActive(id) })
		return models.Decision{TargetID: ai.pickPreferred(quiet, valid)}
	default:
		return models.Decision{TargetID: ai.pick(valid)}
	}
}

// decideWitchAction 决定女巫行动
func (ai *RuleAgent) decideWitchAction(v *aiView) models.Decision {
	canSave := rules.CanSave(v.self, v.board) == nil
	poisonTargets := filter(v.others(), func(int) bool { return v.self.Ability.HasPoison })

	switch v.personality {
	case PersonalityAggressive:
		// 激进型女巫倾向于使用毒药
		if len(poisonTargets) > 0 && v.day > 1 && ai.rng.Float64() < 0.4 {
			return models.Decision{UsePoison: true, TargetID: ai.pickPreferred(filter(poisonTargets, v.isSuspicious), poisonTargets)}
		}
		if canSave && ai.rng.Float64() < 0.5 {
			return models.Decision{UseSave: true}
		}
	case PersonalityCautious:
		// 谨慎型女巫优先考虑救人
		if canSave {
			return models.Decision{UseSave: true}
		}
	case PersonalityStrategic:
		// 首夜必救，之后看局势
		if canSave && (v.day == 1 || len(v.board.AliveIDs()) <= 6) {
			return models.Decision{UseSave: true}
		}
		suspects := filter(poisonTargets, v.isSuspicious)
		if len(suspects) > 0 && v.day > 2 {
			return models.Decision{UsePoison: true, TargetID: ai.pick(suspects)}
		}
	default:
		if canSave && ai.rng.Float64() < 0.5 {
			return models.Decision{UseSave: true}
		}
		if len(poisonTargets) > 0 && ai.rng.Float64() < 0.2 {
			return models.Decision{UsePoison: true, TargetID: ai.pick(poisonTargets)}
		}
	}
	return models.Decision{}
}

// decideSpeech 生成发言和投票意向
func (ai *RuleAgent) decideSpeech(v *aiView) models.Decision {
	d := models.Decision{}
	switch {
	case v.self.Role == models.Werewolf:
		if v.personality != PersonalityCautious {
			good := filter(v.others(), func(id int) bool { return !v.isWolf(id) })
			d.VoteIntention = ai.pickPreferred(filter(good, v.isSuspicious), good)
		}
	case v.personality != PersonalityCautious:
		suspects := filter(v.others(), v.isSuspicious)
		d.VoteIntention = ai.pick(suspects)
	}

	if v.self.Role == models.Knight && !v.self.Ability.HasDueled &&
		v.personality == PersonalityAggressive && v.day > 1 && ai.rng.Float64() < 0.3 {
		if t := ai.pick(filter(v.others(), v.isSuspicious)); t != nil {
			d.DuelTargetID = t
		}
	}

	d.Content = ai.dialogue.Speech(v, d.VoteIntention)
	return d
}

// selectVoteTarget 选择投票目标
func (ai *RuleAgent) selectVoteTarget(v *aiView) models.Decision {
	others := v.others()
	if v.self.Role == models.Werewolf {
		// 狼人不投狼队友
		others = filter(others, func(id int) bool { return !v.isWolf(id) })
	}

	switch v.personality {
	case PersonalityAggressive:
		return models.Decision{TargetID: ai.pickPreferred(filter(others, v.isSuspicious), others)}
	case PersonalityCautious:
		// 跟随大多数人的意向
		if id, ok := v.popularTarget(); ok && (v.self.Role != models.Werewolf || !v.isWolf(id)) {
			return models.Decision{TargetID: models.Target(id)}
		}
		return models.Decision{TargetID: ai.pick(others)}
	default:
		return models.Decision{TargetID: ai.pickPreferred(filter(others, v.isSuspicious), others)}
	}
}

// selectShootTarget 猎人开枪目标
func (ai *RuleAgent) selectShootTarget(v *aiView) models.Decision {
	others := v.others()
	return models.Decision{TargetID: ai.pickPreferred(filter(others, v.isSuspicious), others)}
}
