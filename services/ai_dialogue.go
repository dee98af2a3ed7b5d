package services

import (
	"fmt"
	"math/rand"

	"github.com/qianlnk/werewolf-judge/models"
)

// AIDialogue AI发言生成器
type AIDialogue struct {
	rng *rand.Rand
}

// NewAIDialogue 创建AI发言生成器实例，rng由调用方加锁保护
func NewAIDialogue(rng *rand.Rand) *AIDialogue {
	return &AIDialogue{rng: rng}
}

var dayLines = map[models.Role]map[string]string{
	models.Werewolf: {
		PersonalityAggressive: "我觉得有人在伪装预言家，我们应该投他",
		PersonalityCautious:   "大家要冷静分析，不要轻易相信任何人的发言",
		PersonalityStrategic:  "我们应该先听听预言家的发言，再做判断",
	},
	models.Seer: {
		PersonalityCautious:  "作为预言家，我建议大家要谨慎行动",
		PersonalityStrategic: "我有重要信息要分享，但现在说可能为时过早",
	},
	models.Witch: {
		PersonalityAggressive: "我知道一些重要的信息，但需要大家配合",
		PersonalityCautious:   "我们要小心行事，不要轻易相信任何人",
		PersonalityStrategic:  "让我们先听听大家的想法，再做决定",
	},
	models.Guard: {
		PersonalityAggressive: "我们必须保护好重要的角色",
		PersonalityCautious:   "大家要注意安全，狼人可能会有突然袭击",
		PersonalityStrategic:  "我觉得我们应该制定一个保护策略",
	},
	models.Villager: {
		PersonalityAggressive: "我觉得有人行为很可疑，应该仔细观察",
		PersonalityCautious:   "我们要相信预言家，但也要防止有人冒充",
		PersonalityStrategic:  "让我们分析一下每个人的发言，找出线索",
	},
}

var fallbackLines = []string{
	"让我们好好分析一下局势",
	"大家有什么想法吗？",
	"我们要团结一致找出狼人",
	"昨晚的情况大家怎么看？",
	"大家有没有发现什么可疑的人？",
}

// Speech 生成发言内容，有投票意向时附上点名
func (ad *AIDialogue) Speech(v *aiView, intention *int) string {
	line := ad.baseLine(v)
	if v.self.Role == models.Seer && v.personality == PersonalityAggressive {
		line = ad.seerReport(v)
	}
	if intention != nil {
		return fmt.Sprintf("%s。我认为%d号比较可疑，建议大家投票给ta", line, *intention)
	}
	return line
}

func (ad *AIDialogue) baseLine(v *aiView) string {
	if byPersonality, ok := dayLines[v.self.Role]; ok {
		if line, ok := byPersonality[v.personality]; ok {
			return line
		}
	}
	return fallbackLines[ad.rng.Intn(len(fallbackLines))]
}

// seerReport 激进型预言家直接报出最近一次查验
func (ad *AIDialogue) seerReport(v *aiView) string {
	var last *models.SeerCheck
	for i := range v.board.SeerChecks {
		if v.board.SeerChecks[i].SeerID == v.self.ID {
			last = &v.board.SeerChecks[i]
		}
	}
	if last == nil {
		return "我是预言家，暂时还没有查验结果"
	}
	if last.IsWerewolf {
		return fmt.Sprintf("我是预言家，昨晚查验了%d号，是狼人", last.TargetID)
	}
	return fmt.Sprintf("我是预言家，昨晚查验了%d号，是好人", last.TargetID)
}
