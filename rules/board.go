// Package rules 角色技能校验与胜负判定，不读写共享状态，调用方传入Board快照
package rules

import (
	"sort"

	"github.com/qianlnk/werewolf-judge/models"
)

// Board 规则判定所需的只读局面
type Board struct {
	Night      int                       `json:"night"`
	Players    []models.Player           `json:"players"`
	Tonight    models.NightBuffer        `json:"tonight"`
	Guard      models.GuardHistory       `json:"guard"`
	Witch      models.WitchHistory       `json:"witch"`
	Magician   models.MagicianHistory    `json:"magician"`
	Dream      models.DreamweaverHistory `json:"dream"`
	SeerChecks []models.SeerCheck        `json:"seer_checks"`
}

// Player 按ID查找玩家
func (b Board) Player(id int) (models.Player, bool) {
	for _, p := range b.Players {
		if p.ID == id {
			return p, true
		}
	}
	return models.Player{}, false
}

// IsAlive 玩家是否存在且存活
func (b Board) IsAlive(id int) bool {
	p, ok := b.Player(id)
	return ok && p.Alive
}

// AliveIDs 存活玩家ID，升序
func (b Board) AliveIDs() []int {
	ids := make([]int, 0, len(b.Players))
	for _, p := range b.Players {
		if p.Alive {
			ids = append(ids, p.ID)
		}
	}
	sort.Ints(ids)
	return ids
}

// AliveWithRole 指定角色的存活玩家，升序
func (b Board) AliveWithRole(role models.Role) []models.Player {
	out := make([]models.Player, 0)
	for _, p := range b.Players {
		if p.Alive && p.Role == role {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// checkedBy 该预言家已查验过的目标
func (b Board) checkedBy(seerID int) map[int]bool {
	checked := make(map[int]bool)
	for _, c := range b.SeerChecks {
		if c.SeerID == seerID {
			checked[c.TargetID] = true
		}
	}
	return checked
}

// ApplySwap 魔术师重定向：a与b互换，其他ID不变
func ApplySwap(id int, swap *models.Swap) int {
	if swap == nil {
		return id
	}
	switch id {
	case swap.A:
		return swap.B
	case swap.B:
		return swap.A
	}
	return id
}

// ApplySwapTarget 对可选目标做重定向
func ApplySwapTarget(id *int, swap *models.Swap) *int {
	if id == nil {
		return nil
	}
	return models.Target(ApplySwap(*id, swap))
}
