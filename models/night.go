package models

// Swap 魔术师的一次交换
type Swap struct {
	A int `json:"a"`
	B int `json:"b"`
}

// Contains 交换是否涉及该玩家
func (s Swap) Contains(id int) bool {
	return s.A == id || s.B == id
}

// NightBuffer 单晚决策缓冲区，每个技能槽位每晚至多写入一次
type NightBuffer struct {
	WolfTarget   *int       `json:"wolf_target"`
	WolfSkipKill bool       `json:"wolf_skip_kill"`
	WitchSave    bool       `json:"witch_save"`
	WitchPoison  *int       `json:"witch_poison"`
	GuardTarget  *int       `json:"guard_target"`
	MagicianSwap *Swap      `json:"magician_swap"`
	DreamTarget  *int       `json:"dream_target"`
	SeerResult   *SeerCheck `json:"seer_result"`

	// 槽位是否已提交；空守、不交换等合法的空值也算提交
	Filled map[Role]bool `json:"filled"`
}

// NewNightBuffer 创建空的夜晚缓冲区
func NewNightBuffer() NightBuffer {
	return NightBuffer{Filled: make(map[Role]bool)}
}

// Clone 深拷贝
func (nb NightBuffer) Clone() NightBuffer {
	out := nb
	out.WolfTarget = cloneInt(nb.WolfTarget)
	out.WitchPoison = cloneInt(nb.WitchPoison)
	out.GuardTarget = cloneInt(nb.GuardTarget)
	out.DreamTarget = cloneInt(nb.DreamTarget)
	if nb.MagicianSwap != nil {
		s := *nb.MagicianSwap
		out.MagicianSwap = &s
	}
	if nb.SeerResult != nil {
		c := *nb.SeerResult
		out.SeerResult = &c
	}
	out.Filled = make(map[Role]bool, len(nb.Filled))
	for k, v := range nb.Filled {
		out.Filled[k] = v
	}
	return out
}

// GuardHistory 守卫记忆
type GuardHistory struct {
	LastGuardTarget *int `json:"last_guard_target"`
}

// WitchHistory 女巫用药记录
type WitchHistory struct {
	SavedIDs    []int `json:"saved_ids"`
	PoisonedIDs []int `json:"poisoned_ids"`
}

// MagicianHistory 魔术师交换记录，每个玩家整局只能被交换一次
type MagicianHistory struct {
	SwappedPlayers map[int]bool `json:"swapped_players"`
	LastSwap       *Swap        `json:"last_swap"`
}

// Used 该玩家是否已被交换过
func (mh MagicianHistory) Used(id int) bool {
	return mh.SwappedPlayers[id]
}

// DreamweaverHistory 摄梦人记录
type DreamweaverHistory struct {
	DreamedPlayers  []int `json:"dreamed_players"`
	LastDreamTarget *int  `json:"last_dream_target"`
}

// Decision 决策载荷，按角色使用不同字段
type Decision struct {
	TargetID      *int   `json:"target_id,omitempty"`
	SkipKill      bool   `json:"skip_kill,omitempty"`
	UseSave       bool   `json:"use_save,omitempty"`
	UsePoison     bool   `json:"use_poison,omitempty"`
	Player1ID     *int   `json:"player1_id,omitempty"`
	Player2ID     *int   `json:"player2_id,omitempty"`
	Content       string `json:"content,omitempty"`
	VoteIntention *int   `json:"vote_intention,omitempty"`
	DuelTargetID  *int   `json:"duel_target_id,omitempty"`
	Abstain       bool   `json:"abstain,omitempty"`
	Thought       string `json:"thought,omitempty"`
}

// Swap 从决策中取出魔术师交换，未选择时返回nil
func (d Decision) Swap() *Swap {
	if d.Player1ID == nil || d.Player2ID == nil {
		return nil
	}
	return &Swap{A: *d.Player1ID, B: *d.Player2ID}
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
