package rules

import "github.com/qianlnk/werewolf-judge/models"

// Tally 各阵营存活人数
type Tally struct {
	Wolves    int `json:"wolves"`
	Villagers int `json:"villagers"`
	Gods      int `json:"gods"`
}

// Good 好人总数
func (t Tally) Good() int {
	return t.Villagers + t.Gods
}

// Count 统计存活人数
func Count(players []models.Player) Tally {
	var t Tally
	for _, p := range players {
		if !p.Alive {
			continue
		}
		switch {
		case p.Role == models.Werewolf:
			t.Wolves++
		case p.Role == models.Villager:
			t.Villagers++
		default:
			t.Gods++
		}
	}
	return t
}

// Evaluate 胜负判定
// 狼人全灭则好人胜；屠边模式下村民或神职任一全灭则狼人胜；
// 屠城模式下好人全灭才算狼人胜；两种模式下狼人数不少于好人数时狼人胜
func Evaluate(players []models.Player, mode models.VictoryMode) models.WinResult {
	t := Count(players)

	if t.Wolves == 0 {
		return models.GoodWin
	}

	switch mode {
	case models.TownMode:
		if t.Good() == 0 {
			return models.WolfWin
		}
	default:
		if t.Villagers == 0 || t.Gods == 0 {
			return models.WolfWin
		}
	}

	if t.Wolves >= t.Good() {
		return models.WolfWin
	}
	return models.NoWinner
}
