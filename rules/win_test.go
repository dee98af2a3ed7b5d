package rules

import (
	"testing"

	"github.com/qianlnk/werewolf-judge/models"
)

func lineup(alive ...models.Role) []models.Player {
	players := make([]models.Player, len(alive))
	for i, r := range alive {
		players[i] = models.Player{ID: i, Role: r, Alive: true}
	}
	return players
}

func TestEvaluate(t *testing.T) {
	w, v, s, h := models.Werewolf, models.Villager, models.Seer, models.Hunter

	tests := []struct {
		name    string
		players []models.Player
		mode    models.VictoryMode
		want    models.WinResult
	}{
		{"no wolves", lineup(v, s), models.EdgeMode, models.GoodWin},
		{"no wolves town", lineup(v, s), models.TownMode, models.GoodWin},
		{"villagers gone edge", lineup(w, s, h), models.EdgeMode, models.WolfWin},
		{"villagers gone town", lineup(w, s, h), models.TownMode, models.NoWinner},
		{"gods gone edge", lineup(w, v, v), models.EdgeMode, models.WolfWin},
		{"gods gone town", lineup(w, v, v), models.TownMode, models.NoWinner},
		{"wolves equal good", lineup(w, w, v, s), models.TownMode, models.WolfWin},
		{"everyone else dead", lineup(w), models.TownMode, models.WolfWin},
		{"ongoing", lineup(w, v, v, s), models.EdgeMode, models.NoWinner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.players, tt.mode); got != tt.want {
				t.Fatalf("Evaluate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCountIgnoresDead(t *testing.T) {
	players := lineup(models.Werewolf, models.Villager, models.Knight, models.Witch)
	players[0].Alive = false
	players[2].Alive = false
	got := Count(players)
	want := Tally{Wolves: 0, Villagers: 1, Gods: 1}
	if got != want {
		t.Fatalf("Count = %+v, want %+v", got, want)
	}
	if Evaluate(players, models.EdgeMode) != models.GoodWin {
		t.Fatal("dead wolf should still count as wolves eliminated")
	}
}
