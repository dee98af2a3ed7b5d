package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/qianlnk/werewolf-judge/models"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.HumanTimeout != 120*time.Second {
		t.Fatalf("human timeout = %v", cfg.HumanTimeout)
	}
	if cfg.Game.TotalPlayers != 9 || cfg.Game.VictoryMode != models.EdgeMode {
		t.Fatalf("game = %+v", cfg.Game)
	}
	if cfg.Game.Roles[models.Werewolf] != 3 {
		t.Fatalf("roles = %v", cfg.Game.Roles)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("WEREWOLF_ADDR", ":9090")
	t.Setenv("WEREWOLF_AGENT_TIMEOUT", "5s")
	t.Setenv("WEREWOLF_GAME_VICTORY_MODE", "town")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Fatalf("addr = %q", cfg.Addr)
	}
	if cfg.AgentTimeout != 5*time.Second {
		t.Fatalf("agent timeout = %v", cfg.AgentTimeout)
	}
	if cfg.Game.VictoryMode != models.TownMode {
		t.Fatalf("victory mode = %q", cfg.Game.VictoryMode)
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "werewolf.yaml")
	content := `
addr: ":7000"
auto_run: false
game:
  total_players: 6
  roles:
    werewolf: 2
    villager: 2
    seer: 1
    witch: 1
  human_seats: [0, 3]
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7000" || cfg.AutoRun {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Game.TotalPlayers != 6 {
		t.Fatalf("total players = %d", cfg.Game.TotalPlayers)
	}
	want := map[models.Role]int{models.Werewolf: 2, models.Villager: 2, models.Seer: 1, models.Witch: 1}
	if len(cfg.Game.Roles) != len(want) {
		t.Fatalf("roles = %v", cfg.Game.Roles)
	}
	for role, n := range want {
		if cfg.Game.Roles[role] != n {
			t.Fatalf("roles[%s] = %d, want %d", role, cfg.Game.Roles[role], n)
		}
	}
	if len(cfg.Game.HumanSeats) != 2 || cfg.Game.HumanSeats[1] != 3 {
		t.Fatalf("human seats = %v", cfg.Game.HumanSeats)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
