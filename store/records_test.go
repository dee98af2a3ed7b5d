package store

import (
	"context"
	"errors"
	"testing"

	"github.com/qianlnk/werewolf-judge/models"
)

func openTestStore(t *testing.T) *RecordStore {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// countByResult 各胜负结果的局数
func countByResult(ctx context.Context, s *RecordStore) (map[models.WinResult]int, error) {
	var rows []struct {
		Result string `db:"result"`
		Count  int    `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT result, COUNT(*) AS n FROM games GROUP BY result`); err != nil {
		return nil, err
	}
	out := make(map[models.WinResult]int, len(rows))
	for _, r := range rows {
		out[models.WinResult(r.Result)] = r.Count
	}
	return out, nil
}

func testSummary(id string) models.GameSummary {
	return models.GameSummary{
		GameID:      id,
		VictoryMode: models.EdgeMode,
		Result:      models.GoodWin,
		DeathHistory: []models.DeathRecord{
			{Day: 1, Phase: models.DeathAtNight, PlayerID: 4, Cause: models.CauseWolfKill},
			{Day: 1, Phase: models.DeathByVote, PlayerID: 0, Cause: models.CauseVotedOut},
		},
		Announcements: []models.Announcement{{Day: 1, Text: "昨晚4号死亡"}},
	}
}

func TestSaveAndGetSummary(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSummary(ctx, testSummary("g1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := s.GetSummary(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Result != models.GoodWin || len(got.DeathHistory) != 2 {
		t.Fatalf("summary = %+v", got)
	}
	if got.Announcements[0].Text != "昨晚4号死亡" {
		t.Fatalf("announcements = %+v", got.Announcements)
	}

	deaths, err := s.ListDeaths(ctx, "g1")
	if err != nil {
		t.Fatalf("list deaths: %v", err)
	}
	if len(deaths) != 2 || deaths[0].PlayerID != 4 || deaths[1].Cause != models.CauseVotedOut {
		t.Fatalf("deaths = %+v", deaths)
	}
	if deaths[0].Phase != models.DeathAtNight {
		t.Fatalf("phase = %q", deaths[0].Phase)
	}
}

func TestSaveSummaryOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := testSummary("g1")
	if err := s.SaveSummary(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := testSummary("g1")
	second.Result = models.WolfWin
	second.DeathHistory = second.DeathHistory[:1]
	if err := s.SaveSummary(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSummary(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Result != models.WolfWin {
		t.Fatalf("result = %q", got.Result)
	}
	deaths, err := s.ListDeaths(ctx, "g1")
	if err != nil {
		t.Fatal(err)
	}
	if len(deaths) != 1 {
		t.Fatalf("deaths = %+v", deaths)
	}

	counts, err := countByResult(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if counts[models.WolfWin] != 1 || counts[models.GoodWin] != 0 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestGetSummaryNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetSummary(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(" "); err == nil {
		t.Fatal("expected error for empty path")
	}
}
