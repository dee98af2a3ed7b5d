package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/qianlnk/werewolf-judge/config"
	"github.com/qianlnk/werewolf-judge/models"
	"github.com/qianlnk/werewolf-judge/services"
	"github.com/qianlnk/werewolf-judge/store"
)

func newTestServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := log.New(io.Discard, "", 0)

	records, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { records.Close() })

	s := &server{
		ws:      services.NewWebSocketManager(logger),
		records: records,
		defaults: models.GameConfig{
			TotalPlayers: 9,
			Roles:        config.DefaultRoles(),
			VictoryMode:  models.EdgeMode,
		},
	}
	s.games = services.NewGameManager(services.ControllerOptions{
		Agent:    services.NewRuleAgent(1),
		Events:   s.ws,
		Recorder: records,
		Logger:   logger,
	})
	s.ws.SetDecisionHandler(s.games)
	return s
}

func doRequest(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func createTestGame(t *testing.T, r http.Handler) string {
	t.Helper()
	w := doRequest(t, r, http.MethodPost, "/api/games", map[string]interface{}{"auto_run": false})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body = %s", w.Code, w.Body.String())
	}
	var snap services.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatal(err)
	}
	if snap.GameID == "" || snap.Phase != models.PhaseNight {
		t.Fatalf("snapshot = %+v", snap)
	}
	for _, p := range snap.Players {
		if p.Role != "" {
			t.Fatal("create response leaks roles")
		}
	}
	return snap.GameID
}

func TestGameLifecycle(t *testing.T) {
	s := newTestServer(t)
	r := setupRouter(s)
	id := createTestGame(t, r)

	if w := doRequest(t, r, http.MethodGet, "/api/games/"+id, nil); w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}

	w := doRequest(t, r, http.MethodGet, "/api/games/"+id+"?player=0", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("player view status = %d", w.Code)
	}
	var view struct {
		Game services.Snapshot `json:"game"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &view); err != nil {
		t.Fatal(err)
	}
	if view.Game.Players[0].Role == "" {
		t.Fatal("player should see its own role")
	}

	if w := doRequest(t, r, http.MethodGet, "/api/games/"+id+"?player=x", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad player status = %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/games", nil); w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/games/"+id+"/summary", nil); w.Code != http.StatusConflict {
		t.Fatalf("summary in progress status = %d", w.Code)
	}

	if w := doRequest(t, r, http.MethodDelete, "/api/games/"+id, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/games/"+id, nil); w.Code != http.StatusNotFound {
		t.Fatalf("get after delete status = %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodDelete, "/api/games/"+id, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete status = %d", w.Code)
	}
}

func TestProceedGame(t *testing.T) {
	s := newTestServer(t)
	r := setupRouter(s)
	id := createTestGame(t, r)

	w := doRequest(t, r, http.MethodPost, "/api/games/"+id+"/proceed", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("proceed status = %d body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		Game services.Snapshot `json:"game"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Game.Phase == models.PhaseNight {
		t.Fatal("proceed should leave the night")
	}
}

func TestCreateGameInvalidConfig(t *testing.T) {
	r := setupRouter(newTestServer(t))
	body := map[string]interface{}{
		"total_players": 4,
		"roles":         map[string]int{"werewolf": 1, "villager": 3},
	}
	if w := doRequest(t, r, http.MethodPost, "/api/games", body); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestSubmitDecision(t *testing.T) {
	s := newTestServer(t)
	r := setupRouter(s)
	id := createTestGame(t, r)

	missing := map[string]interface{}{"step": "vote"}
	if w := doRequest(t, r, http.MethodPost, "/api/games/"+id+"/decisions", missing); w.Code != http.StatusBadRequest {
		t.Fatalf("missing player status = %d", w.Code)
	}
	body := map[string]interface{}{"player_id": 0, "step": "vote", "decision": map[string]int{"target_id": 1}}
	if w := doRequest(t, r, http.MethodPost, "/api/games/"+id+"/decisions", body); w.Code != http.StatusConflict {
		t.Fatalf("unexpected decision status = %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodPost, "/api/games/missing/decisions", body); w.Code != http.StatusNotFound {
		t.Fatalf("missing game status = %d", w.Code)
	}
}

func TestSummaryFromStore(t *testing.T) {
	s := newTestServer(t)
	r := setupRouter(s)

	saved := models.GameSummary{GameID: "old", VictoryMode: models.TownMode, Result: models.GoodWin}
	if err := s.records.SaveSummary(context.Background(), saved); err != nil {
		t.Fatal(err)
	}
	w := doRequest(t, r, http.MethodGet, "/api/games/old/summary", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var got models.GameSummary
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Result != models.GoodWin {
		t.Fatalf("summary = %+v", got)
	}

	if w := doRequest(t, r, http.MethodGet, "/api/games/none/summary", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing summary status = %d", w.Code)
	}
}

func TestServeWSRequiresParams(t *testing.T) {
	r := setupRouter(newTestServer(t))
	if w := doRequest(t, r, http.MethodGet, "/ws?game=g1", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/ws?game=missing&player=0&connection_id=a", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing game status = %d", w.Code)
	}
}

func TestGetDeaths(t *testing.T) {
	s := newTestServer(t)
	r := setupRouter(s)

	saved := models.GameSummary{
		GameID: "old",
		Result: models.WolfWin,
		DeathHistory: []models.DeathRecord{
			{Day: 1, Phase: models.DeathAtNight, PlayerID: 4, Cause: models.CauseWolfKill},
		},
	}
	if err := s.records.SaveSummary(context.Background(), saved); err != nil {
		t.Fatal(err)
	}
	w := doRequest(t, r, http.MethodGet, "/api/games/old/deaths", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}
	var deaths []models.DeathRecord
	if err := json.Unmarshal(w.Body.Bytes(), &deaths); err != nil {
		t.Fatal(err)
	}
	if len(deaths) != 1 || deaths[0].PlayerID != 4 {
		t.Fatalf("deaths = %+v", deaths)
	}

	id := createTestGame(t, r)
	if w := doRequest(t, r, http.MethodGet, "/api/games/"+id+"/deaths", nil); w.Code != http.StatusOK {
		t.Fatalf("live game status = %d", w.Code)
	}
	if w := doRequest(t, r, http.MethodGet, "/api/games/none/deaths", nil); w.Code != http.StatusNotFound {
		t.Fatalf("missing game status = %d", w.Code)
	}
}

func TestProceedCancelledRequest(t *testing.T) {
	s := newTestServer(t)
	r := setupRouter(s)
	id := createTestGame(t, r)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/games/"+id+"/proceed", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusRequestTimeout {
		t.Fatalf("status = %d body = %s", w.Code, w.Body.String())
	}

	gc, err := s.games.GetGame(id)
	if err != nil {
		t.Fatal(err)
	}
	if gc.State().Phase() != models.PhaseNight || gc.State().NightStep() != 0 {
		t.Fatalf("phase = %s step = %d", gc.State().Phase(), gc.State().NightStep())
	}
}
