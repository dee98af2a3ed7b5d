package services

import (
	"context"
	"strings"
	"testing"

	"github.com/qianlnk/werewolf-judge/models"
	"github.com/qianlnk/werewolf-judge/rules"
)

// 0,1狼人 2村民 3预言家 4女巫 5守卫 6魔术师 7摄梦人 8骑士 9猎人
var fullLineup = []models.Role{
	models.Werewolf, models.Werewolf, models.Villager, models.Seer, models.Witch,
	models.Guard, models.Magician, models.Dreamweaver, models.Knight, models.Hunter,
}

func aiRequest(board rules.Board, playerID int, step Step, day int) DecisionRequest {
	p, _ := board.Player(playerID)
	return DecisionRequest{
		Key:     RequestKey{PlayerID: playerID, Day: day, Step: step},
		Role:    p.Role,
		Player:  p,
		Board:   board,
		Context: map[string]interface{}{},
	}
}

func TestRuleAgentNightDecisionsAreLegal(t *testing.T) {
	state := newTestState(fullLineup...)
	state.BeginNight()
	board := state.Board()
	board.Tonight.WolfTarget = models.Target(2)

	actors := map[Step]int{
		StepGuard:       5,
		StepMagician:    6,
		StepDreamweaver: 7,
		StepWerewolf:    0,
		StepSeer:        3,
		StepWitch:       4,
	}
	for seed := int64(1); seed <= 10; seed++ {
		for _, personality := range personalities {
			ai := NewRuleAgent(seed)
			for step, id := range actors {
				ai.SetPersonality(id, personality)
				req := aiRequest(board, id, step, 1)
				d, err := ai.Decide(context.Background(), req)
				if err != nil {
					t.Fatalf("%s: %v", step, err)
				}
				ability, _ := rules.For(req.Role)
				if err := ability.Validate(req.Player, d, board); err != nil {
					t.Fatalf("seed %d %s %s decision %+v invalid: %v", seed, personality, step, d, err)
				}
			}
		}
	}
}

func TestRuleAgentDayDecisions(t *testing.T) {
	state := newTestState(fullLineup...)
	state.BeginNight()
	board := state.Board()

	for seed := int64(1); seed <= 10; seed++ {
		for _, personality := range personalities {
			ai := NewRuleAgent(seed)
			for id := range fullLineup {
				ai.SetPersonality(id, personality)

				speech, err := ai.Decide(context.Background(), aiRequest(board, id, StepSpeech, 2))
				if err != nil {
					t.Fatal(err)
				}
				if strings.TrimSpace(speech.Content) == "" {
					t.Fatalf("player %d gave an empty speech", id)
				}
				if speech.VoteIntention != nil && *speech.VoteIntention == id {
					t.Fatalf("player %d intends to vote for itself", id)
				}

				vote, err := ai.Decide(context.Background(), aiRequest(board, id, StepVote, 2))
				if err != nil {
					t.Fatal(err)
				}
				if vote.TargetID == nil || *vote.TargetID == id || !board.IsAlive(*vote.TargetID) {
					t.Fatalf("player %d vote = %+v", id, vote)
				}
				if fullLineup[id] == models.Werewolf && fullLineup[*vote.TargetID] == models.Werewolf {
					t.Fatalf("wolf %d voted for its teammate", id)
				}
			}
		}
	}
}

func TestRuleAgentSeerAvoidsRecheck(t *testing.T) {
	state := newTestState(fullLineup...)
	state.BeginNight()
	board := state.Board()
	for id := range fullLineup {
		if id != 3 && id != 9 {
			board.SeerChecks = append(board.SeerChecks, models.SeerCheck{Night: 1, SeerID: 3, TargetID: id})
		}
	}
	ai := NewRuleAgent(5)
	for i := 0; i < 20; i++ {
		d, err := ai.Decide(context.Background(), aiRequest(board, 3, StepSeer, 2))
		if err != nil {
			t.Fatal(err)
		}
		if d.TargetID == nil || *d.TargetID != 9 {
			t.Fatalf("seer picked %v, only 9 is unchecked", d.TargetID)
		}
	}
}

func TestRuleAgentRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state := newTestState(fullLineup...)
	if _, err := NewRuleAgent(1).Decide(ctx, aiRequest(state.Board(), 0, StepWerewolf, 1)); err == nil {
		t.Fatal("cancelled context should fail")
	}
}
