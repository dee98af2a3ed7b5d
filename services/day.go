package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/qianlnk/werewolf-judge/models"
	"github.com/qianlnk/werewolf-judge/rules"
)

// MaxHunterChain 猎人连锁开枪的最大深度，首枪为第0层
const MaxHunterChain = 3

// DayOrchestrator 白天流程：发言、决斗、投票、猎人开枪
type DayOrchestrator struct {
	state  *GameState
	broker *DecisionBroker
	events EventSink
	rng    *rand.Rand
	logger *log.Logger

	speaking sync.Mutex
}

// NewDayOrchestrator 创建白天流程
func NewDayOrchestrator(state *GameState, broker *DecisionBroker, events EventSink, rng *rand.Rand, logger *log.Logger) *DayOrchestrator {
	return &DayOrchestrator{
		state:  state,
		broker: broker,
		events: events,
		rng:    rng,
		logger: logger,
	}
}

// SpeakingOrder 计算发言顺序。
// 有夜间死亡时从编号最大的死者的下一位存活玩家开始，平安夜随机起点。
// alive需要升序
func SpeakingOrder(alive []int, lastNightDeaths []int, order models.SpeakingOrder, rng *rand.Rand) []int {
	n := len(alive)
	if n == 0 {
		return []int{}
	}
	clockwise := order != models.Counterclockwise

	start := 0
	if len(lastNightDeaths) > 0 {
		pivot := lastNightDeaths[0]
		for _, d := range lastNightDeaths {
			if d > pivot {
				pivot = d
			}
		}
		if clockwise {
			start = sort.SearchInts(alive, pivot+1) % n
		} else {
			// 逆时针：编号小于死者的最近一位，没有则绕回最大编号
			start = sort.SearchInts(alive, pivot) - 1
			if start < 0 {
				start = n - 1
			}
		}
	} else {
		start = rng.Intn(n)
	}

	out := make([]int, 0, n)
	for i := 0; i < n; i++ {
		idx := start + i
		if !clockwise {
			idx = start - i + n
		}
		out = append(out, alive[idx%n])
	}
	return out
}

// direction 当天的发言方向，未配置时随机
func (do *DayOrchestrator) direction() models.SpeakingOrder {
	if o := do.state.Config().SpeakingOrder; o != "" {
		return o
	}
	if do.rng.Intn(2) == 0 {
		return models.Clockwise
	}
	return models.Counterclockwise
}

// DiscussionResult 讨论结果
type DiscussionResult struct {
	Order     []int `json:"order"`
	Preempted bool  `json:"preempted"` // 骑士决斗翻出狼人，跳过剩余发言和投票
}

// RunDiscussion 按顺序依次发言
func (do *DayOrchestrator) RunDiscussion(ctx context.Context) (DiscussionResult, error) {
	day := do.state.Day()
	board := do.state.Board()
	order := SpeakingOrder(board.AliveIDs(), do.state.LastNightDeaths(), do.direction(), do.rng)
	res := DiscussionResult{Order: order}

	do.events.Broadcast(do.state.ID(), Event{
		Type:    "speaking_order",
		Day:     day,
		Phase:   models.PhaseDayDiscussion,
		Payload: order,
	})

	for _, id := range order {
		if !do.broker.Active() {
			return res, ErrGameInactive
		}
		exposed, err := do.TakeSpeechTurn(ctx, id)
		if err != nil {
			return res, err
		}
		if exposed {
			res.Preempted = true
			return res, nil
		}
	}
	return res, nil
}

// TakeSpeechTurn 玩家发言。同一时刻只有一个发言在进行，
// 请求前后都检查是否已发言，重复触发不会产生第二条记录。
// 返回骑士是否决斗出狼人
func (do *DayOrchestrator) TakeSpeechTurn(ctx context.Context, playerID int) (bool, error) {
	do.speaking.Lock()
	defer do.speaking.Unlock()

	day := do.state.Day()
	if do.state.HasSpoken(playerID, day) {
		return false, nil
	}
	p, err := do.state.Player(playerID)
	if err != nil {
		return false, err
	}
	if !p.Alive {
		return false, nil
	}

	board := do.state.Board()
	version := do.state.Version()
	req := DecisionRequest{
		Key:    RequestKey{PlayerID: playerID, Day: day, Step: StepSpeech},
		Role:   p.Role,
		Player: p,
		Board:  board,
		Context: map[string]interface{}{
			"day":               day,
			"alive":             board.AliveIDs(),
			"last_night_deaths": do.state.LastNightDeaths(),
			"speeches":          do.speechesOf(day),
		},
	}
	d, err := do.broker.Request(ctx, req)
	switch {
	case aborted(err):
		return false, err
	case errors.Is(err, ErrDuplicateRequest):
		return false, nil
	case err != nil:
		do.logger.Printf("[发言] %d号 发言失败，跳过: %v", playerID, err)
		d = models.Decision{Content: "过。"}
	}

	if do.state.HasSpoken(playerID, day) {
		do.logger.Printf("[发言] %d号 第%d天已发言，丢弃重复结果", playerID, day)
		return false, nil
	}

	content := strings.TrimSpace(d.Content)
	if content == "" {
		content = "过。"
	}
	rec := models.SpeechRecord{
		PlayerID:      playerID,
		Day:           day,
		Content:       content,
		VoteIntention: validVoteTarget(d.VoteIntention, playerID, board),
	}
	if err := do.state.AppendSpeech(version, rec); err != nil {
		do.logger.Printf("[发言] %d号 发言被丢弃: %v", playerID, err)
		return false, nil
	}
	do.events.Broadcast(do.state.ID(), Event{
		Type:    "speech",
		Day:     day,
		Phase:   models.PhaseDayDiscussion,
		Payload: rec,
	})

	if p.Role == models.Knight && d.DuelTargetID != nil {
		return do.resolveDuel(p, d), nil
	}
	return false, nil
}

func (do *DayOrchestrator) speechesOf(day int) []models.SpeechRecord {
	out := make([]models.SpeechRecord, 0)
	for _, s := range do.state.Snapshot().Speeches {
		if s.Day == day {
			out = append(out, s)
		}
	}
	return out
}

// resolveDuel 骑士决斗：狼人则狼人死亡，否则骑士以死谢罪
func (do *DayOrchestrator) resolveDuel(knight models.Player, d models.Decision) bool {
	board := do.state.Board()
	ability, _ := rules.For(models.Knight)
	if err := ability.Validate(knight, d, board); err != nil {
		do.logger.Printf("[决斗] %d号 决斗无效: %v", knight.ID, err)
		return false
	}
	target, _ := board.Player(*d.DuelTargetID)

	loser, cause := knight.ID, models.CauseDuelFailed
	exposed := target.Role == models.Werewolf
	if exposed {
		loser, cause = target.ID, models.CauseDuelExposed
	}
	if err := do.state.Duel(do.state.Version(), knight.ID, loser, cause); err != nil {
		do.logger.Printf("[决斗] %d号 决斗被丢弃: %v", knight.ID, err)
		return false
	}

	var text string
	if exposed {
		text = fmt.Sprintf("%d号骑士决斗%d号，%d号是狼人，出局", knight.ID, target.ID, target.ID)
	} else {
		text = fmt.Sprintf("%d号骑士决斗%d号，%d号是好人，骑士以死谢罪", knight.ID, target.ID, target.ID)
	}
	do.state.Announce(text)
	do.events.Broadcast(do.state.ID(), Event{
		Type:  "duel",
		Day:   do.state.Day(),
		Phase: models.PhaseDayDiscussion,
		Payload: map[string]interface{}{
			"knight_id": knight.ID,
			"target_id": target.ID,
			"loser_id":  loser,
			"message":   text,
		},
	})
	return exposed
}

// validVoteTarget 投票目标必须是存活的其他玩家，否则视为无效
func validVoteTarget(target *int, voterID int, board rules.Board) *int {
	if target == nil || *target == voterID || !board.IsAlive(*target) {
		return nil
	}
	return models.Target(*target)
}

// defaultVoteTarget 除自己外编号最小的存活玩家
func defaultVoteTarget(voterID int, board rules.Board) *int {
	for _, id := range board.AliveIDs() {
		if id != voterID {
			return models.Target(id)
		}
	}
	return nil
}

// CollectVotes 收集所有存活玩家的投票。
// 发言中给出有效投票意向的直接计票，其余并发请求，全部返回后才计票
func (do *DayOrchestrator) CollectVotes(ctx context.Context) ([]models.Vote, error) {
	day := do.state.Day()
	board := do.state.Board()
	voters := board.AliveIDs()
	ballots := make([]*int, len(voters))

	g, gctx := errgroup.WithContext(ctx)
	for i, id := range voters {
		i, id := i, id
		if sp, ok := do.state.Speech(id, day); ok {
			if t := validVoteTarget(sp.VoteIntention, id, board); t != nil {
				ballots[i] = t
				continue
			}
		}
		p, _ := board.Player(id)
		g.Go(func() error {
			req := DecisionRequest{
				Key:    RequestKey{PlayerID: id, Day: day, Step: StepVote},
				Role:   p.Role,
				Player: p,
				Board:  board,
				Context: map[string]interface{}{
					"day":      day,
					"alive":    voters,
					"speeches": do.speechesOf(day),
				},
			}
			d, err := do.broker.Request(gctx, req)
			if aborted(err) {
				return err
			}
			if err == nil && d.Abstain {
				return nil
			}
			if err == nil {
				if t := validVoteTarget(d.TargetID, id, board); t != nil {
					ballots[i] = t
					return nil
				}
			}
			ballots[i] = defaultVoteTarget(id, board)
			do.logger.Printf("[投票] %d号 投票无效，默认投给 %s", id, targetString(ballots[i]))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if !do.broker.Active() {
		return nil, ErrGameInactive
	}

	votes := make([]models.Vote, 0, len(voters))
	for i, id := range voters {
		if ballots[i] != nil {
			votes = append(votes, models.Vote{From: id, To: *ballots[i]})
		}
	}
	return votes, nil
}

// TallyResult 计票结果
type TallyResult struct {
	Counts     map[int]int `json:"counts"`
	PK         []int       `json:"pk"` // 并列最高票，升序
	Eliminated *int        `json:"eliminated"`
}

// TallyVotes 计票，平票时在并列者中随机放逐一人，没有投票则无人出局
func TallyVotes(votes []models.Vote, rng *rand.Rand) TallyResult {
	res := TallyResult{Counts: make(map[int]int), PK: []int{}}
	if len(votes) == 0 {
		return res
	}
	top := 0
	for _, v := range votes {
		res.Counts[v.To]++
		if res.Counts[v.To] > top {
			top = res.Counts[v.To]
		}
	}
	for id, n := range res.Counts {
		if n == top {
			res.PK = append(res.PK, id)
		}
	}
	sort.Ints(res.PK)
	if len(res.PK) == 1 {
		res.Eliminated = models.Target(res.PK[0])
	} else {
		res.Eliminated = models.Target(res.PK[rng.Intn(len(res.PK))])
	}
	return res
}

// RunVoting 投票放逐，返回出局玩家
func (do *DayOrchestrator) RunVoting(ctx context.Context) (*int, error) {
	day := do.state.Day()
	version := do.state.Version()
	votes, err := do.CollectVotes(ctx)
	if err != nil {
		return nil, err
	}
	tally := TallyVotes(votes, do.rng)
	if len(tally.PK) > 1 {
		do.logger.Printf("[投票] 第%d天 %v 平票，随机放逐 %d号", day, tally.PK, *tally.Eliminated)
	}

	rec := models.VoteRecord{Day: day, Votes: votes, Eliminated: tally.Eliminated}
	if err := do.state.AppendVote(version, rec); err != nil {
		return nil, err
	}

	text := "平安日，无人出局"
	if tally.Eliminated != nil {
		text = fmt.Sprintf("%d号被投票放逐", *tally.Eliminated)
	}
	do.state.Announce(text)
	do.events.Broadcast(do.state.ID(), Event{
		Type:  "vote_result",
		Day:   day,
		Phase: models.PhaseDayVoting,
		Payload: map[string]interface{}{
			"votes":      votes,
			"counts":     tally.Counts,
			"eliminated": tally.Eliminated,
			"message":    text,
		},
	})
	return tally.Eliminated, nil
}

// ResolveHunterShot 处理猎人开枪及连锁，返回实际开枪次数
func (do *DayOrchestrator) ResolveHunterShot(ctx context.Context, hunterID int) (int, error) {
	return do.hunterChain(ctx, hunterID, 0)
}

func (do *DayOrchestrator) hunterChain(ctx context.Context, hunterID, depth int) (int, error) {
	if depth > MaxHunterChain {
		do.logger.Printf("[警告] 猎人连锁超过%d层，%d号不再开枪", MaxHunterChain, hunterID)
		do.state.RevokeShot(hunterID)
		return 0, nil
	}
	hunter, err := do.state.Player(hunterID)
	if err != nil {
		return 0, err
	}
	if hunter.Role != models.Hunter || hunter.Alive || !hunter.Ability.CanShoot {
		return 0, nil
	}

	board := do.state.Board()
	ability, _ := rules.For(models.Hunter)
	version := do.state.Version()
	req := DecisionRequest{
		Key:    RequestKey{PlayerID: hunterID, Day: board.Night, Step: StepHunter},
		Role:   models.Hunter,
		Player: hunter,
		Board:  board,
		Context: map[string]interface{}{
			"day":           board.Night,
			"valid_targets": ability.ValidTargets(hunter, board),
		},
	}
	d, err := do.broker.Request(ctx, req)
	if aborted(err) {
		return 0, err
	}
	var proposed *models.Decision
	if err == nil {
		proposed = &d
	}
	res, err := rules.Resolve(ability, hunter, proposed, board, do.rng)
	if err != nil {
		do.logger.Printf("[错误] %d号猎人 %v，无法开枪", hunterID, err)
		do.state.RevokeShot(hunterID)
		return 0, nil
	}
	target := *res.Decision.TargetID
	if err := do.state.ShootPlayer(version, hunterID, target); err != nil {
		do.logger.Printf("[猎人] %d号 开枪被丢弃: %v", hunterID, err)
		return 0, nil
	}

	text := fmt.Sprintf("%d号猎人开枪带走了%d号", hunterID, target)
	do.state.Announce(text)
	do.events.Broadcast(do.state.ID(), Event{
		Type:    "hunter_shot",
		Day:     board.Night,
		Phase:   models.PhaseHunterShoot,
		Payload: map[string]interface{}{"hunter_id": hunterID, "target_id": target, "message": text},
	})

	shot, _ := do.state.Player(target)
	if shot.Role == models.Hunter && shot.Ability.CanShoot {
		n, err := do.hunterChain(ctx, target, depth+1)
		return n + 1, err
	}
	return 1, nil
}
