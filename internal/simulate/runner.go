package simulate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/okian/civicstake/pkg/logger"
)

const (
	directoryPermission = 0o750
	filePermission      = 0o600
	settlePollInterval  = 100 * time.Millisecond
)

type counters struct {
	credits   atomic.Int64
	questions atomic.Int64
	stakes    atomic.Int64
	rejected  atomic.Int64
	answers   atomic.Int64
	votes     atomic.Int64
	failures  atomic.Int64
}

type runner struct {
	cfg  Config
	plan plan
	c    *client
	pool pond.Pool
	log  logger.Logger

	counters

	officials []string
	citizens  []string
	initial   []int64
	credited  []int64

	questionIDs []string
	stakeOK     [][]bool
	askerStaked []bool
	answerIDs   []string
	released    []atomic.Bool

	mu         sync.Mutex
	violations []string
}

// Run executes the scenario against cfg.BaseURL. The returned error covers
// only conditions that stop the run; consistency failures are reported in
// Report.Violations.
func Run(ctx context.Context, cfg Config, log logger.Logger) (*Report, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NewNop()
	}

	r := &runner{
		cfg:         cfg,
		plan:        newPlan(cfg),
		c:           newClient(cfg.BaseURL, cfg.Timeout),
		pool:        pond.NewPool(cfg.Workers),
		log:         log,
		officials:   make([]string, cfg.Officials),
		citizens:    make([]string, cfg.Citizens),
		initial:     make([]int64, cfg.Citizens),
		credited:    make([]int64, cfg.Citizens),
		questionIDs: make([]string, cfg.Questions),
		stakeOK:     make([][]bool, cfg.Questions),
		askerStaked: make([]bool, cfg.Questions),
		answerIDs:   make([]string, cfg.Questions),
		released:    make([]atomic.Bool, cfg.Questions),
	}
	defer r.pool.StopAndWait()
	for i, q := range r.plan.questions {
		r.stakeOK[i] = make([]bool, len(q.stakers))
	}

	start := time.Now()
	log.Info(ctx, "starting simulation",
		logger.String("baseURL", cfg.BaseURL),
		logger.Int("citizens", cfg.Citizens),
		logger.Int("officials", cfg.Officials),
		logger.Int("questions", cfg.Questions),
		logger.Int("workers", cfg.Workers),
		logger.Int64("seed", int64(cfg.Seed)))

	if err := r.c.health(ctx); err != nil {
		return nil, fmt.Errorf("service health check failed: %w", err)
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"register", r.register},
		{"credit", r.credit},
		{"open", r.open},
		{"stake", r.stake},
		{"answer", r.answer},
		{"vote", r.vote},
	}
	for _, step := range steps {
		stepStart := time.Now()
		if err := step.fn(ctx); err != nil {
			return nil, fmt.Errorf("%s step: %w", step.name, err)
		}
		log.Info(ctx, "step finished",
			logger.String("step", step.name),
			logger.Duration("took", time.Since(stepStart)),
			logger.Int64("failures", r.failures.Load()))
	}

	report := &Report{}
	if cfg.Sweep {
		res, err := r.c.sweep(ctx)
		if err != nil {
			r.violate("sweep failed: %v", err)
		} else {
			report.Sweep = &res
		}
	}

	r.verifyWallets(ctx)
	r.verifyBounties(ctx)
	r.awaitRanks(ctx)
	report.Leaderboard = r.verifyLeaderboard(ctx)

	report.Citizens = int64(countSet(r.citizens))
	report.Officials = int64(countSet(r.officials))
	report.Credits = r.credits.Load()
	report.QuestionsOpened = r.questions.Load()
	report.StakesPlaced = r.stakes.Load()
	report.StakesRejected = r.rejected.Load()
	report.Answers = r.answers.Load()
	report.Votes = r.votes.Load()
	for i := range r.released {
		if r.released[i].Load() {
			report.Released++
		}
	}
	report.RequestFailures = r.failures.Load()
	report.Violations = append([]string{}, r.violations...)
	report.Duration = time.Since(start)

	if cfg.Output != "" {
		if err := writeReport(cfg.Output, report); err != nil {
			log.Warn(ctx, "failed to save report", logger.Error(err))
		} else {
			log.Info(ctx, "report saved", logger.String("file", cfg.Output))
		}
	}

	log.Info(ctx, "final statistics",
		logger.Int64("questionsOpened", report.QuestionsOpened),
		logger.Int64("stakesPlaced", report.StakesPlaced),
		logger.Int64("stakesRejected", report.StakesRejected),
		logger.Int64("answers", report.Answers),
		logger.Int64("votes", report.Votes),
		logger.Int64("released", report.Released),
		logger.Int64("requestFailures", report.RequestFailures),
		logger.Int("violations", len(report.Violations)),
		logger.Duration("duration", report.Duration))
	return report, nil
}

// fanOut runs fn for 0..n-1 on the worker pool and waits for all of them.
func (r *runner) fanOut(ctx context.Context, n int, fn func(ctx context.Context, i int)) error {
	group := r.pool.NewGroupContext(ctx)
	groupCtx := group.Context()
	for i := range n {
		group.Submit(func() { fn(groupCtx, i) })
	}
	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (r *runner) fail(ctx context.Context, op string, err error) {
	r.failures.Add(1)
	if r.cfg.Verbose {
		r.log.Warn(ctx, "request failed", logger.String("op", op), logger.Error(err))
	}
}

func (r *runner) violate(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.violations = append(r.violations, fmt.Sprintf(format, args...))
}

func (r *runner) register(ctx context.Context) error {
	if err := r.fanOut(ctx, r.cfg.Officials, func(ctx context.Context, i int) {
		a, err := r.c.register(ctx, fmt.Sprintf("official-%03d", i), "official")
		if err != nil {
			r.fail(ctx, "register official", err)
			return
		}
		r.officials[i] = a.ID
	}); err != nil {
		return err
	}
	return r.fanOut(ctx, r.cfg.Citizens, func(ctx context.Context, i int) {
		a, err := r.c.register(ctx, fmt.Sprintf("citizen-%04d", i), "citizen")
		if err != nil {
			r.fail(ctx, "register citizen", err)
			return
		}
		r.citizens[i] = a.ID
		r.initial[i] = a.Balance
	})
}

func (r *runner) credit(ctx context.Context) error {
	return r.fanOut(ctx, r.cfg.Citizens, func(ctx context.Context, i int) {
		amount := r.plan.credits[i]
		if amount == 0 || r.citizens[i] == "" {
			return
		}
		if err := r.c.credit(ctx, r.citizens[i], amount); err != nil {
			r.fail(ctx, "credit", err)
			return
		}
		r.credited[i] = amount
		r.credits.Add(1)
	})
}

func (r *runner) open(ctx context.Context) error {
	return r.fanOut(ctx, len(r.plan.questions), func(ctx context.Context, i int) {
		pq := r.plan.questions[i]
		asker, official := r.citizens[pq.asker], r.officials[pq.official]
		if asker == "" || official == "" {
			return
		}
		q, err := r.c.openQuestion(ctx, pq.title, pq.body, asker, official, pq.initialStake)
		if err != nil {
			if hasStatus(err, http.StatusUnprocessableEntity) {
				r.rejected.Add(1)
				return
			}
			r.fail(ctx, "open question", err)
			return
		}
		r.questionIDs[i] = q.ID
		r.askerStaked[i] = pq.initialStake > 0
		r.questions.Add(1)
		if pq.initialStake > 0 {
			r.stakes.Add(1)
		}
	})
}

type stakeRef struct{ question, staker int }

func (r *runner) stake(ctx context.Context) error {
	var refs []stakeRef
	for qi, pq := range r.plan.questions {
		if r.questionIDs[qi] == "" {
			continue
		}
		for si := range pq.stakers {
			refs = append(refs, stakeRef{question: qi, staker: si})
		}
	}
	return r.fanOut(ctx, len(refs), func(ctx context.Context, i int) {
		ref := refs[i]
		ps := r.plan.questions[ref.question].stakers[ref.staker]
		citizen := r.citizens[ps.citizen]
		if citizen == "" {
			return
		}
		if err := r.c.stake(ctx, r.questionIDs[ref.question], citizen, ps.amount); err != nil {
			if hasStatus(err, http.StatusUnprocessableEntity) {
				r.rejected.Add(1)
				return
			}
			r.fail(ctx, "stake", err)
			return
		}
		r.stakeOK[ref.question][ref.staker] = true
		r.stakes.Add(1)
	})
}

func (r *runner) answer(ctx context.Context) error {
	return r.fanOut(ctx, len(r.plan.questions), func(ctx context.Context, i int) {
		pq := r.plan.questions[i]
		if r.questionIDs[i] == "" || !pq.answer {
			return
		}
		id, released, err := r.c.answer(ctx, r.questionIDs[i], r.officials[pq.official], pq.content)
		if err != nil {
			r.fail(ctx, "answer", err)
			return
		}
		r.answerIDs[i] = id
		r.answers.Add(1)
		if released {
			r.released[i].Store(true)
		}
	})
}

type voteRef struct {
	question int
	citizen  string
	helpful  bool
}

func (r *runner) vote(ctx context.Context) error {
	var refs []voteRef
	for qi, pq := range r.plan.questions {
		if r.answerIDs[qi] == "" {
			continue
		}
		if r.askerStaked[qi] {
			refs = append(refs, voteRef{question: qi, citizen: r.citizens[pq.asker], helpful: pq.helpful[0]})
		}
		for si, ps := range pq.stakers {
			if r.stakeOK[qi][si] {
				refs = append(refs, voteRef{question: qi, citizen: r.citizens[ps.citizen], helpful: pq.helpful[si+1]})
			}
		}
	}
	return r.fanOut(ctx, len(refs), func(ctx context.Context, i int) {
		ref := refs[i]
		released, err := r.c.vote(ctx, r.answerIDs[ref.question], ref.citizen, ref.helpful)
		if err != nil {
			r.fail(ctx, "vote", err)
			return
		}
		r.votes.Add(1)
		if released {
			r.released[ref.question].Store(true)
		}
	})
}

func writeReport(path string, report *Report) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), filePermission); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func countSet(ids []string) int {
	n := 0
	for _, id := range ids {
		if id != "" {
			n++
		}
	}
	return n
}
