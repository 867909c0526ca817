package simulate

import (
	"fmt"
	"math/rand/v2"
)

var topics = []string{
	"road maintenance", "school funding", "public transit", "housing permits",
	"park budgets", "water quality", "library hours", "police oversight",
}

var directAnswers = []string{
	"Yes. The budget line is 2.4 million and work starts in March; the contract is public on the council site.",
	"No, we will not approve it this year. The vote was 5 to 2 and the minutes list every reason.",
	"We committed 40 new units by June. Twelve are finished, the remaining permits were signed last week.",
}

var evasiveAnswers = []string{
	"This is a complex issue that many people care about, and we are always listening to our community.",
	"My opponents created this problem. We will look into it when the time is right.",
	"I believe in a brighter future for everyone and will keep working hard on all fronts.",
}

type plannedStake struct {
	citizen int
	amount  int64
}

type plannedQuestion struct {
	asker        int
	official     int
	title        string
	body         string
	initialStake int64
	stakers      []plannedStake
	answer       bool
	content      string
	// helpful holds the asker's vote first, then one per staker.
	helpful []bool
}

type plan struct {
	credits   []int64
	questions []plannedQuestion
}

// newPlan draws the whole scenario up front so that concurrent execution
// never touches the random source.
func newPlan(cfg Config) plan {
	r := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))

	p := plan{
		credits:   make([]int64, cfg.Citizens),
		questions: make([]plannedQuestion, cfg.Questions),
	}
	if cfg.MaxCredit > 0 {
		for i := range p.credits {
			if r.IntN(2) == 0 {
				p.credits[i] = 1 + r.Int64N(cfg.MaxCredit)
			}
		}
	}

	stakers := min(cfg.StakersPerQuestion, cfg.Citizens-1)
	for i := range p.questions {
		topic := topics[r.IntN(len(topics))]
		q := plannedQuestion{
			asker:        r.IntN(cfg.Citizens),
			official:     r.IntN(cfg.Officials),
			title:        fmt.Sprintf("What is the plan for %s? (#%d)", topic, i),
			body:         fmt.Sprintf("Residents want a concrete answer on %s.", topic),
			initialStake: r.Int64N(cfg.MaxStake + 1),
			answer:       r.Float64() < cfg.AnswerRate,
		}

		seen := map[int]bool{q.asker: true}
		for len(q.stakers) < stakers {
			c := r.IntN(cfg.Citizens)
			if seen[c] {
				continue
			}
			seen[c] = true
			q.stakers = append(q.stakers, plannedStake{citizen: c, amount: 1 + r.Int64N(cfg.MaxStake)})
		}

		if r.Float64() < cfg.DirectRate {
			q.content = directAnswers[r.IntN(len(directAnswers))]
		} else {
			q.content = evasiveAnswers[r.IntN(len(evasiveAnswers))]
		}
		q.helpful = make([]bool, len(q.stakers)+1)
		for v := range q.helpful {
			q.helpful[v] = r.Float64() < cfg.HelpfulRate
		}
		p.questions[i] = q
	}
	return p
}
