package scoring

import (
	"math"
	"sort"
	"time"

	"github.com/spec-kit/assignment-service/internal/config"
	"github.com/spec-kit/assignment-service/internal/domain"
)

// Neutral replaces a component whose provider was unavailable.
const Neutral = 0.5

// Degraded provider markers recorded on a breakdown.
const (
	DegradedWorkload    = "workload"
	DegradedPerformance = "performance"
	DegradedDirectory   = "directory"
	DegradedHistory     = "history"
)

// Exclusion reasons.
const (
	ExcludedDisabled    = "disabled"
	ExcludedUnavailable = "unavailable"
	ExcludedAtCapacity  = "at_capacity"
)

// totalPrecision is the resolution totals are rounded to before ranking, so equal totals
// compare equal exactly and fall through to the load and id tie-breaks.
const totalPrecision = 1e9

const flatRange = 1e-9

// Input carries everything rank needs. Nil maps mean the provider was unavailable.
type Input struct {
	Ticket     *domain.Ticket
	Candidates []domain.Agent
	// Workload maps agent id to weighted open-ticket load.
	Workload map[string]float64
	// Performance maps agent id to rolling metrics. Agents absent from a non-nil map score neutral.
	Performance map[string]domain.AgentPerformance
	// History is the set of agents who handled a ticket from the same requester.
	History map[string]bool
	// DirectoryDegraded marks a roster served from the last good read; availability and skill
	// cannot be trusted and score neutral.
	DirectoryDegraded bool
	Now               time.Time
}

// Candidate is one ranked agent.
type Candidate struct {
	Agent     domain.Agent
	Breakdown domain.ScoreBreakdown
}

// Exclusion records why an agent left the pool.
type Exclusion struct {
	AgentID   string
	Reason    string
	Breakdown domain.ScoreBreakdown
}

// Ranking is the ordered eligible candidates plus excluded agents.
type Ranking struct {
	Candidates []Candidate
	Excluded   []Exclusion
}

// Empty reports whether no candidate is eligible.
func (r Ranking) Empty() bool {
	return len(r.Candidates) == 0
}

// Top returns the best candidate.
func (r Ranking) Top() (Candidate, bool) {
	if r.Empty() {
		return Candidate{}, false
	}
	return r.Candidates[0], true
}

// Breakdowns returns every scored agent's breakdown keyed by agent id, excluded agents included.
func (r Ranking) Breakdowns() map[string]domain.ScoreBreakdown {
	out := make(map[string]domain.ScoreBreakdown, len(r.Candidates)+len(r.Excluded))
	for _, c := range r.Candidates {
		out[c.Agent.ID] = c.Breakdown
	}
	for _, e := range r.Excluded {
		out[e.AgentID] = e.Breakdown
	}
	return out
}

// Engine ranks candidate agents for a ticket. It holds no mutable state.
type Engine struct {
	weights       config.ScoringWeights
	ceiling       float64
	partialCredit float64
	skillBaseline float64
	languageBonus float64
}

// NewEngine validates cfg and builds an engine.
func NewEngine(cfg config.AssignmentConfig) (*Engine, error) {
	if err := cfg.Weights.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		weights:       cfg.Weights,
		ceiling:       cfg.CapacityCeiling,
		partialCredit: cfg.PartialAvailabilityCredit,
		skillBaseline: cfg.SkillBaseline,
		languageBonus: cfg.LanguageBonus,
	}, nil
}

// CapacityCeiling returns the weighted load at which agents stop receiving work.
func (e *Engine) CapacityCeiling() float64 {
	return e.ceiling
}

// Rank scores every candidate and returns the eligible ones best first. Ordering: total desc,
// weighted load asc, agent id asc.
func (e *Engine) Rank(in Input) Ranking {
	perf := e.performanceScores(in)
	var ranking Ranking

	for _, agent := range in.Candidates {
		b := domain.ScoreBreakdown{}
		load := in.Workload[agent.ID]
		b.WeightedLoad = load

		if in.Workload == nil {
			b.Workload = Neutral
			b.Degraded = append(b.Degraded, DegradedWorkload)
		} else {
			b.Workload = clamp01(1 - load/e.ceiling)
		}

		if score, ok := perf[agent.ID]; ok {
			b.Performance = score
		} else {
			b.Performance = Neutral
		}
		if in.Performance == nil {
			b.Degraded = append(b.Degraded, DegradedPerformance)
		}

		if in.DirectoryDegraded {
			b.Availability = Neutral
			b.Skill = Neutral
			b.Degraded = append(b.Degraded, DegradedDirectory)
		} else {
			b.Availability = e.availability(agent, in.Now)
			b.Skill = e.skill(agent, in.Ticket)
		}

		if in.History == nil {
			b.History = Neutral
			b.Degraded = append(b.Degraded, DegradedHistory)
		} else if in.History[agent.ID] {
			b.History = 1
		}

		if in.Ticket != nil && agent.SpeaksLanguage(in.Ticket.Language) {
			b.LanguageBonus = e.languageBonus
		}

		b.Total = roundTotal(e.weights.Workload*b.Workload +
			e.weights.Performance*b.Performance +
			e.weights.Availability*b.Availability +
			e.weights.Skill*b.Skill +
			e.weights.History*b.History +
			b.LanguageBonus)

		switch {
		case agent.Disabled:
			ranking.Excluded = append(ranking.Excluded, Exclusion{AgentID: agent.ID, Reason: ExcludedDisabled, Breakdown: b})
		case b.Availability == 0:
			ranking.Excluded = append(ranking.Excluded, Exclusion{AgentID: agent.ID, Reason: ExcludedUnavailable, Breakdown: b})
		case in.Workload != nil && load >= e.ceiling:
			ranking.Excluded = append(ranking.Excluded, Exclusion{AgentID: agent.ID, Reason: ExcludedAtCapacity, Breakdown: b})
		default:
			ranking.Candidates = append(ranking.Candidates, Candidate{Agent: agent, Breakdown: b})
		}
	}

	sort.SliceStable(ranking.Candidates, func(i, j int) bool {
		a, b := ranking.Candidates[i], ranking.Candidates[j]
		if a.Breakdown.Total != b.Breakdown.Total {
			return a.Breakdown.Total > b.Breakdown.Total
		}
		if a.Breakdown.WeightedLoad != b.Breakdown.WeightedLoad {
			return a.Breakdown.WeightedLoad < b.Breakdown.WeightedLoad
		}
		return a.Agent.ID < b.Agent.ID
	})
	sort.SliceStable(ranking.Excluded, func(i, j int) bool {
		return ranking.Excluded[i].AgentID < ranking.Excluded[j].AgentID
	})
	return ranking
}

func (e *Engine) availability(agent domain.Agent, now time.Time) float64 {
	if !agent.Available {
		return 0
	}
	if agent.OfficeHours.Contains(now) {
		return 1
	}
	return e.partialCredit
}

func (e *Engine) skill(agent domain.Agent, ticket *domain.Ticket) float64 {
	if ticket != nil && agent.HasSkillFor(ticket.Category, ticket.Subcategory) {
		return 1
	}
	return e.skillBaseline
}

// performanceScores min-max normalizes resolution rate and satisfaction across the candidates
// that have metrics, then blends them equally. Satisfaction ranges over rated agents only and an
// unrated agent's satisfaction is Neutral. A flat range normalizes to Neutral.
func (e *Engine) performanceScores(in Input) map[string]float64 {
	scores := map[string]float64{}
	if in.Performance == nil {
		return scores
	}
	var present []domain.AgentPerformance
	for _, agent := range in.Candidates {
		if p, ok := in.Performance[agent.ID]; ok {
			present = append(present, p)
		}
	}
	if len(present) == 0 {
		return scores
	}

	minRate, maxRate := math.Inf(1), math.Inf(-1)
	minSat, maxSat := math.Inf(1), math.Inf(-1)
	for _, p := range present {
		minRate, maxRate = math.Min(minRate, p.ResolutionRate), math.Max(maxRate, p.ResolutionRate)
		if p.Satisfaction != nil {
			minSat, maxSat = math.Min(minSat, *p.Satisfaction), math.Max(maxSat, *p.Satisfaction)
		}
	}
	for _, agent := range in.Candidates {
		p, ok := in.Performance[agent.ID]
		if !ok {
			continue
		}
		rate := normalize(p.ResolutionRate, minRate, maxRate)
		sat := Neutral
		if p.Satisfaction != nil {
			sat = normalize(*p.Satisfaction, minSat, maxSat)
		}
		scores[agent.ID] = (rate + sat) / 2
	}
	return scores
}

func roundTotal(v float64) float64 {
	return math.Round(v*totalPrecision) / totalPrecision
}

func normalize(v, lo, hi float64) float64 {
	if hi-lo < flatRange {
		return Neutral
	}
	return clamp01((v - lo) / (hi - lo))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
