package assign

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"crewline/internal/feature"
	"crewline/internal/predictor"
)

// ErrNoCandidates means the eligible-user pool was empty. No assignment is
// made and the task is left untouched.
var ErrNoCandidates = errors.New("no candidate users")

const (
	SourceModel     = "model"
	SourceColdStart = "cold_start"
)

const (
	DefaultWorkloadWeight   = 0.08
	DefaultOverloadWeight   = 0.05
	DefaultQualityWeight    = 0.7
	DefaultEfficiencyWeight = 0.3
)

// Params configure scoring, workload penalties and training. Zero values
// mean defaults.
type Params struct {
	MinOutcomes      int
	Trees            int
	Seed             int64
	WorkloadWeight   float64
	OverloadWeight   float64
	QualityWeight    float64
	EfficiencyWeight float64
	// Rand drives cold-start scores. Nil seeds from the clock; tests pass
	// a fixed source.
	Rand *rand.Rand
}

func (p Params) withDefaults() Params {
	if p.MinOutcomes <= 0 {
		p.MinOutcomes = predictor.DefaultMinOutcomes
	}
	if p.Trees <= 0 {
		p.Trees = predictor.DefaultTrees
	}
	if p.Seed == 0 {
		p.Seed = predictor.DefaultSeed
	}
	if p.WorkloadWeight == 0 {
		p.WorkloadWeight = DefaultWorkloadWeight
	}
	if p.OverloadWeight == 0 {
		p.OverloadWeight = DefaultOverloadWeight
	}
	if p.QualityWeight == 0 {
		p.QualityWeight = DefaultQualityWeight
	}
	if p.EfficiencyWeight == 0 {
		p.EfficiencyWeight = DefaultEfficiencyWeight
	}
	return p
}

// Engine ranks candidate users for one task at a time. It owns the active
// predictor snapshot (single atomic register) and the workload ledger.
type Engine struct {
	params Params
	ledger *Ledger
	model  atomic.Pointer[predictor.Snapshot]

	// mu makes ranking plus the winner's ledger acquire one logical
	// operation; concurrent assigns cannot both observe the same
	// pre-increment counters.
	mu sync.Mutex

	rng   *rand.Rand
	rngMu sync.Mutex
}

func New(params Params) *Engine {
	p := params.withDefaults()
	rng := p.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Engine{params: p, ledger: NewLedger(), rng: rng}
}

func (e *Engine) Ledger() *Ledger { return e.ledger }

func (e *Engine) Params() Params { return e.params }

// ActiveSnapshot returns the installed snapshot, possibly nil.
func (e *Engine) ActiveSnapshot() *predictor.Snapshot { return e.model.Load() }

// Install swaps in a new active snapshot. In-flight scoring finishes
// against whatever snapshot it already loaded.
func (e *Engine) Install(snap *predictor.Snapshot) { e.model.Store(snap) }

// Ready reports whether the active snapshot is trusted for scoring.
func (e *Engine) Ready() bool { return e.model.Load().Ready(e.params.MinOutcomes) }

// Task is the slice of a task record the ranker needs.
type Task struct {
	ID            string
	Complexity    float64
	DeadlineHours float64
}

// Candidate is one eligible user plus its read-only history aggregate.
type Candidate struct {
	UserID      string
	MeanSuccess float64
}

// Ranked is one scored candidate within a Decision.
type Ranked struct {
	UserID    string  `json:"user_id"`
	OpenTasks int     `json:"open_tasks"`
	Base      float64 `json:"base"`
	Penalty   float64 `json:"penalty"`
	Score     float64 `json:"score"`
}

// Decision is the result of one Assign call: the chosen user, the feature
// snapshot it was chosen under, and the full ranked pool for audit.
type Decision struct {
	TaskID      string
	UserID      string
	OpenTasks   int
	MeanSuccess float64
	Score       float64
	Source      string
	Ranked      []Ranked
}

// Assign ranks the candidates for the task and acquires the winner's
// workload slot. A missing or untrusted model is absorbed by the
// cold-start selector; errors are reserved for structural violations.
// Decision.OpenTasks is the winner's count before the acquire.
func (e *Engine) Assign(task Task, candidates []Candidate) (Decision, error) {
	if len(candidates) == 0 {
		return Decision{}, ErrNoCandidates
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := make([]string, len(candidates))
	open := make([]int, len(candidates))
	vectors := make([]feature.Vector, len(candidates))
	for i, c := range candidates {
		ids[i] = c.UserID
		open[i] = e.ledger.Open(c.UserID)
		v, err := feature.Build(feature.Inputs{
			UserID:        c.UserID,
			Complexity:    task.Complexity,
			DeadlineHours: task.DeadlineHours,
			OpenTasks:     open[i],
			MeanSuccess:   c.MeanSuccess,
		})
		if err != nil {
			return Decision{}, err
		}
		vectors[i] = v
	}

	base, source := e.baseScores(vectors, open)
	ranked := rankCandidates(ids, open, base, e.params)

	chosen := ranked[0]
	e.ledger.Acquire(chosen.UserID)

	d := Decision{
		TaskID:    task.ID,
		UserID:    chosen.UserID,
		OpenTasks: chosen.OpenTasks,
		Score:     chosen.Score,
		Source:    source,
		Ranked:    ranked,
	}
	for _, c := range candidates {
		if c.UserID == chosen.UserID {
			d.MeanSuccess = c.MeanSuccess
			break
		}
	}
	return d, nil
}

// baseScores consults the active snapshot when trusted and falls back to
// the cold-start selector otherwise. A not-ready model is absorbed here,
// never surfaced to the caller.
func (e *Engine) baseScores(vectors []feature.Vector, open []int) ([]float64, string) {
	snap := e.model.Load()
	if !snap.Ready(e.params.MinOutcomes) {
		return e.coldStart(open), SourceColdStart
	}
	scores := make([]float64, len(vectors))
	for i, v := range vectors {
		s, err := snap.Score(v)
		if err != nil {
			return e.coldStart(open), SourceColdStart
		}
		scores[i] = s
	}
	return scores, SourceModel
}

// rankCandidates applies the workload penalty and orders by adjusted score
// descending, then fewer open tasks, then user id.
func rankCandidates(ids []string, open []int, base []float64, p Params) []Ranked {
	var mean float64
	for _, n := range open {
		mean += float64(n)
	}
	mean /= float64(len(open))

	ranked := make([]Ranked, len(ids))
	for i := range ids {
		penalty := p.WorkloadWeight * float64(open[i])
		if over := float64(open[i]) - mean; over > 0 {
			penalty += p.OverloadWeight * over * over
		}
		ranked[i] = Ranked{
			UserID:    ids[i],
			OpenTasks: open[i],
			Base:      base[i],
			Penalty:   penalty,
			Score:     base[i] - penalty,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		if ranked[i].OpenTasks != ranked[j].OpenTasks {
			return ranked[i].OpenTasks < ranked[j].OpenTasks
		}
		return ranked[i].UserID < ranked[j].UserID
	})
	return ranked
}
