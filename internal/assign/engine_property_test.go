package assign

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

type poolDraw struct {
	ids  []string
	open []int
	base []float64
}

func genPool(t *rapid.T) poolDraw {
	n := rapid.IntRange(1, 10).Draw(t, "poolSize")
	p := poolDraw{
		ids:  make([]string, n),
		open: make([]int, n),
		base: make([]float64, n),
	}
	// a small score alphabet so base-score ties actually occur
	levels := []float64{0.2, 0.5, 0.8}
	for i := 0; i < n; i++ {
		p.ids[i] = fmt.Sprintf("u%02d", i)
		p.open[i] = rapid.IntRange(0, 6).Draw(t, fmt.Sprintf("open%d", i))
		p.base[i] = rapid.SampledFrom(levels).Draw(t, fmt.Sprintf("base%d", i))
	}
	return p
}

func TestRankOrderProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pool := genPool(t)
		ranked := rankCandidates(pool.ids, pool.open, pool.base, Params{}.withDefaults())
		if len(ranked) != len(pool.ids) {
			t.Fatalf("ranked length %d, pool %d", len(ranked), len(pool.ids))
		}
		for i, r := range ranked {
			if r.Score != r.Base-r.Penalty {
				t.Fatalf("entry %d: score %v != base %v - penalty %v", i, r.Score, r.Base, r.Penalty)
			}
			if i == 0 {
				continue
			}
			prev := ranked[i-1]
			switch {
			case prev.Score > r.Score:
			case prev.Score == r.Score && prev.OpenTasks < r.OpenTasks:
			case prev.Score == r.Score && prev.OpenTasks == r.OpenTasks && prev.UserID < r.UserID:
			default:
				t.Fatalf("order violated at %d: %+v before %+v", i, prev, r)
			}
		}
	})
}

func TestWorkloadMonotonicityProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pool := genPool(t)
		ranked := rankCandidates(pool.ids, pool.open, pool.base, Params{}.withDefaults())
		pos := make(map[string]int, len(ranked))
		for i, r := range ranked {
			pos[r.UserID] = i
		}
		for i := range pool.ids {
			for j := range pool.ids {
				if pool.base[i] != pool.base[j] {
					continue
				}
				if pool.open[i] < pool.open[j] && pos[pool.ids[i]] > pos[pool.ids[j]] {
					t.Fatalf("equal base scores but %s (open %d) ranked below %s (open %d)",
						pool.ids[i], pool.open[i], pool.ids[j], pool.open[j])
				}
			}
		}
	})
}

func TestColdStartBoundsProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		e := newTestEngine()
		n := rapid.IntRange(1, 8).Draw(t, "poolSize")
		open := make([]int, n)
		for i := range open {
			open[i] = rapid.IntRange(0, 5).Draw(t, fmt.Sprintf("open%d", i))
		}
		scores := e.coldStart(open)
		anyOpen := false
		for _, v := range open {
			if v > 0 {
				anyOpen = true
			}
		}
		for i, s := range scores {
			if s < 0 || s > 1 {
				t.Fatalf("score %v out of [0,1]", s)
			}
			if anyOpen && s != 1.0/float64(1+open[i]) {
				t.Fatalf("with workload present score must be inverse workload, got %v for open %d", s, open[i])
			}
		}
	})
}
