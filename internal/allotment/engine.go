package allotment

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"golang.org/x/sync/errgroup"

	"github.com/shrimpsizemoose/allotter/internal/models"
)

// Result is a computed but not yet materialized run. Rows carry no run id
// and the summary carries no timestamp: both are stamped at commit.
type Result struct {
	Summary    models.Run
	Allotments []models.Allotment
	Levels     int
}

type Engine struct {
	// Workers bounds the per-course admission goroutines of a level.
	// Zero or less means no bound.
	Workers int
}

func NewEngine(workers int) *Engine {
	return &Engine{Workers: workers}
}

// admission is what one course decided at one level: the first Admitted
// entries of its pool get seats, the rest are waitlisted.
type admission struct {
	courseID string
	pool     []int
	admitted int
}

// Allot runs the whole seat allotment over a roster. The only errors are a
// rejected roster and a cancelled context.
func (e *Engine) Allot(ctx context.Context, roster *models.Roster) (*Result, error) {
	if err := Validate(roster); err != nil {
		return nil, err
	}

	eligible, warnings := Filter(roster)
	candidates := eligible.Candidates

	remaining := make(map[string]int, len(eligible.Courses))
	for id, c := range eligible.Courses {
		remaining[id] = c.Capacity
	}

	used := make([]map[string]int, len(candidates))
	outcomes := make([][]models.Outcome, len(candidates))
	for i := range candidates {
		used[i] = make(map[string]int)
		outcomes[i] = make([]models.Outcome, len(candidates[i].Choices))
	}

	levels := eligible.Longest()
	for level := 1; level <= levels; level++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("allotment cancelled at level %d: %w", level, err)
		}

		// candidates are in merit order, so every pool is too
		pools := make(map[string][]int)
		for i := range candidates {
			if len(candidates[i].Choices) < level {
				continue
			}
			ch := candidates[i].Choices[level-1]
			if used[i][ch.Category] >= ch.Quota {
				continue
			}
			pools[ch.CourseID] = append(pools[ch.CourseID], i)
		}

		decisions, err := e.admit(ctx, pools, remaining)
		if err != nil {
			return nil, err
		}

		for _, d := range decisions {
			remaining[d.courseID] -= d.admitted
			for n, i := range d.pool {
				ch := candidates[i].Choices[level-1]
				if n < d.admitted {
					outcomes[i][level-1] = models.OutcomeAllotted
					used[i][ch.Category]++
				} else {
					outcomes[i][level-1] = models.OutcomeWaitlisted
				}
			}
		}
	}

	result := &Result{
		Summary: models.Run{
			StudentsProcessed: len(candidates),
			Warnings:          warnings,
		},
		Levels: levels,
	}
	for i, c := range candidates {
		for n, ch := range c.Choices {
			// entries skipped after their category filled are waitlisted too
			outcome := models.OutcomeWaitlisted
			if outcomes[i][n] == models.OutcomeAllotted {
				outcome = models.OutcomeAllotted
				result.Summary.TotalAllotted++
			} else {
				result.Summary.TotalWaitlisted++
			}
			result.Allotments = append(result.Allotments, models.Allotment{
				RollNo:   c.RollNo,
				CourseID: ch.CourseID,
				Outcome:  outcome,
				Rank:     ch.Rank,
				Level:    ch.Level,
			})
		}
	}
	slices.SortFunc(result.Allotments, func(a, b models.Allotment) int {
		return cmp.Or(
			cmp.Compare(a.RollNo, b.RollNo),
			cmp.Compare(a.Rank, b.Rank),
		)
	})

	return result, nil
}

// admit decides every course of one level independently. Each goroutine
// only reads the remaining seat counts and writes its own slot; seat and
// quota deductions happen afterwards in the caller, in course order.
func (e *Engine) admit(ctx context.Context, pools map[string][]int, remaining map[string]int) ([]admission, error) {
	courseIDs := make([]string, 0, len(pools))
	for id := range pools {
		courseIDs = append(courseIDs, id)
	}
	slices.Sort(courseIDs)

	decisions := make([]admission, len(courseIDs))
	g, ctx := errgroup.WithContext(ctx)
	if e.Workers > 0 {
		g.SetLimit(e.Workers)
	}
	for n, id := range courseIDs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pool := pools[id]
			decisions[n] = admission{
				courseID: id,
				pool:     pool,
				admitted: min(max(remaining[id], 0), len(pool)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("admission failed: %w", err)
	}
	return decisions, nil
}
