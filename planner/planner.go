package planner

import (
	"context"
	"sort"
	"time"

	appconfig "marketlake/config"
	"marketlake/internal/symbols"
	"marketlake/logger"
	"marketlake/models"
)

// Marks is the read side of the watermark store the planner needs.
type Marks interface {
	Current(ctx context.Context, symbol string) (time.Time, bool, error)
}

// Plan is one planning round: the tasks to run plus what was skipped and
// why. Symbols that failed to plan never block the others.
type Plan struct {
	PlannedAt    time.Time          `json:"planned_at"`
	Tasks        []models.FetchTask `json:"tasks"`
	Skipped      []string           `json:"skipped,omitempty"`
	SymbolErrors map[string]string  `json:"symbol_errors,omitempty"`
}

// Planner derives fetch tasks from the gap between each symbol's
// watermark and the current safe horizon. It holds no state of its own;
// every round reads watermarks fresh so externally advanced symbols are
// picked up automatically.
type Planner struct {
	config  *appconfig.Config
	marks   Marks
	catalog []symbols.Symbol
	log     *logger.Log
}

func NewPlanner(cfg *appconfig.Config, marks Marks, catalog []symbols.Symbol) *Planner {
	return &Planner{
		config:  cfg,
		marks:   marks,
		catalog: catalog,
		log:     logger.GetLogger(),
	}
}

// Plan computes the missing windows for every catalog symbol as of 'now'.
// Windows are half-open [start, start+window_size) aligned to window
// boundaries, and only windows that close before now - safety_lag are
// planned. Tasks come back oldest window first across all symbols.
func (p *Planner) Plan(ctx context.Context, now time.Time) (*Plan, error) {
	log := p.log.WithComponent("planner")

	window := p.config.Planner.WindowSize
	now = now.UTC()
	horizon := now.Add(-p.config.Planner.SafetyLag).Truncate(window)
	floor := alignUp(now.Add(-p.config.Planner.MaxLookback), window)

	plan := &Plan{
		PlannedAt:    now,
		SymbolErrors: make(map[string]string),
	}

	for _, sym := range p.catalog {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		tasks, err := p.planSymbol(ctx, sym, window, floor, horizon)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"symbol": sym.Symbol,
			}).Error("symbol planning failed")
			plan.SymbolErrors[sym.Symbol] = err.Error()
			continue
		}
		if len(tasks) == 0 {
			plan.Skipped = append(plan.Skipped, sym.Symbol)
			continue
		}
		plan.Tasks = append(plan.Tasks, tasks...)
	}

	sort.SliceStable(plan.Tasks, func(i, j int) bool {
		a, b := plan.Tasks[i], plan.Tasks[j]
		if !a.WindowStart.Equal(b.WindowStart) {
			return a.WindowStart.Before(b.WindowStart)
		}
		return a.Symbol < b.Symbol
	})

	log.WithFields(logger.Fields{
		"symbols":       len(p.catalog),
		"tasks":         len(plan.Tasks),
		"skipped":       len(plan.Skipped),
		"symbol_errors": len(plan.SymbolErrors),
		"horizon":       horizon,
	}).Info("planning round complete")

	return plan, nil
}

func (p *Planner) planSymbol(ctx context.Context, sym symbols.Symbol, window time.Duration, floor, horizon time.Time) ([]models.FetchTask, error) {
	mark, found, err := p.marks.Current(ctx, sym.Symbol)
	if err != nil {
		return nil, err
	}

	start := floor
	if found {
		aligned := alignUp(mark.UTC(), window)
		if aligned.After(start) {
			start = aligned
		}
	}
	if !sym.Start.IsZero() {
		aligned := alignUp(sym.Start.UTC(), window)
		if aligned.After(start) {
			start = aligned
		}
	}

	var tasks []models.FetchTask
	for ws := start; !ws.Add(window).After(horizon); ws = ws.Add(window) {
		tasks = append(tasks, models.FetchTask{
			Symbol:      sym.Symbol,
			Interval:    models.Interval1Min,
			WindowStart: ws,
			WindowEnd:   ws.Add(window),
		})
	}
	return tasks, nil
}

// alignUp rounds t up to the next window boundary, leaving aligned times
// untouched.
func alignUp(t time.Time, window time.Duration) time.Time {
	aligned := t.Truncate(window)
	if aligned.Equal(t) {
		return aligned
	}
	return aligned.Add(window)
}
