package tasks

import (
	"math"
	"sync"
	"time"

	"github.com/zonit/eventmessage/clock"
	"github.com/zonit/eventmessage/internal/pool"
)

// tickInterval is the ProgressContext's update cadence (spec.md §4.H,
// §9: "this spec adopts 200 ms + change-detection as normative").
const tickInterval = 200 * time.Millisecond

// UpdateFunc receives a percent (always present), a 1-based current
// step (nil if the context has no plan), and the latest message.
type UpdateFunc func(percent int, step *int, message string)

// stepPlan is the precomputed cumulative-percent boundaries for an
// ordered set of steps (spec.md §4.H "Plan precomputation").
type stepPlan struct {
	steps    []ProgressStep
	startPct []float64
	endPct   []float64
}

func buildPlan(steps []ProgressStep) stepPlan {
	n := len(steps)
	p := stepPlan{steps: steps, startPct: make([]float64, n), endPct: make([]float64, n)}
	if n == 0 {
		return p
	}

	var total time.Duration
	for _, s := range steps {
		total += s.EstimatedDuration
	}

	if total <= 0 {
		for i := 0; i < n; i++ {
			p.endPct[i] = float64(i+1) * (100.0 / float64(n))
		}
	} else {
		var cum time.Duration
		for i, s := range steps {
			cum += s.EstimatedDuration
			p.endPct[i] = 100 * float64(cum) / float64(total)
		}
	}
	for i := 1; i < n; i++ {
		p.startPct[i] = p.endPct[i-1]
	}
	return p
}

// ProgressContext is the per-attempt handle handlers use to advance
// steps; a 200 ms ticker interpolates percent between step boundaries
// (spec.md §4.H). Instances are recycled across attempts via a dynamic
// pool (see acquireProgressContext) rather than allocated fresh each
// time, since a busy task engine creates one per retry.
type ProgressContext struct {
	mu sync.Mutex

	plan    stepPlan
	hasPlan bool

	currentStep int
	stepStart   time.Time
	message     string

	overridden      bool
	overridePercent int

	lastEmittedPercent int

	clk      clock.Clock
	onUpdate UpdateFunc

	ticker clock.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup

	disposed bool
}

var progressPool = pool.NewDynamic(func() interface{} { return &ProgressContext{} })

// acquireProgressContext configures a (possibly reused) ProgressContext
// for a fresh attempt and, if steps is non-empty, starts its ticker and
// emits the initial 0% update.
func acquireProgressContext(steps []ProgressStep, clk clock.Clock, onUpdate UpdateFunc) *ProgressContext {
	pc, _ := progressPool.Get().(*ProgressContext)
	pc.reset(steps, clk, onUpdate)
	return pc
}

// release returns pc to the pool. Callers must have already called
// Dispose.
func releaseProgressContext(pc *ProgressContext) {
	progressPool.Put(pc)
}

func (pc *ProgressContext) reset(steps []ProgressStep, clk clock.Clock, onUpdate UpdateFunc) {
	pc.mu.Lock()
	pc.plan = stepPlan{}
	pc.hasPlan = false
	pc.currentStep = 0
	pc.message = ""
	pc.overridden = false
	pc.overridePercent = 0
	pc.lastEmittedPercent = -1
	pc.disposed = false
	pc.clk = clk
	pc.onUpdate = onUpdate
	pc.stopCh = make(chan struct{})
	pc.ticker = nil

	if len(steps) > 0 {
		pc.plan = buildPlan(steps)
		pc.hasPlan = true
		pc.stepStart = clk.Now()
		pc.message = steps[0].Message
	}
	pc.mu.Unlock()

	if pc.hasPlan {
		pc.startTicker()
		pc.mu.Lock()
		pc.emitLocked()
		pc.mu.Unlock()
	}
}

func (pc *ProgressContext) startTicker() {
	ticker := pc.clk.NewTicker(tickInterval)
	pc.ticker = ticker
	pc.wg.Add(1)
	go func() {
		defer pc.wg.Done()
		for {
			select {
			case <-ticker.C():
				pc.onTick()
			case <-pc.stopCh:
				return
			}
		}
	}()
}

func (pc *ProgressContext) onTick() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.disposed {
		return
	}
	pct := pc.computePercentLocked()
	if pct == pc.lastEmittedPercent {
		return
	}
	pc.lastEmittedPercent = pct
	pc.onUpdate(pct, pc.currentStepPtrLocked(), pc.message)
}

// computePercentLocked implements spec.md §4.H's interpolation: frac is
// elapsed/estimated capped at 0.99 so a slow step never reports 100
// before the handler calls Next/GoTo/completes.
func (pc *ProgressContext) computePercentLocked() int {
	if pc.overridden {
		return clampPercent(pc.overridePercent)
	}
	if !pc.hasPlan {
		return 0
	}

	i := pc.currentStep
	d := pc.plan.steps[i].EstimatedDuration
	startPct, endPct := pc.plan.startPct[i], pc.plan.endPct[i]

	if d <= 0 {
		return clampPercent(int(math.Floor(endPct)))
	}

	elapsed := pc.clk.Now().Sub(pc.stepStart)
	frac := float64(elapsed) / float64(d)
	if frac < 0 {
		frac = 0
	}
	if frac > 0.99 {
		frac = 0.99
	}
	return clampPercent(int(math.Floor(startPct + (endPct-startPct)*frac)))
}

func (pc *ProgressContext) currentStepPtrLocked() *int {
	if !pc.hasPlan {
		return nil
	}
	s := pc.currentStep + 1
	return &s
}

func (pc *ProgressContext) emitLocked() {
	pct := pc.computePercentLocked()
	pc.lastEmittedPercent = pct
	pc.onUpdate(pct, pc.currentStepPtrLocked(), pc.message)
}

// Next advances to the next step, restarting the step clock. message,
// if non-nil, overrides the step's default message. Past the last step
// or without a plan, Next is a no-op.
func (pc *ProgressContext) Next(message *string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.disposed || !pc.hasPlan || pc.currentStep+1 >= len(pc.plan.steps) {
		return
	}
	pc.currentStep++
	pc.stepStart = pc.clk.Now()
	pc.overridden = false
	pc.message = pc.resolveMessageLocked(message)
	pc.emitLocked()
}

// GoTo jumps directly to step i. Out-of-range indices are ignored.
func (pc *ProgressContext) GoTo(i int, message *string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.disposed || !pc.hasPlan || i < 0 || i >= len(pc.plan.steps) {
		return
	}
	pc.currentStep = i
	pc.stepStart = pc.clk.Now()
	pc.overridden = false
	pc.message = pc.resolveMessageLocked(message)
	pc.emitLocked()
}

func (pc *ProgressContext) resolveMessageLocked(message *string) string {
	if message != nil {
		return *message
	}
	return pc.plan.steps[pc.currentStep].Message
}

// SetMessage updates the message without changing step or percent,
// emitting only when the message actually changes.
func (pc *ProgressContext) SetMessage(m string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.disposed || pc.message == m {
		return
	}
	pc.message = m
	pc.emitLocked()
}

// SetProgress overrides percent directly, bypassing interpolation; used
// when the context has no step plan.
func (pc *ProgressContext) SetProgress(p int, message *string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.disposed {
		return
	}
	pc.overridden = true
	pc.overridePercent = clampPercent(p)
	if message != nil {
		pc.message = *message
	}
	pc.emitLocked()
}

// Dispose stops the ticker. Idempotent; the final terminal state
// transition is emitted by the task state store, not the context
// (spec.md §4.H "Thread-safety").
func (pc *ProgressContext) Dispose() {
	pc.mu.Lock()
	if pc.disposed {
		pc.mu.Unlock()
		return
	}
	pc.disposed = true
	pc.mu.Unlock()

	close(pc.stopCh)
	if pc.ticker != nil {
		pc.ticker.Stop()
	}
	pc.wg.Wait()
}

func clampPercent(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
