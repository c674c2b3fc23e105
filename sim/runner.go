package sim

import (
	"context"
	"fmt"
	"time"

	"blesim/geom"
	"blesim/radio"
)

// Step is one evaluated tick, handed to sinks in order.
type Step struct {
	Tick         int
	TimestampMs  int64
	Truth        geom.Point // scene units
	Measurements []Measurement
	Fix          geom.Point
	HasFix       bool
	ErrM         float64 // estimate error in meters; valid when HasFix
}

// Sink consumes evaluated steps. Sinks run on the runner goroutine; a sink
// error aborts the run.
type Sink interface {
	OnStep(Step) error
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(Step) error

func (f SinkFunc) OnStep(s Step) error { return f(s) }

// Runner walks the scenario path and evaluates the scene once per tick.
type Runner struct {
	Scenario *Scenario
	Start    time.Time     // timestamp base; zero means time.Now at Run
	Every    time.Duration // real-time pacing; zero runs at full speed

	cfg   radio.Config
	scene *Scene
	sinks []Sink
}

// NewRunner builds a runner with the scenario's radio overrides applied and
// the noise source seeded when the scenario pins a seed.
func NewRunner(sc *Scenario) *Runner {
	cfg := sc.Radio.Config()
	if seed, ok := sc.GetSeed(); ok {
		cfg.Rand = radio.NewSource(seed)
	}
	return &Runner{Scenario: sc, cfg: cfg, scene: sc.Scene()}
}

// AddSink registers a step consumer.
func (r *Runner) AddSink(s Sink) { r.sinks = append(r.sinks, s) }

// Config is the effective radio configuration for this run.
func (r *Runner) Config() radio.Config { return r.cfg }

// Scene is the runner's working scene snapshot.
func (r *Runner) Scene() *Scene { return r.scene }

// Run evaluates every tick of the scenario. With Every set the ticks are
// paced in real time and ctx cancellation is honored between ticks;
// otherwise the run goes at full speed.
func (r *Runner) Run(ctx context.Context) error {
	start := r.Start
	if start.IsZero() {
		start = time.Now()
	}
	tickMs := r.Scenario.GetTick().Milliseconds()

	var ticker *time.Ticker
	if r.Every > 0 {
		ticker = time.NewTicker(r.Every)
		defer ticker.Stop()
	}

	total := r.Scenario.TotalTicks()
	for tick := 0; tick < total; tick++ {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		step := r.Evaluate(tick)
		step.TimestampMs = start.UnixMilli() + int64(tick)*tickMs
		for _, s := range r.sinks {
			if err := s.OnStep(step); err != nil {
				return fmt.Errorf("sink at tick %d: %w", tick, err)
			}
		}
	}
	return nil
}

// Evaluate computes one tick without dispatching it to sinks.
func (r *Runner) Evaluate(tick int) Step {
	truth := r.Scenario.PositionAt(tick)
	r.scene.Device = Device{At: truth}
	ms := Sweep(r.scene, r.cfg)
	fix, ok := Locate(r.scene, ms)
	step := Step{
		Tick:         tick,
		Truth:        truth,
		Measurements: ms,
		Fix:          fix,
		HasFix:       ok,
	}
	if ok {
		step.ErrM = geom.Dist(truth, fix) * r.scene.scale()
	}
	return step
}
