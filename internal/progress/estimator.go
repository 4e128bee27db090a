// Package progress turns the irregular signals of a conversion (stage
// changes, completed chunks, elapsed time) into one smoothed percentage and
// an ETA.
//
// The synthesizing band is estimated from a weighted blend of chunk, character
// and time fractions. When no real update arrives for a while the estimator
// creeps toward the next chunk boundary so the display never looks frozen, and
// marks those snapshots speculative. Real updates are smoothed with an
// exponential moving average and never lower the displayed value.
package progress

import (
	"encoding/json"
	"math"
	"sync"
	"time"
)

// Stage is a conversion phase.
type Stage string

const (
	StageQueued       Stage = "queued"
	StageExtracting   Stage = "extracting"
	StageChunking     Stage = "chunking"
	StageSynthesizing Stage = "synthesizing"
	StageFinalizing   Stage = "finalizing"
	StageCompleted    Stage = "completed"
	StageFailed       Stage = "failed"
	StageCancelled    Stage = "cancelled"
)

// Terminal reports whether no further progress follows s.
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

type band struct{ start, end float64 }

var bands = map[Stage]band{
	StageQueued:       {0, 0},
	StageExtracting:   {0, 10},
	StageChunking:     {10, 15},
	StageSynthesizing: {15, 95},
	StageFinalizing:   {95, 100},
	StageCompleted:    {100, 100},
}

// Snapshot sources.
const (
	SourceStage  = "stage"
	SourceChunks = "chunks"
	SourceTime   = "time"
	SourceAuto   = "auto"
)

// speculativeMargin keeps auto-increment this far below the next boundary.
const speculativeMargin = 0.5

// Snapshot is a point-in-time view of progress.
type Snapshot struct {
	Percent     float64       `json:"percent"`
	Stage       Stage         `json:"stage"`
	ChunksDone  int           `json:"chunks_done"`
	ChunksTotal int           `json:"chunks_total"`
	CharsDone   int           `json:"chars_done"`
	CharsTotal  int           `json:"chars_total"`
	Elapsed     time.Duration `json:"-"`
	ETA         time.Duration `json:"-"`
	Source      string        `json:"source"`
	Speculative bool          `json:"speculative"`
	UpdatedAt   time.Time     `json:"updated_at"`
	// CharsPerSecond is the recent synthesis throughput used for the ETA.
	CharsPerSecond float64 `json:"chars_per_second"`
}

// MarshalJSON renders durations as milliseconds.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	type plain Snapshot
	return json.Marshal(struct {
		plain
		ElapsedMs int64 `json:"elapsed_ms"`
		ETAMs     int64 `json:"eta_ms"`
	}{plain(s), s.Elapsed.Milliseconds(), s.ETA.Milliseconds()})
}

// Options configures an Estimator. Zero values take the defaults; when all
// three weights are zero the default weights apply.
type Options struct {
	Clock                 func() time.Time
	SmoothingAlpha        float64
	ChunkWeight           float64
	CharWeight            float64
	TimeWeight            float64
	DefaultCharsPerSecond float64
	StallAfter            time.Duration
	AutoIncrementFactor   float64
	ThroughputWindow      int
	FinalizeAllowance     time.Duration
}

// DefaultOptions returns the estimator defaults.
func DefaultOptions() Options {
	return Options{
		Clock:                 time.Now,
		SmoothingAlpha:        0.3,
		ChunkWeight:           0.3,
		CharWeight:            0.5,
		TimeWeight:            0.2,
		DefaultCharsPerSecond: 200,
		StallAfter:            3 * time.Second,
		AutoIncrementFactor:   0.05,
		ThroughputWindow:      5,
		FinalizeAllowance:     2 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Clock == nil {
		o.Clock = def.Clock
	}
	if o.SmoothingAlpha <= 0 || o.SmoothingAlpha > 1 {
		o.SmoothingAlpha = def.SmoothingAlpha
	}
	if o.ChunkWeight+o.CharWeight+o.TimeWeight <= 0 {
		o.ChunkWeight, o.CharWeight, o.TimeWeight = def.ChunkWeight, def.CharWeight, def.TimeWeight
	}
	if o.DefaultCharsPerSecond <= 0 {
		o.DefaultCharsPerSecond = def.DefaultCharsPerSecond
	}
	if o.StallAfter <= 0 {
		o.StallAfter = def.StallAfter
	}
	if o.AutoIncrementFactor <= 0 || o.AutoIncrementFactor >= 1 {
		o.AutoIncrementFactor = def.AutoIncrementFactor
	}
	if o.ThroughputWindow <= 0 {
		o.ThroughputWindow = def.ThroughputWindow
	}
	if o.FinalizeAllowance <= 0 {
		o.FinalizeAllowance = def.FinalizeAllowance
	}
	return o
}

type sample struct {
	chars int
	took  time.Duration
}

// Estimator tracks one conversion. It is safe for concurrent use.
type Estimator struct {
	mu   sync.Mutex
	opts Options

	stage       Stage
	displayed   float64
	source      string
	speculative bool

	chunksTotal, chunksDone int
	charsTotal, charsDone   int
	samples                 []sample

	created    time.Time
	synthStart time.Time
	lastReal   time.Time
	updatedAt  time.Time
}

func NewEstimator(opts Options) *Estimator {
	opts = opts.withDefaults()
	now := opts.Clock()
	return &Estimator{
		opts:      opts,
		stage:     StageQueued,
		source:    SourceStage,
		created:   now,
		lastReal:  now,
		updatedAt: now,
	}
}

// SetStage moves to stage. Progress jumps to at least the start of the new
// band. Terminal stages are reached through Complete, Fail and Cancel.
func (e *Estimator) SetStage(stage Stage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stage.Terminal() || stage.Terminal() {
		return
	}
	b, ok := bands[stage]
	if !ok {
		return
	}

	now := e.opts.Clock()
	e.stage = stage
	if stage == StageSynthesizing && e.synthStart.IsZero() {
		e.synthStart = now
	}
	e.raise(b.start)
	e.markReal(now, SourceStage)
}

// Begin records the synthesis workload and enters the synthesizing stage.
func (e *Estimator) Begin(totalChunks, totalChars int) {
	e.mu.Lock()
	if e.stage.Terminal() {
		e.mu.Unlock()
		return
	}
	e.chunksTotal = max(totalChunks, 0)
	e.charsTotal = max(totalChars, 0)
	e.mu.Unlock()

	e.SetStage(StageSynthesizing)
}

// ChunkCompleted records one synthesized chunk of chars characters that took
// took to produce.
func (e *Estimator) ChunkCompleted(chars int, took time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stage.Terminal() {
		return
	}
	now := e.opts.Clock()

	e.chunksDone++
	if e.chunksTotal > 0 && e.chunksDone > e.chunksTotal {
		e.chunksDone = e.chunksTotal
	}
	e.charsDone += chars
	if e.charsTotal > 0 && e.charsDone > e.charsTotal {
		e.charsDone = e.charsTotal
	}

	if took > 0 && chars > 0 {
		e.samples = append(e.samples, sample{chars: chars, took: took})
		if len(e.samples) > e.opts.ThroughputWindow {
			e.samples = e.samples[len(e.samples)-e.opts.ThroughputWindow:]
		}
	}

	if e.stage == StageSynthesizing {
		e.smoothToward(e.synthTarget(now))
	}
	e.markReal(now, SourceChunks)
}

// Tick advances time-based estimation and returns the new snapshot. Called
// periodically while the job runs.
func (e *Estimator) Tick() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stage.Terminal() || e.stage == StageQueued {
		return e.snapshot()
	}
	now := e.opts.Clock()

	if now.Sub(e.lastReal) >= e.opts.StallAfter {
		ceiling := e.nextCeiling()
		if e.displayed < ceiling {
			e.displayed += e.opts.AutoIncrementFactor * (ceiling - e.displayed)
			e.speculative = true
			e.source = SourceAuto
			e.updatedAt = now
		}
		return e.snapshot()
	}

	if e.stage == StageSynthesizing {
		if target := e.synthTarget(now); target > e.displayed {
			e.smoothToward(target)
			e.source = SourceTime
			e.updatedAt = now
		}
	}
	return e.snapshot()
}

// Complete marks the conversion finished at 100%.
func (e *Estimator) Complete() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stage.Terminal() {
		return
	}
	now := e.opts.Clock()
	e.stage = StageCompleted
	e.displayed = 100
	e.chunksDone = e.chunksTotal
	e.charsDone = e.charsTotal
	e.markReal(now, SourceStage)
}

// Fail freezes progress at its last value.
func (e *Estimator) Fail() { e.freeze(StageFailed) }

// Cancel freezes progress at its last value.
func (e *Estimator) Cancel() { e.freeze(StageCancelled) }

func (e *Estimator) freeze(stage Stage) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stage.Terminal() {
		return
	}
	e.stage = stage
	e.markReal(e.opts.Clock(), SourceStage)
}

// Snapshot returns the current state without advancing estimation.
func (e *Estimator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

func (e *Estimator) markReal(now time.Time, source string) {
	e.lastReal = now
	e.updatedAt = now
	e.source = source
	e.speculative = false
}

// raise lifts the displayed value to at least v.
func (e *Estimator) raise(v float64) {
	if v > e.displayed {
		e.displayed = math.Min(v, 100)
	}
}

func (e *Estimator) smoothToward(target float64) {
	next := e.displayed + e.opts.SmoothingAlpha*(target-e.displayed)
	if next > e.displayed {
		e.displayed = math.Min(next, e.capFor(e.stage))
	}
}

// capFor keeps non-final stages below 100.
func (e *Estimator) capFor(stage Stage) float64 {
	if stage == StageCompleted {
		return 100
	}
	return 100 - speculativeMargin
}

// synthTarget blends the chunk, character and time fractions into a
// position within the synthesizing band.
func (e *Estimator) synthTarget(now time.Time) float64 {
	b := bands[StageSynthesizing]

	var chunkFrac, charFrac, timeFrac float64
	nextBoundary := 1.0
	if e.chunksTotal > 0 {
		chunkFrac = float64(e.chunksDone) / float64(e.chunksTotal)
		nextBoundary = math.Min(1, float64(e.chunksDone+1)/float64(e.chunksTotal))
	}
	if e.charsTotal > 0 {
		charFrac = float64(e.charsDone) / float64(e.charsTotal)
	} else {
		charFrac = chunkFrac
	}
	if e.charsTotal > 0 && !e.synthStart.IsZero() {
		expected := float64(e.charsTotal) / e.throughput()
		if expected > 0 {
			timeFrac = math.Min(now.Sub(e.synthStart).Seconds()/expected, nextBoundary)
		}
	}

	w := e.opts.ChunkWeight + e.opts.CharWeight + e.opts.TimeWeight
	frac := (e.opts.ChunkWeight*chunkFrac + e.opts.CharWeight*charFrac + e.opts.TimeWeight*timeFrac) / w
	return b.start + (b.end-b.start)*math.Min(frac, 1)
}

// nextCeiling is the highest value auto-increment may reach in the current
// stage: just below the next chunk boundary while synthesizing, just below
// the band end otherwise.
func (e *Estimator) nextCeiling() float64 {
	b := bands[e.stage]
	if e.stage == StageSynthesizing && e.chunksTotal > 0 {
		frac := math.Min(1, float64(e.chunksDone+1)/float64(e.chunksTotal))
		return b.start + (b.end-b.start)*frac - speculativeMargin
	}
	return b.end - speculativeMargin
}

// throughput is a weighted moving average of recent chunk rates, newest
// sample heaviest.
func (e *Estimator) throughput() float64 {
	if len(e.samples) == 0 {
		return e.opts.DefaultCharsPerSecond
	}
	var num, den float64
	for i, s := range e.samples {
		w := float64(i + 1)
		num += w * float64(s.chars) / s.took.Seconds()
		den += w
	}
	return num / den
}

func (e *Estimator) eta() time.Duration {
	switch e.stage {
	case StageCompleted, StageFailed, StageCancelled:
		return 0
	case StageFinalizing:
		return e.opts.FinalizeAllowance
	}
	remaining := e.charsTotal - e.charsDone
	if remaining <= 0 {
		return e.opts.FinalizeAllowance
	}
	secs := float64(remaining) / e.throughput()
	return time.Duration(secs*float64(time.Second)) + e.opts.FinalizeAllowance
}

func (e *Estimator) snapshot() Snapshot {
	return Snapshot{
		Percent:     math.Round(math.Max(0, math.Min(e.displayed, 100))*100) / 100,
		Stage:       e.stage,
		ChunksDone:  e.chunksDone,
		ChunksTotal: e.chunksTotal,
		CharsDone:   e.charsDone,
		CharsTotal:  e.charsTotal,
		Elapsed:     e.opts.Clock().Sub(e.created),
		ETA:         e.eta(),
		Source:      e.source,
		Speculative: e.speculative,
		UpdatedAt:   e.updatedAt,

		CharsPerSecond: e.throughput(),
	}
}
