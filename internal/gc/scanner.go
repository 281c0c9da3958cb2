package gc

import (
	"context"
	"fmt"
	"log"
	"os"
	"runtime"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"corevm/internal/cerrors"
)

// Config tunes the GC worker pool (spec.md §4.4).
type Config struct {
	Workers       int
	LocalStackMax int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = runtime.NumCPU()
	}
	if c.LocalStackMax <= 0 {
		c.LocalStackMax = 16 * 1024
	}
	return c
}

// GCHeapScanner owns the synthesized scan paths for every category (one
// per scan-eligible registered type) and the shared state a GC cycle's
// worker pool coordinates through: the global overflow injector, the
// idempotence mark set, and a live-worker count for termination
// detection. Grounded on scanner.rs's `GCHeapScanner`/`GCWorker`.
type GCHeapScanner struct {
	ID            uuid.UUID
	Config        Config
	Mem           Memory
	CategoryOf    func(ptr uint64) int // -1 if ptr is not a tracked object
	paths         []ScanPath
	names         []string
	global        *Injector
	marks         *MarkSet
	activeWorkers atomic.Int32
	logger        *log.Logger
}

// SetLogger replaces the diagnostic logger, e.g. to route collection-cycle
// lines to a caller-owned destination instead of stderr.
func (s *GCHeapScanner) SetLogger(l *log.Logger) { s.logger = l }

// NewGCHeapScanner synthesizes one ScanPath per plan.ScanTypes entry
// (skipping any with no traceable content) and returns the scanner ready
// to drive a collection cycle.
func NewGCHeapScanner(plan *Plan, mem Memory, categoryOf func(uint64) int, cfg Config) *GCHeapScanner {
	s := &GCHeapScanner{
		ID:         uuid.New(),
		Config:     cfg.withDefaults(),
		Mem:        mem,
		CategoryOf: categoryOf,
		global:     NewInjector(),
		marks:      NewMarkSet(),
		logger:     log.New(os.Stderr, "", log.LstdFlags),
	}
	for _, name := range plan.ScanTypes {
		if path, ok := Synthesize(plan, plan.Types[name]); ok {
			s.paths = append(s.paths, path)
			s.names = append(s.names, name)
		}
	}
	return s
}

// Categories reports the scan-eligible type names this scanner traces,
// in the dense index order CategoryOf must return.
func (s *GCHeapScanner) Categories() []string { return s.names }

func (s *GCHeapScanner) Marks() *MarkSet { return s.marks }

// Trace runs one full collection cycle starting from roots, fanning out
// across Config.Workers goroutines coordinated by an errgroup.Group
// (spec.md §4.4's worker pool; `GCThreadPanic`/`GCThreadOther` are
// recovered per worker and reported through cerrors.GCThreadError).
func (s *GCHeapScanner) Trace(ctx context.Context, roots []uint64) error {
	if s.logger != nil {
		s.logger.Printf("gc: starting collection cycle %s with %d root(s), %d worker(s)", s.ID, len(roots), s.Config.Workers)
	}
	s.marks = NewMarkSet()
	s.global = NewInjector()

	seed := Block{}
	for _, r := range roots {
		if s.marks.MarkIfUnmarked(r) {
			if seed.Full() {
				s.global.Push(seed)
				seed = Block{}
			}
			seed.Push(r)
		}
	}
	if seed.Len() > 0 {
		s.global.Push(seed)
	}

	workerCount := s.Config.Workers
	if workerCount > len(roots)+1 {
		workerCount = len(roots) + 1 // no point spinning up idle workers for a tiny cycle
	}
	s.activeWorkers.Store(int32(workerCount))

	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < workerCount; i++ {
		w := s.newWorker()
		workerID := i
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &cerrors.GCThreadError{Kind: cerrors.GCThreadPanic, WorkerID: workerID, Message: fmt.Sprint(r)}
				}
			}()
			return w.run(gctx)
		})
	}
	return g.Wait()
}

// gcWorker is one collection-cycle goroutine's private state: a local
// LIFO stack plus one pending transfer block per category (spec.md §4.4,
// grounded on scanner.rs's `GCWorker`).
type gcWorker struct {
	scanner        *GCHeapScanner
	local          *LocalDeque
	categoryBuffer []Block
}

func (s *GCHeapScanner) newWorker() *gcWorker {
	return &gcWorker{
		scanner:        s,
		local:          NewLocalDeque(),
		categoryBuffer: make([]Block, len(s.paths)),
	}
}

// push files ptr into this worker's pending buffer for its category,
// marking it so no other worker re-traces it; once the buffer fills it
// becomes a block on this worker's own local stack rather than being
// traced inline, so other idle workers get a chance to steal the
// overflow instead of one worker hoarding an entire subtree. Objects
// outside every registered category (CategoryOf returns < 0) are
// ignored, matching scanner.rs's `category` lookup returning `None`.
func (w *gcWorker) push(ptr uint64) {
	idx := w.scanner.CategoryOf(ptr)
	if idx < 0 || idx >= len(w.categoryBuffer) {
		return
	}
	if !w.scanner.marks.MarkIfUnmarked(ptr) {
		return
	}
	buf := &w.categoryBuffer[idx]
	buf.Push(ptr)
	if buf.Full() {
		w.enqueueLocal(*buf)
		buf.Reset()
	}
}

// enqueueLocal donates a filled block to this worker's local LIFO stack,
// then spills the *oldest* pending blocks to the shared injector once
// the stack grows strictly past Config.LocalStackMax — donating just the
// overflow, not the whole deque, so this worker keeps the freshest
// (most cache-local) work for itself. Grounded on scanner.rs's donate
// path in GCWorker::push_block.
func (w *gcWorker) enqueueLocal(b Block) {
	w.local.Push(b)
	for w.local.Len() > w.scanner.Config.LocalStackMax {
		overflow, ok := w.local.PopFront()
		if !ok {
			break
		}
		w.scanner.global.Push(overflow)
	}
}

// flushCategory traces whatever is left in a not-yet-full category
// buffer directly — used only at end-of-cycle, once every worker has run
// dry, to drain partial buffers that would otherwise never reach
// Block.Full().
func (w *gcWorker) flushCategory(idx int) {
	pending := w.categoryBuffer[idx]
	w.categoryBuffer[idx].Reset()
	path := w.scanner.paths[idx]
	for _, ptr := range pending.AsSlice() {
		Trace(path, w.scanner.Mem, ptr, true, w.push)
	}
}

// run drives this worker's share of one collection cycle: drain the
// local stack (stealing from the shared injector once local work runs
// out), detect global termination via the shared active-worker counter,
// then flush any partially-filled category buffers — which may enqueue
// more work, so the whole cycle repeats until truly dry.
func (w *gcWorker) run(ctx context.Context) error {
	for {
		w.drain(ctx)
		if ctx.Err() != nil {
			return &cerrors.GCThreadError{Kind: cerrors.GCThreadOther, Message: ctx.Err().Error()}
		}
		progressed := false
		for idx := range w.categoryBuffer {
			if w.categoryBuffer[idx].Len() > 0 {
				w.flushCategory(idx)
				progressed = true
			}
		}
		if !progressed {
			return nil
		}
		w.scanner.activeWorkers.Add(1) // flush produced new work; rejoin the pool
	}
}

func (w *gcWorker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if block, ok := w.local.Pop(); ok {
			w.processBlock(block)
			continue
		}
		if block, ok := w.scanner.global.Steal(); ok {
			w.processBlock(block)
			continue
		}
		w.scanner.activeWorkers.Add(-1)
		if w.waitForWorkOrFinish(ctx) {
			return
		}
	}
}

// waitForWorkOrFinish spins briefly watching the shared injector and the
// active-worker count: if a block appears it's claimed and processed
// (true work resumed → caller loops); if every worker reports idle and
// the injector is empty, the cycle is done (reports true → caller
// returns).
func (w *gcWorker) waitForWorkOrFinish(ctx context.Context) (done bool) {
	for {
		if block, ok := w.scanner.global.Steal(); ok {
			w.scanner.activeWorkers.Add(1)
			w.processBlock(block)
			return false
		}
		if w.scanner.activeWorkers.Load() <= 0 && w.scanner.global.Len() == 0 {
			return true
		}
		if ctx.Err() != nil {
			return true
		}
		runtime.Gosched()
	}
}

func (w *gcWorker) processBlock(block Block) {
	for _, ptr := range block.AsSlice() {
		idx := w.scanner.CategoryOf(ptr)
		if idx < 0 || idx >= len(w.scanner.paths) {
			continue
		}
		Trace(w.scanner.paths[idx], w.scanner.Mem, ptr, true, w.push)
	}
}
