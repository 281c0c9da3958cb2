package gc

import "sync"

// Injector is the shared, multi-producer multi-consumer overflow queue a
// worker spills to when its own local stack grows past LocalStackMax, and
// steals from once its local stack runs dry. spec.md §5's "GC worker
// ordering" specifies FIFO steal here (oldest-donated subtrees get
// picked up first, so a large overflow doesn't starve behind a stream of
// smaller ones) against per-owner LIFO push/pop on LocalDeque — grounded
// on scanner.rs's `crossbeam_deque::Injector<BlockImpl>`; the ecosystem
// has no pure-Go equivalent retrieved in this pack, so this is a
// mutex-backed stand-in with the same push/steal shape.
type Injector struct {
	mu    sync.Mutex
	items []Block
}

func NewInjector() *Injector { return &Injector{} }

func (inj *Injector) Push(b Block) {
	inj.mu.Lock()
	inj.items = append(inj.items, b)
	inj.mu.Unlock()
}

// Steal removes and returns the oldest pending block (FIFO), or ok=false
// if the injector is currently empty.
func (inj *Injector) Steal() (Block, bool) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if len(inj.items) == 0 {
		return Block{}, false
	}
	b := inj.items[0]
	inj.items = inj.items[1:]
	return b, true
}

func (inj *Injector) Len() int {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return len(inj.items)
}

// LocalDeque is a worker's own LIFO stack of pending blocks.
type LocalDeque struct {
	mu    sync.Mutex
	items []Block
}

func NewLocalDeque() *LocalDeque { return &LocalDeque{} }

func (d *LocalDeque) Push(b Block) {
	d.mu.Lock()
	d.items = append(d.items, b)
	d.mu.Unlock()
}

func (d *LocalDeque) Pop() (Block, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := len(d.items)
	if n == 0 {
		return Block{}, false
	}
	b := d.items[n-1]
	d.items = d.items[:n-1]
	return b, true
}

// PopFront removes the oldest pending block, used to donate overflow to
// the shared injector while leaving the freshest (most cache-local) work
// on top of the stack for this worker to keep popping.
func (d *LocalDeque) PopFront() (Block, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.items) == 0 {
		return Block{}, false
	}
	b := d.items[0]
	d.items = d.items[1:]
	return b, true
}

func (d *LocalDeque) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
