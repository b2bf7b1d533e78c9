package gateway

import (
	"sync"

	tomb "gopkg.in/tomb.v2"

	"clob/internal/engine"
	"clob/internal/pairkey"
)

// command is a closure dispatched into exactly one Book's own
// goroutine, generalising the teacher's single global clientMessages
// channel (internal/net/server.go) into one per-Book channel so that
// "single-threaded, cooperative per Book" (spec.md §5) holds even
// though the gateway itself serves many concurrent callers. The
// Engine's own mutex already makes every individual call safe; routing
// through one loop per Book additionally applies commands against the
// same Book one at a time, in the order they reach its channel. Each
// item of a BatchPlace/BatchCancel is submitted as its own command, so
// other callers' commands may run between two items of a batch.
type command struct {
	run  func(*engine.Engine)
	done chan struct{}
}

// bookLoop drains commands for one Book, one at a time, until its
// tomb is dying.
type bookLoop struct {
	e    *engine.Engine
	cmds chan command
}

func newBookLoop(e *engine.Engine) *bookLoop {
	return &bookLoop{e: e, cmds: make(chan command, 64)}
}

func (bl *bookLoop) run(t *tomb.Tomb) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case c := <-bl.cmds:
			c.run(bl.e)
			close(c.done)
		}
	}
}

// submit enqueues run against this Book's loop and blocks until it has
// executed.
func (bl *bookLoop) submit(run func(*engine.Engine)) {
	done := make(chan struct{})
	bl.cmds <- command{run: run, done: done}
	<-done
}

// Loops supervises one bookLoop per registered Book, starting a new
// loop's goroutine under its tomb the first time that Book is seen.
type Loops struct {
	mu    sync.Mutex
	t     *tomb.Tomb
	loops map[pairkey.Key]*bookLoop
}

// NewLoops creates a Loops supervisor whose goroutines run under t.
func NewLoops(t *tomb.Tomb) *Loops {
	return &Loops{t: t, loops: make(map[pairkey.Key]*bookLoop)}
}

// For returns the single-goroutine loop serialising calls into e,
// starting it on first use.
func (l *Loops) For(e *engine.Engine) *bookLoop {
	pair := e.Pair()
	key := pairkey.New(pair.BaseAsset, pair.QuoteAsset, pair.TickSize)

	l.mu.Lock()
	defer l.mu.Unlock()

	bl, ok := l.loops[key]
	if !ok {
		bl = newBookLoop(e)
		l.loops[key] = bl
		l.t.Go(func() error { return bl.run(l.t) })
	}
	return bl
}

// Submit runs fn against e's Book on e's own command-loop goroutine
// and waits for it to finish.
func (l *Loops) Submit(e *engine.Engine, fn func(*engine.Engine)) {
	l.For(e).submit(fn)
}
