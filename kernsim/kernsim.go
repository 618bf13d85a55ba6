package kernsim

import (
	"errors"
	"fmt"

	"github.com/joeycumines/logiface"
)

// ErrDeadlock is returned by [Kernel.Run] when live tasks remain but
// every one of them is parked with no deadline.
var ErrDeadlock = errors.New(`kernsim: all remaining tasks parked forever`)

type taskState int

const (
	stateReady taskState = iota
	stateRunning
	stateBlocked
	stateExited
)

type (
	// Kernel is a simulated single-processor host kernel. Instances
	// must be created with [New]. All interaction - spawning, running,
	// and the [flexiqueue.Kernel] surface - must happen from the Run
	// caller's goroutine or from within a task; the simulator relies
	// on the baton for mutual exclusion, not on locks.
	Kernel struct {
		logger      *logiface.Logger[logiface.Event]
		tick        uint32
		tasks       []*Task
		ready       []*Task
		current     *Task
		sched       chan struct{}
		taskPanic   any
		panicTask   *Task
		isrDepth    int
		externDepth int
		running     bool
	}

	// Task is a simulated task. Handles are comparable and double as
	// [flexiqueue.Task] values.
	Task struct {
		kernel     *Kernel
		name       string
		priority   int
		fn         func()
		resume     chan struct{}
		waitList   *eventList
		deadline   uint32
		forever    bool
		extraParam int
		critDepth  int
		state      taskState
	}

	// eventList is a FIFO of blocked tasks.
	eventList struct {
		waiters []*Task
	}

	// Option configures a Kernel instance.
	Option func(*Kernel)
)

// WithLogger sets the structured logger for scheduler events. A nil
// logger (the default) disables logging.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return func(k *Kernel) {
		k.logger = logger
	}
}

// WithStartTick sets the initial tick counter value, e.g. near the
// wrap boundary.
func WithStartTick(tick uint32) Option {
	return func(k *Kernel) {
		k.tick = tick
	}
}

// New creates a simulated kernel with no tasks.
func New(options ...Option) *Kernel {
	k := &Kernel{
		sched: make(chan struct{}),
	}
	for _, o := range options {
		if o != nil {
			o(k)
		}
	}
	return k
}

// Spawn registers a new task and makes it ready. Tasks do not execute
// until [Kernel.Run] schedules them. Spawning is legal before Run and
// from within a running task, but not from unrelated goroutines while
// the scheduler is active.
func (k *Kernel) Spawn(name string, priority int, fn func()) *Task {
	if fn == nil {
		panic(`kernsim: nil task function`)
	}
	t := &Task{
		kernel:   k,
		name:     name,
		priority: priority,
		fn:       fn,
		resume:   make(chan struct{}),
	}
	k.tasks = append(k.tasks, t)
	k.ready = append(k.ready, t)
	k.logger.Info().
		Str(`task`, t.name).
		Int(`priority`, t.priority).
		Log(`task spawned`)
	go t.run()
	return t
}

func (t *Task) run() {
	<-t.resume
	defer func() {
		t.state = stateExited
		if r := recover(); r != nil {
			t.kernel.taskPanic = r
			t.kernel.panicTask = t
		}
		t.kernel.sched <- struct{}{}
	}()
	t.fn()
}

// Name returns the task's name.
func (t *Task) Name() string { return t.name }

// Priority returns the task's priority; higher numbers run first.
func (t *Task) Priority() int { return t.priority }

// Run drives the scheduler until every spawned task has exited. It
// returns ErrDeadlock when live tasks remain but none can ever become
// runnable again. A panic inside a task is re-raised on the Run
// caller's goroutine.
func (k *Kernel) Run() error {
	if k.running {
		panic(`kernsim: already running`)
	}
	k.running = true
	defer func() {
		k.running = false
	}()
	k.logger.Info().
		Int(`tasks`, len(k.tasks)).
		Uint64(`tick`, uint64(k.tick)).
		Log(`scheduler started`)

	for {
		t := k.pickReady()
		if t == nil {
			if k.liveCount() == 0 {
				k.logger.Info().
					Uint64(`tick`, uint64(k.tick)).
					Log(`all tasks exited`)
				return nil
			}
			if !k.fireTimeouts() {
				k.logger.Err().
					Uint64(`tick`, uint64(k.tick)).
					Log(`deadlock: all remaining tasks parked forever`)
				return ErrDeadlock
			}
			continue
		}
		k.dispatch(t)
	}
}

// dispatch hands the baton to t and waits for it back.
func (k *Kernel) dispatch(t *Task) {
	t.state = stateRunning
	k.current = t
	t.resume <- struct{}{}
	<-k.sched
	k.current = nil
	if k.taskPanic != nil {
		r, src := k.taskPanic, k.panicTask
		k.taskPanic, k.panicTask = nil, nil
		k.logger.Err().
			Str(`task`, src.name).
			Log(`task panicked`)
		panic(fmt.Sprintf(`kernsim: task %q panicked: %v`, src.name, r))
	}
}

// switchOut returns the baton to the scheduler and blocks until the
// task is dispatched again.
func (k *Kernel) switchOut(t *Task) {
	k.sched <- struct{}{}
	<-t.resume
}

// pickReady removes and returns the highest-priority ready task,
// FIFO within a priority, or nil when nothing is runnable.
func (k *Kernel) pickReady() *Task {
	best := -1
	for i, t := range k.ready {
		if best < 0 || t.priority > k.ready[best].priority {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	t := k.ready[best]
	k.ready = append(k.ready[:best], k.ready[best+1:]...)
	return t
}

func (k *Kernel) liveCount() int {
	n := 0
	for _, t := range k.tasks {
		if t.state != stateExited {
			n++
		}
	}
	return n
}

// fireTimeouts warps the clock to the earliest pending deadline and
// readies every waiter whose deadline has passed, removing each from
// its event list. Reports whether any deadline existed.
func (k *Kernel) fireTimeouts() bool {
	var earliest *Task
	for _, t := range k.tasks {
		if t.state != stateBlocked || t.forever {
			continue
		}
		if earliest == nil || int32(t.deadline-earliest.deadline) < 0 {
			earliest = t
		}
	}
	if earliest == nil {
		return false
	}
	if int32(earliest.deadline-k.tick) > 0 {
		k.logger.Trace().
			Uint64(`from`, uint64(k.tick)).
			Uint64(`to`, uint64(earliest.deadline)).
			Log(`clock warped`)
		k.tick = earliest.deadline
	}
	for _, t := range k.tasks {
		if t.state == stateBlocked && !t.forever && int32(t.deadline-k.tick) <= 0 {
			t.unpark()
			k.logger.Debug().
				Str(`task`, t.name).
				Uint64(`tick`, uint64(k.tick)).
				Log(`wait timed out`)
		}
	}
	return true
}

// unpark removes t from its event list (if any) and makes it ready.
func (t *Task) unpark() {
	if l := t.waitList; l != nil {
		for i, w := range l.waiters {
			if w == t {
				l.waiters = append(l.waiters[:i], l.waiters[i+1:]...)
				break
			}
		}
		t.waitList = nil
	}
	t.state = stateReady
	t.kernel.ready = append(t.kernel.ready, t)
}

// Sleep blocks the current task for the given number of ticks. Must be
// called from task context, outside any ISR.
func (k *Kernel) Sleep(ticks uint32) {
	t := k.mustCurrent(`sleep`)
	if ticks == 0 {
		k.Yield()
		return
	}
	t.state = stateBlocked
	t.waitList = nil
	t.deadline = k.tick + ticks
	t.forever = false
	k.logger.Trace().
		Str(`task`, t.name).
		Uint64(`until`, uint64(t.deadline)).
		Log(`task sleeping`)
	k.switchOut(t)
}

// InISR runs fn in interrupt context: interrupts are masked, the
// interrupted task (if any) remains "current", and blocking calls
// panic. Calls nest.
func (k *Kernel) InISR(fn func()) {
	if fn == nil {
		panic(`kernsim: nil isr`)
	}
	k.isrDepth++
	defer func() {
		k.isrDepth--
	}()
	k.logger.Trace().Log(`isr entered`)
	fn()
}

// AdvanceTick moves the virtual clock forward without scheduling. It
// is intended for use outside Run, e.g. in unit tests of non-blocking
// paths.
func (k *Kernel) AdvanceTick(ticks uint32) {
	k.tick += ticks
}

func (k *Kernel) mustCurrent(op string) *Task {
	if k.isrDepth > 0 {
		panic(`kernsim: ` + op + ` from isr`)
	}
	if k.current == nil {
		panic(`kernsim: ` + op + ` outside task context`)
	}
	return k.current
}
