package kernsim

import (
	flexiqueue "github.com/joeycumines/go-flexiqueue"
)

// Compile-time check: Kernel satisfies the host-kernel surface the
// primitives are built against.
var _ flexiqueue.Kernel = (*Kernel)(nil)

// EnterCritical masks preemption. Inside an ISR it is a no-op, since
// interrupts are already masked. Outside any task context a
// kernel-level depth counter stands in for the (absent) task.
func (k *Kernel) EnterCritical() {
	switch {
	case k.isrDepth > 0:
	case k.current != nil:
		k.current.critDepth++
	default:
		k.externDepth++
	}
}

// ExitCritical undoes one EnterCritical.
func (k *Kernel) ExitCritical() {
	switch {
	case k.isrDepth > 0:
	case k.current != nil:
		if k.current.critDepth == 0 {
			panic(`kernsim: unbalanced exit critical`)
		}
		k.current.critDepth--
	default:
		if k.externDepth == 0 {
			panic(`kernsim: unbalanced exit critical`)
		}
		k.externDepth--
	}
}

// CurrentTask returns the running (or, in an ISR, interrupted) task,
// or nil outside any task context.
func (k *Kernel) CurrentTask() flexiqueue.Task {
	if k.current == nil {
		return nil
	}
	return k.current
}

// TickCount returns the virtual tick counter.
func (k *Kernel) TickCount() uint32 {
	return k.tick
}

// ExtraParam reads the task's scratch slot.
func (k *Kernel) ExtraParam(task flexiqueue.Task) int {
	return mustTask(task, `extra param`).extraParam
}

// SetExtraParam writes the task's scratch slot.
func (k *Kernel) SetExtraParam(task flexiqueue.Task, v int) {
	mustTask(task, `set extra param`).extraParam = v
}

// NewEventList allocates an empty FIFO event list.
func (k *Kernel) NewEventList() flexiqueue.EventList {
	return new(eventList)
}

// PlaceOnEventList parks the current task at the tail of list. The
// task keeps running until it yields.
func (k *Kernel) PlaceOnEventList(list flexiqueue.EventList, deadline uint32, forever bool) {
	t := k.mustCurrent(`place on event list`)
	l := mustList(list)
	l.waiters = append(l.waiters, t)
	t.state = stateBlocked
	t.waitList = l
	t.deadline = deadline
	t.forever = forever
	k.logger.Trace().
		Str(`task`, t.name).
		Uint64(`deadline`, uint64(deadline)).
		Bool(`forever`, forever).
		Log(`task parked`)
}

// RemoveFromEventList unblocks the head waiter, reporting whether it
// should preempt the current (or interrupted) task.
func (k *Kernel) RemoveFromEventList(list flexiqueue.EventList) bool {
	l := mustList(list)
	if len(l.waiters) == 0 {
		panic(`kernsim: remove from empty event list`)
	}
	t := l.waiters[0]
	t.unpark()
	k.logger.Debug().
		Str(`task`, t.name).
		Uint64(`tick`, uint64(k.tick)).
		Log(`task woken`)
	return k.current != nil && t.priority > k.current.priority
}

// ListHeadOwner returns the head waiter, or nil when list is empty.
func (k *Kernel) ListHeadOwner(list flexiqueue.EventList) flexiqueue.Task {
	l := mustList(list)
	if len(l.waiters) == 0 {
		return nil
	}
	return l.waiters[0]
}

// ListIsEmpty reports whether list has no waiters.
func (k *Kernel) ListIsEmpty(list flexiqueue.EventList) bool {
	return len(mustList(list).waiters) == 0
}

// Yield is the cooperative scheduling point. A parked task blocks
// until woken; a runnable task goes to the back of its priority's
// ready queue. Outside task context it is a no-op.
func (k *Kernel) Yield() {
	if k.isrDepth > 0 {
		panic(`kernsim: yield from isr`)
	}
	t := k.current
	if t == nil {
		return
	}
	if t.state != stateBlocked {
		t.state = stateReady
		k.ready = append(k.ready, t)
	}
	k.switchOut(t)
}

func mustTask(task flexiqueue.Task, op string) *Task {
	t, ok := task.(*Task)
	if !ok || t == nil {
		panic(`kernsim: ` + op + `: not a kernsim task`)
	}
	return t
}

func mustList(list flexiqueue.EventList) *eventList {
	l, ok := list.(*eventList)
	if !ok || l == nil {
		panic(`kernsim: not a kernsim event list`)
	}
	return l
}
