package flexiqueue

type (
	// Task is an opaque, comparable task handle supplied by the host
	// kernel. The zero value (untyped nil) means "no task".
	Task = any

	// EventList is an opaque handle to a kernel-managed FIFO of blocked
	// tasks. Lists are created via Kernel.NewEventList and owned by the
	// primitive that requested them.
	EventList = any

	// Kernel is the host-kernel surface the primitives are built
	// against. A single processor is assumed: every mutation of
	// primitive state happens between EnterCritical and ExitCritical,
	// and the only suspension point is Yield while parked on an event
	// list.
	//
	// Implementations must provide nestable critical sections, a FIFO
	// event-list abstraction with timed waits, and a per-task scratch
	// slot used to communicate requested sizes to wakers.
	Kernel interface {
		// EnterCritical masks preemption on the calling core. Calls
		// nest; the mask is released by the matching ExitCritical.
		EnterCritical()
		// ExitCritical undoes one EnterCritical.
		ExitCritical()

		// CurrentTask returns the handle of the running task, or nil
		// when called outside any task context.
		CurrentTask() Task
		// TickCount returns the kernel's monotonic tick counter. It is
		// permitted to wrap; deadline arithmetic is signed.
		TickCount() uint32

		// ExtraParam reads the task's scratch slot.
		ExtraParam(task Task) int
		// SetExtraParam writes the task's scratch slot.
		SetExtraParam(task Task, v int)

		// NewEventList allocates an empty event list.
		NewEventList() EventList
		// PlaceOnEventList registers the current task at the tail of
		// list and arranges a wakeup at the absolute tick deadline,
		// or no wakeup at all when forever is set. The task does not
		// stop running until it calls Yield.
		PlaceOnEventList(list EventList, deadline uint32, forever bool)
		// RemoveFromEventList unblocks the head waiter of list,
		// reporting whether that task should preempt the current one.
		// Must not be called on an empty list.
		RemoveFromEventList(list EventList) bool
		// ListHeadOwner returns the head waiter of list, or nil when
		// the list is empty.
		ListHeadOwner(list EventList) Task
		// ListIsEmpty reports whether list has no waiters.
		ListIsEmpty(list EventList) bool

		// Yield is the cooperative scheduling point. Called while
		// parked it blocks the task until a wakeup or timeout; called
		// while runnable it offers the processor to other tasks.
		// Yielding inside a critical section is legal, the section is
		// per-task state and travels with the task.
		Yield()
	}
)

// Ticks is a wait budget in kernel ticks. Zero never blocks, negative
// values block without a deadline.
type Ticks int32

// WaitForever blocks with no deadline.
const WaitForever Ticks = -1
