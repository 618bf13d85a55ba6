package flexiqueue

// Mutex is a recursive, ownership-tracking mutual exclusion primitive.
// The owning task may re-enter Take; the mutex is released after a
// balanced number of Give calls, or all at once. Waiters are served in
// FIFO order by direct hand-off at release time, so ownership never
// goes through a contended re-acquire.
type Mutex struct {
	kernel        Kernel
	owner         Task
	count         int
	waitingToTake EventList
}

// NewMutex creates an unowned mutex. A nil kernel panics.
func NewMutex(kernel Kernel) *Mutex {
	if kernel == nil {
		panic(`flexiqueue: nil kernel`)
	}
	return &Mutex{
		kernel:        kernel,
		waitingToTake: kernel.NewEventList(),
	}
}

// Take acquires the mutex for the current task, blocking up to
// ticksToWait when another task owns it. Re-entrant acquisition by the
// owner always succeeds and increments the hold depth. Returns whether
// the mutex is held by the caller on return.
//
// Must be called from task context.
func (m *Mutex) Take(ticksToWait Ticks) bool {
	if m == nil {
		return false
	}
	k := m.kernel
	k.EnterCritical()
	defer k.ExitCritical()

	task := k.CurrentTask()
	switch {
	case m.owner != nil && m.owner == task:
		m.count++
		return true
	case m.owner != nil:
		if ticksToWait == 0 {
			return false
		}
		// Park once; release hands ownership to the head waiter
		// directly, so the wakeup either delivered the mutex or the
		// deadline elapsed.
		deadline := k.TickCount() + uint32(ticksToWait)
		k.PlaceOnEventList(m.waitingToTake, deadline, ticksToWait < 0)
		k.Yield()
		return m.owner == task
	default:
		m.owner = task
		m.count = 1
		return true
	}
}

// Give releases one level of ownership, or every level when releaseAll
// is set. When the final level is released and waiters exist, the head
// waiter becomes the owner at depth 1 and is woken.
//
// Returns true only when ownership actually left the caller: a give by
// a non-owner returns false with no state change, and a give that
// merely decrements the hold depth returns false while the caller
// still owns the mutex.
func (m *Mutex) Give(releaseAll bool) bool {
	if m == nil {
		return false
	}
	k := m.kernel
	k.EnterCritical()
	defer k.ExitCritical()

	if m.owner == nil || m.owner != k.CurrentTask() {
		return false
	}

	if releaseAll {
		m.count = 0
	} else {
		m.count--
		if m.count > 0 {
			return false
		}
	}

	if p := k.ListHeadOwner(m.waitingToTake); p != nil {
		m.owner = p
		m.count = 1
		if k.RemoveFromEventList(m.waitingToTake) {
			k.Yield()
		}
	} else {
		m.owner = nil
	}
	return true
}

// IsHeldByCurrentTask reports whether the calling task owns the mutex.
func (m *Mutex) IsHeldByCurrentTask() bool {
	if m == nil {
		return false
	}
	m.kernel.EnterCritical()
	defer m.kernel.ExitCritical()
	return m.owner != nil && m.owner == m.kernel.CurrentTask()
}
