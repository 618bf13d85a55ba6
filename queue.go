package flexiqueue

import (
	"errors"
	"fmt"
)

// Mode is a bitset of per-queue behavior flags.
type Mode int

const (
	// SwitchImmediate makes task-side wakeups yield while still inside
	// the critical section, when the woken task should preempt.
	SwitchImmediate Mode = 1 << iota
	// SwitchInISR makes ISR-side wakeups report, via the operation's
	// return value, that a reschedule is warranted on ISR exit.
	SwitchInISR
	// StrictChronology serves waiters in FIFO order across reads and
	// writes: the head waiter is granted the next item (or the next
	// run of free bytes) at the moment the condition is satisfied, and
	// the grant is binding.
	StrictChronology
)

// FlushFlag selects waiter categories for Queue.Flush.
type FlushFlag int

const (
	FlushReadingTasks FlushFlag = 1 << iota
	FlushWritingTasks
)

// ISRWakeBit is OR'd into a successful ReadFromISR result when the
// writer it unblocked should preempt the interrupted task, signalling
// the ISR dispatcher that a reschedule is warranted on ISR exit.
const ISRWakeBit = 1 << 30

// ErrCapacity is returned by New for capacities no item could ever
// occupy.
var ErrCapacity = errors.New(`flexiqueue: capacity too small`)

// Queue is a byte-oriented variable-length message queue over a
// fixed-capacity circular buffer. Producers push whole messages of
// 1..32768 bytes, consumers pop whole messages into their own buffers.
// All methods are nil-receiver safe and report "would block" on a nil
// queue.
type Queue struct {
	kernel         Kernel
	buffer         []byte
	bytesFree      int
	itemsAvailable int
	insertIndex    int
	removeIndex    int
	mode           Mode
	waitingToRead  EventList
	waitingToWrite EventList
	// StrictChronology only: a non-nil owner records that the next
	// read (or write) has been pre-committed to that task.
	readingOwner Task
	writingOwner Task
}

// New creates a queue with the given buffer capacity in bytes. The
// capacity is immutable. A nil kernel panics; a capacity that cannot
// hold even a one-byte item is an error.
func New(kernel Kernel, capacity int, mode Mode) (*Queue, error) {
	if kernel == nil {
		panic(`flexiqueue: nil kernel`)
	}
	if capacity < effectiveSize(1) {
		return nil, fmt.Errorf(`%w: %d`, ErrCapacity, capacity)
	}
	return &Queue{
		kernel:         kernel,
		buffer:         make([]byte, capacity),
		bytesFree:      capacity,
		mode:           mode,
		waitingToRead:  kernel.NewEventList(),
		waitingToWrite: kernel.NewEventList(),
	}, nil
}

// canReadNow reports whether a read may proceed without blocking. Must
// be called with preemption masked.
func (q *Queue) canReadNow() bool {
	if q.itemsAvailable == 0 {
		return false
	}
	if q.mode&StrictChronology != 0 &&
		(q.readingOwner != nil || !q.kernel.ListIsEmpty(q.waitingToRead)) {
		return false
	}
	return true
}

// canWriteNow reports whether an item occupying es ring bytes may be
// inserted without blocking. Must be called with preemption masked.
func (q *Queue) canWriteNow(es int) bool {
	if es > q.bytesFree {
		return false
	}
	if q.mode&StrictChronology != 0 &&
		(q.writingOwner != nil || !q.kernel.ListIsEmpty(q.waitingToWrite)) {
		return false
	}
	return true
}

// Read pops the next message into dst, blocking up to ticksToWait.
//
// The result is > 0 (the message size) on success, 0 on timeout or
// would-block, and -1 when the next message does not fit in dst, in
// which case the message is not consumed.
func (q *Queue) Read(dst []byte, ticksToWait Ticks) int {
	if q == nil {
		return 0
	}
	k := q.kernel
	k.EnterCritical()
	defer k.ExitCritical()

	if !q.canReadNow() {
		if ticksToWait == 0 {
			return 0
		}
		deadline := k.TickCount() + uint32(ticksToWait)
		forever := ticksToWait < 0
		task := k.CurrentTask()
		k.SetExtraParam(task, len(dst))

		if q.mode&StrictChronology != 0 {
			// Park once; the wakeup carries the grant.
			k.PlaceOnEventList(q.waitingToRead, deadline, forever)
			k.Yield()
			if q.itemsAvailable == 0 || q.readingOwner != task {
				return 0
			}
		} else {
			for {
				k.PlaceOnEventList(q.waitingToRead, deadline, forever)
				k.Yield()
				if q.itemsAvailable != 0 {
					break
				}
				if !forever && int32(deadline-k.TickCount()) <= 0 {
					return 0
				}
			}
		}
	}

	size, idx := q.readHeader(q.removeIndex)
	if len(dst) < size {
		return -1
	}
	q.removeIndex = q.copyOut(idx, dst[:size])
	q.itemsAvailable--
	q.bytesFree += effectiveSize(size)

	mustYield := false
	if q.mode&StrictChronology != 0 {
		q.readingOwner = nil
		// We got our item. If more items remain and tasks want them,
		// grant the head waiter, setting up a chain reaction.
		if q.itemsAvailable != 0 {
			if p := k.ListHeadOwner(q.waitingToRead); p != nil {
				q.readingOwner = p
				if k.RemoveFromEventList(q.waitingToRead) && q.mode&SwitchImmediate != 0 {
					mustYield = true
				}
			}
		}
		// Bytes were freed; if the head writer's item now fits,
		// reserve the room for it.
		if q.writingOwner == nil {
			if p := k.ListHeadOwner(q.waitingToWrite); p != nil &&
				effectiveSize(k.ExtraParam(p)) <= q.bytesFree {
				q.writingOwner = p
				if k.RemoveFromEventList(q.waitingToWrite) && q.mode&SwitchImmediate != 0 {
					mustYield = true
				}
			}
		}
	} else if !k.ListIsEmpty(q.waitingToWrite) {
		if k.RemoveFromEventList(q.waitingToWrite) && q.mode&SwitchImmediate != 0 {
			mustYield = true
		}
	}

	if mustYield {
		k.Yield()
	}
	return size
}

// ReadFromISR is the interrupt-context variant of Read. It never
// blocks and must be invoked with interrupts already masked.
//
// The result is > 0 (the message size, OR'd with ISRWakeBit when the
// writer it unblocked should preempt the interrupted task; a writer
// that should not preempt is unblocked without the bit), 0 when the
// queue is empty or, in
// strict-chronology mode, when it is not the caller's turn, and -1
// when the message does not fit in dst.
func (q *Queue) ReadFromISR(dst []byte) int {
	if q == nil {
		return 0
	}
	if !q.canReadNow() {
		return 0
	}

	size, idx := q.readHeader(q.removeIndex)
	if len(dst) < size {
		return -1
	}
	q.removeIndex = q.copyOut(idx, dst[:size])
	q.itemsAvailable--
	q.bytesFree += effectiveSize(size)

	k := q.kernel
	if q.mode&StrictChronology != 0 {
		if q.writingOwner == nil {
			if p := k.ListHeadOwner(q.waitingToWrite); p != nil &&
				effectiveSize(k.ExtraParam(p)) <= q.bytesFree {
				q.writingOwner = p
				if k.RemoveFromEventList(q.waitingToWrite) {
					return size | ISRWakeBit
				}
			}
		}
	} else if !k.ListIsEmpty(q.waitingToWrite) {
		if k.RemoveFromEventList(q.waitingToWrite) {
			return size | ISRWakeBit
		}
	}
	return size
}

// Write pushes src as one message, blocking up to ticksToWait for room.
//
// The result is 1 on success, 0 on timeout or would-block, and -1 when
// the framed item could never fit the queue (or src is outside the
// representable 1..32768 byte range); the queue is unchanged on -1.
func (q *Queue) Write(src []byte, ticksToWait Ticks) int {
	if q == nil {
		return 0
	}
	size := len(src)
	if size < 1 || size > maxItemSize || effectiveSize(size) > len(q.buffer) {
		return -1
	}
	es := effectiveSize(size)

	k := q.kernel
	k.EnterCritical()
	defer k.ExitCritical()

	if !q.canWriteNow(es) {
		if ticksToWait == 0 {
			return 0
		}
		deadline := k.TickCount() + uint32(ticksToWait)
		forever := ticksToWait < 0
		task := k.CurrentTask()
		k.SetExtraParam(task, size)

		if q.mode&StrictChronology != 0 {
			k.PlaceOnEventList(q.waitingToWrite, deadline, forever)
			k.Yield()
			if es > q.bytesFree || q.writingOwner != task {
				return 0
			}
		} else {
			for {
				k.PlaceOnEventList(q.waitingToWrite, deadline, forever)
				k.Yield()
				if es <= q.bytesFree {
					break
				}
				if !forever && int32(deadline-k.TickCount()) <= 0 {
					return 0
				}
			}
		}
	}

	idx := q.writeHeader(q.insertIndex, size)
	q.insertIndex = q.copyIn(idx, src)
	q.itemsAvailable++
	q.bytesFree -= es

	mustYield := false
	if q.mode&StrictChronology != 0 {
		q.writingOwner = nil
		if p := k.ListHeadOwner(q.waitingToWrite); p != nil &&
			effectiveSize(k.ExtraParam(p)) <= q.bytesFree {
			q.writingOwner = p
			if k.RemoveFromEventList(q.waitingToWrite) && q.mode&SwitchImmediate != 0 {
				mustYield = true
			}
		}
		// Bytes were inserted; grant them to the head reader, if any.
		if q.readingOwner == nil {
			if p := k.ListHeadOwner(q.waitingToRead); p != nil {
				q.readingOwner = p
				if k.RemoveFromEventList(q.waitingToRead) && q.mode&SwitchImmediate != 0 {
					mustYield = true
				}
			}
		}
	} else if !k.ListIsEmpty(q.waitingToRead) {
		if k.RemoveFromEventList(q.waitingToRead) && q.mode&SwitchImmediate != 0 {
			mustYield = true
		}
	}

	if mustYield {
		k.Yield()
	}
	return 1
}

// WriteFromISR is the interrupt-context variant of Write. It never
// blocks and must be invoked with interrupts already masked.
//
// The result is 1 on success, 2 on success when SwitchInISR is set and
// the reader it unblocked should preempt the interrupted task, 0 when
// there is no room (or, in
// strict-chronology mode, when a writer is already queued), and -1 for
// items that could never fit.
func (q *Queue) WriteFromISR(src []byte) int {
	if q == nil {
		return 0
	}
	size := len(src)
	if size < 1 || size > maxItemSize || effectiveSize(size) > len(q.buffer) {
		return -1
	}
	es := effectiveSize(size)
	if !q.canWriteNow(es) {
		return 0
	}

	idx := q.writeHeader(q.insertIndex, size)
	q.insertIndex = q.copyIn(idx, src)
	q.itemsAvailable++
	q.bytesFree -= es

	k := q.kernel
	if q.mode&StrictChronology != 0 {
		if q.readingOwner == nil {
			if p := k.ListHeadOwner(q.waitingToRead); p != nil {
				q.readingOwner = p
				if k.RemoveFromEventList(q.waitingToRead) && q.mode&SwitchInISR != 0 {
					return 2
				}
			}
		}
	} else if !k.ListIsEmpty(q.waitingToRead) {
		if k.RemoveFromEventList(q.waitingToRead) && q.mode&SwitchInISR != 0 {
			return 2
		}
	}
	return 1
}

// Flush discards all stored messages and unblocks the waiter
// categories selected by flags. In strict-chronology mode a flushed
// waiter holds no grant and returns 0. In loose mode a flushed waiter
// re-checks the queue as after any wakeup: a reader parks again until
// data arrives or its deadline passes, and a writer whose item fits the
// emptied queue completes its write; the wakeup is not reported as a
// timeout. In strict-chronology mode, when writing tasks are not
// flushed, the head writer is granted the now-empty queue. The result
// is the set of categories in which at least one task was unblocked.
func (q *Queue) Flush(flags FlushFlag) FlushFlag {
	if q == nil {
		return 0
	}
	k := q.kernel
	k.EnterCritical()
	defer k.ExitCritical()

	q.itemsAvailable = 0
	q.removeIndex = 0
	q.insertIndex = 0
	q.readingOwner = nil
	q.writingOwner = nil
	q.bytesFree = len(q.buffer)

	var affected FlushFlag
	mustYield := false

	if flags&FlushReadingTasks != 0 {
		for !k.ListIsEmpty(q.waitingToRead) {
			affected |= FlushReadingTasks
			if k.RemoveFromEventList(q.waitingToRead) && q.mode&SwitchImmediate != 0 {
				mustYield = true
			}
		}
	}

	if flags&FlushWritingTasks != 0 {
		for !k.ListIsEmpty(q.waitingToWrite) {
			affected |= FlushWritingTasks
			if k.RemoveFromEventList(q.waitingToWrite) && q.mode&SwitchImmediate != 0 {
				mustYield = true
			}
		}
	} else if q.mode&StrictChronology != 0 {
		if p := k.ListHeadOwner(q.waitingToWrite); p != nil {
			q.writingOwner = p
			if k.RemoveFromEventList(q.waitingToWrite) && q.mode&SwitchImmediate != 0 {
				mustYield = true
			}
		}
	}

	if mustYield {
		k.Yield()
	}
	return affected
}

// Capacity returns the immutable ring capacity in bytes.
func (q *Queue) Capacity() int {
	if q == nil {
		return 0
	}
	return len(q.buffer)
}

// BytesFree returns the bytes currently unused by stored items.
func (q *Queue) BytesFree() int {
	if q == nil {
		return 0
	}
	q.kernel.EnterCritical()
	defer q.kernel.ExitCritical()
	return q.bytesFree
}

// ItemsAvailable returns the count of whole messages currently stored.
func (q *Queue) ItemsAvailable() int {
	if q == nil {
		return 0
	}
	q.kernel.EnterCritical()
	defer q.kernel.ExitCritical()
	return q.itemsAvailable
}

// NextItemSize returns the size of the message at the head of the
// queue, or 0 when the queue is empty.
func (q *Queue) NextItemSize() int {
	if q == nil {
		return 0
	}
	q.kernel.EnterCritical()
	defer q.kernel.ExitCritical()
	if q.itemsAvailable == 0 {
		return 0
	}
	s, _ := q.readHeader(q.removeIndex)
	return s
}
