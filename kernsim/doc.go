// Package kernsim provides a deterministic simulated host kernel for
// the flexiqueue primitives, implementing [flexiqueue.Kernel].
//
// # Execution model
//
// The simulator models a single-processor preemptive kernel with
// cooperative scheduling points. Tasks are goroutines, but exactly one
// executes at any moment: the scheduler hands a baton to the chosen
// task and the task hands it back when it blocks, yields, or exits.
// Ready tasks are ordered by priority (higher number first), FIFO
// within a priority.
//
// Time is virtual. The tick counter only advances when nothing is
// runnable: the clock warps to the earliest pending deadline and the
// kernel's timed-wait machinery removes the expired waiters from their
// event lists. A run is therefore fully deterministic and never
// sleeps on the wall clock.
//
// Critical sections are per-task depth counters; like interrupt state
// on a real port they are saved and restored across context switches,
// so a task may park and yield inside a critical section and resume
// with the section intact.
//
// Interrupt context is entered with [Kernel.InISR]: the function runs
// inline with interrupts masked, on top of whichever task was
// interrupted.
//
// [Kernel.Run] drives the scheduler until every spawned task has
// exited, and fails with [ErrDeadlock] when the remaining tasks are
// all parked with no deadline. Scheduler events (spawn, park, wake,
// timeout, ISR entry, deadlock) are logged through a logiface logger
// supplied via [WithLogger]; logging defaults to disabled.
package kernsim
