// Package flexiqueue provides two blocking inter-task synchronization
// primitives for small preemptive real-time kernels: a byte-oriented,
// variable-length message queue ([Queue]) and a recursive,
// ownership-tracking mutex ([Mutex]).
//
// # Architecture
//
// The queue stores each message in a fixed-capacity circular byte
// buffer, preceded by a one- or two-byte length prefix (sizes 1..128
// take one byte, larger sizes two). Producers and consumers block with
// per-call tick deadlines, and dedicated *FromISR entry points service
// interrupt context without ever blocking, encoding the
// "reschedule needed" hint in their return values instead.
//
// Two fairness modes are supported per queue instance. In the default
// (loose) mode a wakeup is advisory: the woken task re-checks the
// queue and the winner is whoever runs first. With
// [StrictChronology], waiters are served strictly in arrival order:
// the waker pre-commits the next item (or the next run of free bytes)
// to the head waiter, and that grant is binding even under spurious
// wakeups.
//
// # Host kernel
//
// The primitives do not schedule tasks themselves. Everything they
// need from the host - critical sections, the current task handle, the
// tick counter, FIFO event lists with timed waits, a cooperative
// yield - is expressed by the [Kernel] interface. The
// [github.com/joeycumines/go-flexiqueue/kernsim] package provides a
// deterministic simulated kernel suitable for tests and examples.
//
// # Concurrency model
//
// A single processor is assumed. Every state mutation happens inside a
// critical section; the only suspension point is the yield performed
// while parked on an event list. No operation leaves the queue or
// mutex in a partially applied state: every entry point is
// all-or-nothing.
package flexiqueue
