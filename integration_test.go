package flexiqueue_test

import (
	"testing"

	flexiqueue "github.com/joeycumines/go-flexiqueue"
	"github.com/joeycumines/go-flexiqueue/kernsim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Tasks run on separate goroutines; assertions inside them use assert
// (safe to report from any goroutine), require is reserved for the
// test goroutine.

func TestRead_WokenByWrite(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 64, 0)
	require.NoError(t, err)

	var got []byte
	k.Spawn(`reader`, 2, func() {
		buf := make([]byte, 16)
		n := q.Read(buf, flexiqueue.WaitForever)
		if assert.Equal(t, 5, n) {
			got = append([]byte(nil), buf[:n]...)
		}
	})
	k.Spawn(`writer`, 1, func() {
		assert.Equal(t, 1, q.Write([]byte(`hello`), 0))
	})

	// A reader parked forever is only ever woken by the write; this
	// run completing at all proves writes wake the reader list.
	require.NoError(t, k.Run())
	assert.Equal(t, []byte(`hello`), got)
	assert.Zero(t, q.ItemsAvailable())
}

func TestWrite_WokenByRead(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 8, 0)
	require.NoError(t, err)

	var order []string
	k.Spawn(`writer`, 2, func() {
		assert.Equal(t, 1, q.Write([]byte(`abcdef`), 0)) // effective 7 of 8
		assert.Equal(t, 1, q.Write([]byte(`xy`), flexiqueue.WaitForever))
		order = append(order, `second write done`)
	})
	k.Spawn(`reader`, 1, func() {
		buf := make([]byte, 8)
		assert.Equal(t, 6, q.Read(buf, 0))
		order = append(order, `read done`)
	})

	require.NoError(t, k.Run())
	assert.Equal(t, []string{`read done`, `second write done`}, order)
	assert.Equal(t, 1, q.ItemsAvailable())
	assert.Equal(t, 2, q.NextItemSize())
}

func TestRead_Timeout(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 32, 0)
	require.NoError(t, err)

	n := -99
	k.Spawn(`reader`, 1, func() {
		n = q.Read(make([]byte, 8), 10)
	})

	require.NoError(t, k.Run())
	assert.Zero(t, n)
	assert.Equal(t, uint32(10), k.TickCount())
}

func TestRead_TimeoutAcrossTickWrap(t *testing.T) {
	k := kernsim.New(kernsim.WithStartTick(0xfffffff0))
	q, err := flexiqueue.New(k, 32, 0)
	require.NoError(t, err)

	n := -99
	k.Spawn(`reader`, 1, func() {
		n = q.Read(make([]byte, 8), 0x20)
	})

	require.NoError(t, k.Run())
	assert.Zero(t, n)
	assert.Equal(t, uint32(0x10), k.TickCount())
}

func TestWrite_Timeout(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 8, 0)
	require.NoError(t, err)

	n := -99
	k.Spawn(`writer`, 1, func() {
		assert.Equal(t, 1, q.Write([]byte(`abcdef`), 0))
		n = q.Write([]byte(`xy`), 7)
	})

	require.NoError(t, k.Run())
	assert.Zero(t, n)
	assert.Equal(t, uint32(7), k.TickCount())
	assert.Equal(t, 1, q.ItemsAvailable())
}

func TestStrictChronology_Fairness(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 32, flexiqueue.StrictChronology)
	require.NoError(t, err)

	var order []string
	reader := func(name string, delay uint32) func() {
		return func() {
			if delay > 0 {
				k.Sleep(delay)
			}
			buf := make([]byte, 8)
			n := q.Read(buf, flexiqueue.WaitForever)
			if assert.Equal(t, 4, n) {
				order = append(order, name+`:`+string(buf[:n]))
			}
		}
	}

	// Arrival order A, B, C is the reverse of priority order: strict
	// chronology must serve arrival order regardless.
	k.Spawn(`A`, 1, reader(`A`, 0))
	k.Spawn(`B`, 2, reader(`B`, 1))
	k.Spawn(`C`, 3, reader(`C`, 2))
	k.Spawn(`producer`, 0, func() {
		k.Sleep(3)
		for _, m := range []string{`msg1`, `msg2`, `msg3`} {
			assert.Equal(t, 1, q.Write([]byte(m), 0))
		}
	})

	require.NoError(t, k.Run())
	assert.Equal(t, []string{`A:msg1`, `B:msg2`, `C:msg3`}, order)
}

func TestStrictChronology_WriterFIFO(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 8, flexiqueue.StrictChronology)
	require.NoError(t, err)

	var order []string
	writer := func(name string, delay uint32, payload string) func() {
		return func() {
			if delay > 0 {
				k.Sleep(delay)
			}
			if assert.Equal(t, 1, q.Write([]byte(payload), flexiqueue.WaitForever)) {
				order = append(order, name)
			}
		}
	}

	k.Spawn(`filler`, 4, func() {
		assert.Equal(t, 1, q.Write([]byte(`abcdef`), 0)) // effective 7 of 8
	})
	// W1 arrives before W2 despite lower priority.
	k.Spawn(`W1`, 1, writer(`W1`, 1, `11`))
	k.Spawn(`W2`, 2, writer(`W2`, 2, `22`))
	k.Spawn(`drain`, 0, func() {
		k.Sleep(3)
		buf := make([]byte, 8)
		assert.Equal(t, 6, q.Read(buf, 0)) // frees room; grants W1
		k.Sleep(1)
		assert.Equal(t, 2, q.Read(buf, 0)) // W1's write already granted W2
		assert.Equal(t, `11`, string(buf[:2]))
		k.Sleep(1)
		assert.Equal(t, 2, q.Read(buf, 0))
		assert.Equal(t, `22`, string(buf[:2]))
	})

	require.NoError(t, k.Run())
	assert.Equal(t, []string{`W1`, `W2`}, order)
}

func TestStrictChronology_GrantedReaderBufferTooSmall(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 32, flexiqueue.StrictChronology)
	require.NoError(t, err)

	n := -99
	k.Spawn(`reader`, 2, func() {
		n = q.Read(make([]byte, 4), flexiqueue.WaitForever)
	})
	k.Spawn(`producer`, 1, func() {
		assert.Equal(t, 1, q.Write([]byte(`toolong`), 0))
	})

	require.NoError(t, k.Run())
	// The grant is binding, but the message does not fit and stays.
	assert.Equal(t, -1, n)
	assert.Equal(t, 1, q.ItemsAvailable())
	assert.Equal(t, 7, q.NextItemSize())
}

func TestSwitchImmediate_PreemptsOnWake(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 64, flexiqueue.SwitchImmediate)
	require.NoError(t, err)

	var order []string
	k.Spawn(`reader`, 2, func() {
		buf := make([]byte, 8)
		n := q.Read(buf, flexiqueue.WaitForever)
		if assert.Equal(t, 3, n) {
			order = append(order, `read `+string(buf[:n]))
		}
	})
	k.Spawn(`writer`, 1, func() {
		assert.Equal(t, 1, q.Write([]byte(`one`), 0))
		// The higher-priority reader ran during the write.
		order = append(order, `write returned`)
	})

	require.NoError(t, k.Run())
	assert.Equal(t, []string{`read one`, `write returned`}, order)
}

func TestWriteFromISR_WakeSignal(t *testing.T) {
	for _, tc := range []struct {
		name string
		mode flexiqueue.Mode
		want int
	}{
		{`with switch in isr`, flexiqueue.SwitchInISR, 2},
		{`without switch in isr`, 0, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			k := kernsim.New()
			q, err := flexiqueue.New(k, 64, tc.mode)
			require.NoError(t, err)

			isrRet := -99
			got := -99
			k.Spawn(`R`, 2, func() {
				got = q.Read(make([]byte, 8), flexiqueue.WaitForever)
			})
			k.Spawn(`helper`, 1, func() {
				k.InISR(func() {
					isrRet = q.WriteFromISR([]byte{1, 2, 3})
				})
			})

			// The reader is unblocked either way.
			require.NoError(t, k.Run())
			assert.Equal(t, tc.want, isrRet)
			assert.Equal(t, 3, got)
		})
	}
}

func TestReadFromISR_WakeBit(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 8, 0)
	require.NoError(t, err)

	isrRet := -99
	k.Spawn(`W`, 2, func() {
		assert.Equal(t, 1, q.Write([]byte(`abcdef`), 0))
		assert.Equal(t, 1, q.Write([]byte(`xy`), flexiqueue.WaitForever))
	})
	k.Spawn(`helper`, 1, func() {
		k.InISR(func() {
			buf := make([]byte, 8)
			isrRet = q.ReadFromISR(buf)
		})
	})

	require.NoError(t, k.Run())
	assert.Equal(t, 6|flexiqueue.ISRWakeBit, isrRet)
	assert.Equal(t, 1, q.ItemsAvailable())
	assert.Equal(t, 2, q.NextItemSize())
}

func TestFlush_UnblocksReaders(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 32, flexiqueue.StrictChronology)
	require.NoError(t, err)

	n := -99
	var affected flexiqueue.FlushFlag = -1
	k.Spawn(`reader`, 2, func() {
		n = q.Read(make([]byte, 8), flexiqueue.WaitForever)
	})
	k.Spawn(`flusher`, 1, func() {
		affected = q.Flush(flexiqueue.FlushReadingTasks | flexiqueue.FlushWritingTasks)
	})

	require.NoError(t, k.Run())
	assert.Zero(t, n)
	// Only categories with waiters show up in the result.
	assert.Equal(t, flexiqueue.FlushReadingTasks, affected)
}

func TestFlush_TimeoutSemanticsLoose(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 32, 0)
	require.NoError(t, err)

	n := -99
	k.Spawn(`reader`, 2, func() {
		n = q.Read(make([]byte, 8), 10)
	})
	k.Spawn(`flusher`, 1, func() {
		assert.Equal(t, flexiqueue.FlushReadingTasks, q.Flush(flexiqueue.FlushReadingTasks))
	})

	// The flushed reader re-parks and then observes its deadline.
	require.NoError(t, k.Run())
	assert.Zero(t, n)
	assert.Equal(t, uint32(10), k.TickCount())
}

func TestFlush_GrantsHeadWriterWhenNotFlushed(t *testing.T) {
	k := kernsim.New()
	q, err := flexiqueue.New(k, 8, flexiqueue.StrictChronology)
	require.NoError(t, err)

	var affected flexiqueue.FlushFlag = -1
	k.Spawn(`W`, 2, func() {
		assert.Equal(t, 1, q.Write([]byte(`abcdef`), 0))
		assert.Equal(t, 1, q.Write([]byte(`ghijkl`), flexiqueue.WaitForever))
	})
	k.Spawn(`flusher`, 1, func() {
		affected = q.Flush(0)
	})

	require.NoError(t, k.Run())
	// Nothing was flushed, but the parked writer was granted the
	// now-empty queue and completed.
	assert.Zero(t, affected)
	assert.Equal(t, 1, q.ItemsAvailable())
	assert.Equal(t, 6, q.NextItemSize())
}

func TestMutex_Handoff(t *testing.T) {
	k := kernsim.New()
	m := flexiqueue.NewMutex(k)

	var order []string
	k.Spawn(`T`, 3, func() {
		for i := 0; i < 3; i++ {
			assert.True(t, m.Take(0))
		}
		k.Sleep(5)
		assert.False(t, m.Give(false))
		assert.True(t, m.IsHeldByCurrentTask())
		assert.False(t, m.Give(false))
		assert.True(t, m.IsHeldByCurrentTask())
		assert.True(t, m.Give(false))
		assert.False(t, m.IsHeldByCurrentTask())
		order = append(order, `T released`)
	})
	k.Spawn(`W`, 2, func() {
		assert.True(t, m.Take(100))
		order = append(order, `W acquired`)
		assert.True(t, m.IsHeldByCurrentTask())
		assert.True(t, m.Give(false))
	})

	require.NoError(t, k.Run())
	assert.Equal(t, []string{`T released`, `W acquired`}, order)
}

func TestMutex_HandoffFIFO(t *testing.T) {
	k := kernsim.New()
	m := flexiqueue.NewMutex(k)

	var order []string
	waiter := func(name string, delay uint32) func() {
		return func() {
			if delay > 0 {
				k.Sleep(delay)
			}
			if assert.True(t, m.Take(flexiqueue.WaitForever)) {
				order = append(order, name)
				assert.True(t, m.Give(false))
			}
		}
	}

	k.Spawn(`holder`, 4, func() {
		assert.True(t, m.Take(0))
		k.Sleep(3)
		assert.True(t, m.Give(false))
	})
	// Arrival order W1, W2 despite W2's higher priority.
	k.Spawn(`W1`, 1, waiter(`W1`, 1))
	k.Spawn(`W2`, 2, waiter(`W2`, 2))

	require.NoError(t, k.Run())
	assert.Equal(t, []string{`W1`, `W2`}, order)
}

func TestMutex_TakeTimeout(t *testing.T) {
	k := kernsim.New()
	m := flexiqueue.NewMutex(k)

	took := true
	k.Spawn(`holder`, 2, func() {
		assert.True(t, m.Take(0))
		k.Sleep(20)
		assert.True(t, m.Give(true))
	})
	k.Spawn(`W`, 1, func() {
		took = m.Take(5)
	})

	require.NoError(t, k.Run())
	assert.False(t, took)
}

func TestMutex_HandoffPreemptsHigherPriorityWaiter(t *testing.T) {
	k := kernsim.New()
	m := flexiqueue.NewMutex(k)

	var order []string
	k.Spawn(`holder`, 1, func() {
		assert.True(t, m.Take(0))
		k.Sleep(1)
		assert.True(t, m.Give(false))
		// The woken waiter outranks us and ran during Give.
		order = append(order, `holder after give`)
	})
	k.Spawn(`W`, 5, func() {
		k.Sleep(1)
		assert.True(t, m.Take(flexiqueue.WaitForever))
		order = append(order, `W acquired`)
		assert.True(t, m.Give(false))
	})

	require.NoError(t, k.Run())
	assert.Equal(t, []string{`W acquired`, `holder after give`}, order)
}
