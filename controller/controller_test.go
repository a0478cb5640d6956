package controller

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teal-lang/tealvm/executable"
	"github.com/teal-lang/tealvm/opcodes"
	"github.com/teal-lang/tealvm/state"
	"github.com/teal-lang/tealvm/values"
)

func newTestController() *Controller {
	exe := executable.New(
		[]*opcodes.Instruction{opcodes.NewReturn()},
		map[string]int{"f": 0},
		map[string]*values.Value{"f": values.NewFunctionPtr("f")},
	)
	return New(exe, nil, nil)
}

func TestPushPopArecRefcounting(t *testing.T) {
	c := newTestController()
	root := c.PushArec(state.NoArec, NoCallSite, nil, nil)
	child := c.PushArec(root, 4, nil, nil)

	popped, _, err := c.PopArec(child)
	require.NoError(t, err)
	assert.Equal(t, 4, popped.CallSite)

	_, _, err = c.PopArec(root)
	require.NoError(t, err, "root should still be poppable after child reclaimed")
	assert.Empty(t, c.arena, "expected arena fully reclaimed")
}

func TestThreadTerminalCallSiteSentinel(t *testing.T) {
	c := newTestController()
	// A call site of 0 is a legitimate return address and must NOT be
	// confused with the NoCallSite terminal sentinel.
	ptr := c.PushArec(state.NoArec, 0, nil, nil)
	rec, _, err := c.PopArec(ptr)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.CallSite, "expected preserved call site 0")
	assert.NotEqual(t, NoCallSite, rec.CallSite, "call site 0 must not collapse into the terminal sentinel")
}

func TestMultiWaiterFutureResolution(t *testing.T) {
	c := newTestController()
	producer := values.NewThreadID()

	const n = 5
	var wg sync.WaitGroup
	resolved := make([]bool, n)
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := c.GetOrWait(values.NewThreadID(), producer, 0)
			resolved[i] = ok
		}()
	}
	wg.Wait()
	for i, ok := range resolved {
		assert.Falsef(t, ok, "waiter %d resolved before producer finished", i)
	}

	waiters := c.Finish(producer, values.NewInt(42))
	assert.Len(t, waiters, n)

	// A second Finish must be a no-op (I4: at most one resolution event).
	more := c.Finish(producer, values.NewInt(7))
	assert.Empty(t, more, "expected no waiters on second Finish")

	ok, v := c.GetOrWait(values.NewThreadID(), producer, 0)
	require.True(t, ok)
	i, _ := v.AsInt()
	assert.Equal(t, int64(42), i)
}

func TestConcurrentArenaAndFutureAccess(t *testing.T) {
	c := newTestController()
	root := c.PushArec(state.NoArec, NoCallSite, nil, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			child := c.PushArec(root, 1, nil, nil)
			_, _, _ = c.PopArec(child)
		}()
	}
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := values.NewThreadID()
			c.GetOrWait(values.NewThreadID(), id, 0)
			c.Finish(id, values.Null)
		}()
	}
	wg.Wait()

	_, _, err := c.PopArec(root)
	require.NoError(t, err, "root should survive all concurrent children")
}

func TestGetOrWaitStopsRegisteredWaiter(t *testing.T) {
	c := newTestController()
	waiter := c.NewRootThread(nil)
	producer := values.NewThreadID()

	resolved, _ := c.GetOrWait(waiter, producer, 0)
	require.False(t, resolved)
	assert.True(t, c.GetState(waiter).Stopped(),
		"an unresolved GetOrWait must leave the waiter stopped")
}

func TestSetFutureValueClearsStoppedFlag(t *testing.T) {
	c := newTestController()
	waiter := c.NewRootThread(nil)
	st := c.GetState(waiter)
	st.Push(values.NewFuturePtr("p"))

	resolved, _ := c.GetOrWait(waiter, "p", 0)
	require.False(t, resolved)

	require.NoError(t, c.SetFutureValue(waiter, 0, values.NewInt(9)))
	assert.False(t, st.Stopped(), "a patched waiter must be runnable again")
	top, err := st.Peek(0)
	require.NoError(t, err)
	i, _ := top.AsInt()
	assert.Equal(t, int64(9), i)
}

func TestAwaitReturnsResolvedValue(t *testing.T) {
	c := newTestController()
	id := c.NewRootThread(nil)
	c.Finish(id, values.NewInt(42))

	v, err := c.Await(context.Background(), id)
	require.NoError(t, err)
	i, _ := v.AsInt()
	assert.Equal(t, int64(42), i)
}

func TestAwaitSettlesOnErroredThread(t *testing.T) {
	c := newTestController()
	id := c.NewRootThread(nil)
	c.TealError(id, assert.AnError)
	require.NoError(t, c.Stop(id, nil, false))

	_, err := c.Await(context.Background(), id)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAwaitHonoursContextWhileUnsettled(t *testing.T) {
	c := newTestController()
	id := c.NewRootThread(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := c.Await(ctx, id)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWriteStdoutOrderWithinThread(t *testing.T) {
	c := newTestController()
	c.WriteStdout("a")
	c.WriteStdout("b")
	c.WriteStdout("c")
	assert.Equal(t, "abc", c.Stdout())
}

func TestRecordErrorIsIdempotentPerThread(t *testing.T) {
	c := newTestController()
	id := c.NewRootThread(nil)

	c.ForeignError(id, assert.AnError)
	c.UnexpectedError(id, assert.AnError)

	err, kind, ok := c.Error(id)
	require.True(t, ok)
	assert.Equal(t, KindForeign, kind, "first recorded error wins")
	assert.ErrorIs(t, err, assert.AnError)
}
