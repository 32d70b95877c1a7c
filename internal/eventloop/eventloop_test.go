package eventloop

import (
	"fmt"
	"testing"
	"time"

	"github.com/cryguy/serviceworker/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRuntime records timer firings instead of running JS.
type fakeRuntime struct {
	fired  []int
	onFire func(id int)
	evals  []string
}

func (f *fakeRuntime) Eval(js string) error {
	var id int
	if _, err := fmt.Sscanf(js, "globalThis.__timerFire(%d)", &id); err == nil {
		f.fired = append(f.fired, id)
		if f.onFire != nil {
			f.onFire(id)
		}
		return nil
	}
	f.evals = append(f.evals, js)
	return nil
}
func (f *fakeRuntime) EvalString(string) (string, error) { return "", nil }
func (f *fakeRuntime) EvalBool(string) (bool, error)     { return false, nil }
func (f *fakeRuntime) RegisterFunc(string, any) error    { return nil }
func (f *fakeRuntime) SetGlobal(string, any) error       { return nil }
func (f *fakeRuntime) RunMicrotasks()                    {}
func (f *fakeRuntime) Interrupt()                        {}
func (f *fakeRuntime) Close() error                      { return nil }

var _ core.JSRuntime = (*fakeRuntime)(nil)

func drain(el *EventLoop, rt core.JSRuntime, deadline time.Time) {
	for el.Step(rt, deadline) {
	}
}

func TestSchedule_HandlesIncrease(t *testing.T) {
	el := New(nil)
	a := el.Schedule(time.Second, false)
	b := el.Schedule(time.Second, true)
	assert.Less(t, a, b)

	el.ClearTimers()
	c := el.Schedule(time.Second, false)
	assert.Greater(t, c, b, "clearing must not recycle handles")
	assert.Equal(t, 1, el.Timers())
}

func TestSchedule_NegativeDelayFiresLikeZero(t *testing.T) {
	el := New(nil)
	rt := &fakeRuntime{}
	id := el.Schedule(-50*time.Millisecond, false)

	drain(el, rt, time.Now().Add(time.Second))
	assert.Equal(t, []int{id}, rt.fired)
	assert.False(t, el.Has(id))
}

func TestCancel_BeforeDeadline(t *testing.T) {
	el := New(nil)
	rt := &fakeRuntime{}
	id := el.Schedule(10*time.Millisecond, true)
	require.True(t, el.Cancel(id))
	assert.False(t, el.Cancel(id))

	drain(el, rt, time.Now().Add(50*time.Millisecond))
	assert.Empty(t, rt.fired)
}

func TestRunDue_SkipsTimerClearedEarlierInPass(t *testing.T) {
	el := New(nil)
	first := el.Schedule(0, false)
	second := el.Schedule(0, false)
	rt := &fakeRuntime{onFire: func(id int) {
		if id == first {
			el.Cancel(second)
		}
	}}

	drain(el, rt, time.Now().Add(100*time.Millisecond))
	assert.Equal(t, []int{first}, rt.fired)
}

func TestInterval_RearmsUntilCleared(t *testing.T) {
	el := New(nil)
	var id int
	rt := &fakeRuntime{}
	rt.onFire = func(int) {
		if len(rt.fired) == 3 {
			el.Cancel(id)
		}
	}
	id = el.Schedule(time.Millisecond, true)

	drain(el, rt, time.Now().Add(time.Second))
	assert.Equal(t, []int{id, id, id}, rt.fired)
	assert.False(t, el.HasPending())
}

func TestRunUntil(t *testing.T) {
	el := New(nil)
	rt := &fakeRuntime{}

	done := false
	el.Schedule(time.Millisecond, false)
	rt.onFire = func(int) { done = true }
	err := el.RunUntil(rt, time.Now().Add(time.Second), func() (bool, error) { return done, nil })
	require.NoError(t, err)

	err = el.RunUntil(rt, time.Now().Add(time.Second), func() (bool, error) { return false, nil })
	assert.ErrorIs(t, err, ErrStalled)

	el.Schedule(time.Hour, false)
	err = el.RunUntil(rt, time.Now().Add(20*time.Millisecond), func() (bool, error) { return false, nil })
	assert.ErrorIs(t, err, core.ErrTimeout)
}

func TestDrainPendingFetches(t *testing.T) {
	el := New(nil)
	rt := &fakeRuntime{}
	ch := make(chan FetchResult, 1)
	el.AddPendingFetch(&PendingFetch{ResultCh: ch, FetchID: "f1"})

	assert.False(t, el.DrainPendingFetches(rt))
	ch <- FetchResult{Status: 200, StatusText: "200 OK", HeadersJSON: "{}"}
	assert.True(t, el.DrainPendingFetches(rt))
	require.Len(t, rt.evals, 1)
	assert.Contains(t, rt.evals[0], `__fetchResolve("f1", 200`)
	assert.False(t, el.HasPending())
}
