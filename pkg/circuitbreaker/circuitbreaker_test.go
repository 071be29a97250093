package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var errBoom = errors.New("boom")

func TestOpensAfterConsecutiveFailures(t *testing.T) {
	cb := New("test", 2, time.Minute)

	assert.ErrorIs(t, cb.Call(func() error { return errBoom }, nil), errBoom)
	assert.Equal(t, StateClosed, cb.State())
	assert.ErrorIs(t, cb.Call(func() error { return errBoom }, nil), errBoom)
	assert.Equal(t, StateOpen, cb.State())

	called := false
	err := cb.Call(func() error { called = true; return nil }, nil)
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestUncountedErrorsDoNotOpen(t *testing.T) {
	cb := New("test", 1, time.Minute)
	never := func(error) bool { return false }

	assert.Error(t, cb.Call(func() error { return errBoom }, never))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenRecovers(t *testing.T) {
	now := time.Now()
	cb := New("test", 1, time.Second)
	cb.now = func() time.Time { return now }

	_ = cb.Call(func() error { return errBoom }, nil)
	assert.Equal(t, StateOpen, cb.State())

	now = now.Add(2 * time.Second)
	assert.NoError(t, cb.Call(func() error { return nil }, nil))
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.NoError(t, cb.Call(func() error { return nil }, nil))
	assert.Equal(t, StateClosed, cb.State())
}

func TestManagerReusesBreakers(t *testing.T) {
	m := NewManager(3, time.Second)
	assert.Same(t, m.Get("stripe"), m.Get("stripe"))
	assert.NotSame(t, m.Get("stripe"), m.Get("plisio"))
	assert.Len(t, m.AllStats(), 2)
}
