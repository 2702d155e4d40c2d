package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCache_TakeIsExactlyOnce(t *testing.T) {
	c := NewCache(time.Hour)
	key := Key{MemberID: "m1", MessageID: "msg1"}
	c.Put(key, &Entry{GuildID: "g1"})

	e, ok := c.Take(key)
	require.True(t, ok)
	require.Equal(t, "g1", e.GuildID)

	_, ok = c.Take(key)
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestCache_UpdateMutatesUnderKey(t *testing.T) {
	c := NewCache(time.Hour)
	key := Key{MemberID: "m1", MessageID: "msg1"}
	c.Put(key, &Entry{GuildID: "g1"})

	ok := c.Update(key, func(e *Entry) {
		e.Type = "art"
		e.State = StateTypeChosen
	})
	require.True(t, ok)

	e, ok := c.Get(key)
	require.True(t, ok)
	require.Equal(t, "art", e.Type)
	require.Equal(t, StateTypeChosen, e.State)

	require.False(t, c.Update(Key{MemberID: "m2", MessageID: "msg1"}, func(*Entry) {}))
}

func TestCache_GenerationsAreMonotonic(t *testing.T) {
	c := NewCache(time.Hour)
	c.Put(Key{MemberID: "m1", MessageID: "a"}, &Entry{})
	c.Put(Key{MemberID: "m1", MessageID: "b"}, &Entry{})

	a, ok := c.Get(Key{MemberID: "m1", MessageID: "a"})
	require.True(t, ok)
	b, ok := c.Get(Key{MemberID: "m1", MessageID: "b"})
	require.True(t, ok)
	require.Greater(t, b.Gen, a.Gen)
}

func TestCache_ReapSweepsExpired(t *testing.T) {
	c := NewCache(time.Hour)
	c.Put(Key{MemberID: "m1", MessageID: "a"}, &Entry{})
	c.Put(Key{MemberID: "m2", MessageID: "b"}, &Entry{})

	require.Zero(t, c.Reap(time.Now()))
	require.Equal(t, 2, c.Len())

	require.Equal(t, 2, c.Reap(time.Now().Add(2*time.Hour)))
	require.Zero(t, c.Len())
}

func TestCache_ExpiredEntryIsAMiss(t *testing.T) {
	c := NewCache(time.Nanosecond)
	key := Key{MemberID: "m1", MessageID: "a"}
	c.Put(key, &Entry{})
	time.Sleep(time.Millisecond)

	_, ok := c.Get(key)
	require.False(t, ok)
	require.Zero(t, c.Len())
}

func TestCache_ZeroTTLNeverExpires(t *testing.T) {
	c := NewCache(0)
	key := Key{MemberID: "m1", MessageID: "a"}
	c.Put(key, &Entry{})

	require.Zero(t, c.Reap(time.Now().Add(1000*time.Hour)))
	_, ok := c.Get(key)
	require.True(t, ok)
}
