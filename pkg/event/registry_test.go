package event

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func recorder(out *[]string, name string) Handler {
	return func(context.Context, *Event, *Source) error {
		*out = append(*out, name)
		return nil
	}
}

func run(hs []Handler) {
	for _, h := range hs {
		_ = h(context.Background(), nil, nil)
	}
}

func TestRegistry_Order(t *testing.T) {
	r := NewRegistry()
	var got []string
	r.Add(recorder(&got, "a"))
	r.AddFor(KindJoinVilla, recorder(&got, "join-1"))
	r.Add(recorder(&got, "b"))
	r.AddFor(KindSendMessage, recorder(&got, "msg"))
	r.AddFor(KindJoinVilla, recorder(&got, "join-2"))

	run(r.Handlers(KindJoinVilla))
	assert.Equal(t, []string{"a", "join-1", "b", "join-2"}, got)

	got = nil
	run(r.Handlers(KindDeleteRobot))
	assert.Equal(t, []string{"a", "b"}, got)

	got = nil
	run(r.Handlers(KindSendMessage))
	assert.Equal(t, []string{"a", "b", "msg"}, got)
}

func TestRegistry_DisposeIdempotent(t *testing.T) {
	r := NewRegistry()
	var got []string
	first := r.Add(recorder(&got, "first"))
	r.Add(recorder(&got, "second"))
	a := assert.New(t)

	first.Dispose()
	a.Equal(1, r.Len())
	first.Dispose()
	a.Equal(1, r.Len())

	run(r.Handlers(KindJoinVilla))
	a.Equal([]string{"second"}, got)
}

func TestRegistry_DisposeKindSpecific(t *testing.T) {
	r := NewRegistry()
	var got []string
	reg := r.AddFor(KindJoinVilla, recorder(&got, "join"))
	reg.Dispose()

	run(r.Handlers(KindJoinVilla))
	assert.Empty(t, got)
	assert.Zero(t, r.Len())
}

func TestRegistry_ConcurrentMutation(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, *Event, *Source) error { return nil }

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				reg := r.AddFor(KindSendMessage, noop)
				reg.Dispose()
				reg.Dispose()
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				run(r.Handlers(KindSendMessage))
			}
		}()
	}
	wg.Wait()
	assert.Zero(t, r.Len())
}
