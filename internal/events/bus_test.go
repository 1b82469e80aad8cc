package events

import (
	"sync"
	"testing"

	"github.com/loamdev/loam/internal/entity"
)

func TestBus_DeliversInRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)

	var order []int
	bus.On(ThreadsUpdated, func(any) { order = append(order, 1) })
	bus.On(ThreadsUpdated, func(any) { order = append(order, 2) })
	bus.On(ThreadsUpdated, func(any) { order = append(order, 3) })

	bus.Emit(ThreadsUpdated, ThreadsPayload{})

	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("delivery order = %v, want [1 2 3]", order)
	}
}

func TestBus_PanicDoesNotBlockDelivery(t *testing.T) {
	bus := NewBus(nil)

	var delivered bool
	bus.On(ThreadsUpdated, func(any) { panic("bad consumer") })
	bus.On(ThreadsUpdated, func(any) { delivered = true })

	bus.Emit(ThreadsUpdated, ThreadsPayload{})

	if !delivered {
		t.Error("handler after panicking handler was not invoked")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)

	var calls int
	off := bus.On(MessagesUpdated, func(any) { calls++ })

	bus.Emit(MessagesUpdated, MessagesPayload{ThreadID: "t1"})
	off()
	bus.Emit(MessagesUpdated, MessagesPayload{ThreadID: "t1"})
	off() // second call is a no-op

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBus_PayloadIsWholeCollection(t *testing.T) {
	bus := NewBus(nil)

	var got []entity.Thread
	bus.On(ThreadsUpdated, func(payload any) {
		p, ok := payload.(ThreadsPayload)
		if !ok {
			t.Fatalf("payload type = %T, want ThreadsPayload", payload)
		}
		got = p.Threads
	})

	threads := []entity.Thread{{ID: "a"}, {ID: "b"}}
	bus.Emit(ThreadsUpdated, ThreadsPayload{Threads: threads})

	if len(got) != 2 {
		t.Errorf("received %d threads, want 2", len(got))
	}
}

func TestBus_EventScoping(t *testing.T) {
	bus := NewBus(nil)

	var threadEvents, messageEvents int
	bus.On(ThreadsUpdated, func(any) { threadEvents++ })
	bus.On(MessagesUpdated, func(any) { messageEvents++ })

	bus.Emit(ThreadsUpdated, ThreadsPayload{})

	if threadEvents != 1 || messageEvents != 0 {
		t.Errorf("threadEvents = %d, messageEvents = %d, want 1, 0", threadEvents, messageEvents)
	}
}

func TestBus_ConcurrentSubscribeEmit(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	total := 0

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			off := bus.On(ProjectsUpdated, func(any) {
				mu.Lock()
				total++
				mu.Unlock()
			})
			bus.Emit(ProjectsUpdated, ProjectsPayload{})
			off()
		}()
	}
	wg.Wait()

	// Each goroutine's own emission reaches at least its own handler.
	if total < 16 {
		t.Errorf("total deliveries = %d, want >= 16", total)
	}
}
