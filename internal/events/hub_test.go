package events

import (
	"sync"
	"testing"
	"time"

	"github.com/hanwool-dev/wakebattle/internal/domain"
)

func battleNamed(id string) *domain.Battle {
	return &domain.Battle{ID: id, Type: domain.TypeDaily, Status: domain.StatusActive}
}

func TestDeliveryToAllSubscribers(t *testing.T) {
	h := NewHub()
	defer h.Close()

	var mu sync.Mutex
	counts := make(map[int]int)
	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		i := i
		h.Subscribe(func(ev Event) {
			mu.Lock()
			counts[i]++
			mu.Unlock()
			done <- struct{}{}
		})
	}

	h.Publish(Event{Type: BattleCreated, Battle: battleNamed("b1")})
	for i := 0; i < 2; i++ {
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for delivery")
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if counts[0] != 1 || counts[1] != 1 {
		t.Fatalf("uneven delivery: %v", counts)
	}
}

func TestPerBattlePublishOrderPreserved(t *testing.T) {
	h := NewHub()
	defer h.Close()

	var mu sync.Mutex
	var got []Type
	last := make(chan struct{})
	h.Subscribe(func(ev Event) {
		mu.Lock()
		got = append(got, ev.Type)
		n := len(got)
		mu.Unlock()
		if n == 4 {
			close(last)
		}
	})

	want := []Type{BattleCreated, ParticipantJoined, BattleUpdated, BattleEnded}
	for _, typ := range want {
		h.Publish(Event{Type: typ, Battle: battleNamed("b1")})
	}
	select {
	case <-last:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for all events")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, typ := range want {
		if got[i] != typ {
			t.Fatalf("event %d out of order: got %s want %s (all: %v)", i, got[i], typ, got)
		}
	}
}

func TestPublishStampsTime(t *testing.T) {
	h := NewHub()
	defer h.Close()

	at := make(chan time.Time, 1)
	h.Subscribe(func(ev Event) { at <- ev.At })
	before := time.Now()
	h.Publish(Event{Type: BattleUpdated, Battle: battleNamed("b1")})
	select {
	case stamped := <-at:
		if stamped.Before(before) {
			t.Fatalf("event time %v predates publish %v", stamped, before)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out")
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	h := NewHub()

	var mu sync.Mutex
	n := 0
	h.Subscribe(func(Event) {
		mu.Lock()
		n++
		mu.Unlock()
	})
	const total = 50
	for i := 0; i < total; i++ {
		h.Publish(Event{Type: BattleUpdated, Battle: battleNamed("b1")})
	}
	h.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		seen := n
		mu.Unlock()
		if seen == total {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("delivered %d of %d after close", seen, total)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
