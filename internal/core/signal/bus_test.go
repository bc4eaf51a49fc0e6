package signal

import (
	"errors"
	"testing"
)

func TestRaiseDispatchesInRegistrationOrder(t *testing.T) {
	b := NewBus(8)
	var order []int
	b.Register("hit", func(Params) error { order = append(order, 1); return nil })
	b.Register("hit", func(Params) error { order = append(order, 2); return nil })
	b.Register("hit", func(Params) error { order = append(order, 3); return nil })
	if err := b.Raise("hit", nil); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Fatalf("wrong dispatch order: %v", order)
	}
}

func TestRaisePassesParams(t *testing.T) {
	b := NewBus(8)
	var got int
	b.Register("dmg", func(p Params) error {
		got = p["amount"].(int)
		return nil
	})
	if err := b.Raise("dmg", Params{"amount": 25}); err != nil {
		t.Fatalf("raise: %v", err)
	}
	if got != 25 {
		t.Fatalf("param not delivered, got %d", got)
	}
}

func TestRaiseUnknownKindIsNoop(t *testing.T) {
	b := NewBus(8)
	if err := b.Raise("nobody-listens", nil); err != nil {
		t.Fatalf("raise: %v", err)
	}
}

func TestHandlerErrorStopsDispatch(t *testing.T) {
	b := NewBus(8)
	boom := errors.New("boom")
	called := false
	b.Register("x", func(Params) error { return boom })
	b.Register("x", func(Params) error { called = true; return nil })
	if err := b.Raise("x", nil); !errors.Is(err, boom) {
		t.Fatalf("expected handler error, got %v", err)
	}
	if called {
		t.Fatal("later handler ran after error")
	}
}

func TestNestedRaiseWithinLimit(t *testing.T) {
	b := NewBus(3)
	depth := 0
	b.Register("a", func(p Params) error {
		depth++
		if depth < 3 {
			return b.Raise("a", p)
		}
		return nil
	})
	if err := b.Raise("a", nil); err != nil {
		t.Fatalf("raise within limit: %v", err)
	}
}

func TestRecursionLimit(t *testing.T) {
	b := NewBus(4)
	b.Register("loop", func(p Params) error {
		return b.Raise("loop", p)
	})
	err := b.Raise("loop", nil)
	if !errors.Is(err, ErrRecursionLimit) {
		t.Fatalf("expected ErrRecursionLimit, got %v", err)
	}

	// depth unwinds; the next tick can raise again
	b.Reset()
	b2 := NewBus(4)
	ok := false
	b2.Register("fine", func(Params) error { ok = true; return nil })
	if err := b2.Raise("fine", nil); err != nil || !ok {
		t.Fatalf("bus unusable after limit: %v", err)
	}
}
