package session

import (
	"sync"
	"testing"

	"github.com/navajothi-jewels/storefront-sync/internal/domain"
)

func TestSignInBumpsEpochAndNotifies(t *testing.T) {
	ctx := New(WithID("session-1"))
	if ctx.ID() != "session-1" {
		t.Fatalf("unexpected id %q", ctx.ID())
	}
	if _, ok := ctx.Current(); ok {
		t.Fatalf("expected signed out context")
	}

	var transitions [][2]State
	cancel := ctx.OnChange(func(previous, current State) {
		transitions = append(transitions, [2]State{previous, current})
	})
	defer cancel()

	state := ctx.SignIn(domain.Identity{UID: " uid-1 ", Email: "a@example.com"})
	if !state.SignedIn || state.Identity.UID != "uid-1" || state.Epoch != 1 {
		t.Fatalf("unexpected state %+v", state)
	}
	if len(transitions) != 1 || transitions[0][0].SignedIn {
		t.Fatalf("expected one transition from signed out, got %+v", transitions)
	}

	again := ctx.SignIn(domain.Identity{UID: "uid-1", Email: "b@example.com"})
	if again.Epoch != 1 || again.Identity.Email != "b@example.com" {
		t.Fatalf("expected profile refresh without epoch bump, got %+v", again)
	}
	if len(transitions) != 1 {
		t.Fatalf("expected no notification for the same uid, got %d", len(transitions))
	}

	ctx.SignIn(domain.Identity{UID: "uid-2"})
	if ctx.Epoch() != 2 || ctx.IsCurrent(1) {
		t.Fatalf("expected epoch 2, got %d", ctx.Epoch())
	}
	if len(transitions) != 2 || transitions[1][0].Identity.UID != "uid-1" || transitions[1][1].Identity.UID != "uid-2" {
		t.Fatalf("unexpected transitions %+v", transitions)
	}
}

func TestSignOutIsIdempotent(t *testing.T) {
	ctx := New()
	calls := 0
	ctx.OnChange(func(State, State) { calls++ })

	ctx.SignOut()
	if calls != 0 || ctx.Epoch() != 0 {
		t.Fatalf("expected signing out while signed out to be a no-op")
	}
	ctx.SignIn(domain.Identity{UID: "uid-1"})
	state := ctx.SignOut()
	if state.SignedIn || state.Epoch != 2 {
		t.Fatalf("unexpected state %+v", state)
	}
	ctx.SignOut()
	if calls != 2 {
		t.Fatalf("expected 2 notifications, got %d", calls)
	}
}

func TestSignInWithBlankUIDSignsOut(t *testing.T) {
	ctx := New()
	ctx.SignIn(domain.Identity{UID: "uid-1"})
	ctx.SignIn(domain.Identity{UID: "  "})
	if _, ok := ctx.Current(); ok {
		t.Fatalf("expected blank uid to sign out")
	}
}

func TestOnChangeCancelStopsNotifications(t *testing.T) {
	ctx := New()
	var order []string
	cancelFirst := ctx.OnChange(func(State, State) { order = append(order, "first") })
	ctx.OnChange(func(State, State) { order = append(order, "second") })

	ctx.SignIn(domain.Identity{UID: "uid-1"})
	cancelFirst()
	cancelFirst()
	ctx.SignOut()

	want := []string{"first", "second", "second"}
	if len(order) != len(want) {
		t.Fatalf("unexpected notifications %v", order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("unexpected notifications %v", order)
		}
	}
}

func TestConcurrentTransitionsKeepEpochMonotonic(t *testing.T) {
	ctx := New()
	var mu sync.Mutex
	var last uint64
	ctx.OnChange(func(_, current State) {
		mu.Lock()
		defer mu.Unlock()
		if current.Epoch <= last {
			t.Errorf("epoch went backwards: %d after %d", current.Epoch, last)
		}
		last = current.Epoch
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				ctx.SignIn(domain.Identity{UID: "uid-even"})
			} else {
				ctx.SignIn(domain.Identity{UID: "uid-odd"})
			}
		}(i)
	}
	wg.Wait()
}
