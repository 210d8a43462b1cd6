package passby

import (
	"testing"

	"github.com/wippyai/guestpass"
	"github.com/wippyai/guestpass/errors"
)

// session is a host-owned value the guest only ever sees as a handle.
type session struct {
	user string
	hits int
}

type eventRec struct {
	events []Event
}

func (r *eventRec) OnTransferEvent(ev Event) { r.events = append(r.events, ev) }

func TestBoxedNewTakeRoundTrip(t *testing.T) {
	b := NewBoxed[session](TableConfig{})

	h, err := b.New(session{user: "ada", hits: 3})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if h == 0 {
		t.Fatal("New returned handle 0")
	}
	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}

	got, err := b.Take(h)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if got.user != "ada" || got.hits != 3 {
		t.Fatalf("took %+v", got)
	}
	if b.Len() != 0 {
		t.Fatalf("Len = %d after Take, want 0", b.Len())
	}

	_, err = b.Take(h)
	wantKind(t, err, errors.KindStaleHandle)
}

func TestBoxedHandleZero(t *testing.T) {
	b := NewBoxed[session](TableConfig{})

	got, err := b.Take(0)
	if err != nil || got != (session{}) {
		t.Fatalf("Take(0) = %+v, %v", got, err)
	}
	if err := b.Free(0); err != nil {
		t.Fatalf("Free(0) failed: %v", err)
	}
	err = b.WithRef(0, func(s *session) error {
		if *s != (session{}) {
			t.Fatalf("handle 0 borrowed %+v", *s)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRef(0) failed: %v", err)
	}

	_, err = b.TakeNonNull(0)
	wantKind(t, err, errors.KindNilPointer)
	err = b.WithRefNonNull(0, func(*session) error { return nil })
	wantKind(t, err, errors.KindNilPointer)
	err = b.WithRefMutNonNull(0, func(*session) error { return nil })
	wantKind(t, err, errors.KindNilPointer)
}

func TestBoxedDoubleFree(t *testing.T) {
	b := NewBoxed[session](TableConfig{})

	h, err := b.New(session{user: "ada"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := b.Free(h); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	err = b.Free(h)
	wantKind(t, err, errors.KindStaleHandle)
	_, err = b.Take(h)
	wantKind(t, err, errors.KindStaleHandle)
}

func TestBoxedGenerationGuardsReuse(t *testing.T) {
	b := NewBoxed[session](TableConfig{})

	h1, err := b.New(session{user: "first"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := b.Take(h1); err != nil {
		t.Fatalf("Take failed: %v", err)
	}

	// the freed slot is reused, but under a new generation
	h2, err := b.New(session{user: "second"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if h1 == h2 {
		t.Fatal("slot reuse produced an identical handle")
	}

	_, err = b.Take(h1)
	wantKind(t, err, errors.KindStaleHandle)

	got, err := b.Take(h2)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if got.user != "second" {
		t.Fatalf("took %+v", got)
	}
}

func TestBoxedBorrowBlocksTake(t *testing.T) {
	b := NewBoxed[session](TableConfig{})

	h, err := b.New(session{user: "ada"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = b.WithRef(h, func(s *session) error {
		if s.user != "ada" {
			t.Fatalf("borrowed %+v", *s)
		}
		_, takeErr := b.Take(h)
		wantKind(t, takeErr, errors.KindBusy)
		wantKind(t, b.Free(h), errors.KindBusy)
		return nil
	})
	if err != nil {
		t.Fatalf("WithRef failed: %v", err)
	}

	// the borrow has been returned, consuming works again
	if _, err := b.Take(h); err != nil {
		t.Fatalf("Take after borrow failed: %v", err)
	}
}

func TestBoxedWithRefMutPersists(t *testing.T) {
	b := NewBoxed[session](TableConfig{})

	h, err := b.New(session{user: "ada"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	err = b.WithRefMut(h, func(s *session) error {
		s.hits = 41
		return nil
	})
	if err != nil {
		t.Fatalf("WithRefMut failed: %v", err)
	}
	err = b.WithRefMut(h, func(s *session) error {
		s.hits++
		return nil
	})
	if err != nil {
		t.Fatalf("WithRefMut failed: %v", err)
	}

	got, err := b.Take(h)
	if err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if got.hits != 42 {
		t.Fatalf("hits = %d, want 42", got.hits)
	}
}

func TestBoxedOutParamSlot(t *testing.T) {
	b := NewBoxed[session](TableConfig{})
	mem := make(guestpass.ByteMemory, 64)

	if err := b.ToOutParam(mem, 16, session{user: "ada"}); err != nil {
		t.Fatalf("ToOutParam failed: %v", err)
	}
	raw, err := mem.ReadU64(16)
	if err != nil {
		t.Fatalf("ReadU64 failed: %v", err)
	}
	if raw == 0 {
		t.Fatal("out parameter slot still holds handle 0")
	}
	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1", b.Len())
	}

	got, err := b.TakeSlot(mem, 16)
	if err != nil {
		t.Fatalf("TakeSlot failed: %v", err)
	}
	if got.user != "ada" {
		t.Fatalf("took %+v", got)
	}
	if raw, _ := mem.ReadU64(16); raw != 0 {
		t.Fatalf("slot not zeroed, holds %#x", raw)
	}

	// the zeroed slot reads as handle 0: absent, not an error
	got, err = b.TakeSlot(mem, 16)
	if err != nil || got != (session{}) {
		t.Fatalf("TakeSlot on zeroed slot = %+v, %v", got, err)
	}

	// addr 0 drops the value without it ever entering the table
	if err := b.ToOutParam(mem, 0, session{user: "dropped"}); err != nil {
		t.Fatalf("ToOutParam(0) failed: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("Len = %d after dropped out parameter, want 0", b.Len())
	}

	err = b.ToOutParamNonNull(mem, 0, session{})
	wantKind(t, err, errors.KindNilPointer)

	got, err = b.TakeSlot(mem, 0)
	if err != nil || got != (session{}) {
		t.Fatalf("TakeSlot(0) = %+v, %v", got, err)
	}
}

func TestBoxedOutParamRollback(t *testing.T) {
	b := NewBoxed[session](TableConfig{})
	mem := make(guestpass.ByteMemory, 16)

	// the u64 write at 12 runs off the end of memory
	err := b.ToOutParam(mem, 12, session{user: "ada"})
	wantKind(t, err, errors.KindOutOfBounds)
	if b.Len() != 0 {
		t.Fatalf("Len = %d after failed out parameter, want 0", b.Len())
	}
}

func TestBoxedState(t *testing.T) {
	b := NewBoxed[session](TableConfig{})

	if st := b.State(0); st != guestpass.OwnershipInvalid {
		t.Fatalf("State(0) = %s", st)
	}

	h, err := b.New(session{user: "ada"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if st := b.State(h); st != guestpass.OwnershipHeld {
		t.Fatalf("State = %s, want held", st)
	}

	err = b.WithRef(h, func(*session) error {
		if st := b.State(h); st != guestpass.OwnershipBorrowed {
			t.Fatalf("State under borrow = %s", st)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("WithRef failed: %v", err)
	}

	if _, err := b.Take(h); err != nil {
		t.Fatalf("Take failed: %v", err)
	}
	if st := b.State(h); st != guestpass.OwnershipInvalid {
		t.Fatalf("State after Take = %s", st)
	}
}

func TestBoxedObserverEvents(t *testing.T) {
	rec := &eventRec{}
	b := NewBoxed[session](TableConfig{Observer: rec})

	h, err := b.New(session{user: "ada"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := b.WithRef(h, func(*session) error { return nil }); err != nil {
		t.Fatalf("WithRef failed: %v", err)
	}
	if _, err := b.Take(h); err != nil {
		t.Fatalf("Take failed: %v", err)
	}

	h2, err := b.New(session{user: "grace"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := b.Free(h2); err != nil {
		t.Fatalf("Free failed: %v", err)
	}

	want := []EventType{
		EventCreated, EventBorrowed, EventBorrowReturned, EventTaken,
		EventCreated, EventFreed,
	}
	if len(rec.events) != len(want) {
		t.Fatalf("recorded %d events, want %d", len(rec.events), len(want))
	}
	for i, ev := range rec.events {
		if ev.Type != want[i] {
			t.Fatalf("event %d = %s, want %s", i, ev.Type, want[i])
		}
		if ev.Handle == 0 {
			t.Fatalf("event %d carries handle 0", i)
		}
	}
}

func TestBoxedCloseReportsLeaks(t *testing.T) {
	rec := &eventRec{}
	b := NewBoxed[session](TableConfig{Observer: rec})

	h, err := b.New(session{user: "a"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := b.New(session{user: "b"}); err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if n := b.Close(); n != 2 {
		t.Fatalf("Close dropped %d values, want 2", n)
	}
	freed := 0
	for _, ev := range rec.events {
		if ev.Type == EventFreed {
			freed++
		}
	}
	if freed != 2 {
		t.Fatalf("observer saw %d freed events, want 2", freed)
	}

	if _, err := b.New(session{}); err == nil {
		t.Fatal("New succeeded on a closed table")
	}
	_, err = b.Take(h)
	wantKind(t, err, errors.KindStaleHandle)

	if n := b.Close(); n != 0 {
		t.Fatalf("second Close dropped %d, want 0", n)
	}
}
