package validation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"timbangpos/backend/internal/domain"
	"timbangpos/backend/internal/store"
)

type fakeLookup struct {
	mu         sync.Mutex
	nameCalls  int
	phoneCalls int
	lastName   string
	lastPhone  string
	dupName    bool
	dupPhone   bool
	fail       bool
}

func (f *fakeLookup) FindCustomerByName(ctx context.Context, name string, excludeID string) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nameCalls++
	f.lastName = name
	if f.fail {
		return nil, errors.New("store unreachable")
	}
	if f.dupName {
		return &domain.Customer{ID: "cus-1", Name: name}, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeLookup) FindCustomerByPhone(ctx context.Context, phone string, excludeID string) (*domain.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phoneCalls++
	f.lastPhone = phone
	if f.fail {
		return nil, errors.New("store unreachable")
	}
	if f.dupPhone {
		return &domain.Customer{ID: "cus-2", Phone: phone}, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeLookup) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nameCalls, f.phoneCalls
}

func waitQuiescent(t *testing.T, p *Pipeline) Snapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		snap := p.Snapshot()
		if !snap.Pending() {
			return snap
		}
		if time.Now().After(deadline) {
			t.Fatalf("pipeline did not settle: %+v", snap)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRetypesCollapseIntoOneLookup(t *testing.T) {
	lookup := &fakeLookup{}
	p := New(lookup, 20*time.Millisecond, "")
	defer p.Close()

	for _, v := range []string{"B", "Bu", "Bud", "Budi", "Budi Santoso"} {
		p.Input(FieldName, v)
		time.Sleep(2 * time.Millisecond)
	}

	snap := waitQuiescent(t, p)
	if snap.Fields[FieldName].State != StateValid {
		t.Fatalf("expected name valid, got %+v", snap.Fields[FieldName])
	}

	nameCalls, _ := lookup.counts()
	if nameCalls != 1 {
		t.Fatalf("expected exactly one uniqueness lookup, got %d", nameCalls)
	}
	if lookup.lastName != "Budi Santoso" {
		t.Fatalf("expected lookup for final value, got %q", lookup.lastName)
	}
}

func TestStructuralFailureSkipsLookup(t *testing.T) {
	lookup := &fakeLookup{}
	p := New(lookup, 10*time.Millisecond, "")
	defer p.Close()

	p.Input(FieldPhone, "not-a-number")
	snap := waitQuiescent(t, p)

	if snap.Fields[FieldPhone].State != StateInvalid {
		t.Fatalf("expected phone invalid, got %+v", snap.Fields[FieldPhone])
	}
	if _, phoneCalls := lookup.counts(); phoneCalls != 0 {
		t.Fatalf("structural failure must not hit the store, got %d lookups", phoneCalls)
	}
}

func TestDuplicateNameFlagged(t *testing.T) {
	lookup := &fakeLookup{dupName: true}
	p := New(lookup, 10*time.Millisecond, "")
	defer p.Close()

	p.Input(FieldName, "Budi")
	snap := waitQuiescent(t, p)

	field := snap.Fields[FieldName]
	if field.State != StateInvalid || field.Message == "" {
		t.Fatalf("expected duplicate name rejection, got %+v", field)
	}
	if !snap.HasErrors || snap.CanSave {
		t.Fatalf("expected errors to block saving, got %+v", snap)
	}
}

func TestStoreFailureDegradesGracefully(t *testing.T) {
	lookup := &fakeLookup{fail: true}
	p := New(lookup, 10*time.Millisecond, "")
	defer p.Close()

	p.Input(FieldName, "Budi")
	snap := waitQuiescent(t, p)

	if snap.Fields[FieldName].State != StateValid {
		t.Fatalf("expected structural pass despite store failure, got %+v", snap.Fields[FieldName])
	}
	if snap.Warning == "" {
		t.Fatalf("expected degradation warning")
	}

	// once degraded, later fields skip the store entirely
	p.Input(FieldPhone, "0812-3456-789")
	snap = waitQuiescent(t, p)
	if snap.Fields[FieldPhone].State != StateValid {
		t.Fatalf("expected phone valid, got %+v", snap.Fields[FieldPhone])
	}
	if _, phoneCalls := lookup.counts(); phoneCalls != 0 {
		t.Fatalf("degraded pipeline must not retry the store, got %d lookups", phoneCalls)
	}
}

func TestSettleRunsFinalPass(t *testing.T) {
	lookup := &fakeLookup{}
	p := New(lookup, 10*time.Second, "") // debounce longer than the test
	defer p.Close()

	p.Input(FieldName, "Budi Santoso")
	p.Input(FieldPhone, "+62 812-3456-789")

	snap, err := p.Settle(context.Background())
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if !snap.CanSave {
		t.Fatalf("expected settled snapshot to allow saving, got %+v", snap)
	}
	if lookup.lastPhone != "628123456789" {
		t.Fatalf("expected normalized phone lookup, got %q", lookup.lastPhone)
	}
}

func TestCanSaveRequiresAllFields(t *testing.T) {
	lookup := &fakeLookup{}
	p := New(lookup, 10*time.Millisecond, "")
	defer p.Close()

	p.Input(FieldName, "Budi")
	snap := waitQuiescent(t, p)
	if snap.CanSave {
		t.Fatalf("expected CanSave false without a phone, got %+v", snap)
	}
}

func TestNormalizePhone(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"+62 812-3456-789", "628123456789"},
		{"(021) 555 0123", "0215550123"},
		{"0812x", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.in); got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestManagerSessions(t *testing.T) {
	m := NewManager(&fakeLookup{}, 10*time.Millisecond)

	id := m.Start("")
	if _, ok := m.Get(id); !ok {
		t.Fatalf("expected session %s to exist", id)
	}
	m.End(id)
	if _, ok := m.Get(id); ok {
		t.Fatalf("expected session %s to be gone", id)
	}
}
