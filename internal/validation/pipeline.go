package validation

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"timbangpos/backend/internal/domain"
	"timbangpos/backend/internal/store"
)

// FieldState is the lifecycle of one form field.
type FieldState string

const (
	StateIdle            FieldState = "idle"
	StatePendingDebounce FieldState = "pending_debounce"
	StateValidating      FieldState = "validating"
	StateValid           FieldState = "valid"
	StateInvalid         FieldState = "invalid"
)

const (
	FieldName    = "name"
	FieldPhone   = "phone"
	FieldAddress = "address"
)

const (
	DefaultDebounce      = 750 * time.Millisecond
	DefaultSettleTimeout = 5 * time.Second
	lookupTimeout        = 3 * time.Second
)

// Lookup is the slice of the repository the pipeline needs for uniqueness
// checks. excludeID skips the record currently being edited.
type Lookup interface {
	FindCustomerByName(ctx context.Context, name string, excludeID string) (*domain.Customer, error)
	FindCustomerByPhone(ctx context.Context, phone string, excludeID string) (*domain.Customer, error)
}

type FieldSnapshot struct {
	State   FieldState `json:"state"`
	Message string     `json:"message,omitempty"`
}

// Snapshot is an immutable view of the whole pipeline, published on every
// transition. CanSave gates the save button: no errors, nothing in flight,
// required fields present.
type Snapshot struct {
	Fields    map[string]FieldSnapshot `json:"fields"`
	HasErrors bool                     `json:"has_errors"`
	Warning   string                   `json:"warning,omitempty"`
	CanSave   bool                     `json:"can_save"`
}

// Pending reports whether any field is still debouncing or validating.
func (s Snapshot) Pending() bool {
	for _, f := range s.Fields {
		if f.State == StatePendingDebounce || f.State == StateValidating {
			return true
		}
	}
	return false
}

type eventKind int

const (
	evInput eventKind = iota
	evDebounce
	evFlush
	evLookup
	evApply
	evSnapshot
	evValues
)

type lookupOutcome struct {
	duplicate bool
	failed    bool
}

type event struct {
	kind        eventKind
	field       string
	value       string
	gen         uint64
	outcome     lookupOutcome
	applied     map[string]FieldSnapshot
	warning     string
	snapReply   chan Snapshot
	valuesReply chan map[string]string
}

type fieldSlot struct {
	value   string
	state   FieldState
	message string
	gen     uint64
}

// Pipeline validates customer form fields with per-field debouncing. All
// state lives in a single goroutine; callers talk to it over channels, so
// there is no shared mutable error set. Superseded inputs are dropped by
// generation number: only the latest input per field can change state.
type Pipeline struct {
	lookup    Lookup
	debounce  time.Duration
	excludeID string

	events chan event
	done   chan struct{}
	once   sync.Once

	subMu sync.Mutex
	subs  []chan Snapshot
}

func New(lookup Lookup, debounce time.Duration, excludeID string) *Pipeline {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	p := &Pipeline{
		lookup:    lookup,
		debounce:  debounce,
		excludeID: excludeID,
		events:    make(chan event, 64),
		done:      make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *Pipeline) Close() {
	p.once.Do(func() { close(p.done) })
}

// Input records a keystroke-level update for a field and restarts its
// debounce window.
func (p *Pipeline) Input(field string, value string) {
	p.send(event{kind: evInput, field: field, value: value})
}

// Snapshot returns the current state of every field.
func (p *Pipeline) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	if !p.send(event{kind: evSnapshot, snapReply: reply}) {
		return Snapshot{Fields: map[string]FieldSnapshot{}}
	}
	select {
	case s := <-reply:
		return s
	case <-p.done:
		return Snapshot{Fields: map[string]FieldSnapshot{}}
	}
}

// Subscribe returns a channel that receives the latest snapshot after each
// transition. A slow receiver only ever misses intermediate snapshots, never
// the newest one.
func (p *Pipeline) Subscribe() chan Snapshot {
	ch := make(chan Snapshot, 1)
	p.subMu.Lock()
	p.subs = append(p.subs, ch)
	p.subMu.Unlock()
	return ch
}

func (p *Pipeline) Unsubscribe(ch chan Snapshot) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	for i, sub := range p.subs {
		if sub == ch {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

// Settle flushes pending debounces, waits for in-flight validation to
// finish, then runs one synchronous re-validation pass over the final
// values. The save path calls this and trusts only the returned snapshot.
func (p *Pipeline) Settle(ctx context.Context) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, DefaultSettleTimeout)
	defer cancel()

	sub := p.Subscribe()
	defer p.Unsubscribe(sub)

	p.send(event{kind: evFlush})
	snap := p.Snapshot()
	for snap.Pending() {
		select {
		case snap = <-sub:
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-p.done:
			return snap, errors.New("validation pipeline closed")
		}
	}

	values := p.values()
	applied := make(map[string]FieldSnapshot, len(values))
	warning := snap.Warning
	dbChecks := warning == ""
	for _, field := range []string{FieldName, FieldPhone, FieldAddress} {
		value := values[field]
		if msg, ok := structuralCheck(field, value); !ok {
			applied[field] = FieldSnapshot{State: StateInvalid, Message: msg}
			continue
		}
		if dbChecks && (field == FieldName || field == FieldPhone) {
			outcome := p.runLookup(ctx, field, value)
			if outcome.failed {
				dbChecks = false
				warning = "duplicate checks unavailable, saved on structural checks only"
			} else if outcome.duplicate {
				applied[field] = FieldSnapshot{State: StateInvalid, Message: duplicateMessage(field)}
				continue
			}
		}
		applied[field] = FieldSnapshot{State: StateValid}
	}

	p.send(event{kind: evApply, applied: applied, warning: warning})
	return p.Snapshot(), nil
}

func (p *Pipeline) send(ev event) bool {
	select {
	case p.events <- ev:
		return true
	case <-p.done:
		return false
	}
}

func (p *Pipeline) values() map[string]string {
	reply := make(chan map[string]string, 1)
	if !p.send(event{kind: evValues, valuesReply: reply}) {
		return map[string]string{}
	}
	select {
	case v := <-reply:
		return v
	case <-p.done:
		return map[string]string{}
	}
}

func (p *Pipeline) run() {
	fields := map[string]*fieldSlot{
		FieldName:    {state: StateIdle},
		FieldPhone:   {state: StateIdle},
		FieldAddress: {state: StateIdle},
	}
	dbChecksOff := false
	warning := ""

	snapshotOf := func() Snapshot {
		snap := Snapshot{Fields: make(map[string]FieldSnapshot, len(fields)), Warning: warning}
		pending := false
		for name, slot := range fields {
			snap.Fields[name] = FieldSnapshot{State: slot.state, Message: slot.message}
			switch slot.state {
			case StateInvalid:
				snap.HasErrors = true
			case StatePendingDebounce, StateValidating:
				pending = true
			}
		}
		snap.CanSave = !snap.HasErrors && !pending &&
			fields[FieldName].value != "" && fields[FieldPhone].value != ""
		return snap
	}

	publish := func() {
		snap := snapshotOf()
		p.subMu.Lock()
		for _, ch := range p.subs {
			select {
			case ch <- snap:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- snap:
				default:
				}
			}
		}
		p.subMu.Unlock()
	}

	startValidation := func(field string, slot *fieldSlot) {
		if msg, ok := structuralCheck(field, slot.value); !ok {
			slot.state = StateInvalid
			slot.message = msg
			return
		}
		if dbChecksOff || (field != FieldName && field != FieldPhone) {
			slot.state = StateValid
			slot.message = ""
			return
		}
		slot.state = StateValidating
		slot.message = ""
		gen := slot.gen
		value := slot.value
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
			defer cancel()
			outcome := p.runLookup(ctx, field, value)
			p.send(event{kind: evLookup, field: field, gen: gen, outcome: outcome})
		}()
	}

	for {
		select {
		case <-p.done:
			return
		case ev := <-p.events:
			switch ev.kind {
			case evInput:
				slot, ok := fields[ev.field]
				if !ok {
					continue
				}
				slot.value = ev.value
				slot.gen++
				slot.state = StatePendingDebounce
				slot.message = ""
				gen := slot.gen
				field := ev.field
				time.AfterFunc(p.debounce, func() {
					p.send(event{kind: evDebounce, field: field, gen: gen})
				})
				publish()

			case evDebounce:
				slot := fields[ev.field]
				if slot == nil || slot.gen != ev.gen || slot.state != StatePendingDebounce {
					continue
				}
				startValidation(ev.field, slot)
				publish()

			case evFlush:
				for field, slot := range fields {
					if slot.state == StatePendingDebounce {
						startValidation(field, slot)
					}
				}
				publish()

			case evLookup:
				slot := fields[ev.field]
				if slot == nil || slot.gen != ev.gen || slot.state != StateValidating {
					continue
				}
				switch {
				case ev.outcome.failed:
					dbChecksOff = true
					warning = "duplicate checks unavailable, saved on structural checks only"
					slot.state = StateValid
					slot.message = ""
				case ev.outcome.duplicate:
					slot.state = StateInvalid
					slot.message = duplicateMessage(ev.field)
				default:
					slot.state = StateValid
					slot.message = ""
				}
				publish()

			case evApply:
				for field, fs := range ev.applied {
					slot := fields[field]
					if slot == nil {
						continue
					}
					slot.state = fs.State
					slot.message = fs.Message
				}
				if ev.warning != "" {
					warning = ev.warning
					dbChecksOff = true
				}
				publish()

			case evSnapshot:
				ev.snapReply <- snapshotOf()

			case evValues:
				values := make(map[string]string, len(fields))
				for name, slot := range fields {
					values[name] = slot.value
				}
				ev.valuesReply <- values
			}
		}
	}
}

func (p *Pipeline) runLookup(ctx context.Context, field string, value string) lookupOutcome {
	var (
		found *domain.Customer
		err   error
	)
	switch field {
	case FieldName:
		found, err = p.lookup.FindCustomerByName(ctx, strings.TrimSpace(value), p.excludeID)
	case FieldPhone:
		found, err = p.lookup.FindCustomerByPhone(ctx, NormalizePhone(value), p.excludeID)
	default:
		return lookupOutcome{}
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return lookupOutcome{}
		}
		return lookupOutcome{failed: true}
	}
	return lookupOutcome{duplicate: found != nil}
}

func duplicateMessage(field string) string {
	if field == FieldPhone {
		return "another customer already uses this phone number"
	}
	return "another customer already uses this name"
}

// structuralCheck runs the cheap local rules for one field. A failure here
// short-circuits without touching the store.
func structuralCheck(field string, value string) (string, bool) {
	switch field {
	case FieldName:
		name := strings.TrimSpace(value)
		if name == "" {
			return "name is required", false
		}
		if len(name) < 2 {
			return "name is too short", false
		}
		if len(name) > 100 {
			return "name is too long", false
		}
	case FieldPhone:
		if strings.TrimSpace(value) == "" {
			return "phone is required", false
		}
		digits := NormalizePhone(value)
		if digits == "" {
			return "phone may only contain digits", false
		}
		if len(digits) < 7 || len(digits) > 15 {
			return "phone must have 7 to 15 digits", false
		}
	case FieldAddress:
		if len(value) > 200 {
			return "address is too long", false
		}
	}
	return "", true
}

// NormalizePhone strips formatting (spaces, dashes, parentheses, one
// leading +) and returns the bare digits, or "" if anything else remains.
func NormalizePhone(value string) string {
	s := strings.TrimSpace(value)
	s = strings.TrimPrefix(s, "+")
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
		default:
			return ""
		}
	}
	return b.String()
}
