package ble

import (
	"errors"
	"reflect"
	"sync"
	"testing"
)

// recordingPage captures replies and events synchronously.
type recordingPage struct {
	id string

	mu      sync.Mutex
	replies []Reply
	events  []pageEvent
}

type pageEvent struct {
	Event   string
	Payload any
}

func (p *recordingPage) ID() string { return p.id }

func (p *recordingPage) Reply(r Reply) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replies = append(p.replies, r)
	return nil
}

func (p *recordingPage) Emit(event string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, pageEvent{Event: event, Payload: payload})
	return nil
}

func (p *recordingPage) Replies() []Reply {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Reply(nil), p.replies...)
}

func mustKey(t *testing.T, raw string) Key {
	t.Helper()
	k, err := ParseKey(raw)
	if err != nil {
		t.Fatalf("ParseKey(%q) error = %v", raw, err)
	}
	return k
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		raw      string
		wantPath []string
		wantID   string
		wantErr  bool
	}{
		{"requestDevice#1", []string{"requestDevice"}, "1", false},
		{"device.connectGATT#42", []string{"device", "connectGATT"}, "42", false},
		{"#7", []string{""}, "7", false},
		{"a..b#x", []string{"a", "", "b"}, "x", false},
		{"getDevices", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			k, err := ParseKey(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidKey) {
					t.Fatalf("ParseKey() error = %v, want ErrInvalidKey", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey() error = %v", err)
			}
			if !reflect.DeepEqual(k.Path, tt.wantPath) {
				t.Errorf("Path = %q, want %q", k.Path, tt.wantPath)
			}
			if k.CorrelationID != tt.wantID {
				t.Errorf("CorrelationID = %q, want %q", k.CorrelationID, tt.wantID)
			}
			if k.String() != tt.raw {
				t.Errorf("String() = %q, want %q", k.String(), tt.raw)
			}
		})
	}
}

func TestTransaction_ResolveOnce(t *testing.T) {
	page := &recordingPage{id: "page-1"}
	txn := NewTransaction(mustKey(t, "getDevices#1"), nil, page)

	calls := 0
	txn.AddCompletionHandler(func(Outcome) { calls++ })

	if err := txn.ResolveAsSuccess("first"); err != nil {
		t.Fatalf("ResolveAsSuccess() error = %v", err)
	}
	if err := txn.ResolveAsFailure("second"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("second resolve error = %v, want ErrAlreadyResolved", err)
	}
	if err := txn.ResolveAsSuccess("third"); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("third resolve error = %v, want ErrAlreadyResolved", err)
	}

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	replies := page.Replies()
	if len(replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(replies))
	}
	if !replies[0].OK || replies[0].Value != "first" || replies[0].Key != "getDevices#1" {
		t.Errorf("reply = %+v", replies[0])
	}

	o, done := txn.Outcome()
	if !done || !o.Success || o.Value != "first" {
		t.Errorf("Outcome() = %+v, %v", o, done)
	}
}

func TestTransaction_HandlersRunInOrder(t *testing.T) {
	page := &recordingPage{id: "page-1"}
	txn := NewTransaction(mustKey(t, "requestDevice#1"), nil, page)

	var order []int
	repliesAtFirstHandler := -1
	txn.AddCompletionHandler(func(Outcome) {
		order = append(order, 1)
		repliesAtFirstHandler = len(page.Replies())
	})
	txn.AddCompletionHandler(func(Outcome) { order = append(order, 2) })
	txn.AddCompletionHandler(func(o Outcome) {
		order = append(order, 3)
		if o.Reason != "nope" {
			t.Errorf("handler reason = %q, want nope", o.Reason)
		}
	})

	if err := txn.ResolveAsFailure("nope"); err != nil {
		t.Fatalf("ResolveAsFailure() error = %v", err)
	}

	if !reflect.DeepEqual(order, []int{1, 2, 3}) {
		t.Errorf("handler order = %v, want [1 2 3]", order)
	}
	if repliesAtFirstHandler != 1 {
		t.Errorf("reply delivered before handlers: got %d replies at first handler", repliesAtFirstHandler)
	}
}

func TestTransaction_LateHandlerIgnored(t *testing.T) {
	txn := NewTransaction(mustKey(t, "getDevices#1"), nil, nil)
	if err := txn.ResolveAsSuccess(nil); err != nil {
		t.Fatalf("ResolveAsSuccess() error = %v", err)
	}

	called := false
	txn.AddCompletionHandler(func(Outcome) { called = true })
	if called {
		t.Error("late handler was invoked")
	}
}

func TestTransaction_AbandonIdempotent(t *testing.T) {
	page := &recordingPage{id: "page-1"}
	txn := NewTransaction(mustKey(t, "requestDevice#1"), nil, page)

	calls := 0
	txn.AddCompletionHandler(func(o Outcome) {
		calls++
		if o.Success || o.Reason != ReasonSuperseded {
			t.Errorf("outcome = %+v, want superseded failure", o)
		}
	})

	txn.Abandon()
	txn.Abandon()

	if calls != 1 {
		t.Errorf("handler calls = %d, want 1", calls)
	}
	replies := page.Replies()
	if len(replies) != 1 || replies[0].OK || replies[0].Error != ReasonSuperseded {
		t.Errorf("replies = %+v", replies)
	}
}

func TestTransaction_AbandonAfterResolveIsNoop(t *testing.T) {
	page := &recordingPage{id: "page-1"}
	txn := NewTransaction(mustKey(t, "requestDevice#1"), nil, page)

	if err := txn.ResolveAsSuccess("ok"); err != nil {
		t.Fatalf("ResolveAsSuccess() error = %v", err)
	}
	txn.Abandon()

	o, _ := txn.Outcome()
	if !o.Success {
		t.Errorf("Outcome() = %+v, want success kept", o)
	}
	if n := len(page.Replies()); n != 1 {
		t.Errorf("replies = %d, want 1", n)
	}
}

func TestTransaction_ResolveManyNil(t *testing.T) {
	page := &recordingPage{id: "page-1"}
	txn := NewTransaction(mustKey(t, "getDevices#1"), nil, page)

	if err := txn.ResolveAsSuccessMany(nil); err != nil {
		t.Fatalf("ResolveAsSuccessMany() error = %v", err)
	}
	values, ok := page.Replies()[0].Value.([]any)
	if !ok || values == nil || len(values) != 0 {
		t.Errorf("Value = %#v, want empty list", page.Replies()[0].Value)
	}
}

func TestTransaction_ConcurrentResolve(t *testing.T) {
	txn := NewTransaction(mustKey(t, "getDevices#1"), nil, nil)

	var mu sync.Mutex
	calls := 0
	txn.AddCompletionHandler(func(Outcome) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	var wins int
	var winsMu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := txn.ResolveAsFailure("x"); err == nil {
				winsMu.Lock()
				wins++
				winsMu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 || calls != 1 {
		t.Errorf("wins = %d, handler calls = %d, want 1 and 1", wins, calls)
	}
}
