package ble

import (
	"fmt"
	"strings"
	"sync"
)

// Key identifies a request: a dotted type path plus the page's correlation id.
//
// Example: "device.connectGATT#42" has Path ["device", "connectGATT"] and
// CorrelationID "42".
type Key struct {
	Path          []string
	CorrelationID string
}

// ParseKey parses "<dotted.type.path>#<correlationId>". Empty path components
// are kept; the router rejects them.
func ParseKey(raw string) (Key, error) {
	path, id, ok := strings.Cut(raw, "#")
	if !ok {
		return Key{}, fmt.Errorf("%w: %q", ErrInvalidKey, raw)
	}
	return Key{
		Path:          strings.Split(path, "."),
		CorrelationID: id,
	}, nil
}

// String returns the key in its wire form.
func (k Key) String() string {
	return strings.Join(k.Path, ".") + "#" + k.CorrelationID
}

// Reply is the resolution delivered to the page. Value holds a single value
// or a slice when the success carries many values.
type Reply struct {
	Key   string
	OK    bool
	Value any
	Error string
}

// Page is the page context a transaction originated from.
//
// Reply and Emit are called from the engine goroutine and must not block.
type Page interface {
	// ID identifies the page for teardown and device ownership.
	ID() string

	// Reply delivers a transaction resolution.
	Reply(r Reply) error

	// Emit delivers an unsolicited event, e.g. gattserverdisconnected.
	Emit(event string, payload any) error
}

// Outcome is the result passed to completion handlers.
type Outcome struct {
	Success bool
	Value   any
	Reason  string
}

type txnState int

const (
	txnPending txnState = iota
	txnResolved
)

// Transaction is one request/response exchange with a page.
//
// A transaction resolves exactly once. Resolution delivers the reply to the
// page and then runs completion handlers in registration order.
//
// Thread Safety: resolution methods are safe for concurrent use; the engine
// resolves transactions from its own goroutine.
type Transaction struct {
	Key  Key
	Data map[string]any
	Page Page

	mu       sync.Mutex
	state    txnState
	outcome  Outcome
	handlers []func(Outcome)
}

// NewTransaction creates a pending transaction. Data may be nil.
func NewTransaction(key Key, data map[string]any, page Page) *Transaction {
	if data == nil {
		data = map[string]any{}
	}
	return &Transaction{Key: key, Data: data, Page: page}
}

// ResolveAsSuccess resolves with a single value.
func (t *Transaction) ResolveAsSuccess(value any) error {
	return t.resolve(Outcome{Success: true, Value: value})
}

// ResolveAsSuccessMany resolves with a list of values. A nil slice is
// delivered as an empty list.
func (t *Transaction) ResolveAsSuccessMany(values []any) error {
	if values == nil {
		values = []any{}
	}
	return t.resolve(Outcome{Success: true, Value: values})
}

// ResolveAsFailure resolves with a failure reason.
func (t *Transaction) ResolveAsFailure(reason string) error {
	return t.resolve(Outcome{Reason: reason})
}

// Abandon fails the transaction with ReasonSuperseded. It is a no-op when
// the transaction is already terminal.
func (t *Transaction) Abandon() {
	_ = t.resolve(Outcome{Reason: ReasonSuperseded}) //nolint:errcheck // terminal is fine
}

// AddCompletionHandler registers fn to run at resolution. Registration after
// resolution is ignored.
func (t *Transaction) AddCompletionHandler(fn func(Outcome)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != txnPending || fn == nil {
		return
	}
	t.handlers = append(t.handlers, fn)
}

// Resolved reports whether the transaction is terminal.
func (t *Transaction) Resolved() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state != txnPending
}

// Outcome returns the resolution and whether the transaction is terminal.
func (t *Transaction) Outcome() (Outcome, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome, t.state != txnPending
}

// PageID returns the originating page id, or "" without a page.
func (t *Transaction) PageID() string {
	if t.Page == nil {
		return ""
	}
	return t.Page.ID()
}

func (t *Transaction) resolve(o Outcome) error {
	t.mu.Lock()
	if t.state != txnPending {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyResolved, t.Key)
	}
	t.state = txnResolved
	t.outcome = o
	handlers := t.handlers
	t.handlers = nil
	t.mu.Unlock()

	if t.Page != nil {
		reply := Reply{Key: t.Key.String(), OK: o.Success}
		if o.Success {
			reply.Value = o.Value
		} else {
			reply.Error = o.Reason
		}
		_ = t.Page.Reply(reply) //nolint:errcheck // a closed page cannot be answered
	}

	for _, h := range handlers {
		h(o)
	}
	return nil
}
