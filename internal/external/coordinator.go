// Package external coordinates signatures that are produced outside the
// daemon (QR offline signers, hardware wallets).
//
// A pipeline prepares a request, publishes the unsigned payload and blocks in
// Wait until the UI resolves or rejects it. Each request is a single-assignment
// future: the first resolve/reject wins and later calls are ignored.
package external

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/klingon-exchange/walletd/internal/state"
	"github.com/klingon-exchange/walletd/pkg/logging"
)

// Status is the lifecycle state of an external request.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusResolved  Status = "RESOLVED" // reserved for signers that acknowledge before completing
	StatusRejected  Status = "REJECTED"  // terminal
	StatusCompleted Status = "COMPLETED" // terminal
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusRejected || s == StatusCompleted
}

// Kind is the external signer family.
type Kind string

const (
	KindQR     Kind = "QR"
	KindLedger Kind = "LEDGER"
)

var (
	// ErrUserCancelled is delivered to the waiter when the request is rejected
	// without an error. It is a cancel, not a failure.
	ErrUserCancelled = errors.New("external request cancelled by user")
	// ErrRequestNotFound is returned by Wait for an id that was never set.
	ErrRequestNotFound = errors.New("external request not found")
)

// SignerError is delivered to the waiter when the request is rejected with a message.
type SignerError struct {
	Message string
}

func (e *SignerError) Error() string {
	return e.Message
}

// Resolution is the payload supplied by the external signer.
type Resolution struct {
	Signature string `json:"signature"`
}

// Request is the full record stored by SetState.
type Request struct {
	Kind       Kind
	Address    string
	NetworkKey string
	Payload    string
	Message    string
}

// Update is a partial change merged by UpdateState. It intentionally has no
// way to reach the waiter or change the status.
type Update struct {
	Message *string
	Payload *string
}

type record struct {
	view   state.ExternalRequestView
	done   chan struct{}
	result Resolution
	err    error
}

// Coordinator owns the pending external request map.
type Coordinator struct {
	mu      sync.Mutex
	entries map[string]*record

	confirmations *state.Subject[state.Confirmations]
	log           *logging.Logger

	// OnChange, when set, receives the number of PENDING requests after each
	// transition. Called with the coordinator lock held.
	OnChange func(pending int)
}

// NewCoordinator creates a coordinator. confirmations may be nil; when set,
// every change of the map is published to it without the resolve/reject targets.
//
// Publishing happens with the coordinator lock held, so confirmations
// subscribers and OnChange must not call back into the coordinator
// synchronously. Port subscribers only queue a frame, which is safe.
func NewCoordinator(confirmations *state.Subject[state.Confirmations]) *Coordinator {
	return &Coordinator{
		entries:       make(map[string]*record),
		confirmations: confirmations,
		log:           logging.GetDefault().Component("external"),
	}
}

// Handle is returned by Prepare and scopes state changes to one request.
type Handle struct {
	ID string
	c  *Coordinator
}

// Prepare allocates a fresh id and drops finished requests from the map.
func (c *Coordinator) Prepare() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, r := range c.entries {
		if Status(r.view.Status).Terminal() {
			delete(c.entries, id)
			removed++
		}
	}
	if removed > 0 {
		c.publishLocked()
	}

	return &Handle{ID: uuid.NewString(), c: c}
}

// SetState stores the full PENDING record for the handle's id.
func (h *Handle) SetState(req Request) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if r, ok := c.entries[h.ID]; ok && Status(r.view.Status).Terminal() {
		// Too late: the request already finished.
		return
	}

	r, ok := c.entries[h.ID]
	if !ok {
		r = &record{done: make(chan struct{})}
		c.entries[h.ID] = r
	}
	r.view = state.ExternalRequestView{
		ID:         h.ID,
		Kind:       string(req.Kind),
		Status:     string(StatusPending),
		Message:    req.Message,
		Address:    req.Address,
		NetworkKey: req.NetworkKey,
		Payload:    req.Payload,
		CreatedAt:  time.Now().UnixMilli(),
	}
	c.publishLocked()
}

// UpdateState merges a partial update into the observable record.
func (h *Handle) UpdateState(u Update) {
	c := h.c
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[h.ID]
	if !ok {
		return
	}
	if u.Message != nil {
		r.view.Message = *u.Message
	}
	if u.Payload != nil {
		r.view.Payload = *u.Payload
	}
	c.publishLocked()
}

// Wait blocks until the request is resolved or rejected, or ctx ends. When ctx
// ends first the request is rejected so a late resolve has no effect.
func (h *Handle) Wait(ctx context.Context) (Resolution, error) {
	c := h.c
	c.mu.Lock()
	r, ok := c.entries[h.ID]
	c.mu.Unlock()
	if !ok {
		return Resolution{}, ErrRequestNotFound
	}

	select {
	case <-r.done:
	case <-ctx.Done():
		c.mu.Lock()
		if r.view.Status == string(StatusPending) {
			c.finishLocked(r, StatusRejected, Resolution{}, ctx.Err())
		}
		c.mu.Unlock()
		<-r.done
	}
	return r.result, r.err
}

// Resolve completes a PENDING request with the signer's payload. It reports
// false when the id is unknown or no longer pending.
func (c *Coordinator) Resolve(id string, res Resolution) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[id]
	if !ok || r.view.Status != string(StatusPending) {
		c.log.Debug("Ignoring resolve", "id", id, "known", ok)
		return false
	}
	c.finishLocked(r, StatusCompleted, res, nil)
	return true
}

// Reject fails a PENDING request. With throwError the waiter receives a
// SignerError carrying message; otherwise it receives ErrUserCancelled.
func (c *Coordinator) Reject(id, message string, throwError bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[id]
	if !ok || r.view.Status != string(StatusPending) {
		c.log.Debug("Ignoring reject", "id", id, "known", ok)
		return false
	}

	err := ErrUserCancelled
	if throwError {
		err = &SignerError{Message: message}
	}
	c.finishLocked(r, StatusRejected, Resolution{}, err)
	return true
}

// Get returns the observable view of a request.
func (c *Coordinator) Get(id string) (state.ExternalRequestView, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.entries[id]
	if !ok {
		return state.ExternalRequestView{}, false
	}
	return r.view, true
}

// PendingCount returns the number of requests still awaiting a signer.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

// Len returns the number of tracked requests, finished ones included.
func (c *Coordinator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Coordinator) finishLocked(r *record, status Status, res Resolution, err error) {
	r.view.Status = string(status)
	r.result = res
	r.err = err
	close(r.done)
	c.log.Debug("External request finished", "id", r.view.ID, "status", status)
	c.publishLocked()
}

func (c *Coordinator) pendingLocked() int {
	n := 0
	for _, r := range c.entries {
		if r.view.Status == string(StatusPending) {
			n++
		}
	}
	return n
}

func (c *Coordinator) publishLocked() {
	if c.OnChange != nil {
		c.OnChange(c.pendingLocked())
	}
	if c.confirmations == nil {
		return
	}
	snapshot := make(state.Confirmations, len(c.entries))
	for id, r := range c.entries {
		snapshot[id] = r.view
	}
	c.confirmations.Set(snapshot)
}
