// Package channel defines the outbound delivery contract. Concrete
// email, voice, and social adapters live outside this repo; the engine
// depends only on the Adapter interface and the error classification
// here.
package channel

import (
	"context"
	"errors"

	"github.com/BaSui01/leadflow/store"
	"github.com/BaSui01/leadflow/types"
)

// Content is the payload handed to an adapter. Subject doubles as the
// call objective for voice and the connection note for social sends.
type Content struct {
	Subject string
	Body    string
}

// Result describes a successful delivery.
type Result struct {
	// ExternalRef is the provider-side identifier (message ID, call
	// SID) recorded on the activity log entry.
	ExternalRef string
	// Metadata is an optional JSON payload merged into the activity.
	Metadata string
}

// Adapter sends one message to one lead on one channel.
type Adapter interface {
	Send(ctx context.Context, lead *store.Lead, content Content) (Result, error)
}

// Transient wraps a provider failure worth retrying with backoff.
func Transient(err error) error {
	return types.NewError(types.ErrTransientSend, "transient send failure").
		WithCause(err).WithRetryable(true)
}

// Permanent wraps a provider rejection that must never be retried. The
// engine disables the channel or marks the lead do_not_contact.
func Permanent(err error) error {
	return types.NewError(types.ErrPermanentReject, "permanent send rejection").
		WithCause(err).WithRetryable(false)
}

// IsTransient reports whether the send may be retried.
func IsTransient(err error) bool {
	return types.GetErrorCode(err) == types.ErrTransientSend
}

// IsPermanent reports whether the send failed terminally for this
// lead and channel.
func IsPermanent(err error) bool {
	return types.GetErrorCode(err) == types.ErrPermanentReject
}

// ErrNoAdapter is returned when no adapter is registered for a channel.
var ErrNoAdapter = errors.New("no adapter registered for channel")

// Registry maps channels to their adapters.
type Registry struct {
	adapters map[types.Channel]Adapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[types.Channel]Adapter)}
}

// Register installs an adapter for a channel, replacing any previous
// one.
func (r *Registry) Register(ch types.Channel, a Adapter) {
	r.adapters[ch] = a
}

// Get returns the adapter for a channel.
func (r *Registry) Get(ch types.Channel) (Adapter, error) {
	a, ok := r.adapters[ch]
	if !ok {
		return nil, ErrNoAdapter
	}
	return a, nil
}
