package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/leadflow/store"
)

// SentMessage is one recorded Fake delivery.
type SentMessage struct {
	LeadID  string
	Email   string
	Content Content
}

// Fake is a recording adapter for tests. It captures every send and
// can be scripted to fail.
type Fake struct {
	mu    sync.Mutex
	sent  []SentMessage
	errs  []error
	calls int
}

// NewFake creates a Fake that succeeds on every send.
func NewFake() *Fake {
	return &Fake{}
}

// FailWith queues errors returned by successive Send calls before the
// fake goes back to succeeding.
func (f *Fake) FailWith(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, errs...)
}

// Send records the message, consuming a scripted error if one is
// queued.
func (f *Fake) Send(ctx context.Context, lead *store.Lead, content Content) (Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return Result{}, err
	}

	f.sent = append(f.sent, SentMessage{
		LeadID:  lead.ID.String(),
		Email:   lead.Email,
		Content: content,
	})
	return Result{ExternalRef: fmt.Sprintf("fake-%d", f.calls)}, nil
}

// Sent returns a copy of all recorded deliveries.
func (f *Fake) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]SentMessage, len(f.sent))
	copy(out, f.sent)
	return out
}

// Calls returns how many times Send was invoked, failures included.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
