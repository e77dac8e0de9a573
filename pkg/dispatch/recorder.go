package dispatch

import (
	"context"
	"sync"

	"github.com/openfroyo/launchpad/pkg/launch"
)

// Recorder keeps every descriptor it receives in memory. It backs dry runs
// and tests.
type Recorder struct {
	mu          sync.Mutex
	descriptors []*launch.Descriptor
	err         error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Name returns "recorder".
func (r *Recorder) Name() string { return "recorder" }

// FailWith makes every later Dispatch record the descriptor and return err.
// A nil err restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Dispatch records d.
func (r *Recorder) Dispatch(ctx context.Context, d *launch.Descriptor) error {
	if err := requireDescriptor(d); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return contextError(d.Identifier, "record", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = append(r.descriptors, d)
	return r.err
}

// Descriptors returns the recorded descriptors in arrival order.
func (r *Recorder) Descriptors() []*launch.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*launch.Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Len returns the number of recorded descriptors.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.descriptors)
}

// Last returns the most recent descriptor, or nil.
func (r *Recorder) Last() *launch.Descriptor {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.descriptors) == 0 {
		return nil
	}
	return r.descriptors[len(r.descriptors)-1]
}

// Reset forgets every recorded descriptor.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.descriptors = nil
}
