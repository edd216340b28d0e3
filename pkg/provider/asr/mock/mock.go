// Package mock provides a test double for the asr.Recognizer interface.
//
// Results are served from a queue: each Recognize call pops the next entry
// of Results, and the final entry repeats once the queue is exhausted.
//
// Example:
//
//	r := &mock.Recognizer{Results: []asr.Result{{Text: "hello", Confidence: 1}}}
//	got, _ := r.Recognize(ctx, pcm, 8000)
package mock

import (
	"context"
	"sync"

	"github.com/telvox/telvox/pkg/provider/asr"
)

// RecognizeCall records a single invocation of Recognize.
type RecognizeCall struct {
	// PCM is a copy of the audio passed to Recognize.
	PCM []byte
	// SampleRate is the rate passed to Recognize.
	SampleRate int
}

// Recognizer is a mock implementation of asr.Recognizer.
type Recognizer struct {
	mu sync.Mutex

	// Results is the queue of results returned by successive Recognize
	// calls. When exhausted, the last entry repeats. An empty queue yields
	// the zero Result.
	Results []asr.Result

	// Err, if non-nil, is returned by every Recognize call.
	Err error

	// Delay, if set, is how long Recognize sleeps before returning, for
	// latency-sensitive tests. Context cancellation cuts the sleep short.
	Delay func() <-chan struct{}

	// RecognizeCalls records every call to Recognize in order.
	RecognizeCalls []RecognizeCall

	// CloseCalls counts Close invocations.
	CloseCalls int

	next int
}

// Recognize records the call and returns the next queued result.
func (r *Recognizer) Recognize(ctx context.Context, pcm []byte, sampleRate int) (asr.Result, error) {
	if r.Delay != nil {
		select {
		case <-r.Delay():
		case <-ctx.Done():
			return asr.Result{}, ctx.Err()
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	pcmCopy := make([]byte, len(pcm))
	copy(pcmCopy, pcm)
	r.RecognizeCalls = append(r.RecognizeCalls, RecognizeCall{PCM: pcmCopy, SampleRate: sampleRate})

	if r.Err != nil {
		return asr.Result{}, r.Err
	}
	if len(r.Results) == 0 {
		return asr.Result{}, nil
	}
	res := r.Results[r.next]
	if r.next < len(r.Results)-1 {
		r.next++
	}
	return res, nil
}

// Close counts the invocation and returns nil.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCalls++
	return nil
}

// Compile-time assertion that Recognizer satisfies asr.Recognizer.
var _ asr.Recognizer = (*Recognizer)(nil)
