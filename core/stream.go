package core

import (
	"context"
	"errors"
	"sync"
)

// ErrStreamClosed is reported by Err when the consumer closed the stream
// before it reached its end.
var ErrStreamClosed = errors.New("stream closed")

// FragmentStream is a pull-based, finite, non-restartable sequence of
// fragments. Work happens inside Next, so an unconsumed stream performs no
// remote calls beyond those made to open it.
//
//	for stream.Next() {
//		f := stream.Current()
//	}
//	if err := stream.Err(); err != nil { ... }
type FragmentStream interface {
	// Next advances to the next fragment and reports whether one is available.
	Next() bool
	// Current returns the fragment Next advanced to.
	Current() Fragment
	// Err returns the error that ended the stream, if any.
	Err() error
	// Close releases the stream. It is safe to call more than once.
	Close() error
}

// StepFunc produces the next fragment of a stream. Returning ok == false ends
// the stream without error.
type StepFunc func(ctx context.Context) (frag Fragment, ok bool, err error)

type stepStream struct {
	ctx     context.Context
	cancel  context.CancelFunc
	step    StepFunc
	onClose func() error

	cur   Fragment
	err   error
	done  bool
	final bool

	closeOnce sync.Once
	closeErr  error
}

// NewStream builds a FragmentStream driven by step. The stream ends after a
// fragment with Final set, when step reports !ok, or on the first error.
// onClose (optional) runs exactly once, either when the stream ends or when
// Close is called.
func NewStream(ctx context.Context, step StepFunc, onClose func() error) FragmentStream {
	ctx, cancel := context.WithCancel(ctx)
	return &stepStream{ctx: ctx, cancel: cancel, step: step, onClose: onClose}
}

func (s *stepStream) Next() bool {
	if s.done {
		return false
	}
	if err := s.ctx.Err(); err != nil {
		s.finish(err)
		return false
	}

	frag, ok, err := s.step(s.ctx)
	if err != nil {
		s.finish(err)
		return false
	}
	if !ok {
		s.finish(nil)
		return false
	}

	s.cur = frag
	if frag.Final {
		s.final = true
		// Deliver the final fragment, end on the following call.
		s.step = func(context.Context) (Fragment, bool, error) { return Fragment{}, false, nil }
	}
	return true
}

func (s *stepStream) Current() Fragment { return s.cur }

func (s *stepStream) Err() error { return s.err }

func (s *stepStream) Close() error {
	if !s.done {
		s.done = true
		if s.err == nil && !s.final {
			s.err = ErrStreamClosed
		}
	}
	s.release()
	return s.closeErr
}

func (s *stepStream) finish(err error) {
	s.done = true
	s.err = err
	s.release()
}

func (s *stepStream) release() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.onClose != nil {
			s.closeErr = s.onClose()
		}
	})
}

// Collect drains stream and returns every fragment. The stream is closed on return.
func Collect(stream FragmentStream) ([]Fragment, error) {
	defer stream.Close()

	var frags []Fragment
	for stream.Next() {
		frags = append(frags, stream.Current())
	}

	return frags, stream.Err()
}
