package llm

import (
	"context"
	"sync"
)

// GenerateFunc scripts a StubClient response.
type GenerateFunc func(ctx context.Context, req Request) (Response, error)

// StubClient is a deterministic in-process Client for tests and dry runs.
// Each call is recorded; the scripted function decides the response.
type StubClient struct {
	mu    sync.Mutex
	fn    GenerateFunc
	calls []Request
}

// NewStubClient creates a stub. With a nil function it echoes the prompt.
func NewStubClient(fn GenerateFunc) *StubClient {
	return &StubClient{fn: fn}
}

// Generate records the request and runs the scripted function.
func (s *StubClient) Generate(ctx context.Context, req Request) (Response, error) {
	s.mu.Lock()
	s.calls = append(s.calls, req)
	fn := s.fn
	s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Response{}, &Error{Provider: "stub", Err: err}
	}
	if fn == nil {
		return Response{Text: req.Prompt}, nil
	}
	return fn(ctx, req)
}

// Close is a no-op.
func (s *StubClient) Close() error { return nil }

// Calls returns a copy of all recorded requests.
func (s *StubClient) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.calls...)
}

// CallCount returns the number of Generate calls so far.
func (s *StubClient) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
