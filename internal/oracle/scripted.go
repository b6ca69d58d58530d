package oracle

import (
	"context"
	"fmt"
	"sync"
)

// Scripted is a deterministic Client for tests: it replays a fixed sequence
// of responses and records every request it saw.
type Scripted struct {
	mu        sync.Mutex
	responses []Response
	errs      []error
	calls     []Request
}

// NewScripted builds a double that returns the given responses in order.
func NewScripted(responses ...Response) *Scripted {
	return &Scripted{responses: responses}
}

// FailWith queues an error before the remaining scripted responses.
func (s *Scripted) FailWith(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
	return s
}

// Repair pops the next scripted outcome.
func (s *Scripted) Repair(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)

	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return Response{}, err
	}
	if len(s.responses) == 0 {
		return Response{}, fmt.Errorf("scripted oracle exhausted after %d calls", len(s.calls))
	}
	resp := s.responses[0]
	s.responses = s.responses[1:]
	return resp, nil
}

// Calls returns a copy of the recorded requests.
func (s *Scripted) Calls() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns how many times Repair ran.
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}
