package outcome

import "net/http"

const (
	// StatusSuccess is the status code reported by Success.
	StatusSuccess = http.StatusOK
	// StatusMultiStatus is the status code reported by MultiStatus.
	StatusMultiStatus = http.StatusMultiStatus
)

// Outcome is the common view over success and failure values.
type Outcome interface {
	StatusCode() int
	Message() string
	IsSuccess() bool
}

// Success is a plain successful outcome.
type Success struct {
	message string
}

// OK returns a successful outcome with the given message.
func OK(message string) *Success {
	return &Success{message: message}
}

// StatusCode returns 200.
func (s *Success) StatusCode() int { return StatusSuccess }

// Message returns the human-readable message.
func (s *Success) Message() string { return s.message }

// IsSuccess always reports true.
func (s *Success) IsSuccess() bool { return true }

// MultiStatus aggregates the outcomes of several sub-executions.
//
// Unlike the other success-like values it only reports success when every
// nested outcome does.
type MultiStatus struct {
	message string
	results []Outcome
}

// NewMultiStatus returns a multi-status outcome holding a copy of results.
func NewMultiStatus(message string, results ...Outcome) *MultiStatus {
	owned := make([]Outcome, 0, len(results))
	for _, r := range results {
		if r != nil {
			owned = append(owned, r)
		}
	}
	return &MultiStatus{message: message, results: owned}
}

// StatusCode returns 207.
func (m *MultiStatus) StatusCode() int { return StatusMultiStatus }

// Message returns the human-readable message.
func (m *MultiStatus) Message() string { return m.message }

// Results returns a copy of the nested outcomes in insertion order.
func (m *MultiStatus) Results() []Outcome {
	out := make([]Outcome, len(m.results))
	copy(out, m.results)
	return out
}

// IsSuccess reports whether every nested outcome is successful. An empty
// multi-status is successful.
func (m *MultiStatus) IsSuccess() bool {
	for _, r := range m.results {
		if !r.IsSuccess() {
			return false
		}
	}
	return true
}

// From translates a handler result pair into an Outcome.
//
// A non-nil err wins: failures are returned as-is and any other error becomes
// an internal error wrapping it. Otherwise a result that already is an
// Outcome is returned unchanged and anything else counts as plain success.
func From(result any, err error) Outcome {
	if err != nil {
		return AsFailure(err)
	}
	if o, ok := result.(Outcome); ok && o != nil {
		return o
	}
	return OK("")
}
