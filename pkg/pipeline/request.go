package pipeline

// Request is the input view consumed by path-routed entries.
type Request interface {
	RequestPath() string
	Param(name string) []string
	Params() map[string][]string
}

// BasicRequest is a minimal in-memory Request.
type BasicRequest struct {
	Path   string
	Values map[string][]string
}

// NewRequest returns a request for path with a copy of params.
func NewRequest(path string, params map[string][]string) *BasicRequest {
	values := make(map[string][]string, len(params))
	for k, v := range params {
		values[k] = append([]string(nil), v...)
	}
	return &BasicRequest{Path: path, Values: values}
}

// RequestPath returns the request path.
func (r *BasicRequest) RequestPath() string { return r.Path }

// Param returns the values of a named parameter.
func (r *BasicRequest) Param(name string) []string { return r.Values[name] }

// Params returns all parameters.
func (r *BasicRequest) Params() map[string][]string { return r.Values }

// PathOf returns the request path of v when it implements Request.
func PathOf(v any) (string, bool) {
	r, ok := v.(Request)
	if !ok {
		return "", false
	}
	return r.RequestPath(), true
}
