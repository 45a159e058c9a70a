// Package intercept decorates pipeline handlers with interceptors.
//
// A handler declares markers, either by implementing Declared or by being
// wrapped with Static. Each marker name is registered against a Factory that
// builds the interceptor for it. Wrap builds the nested interceptor chain for
// a handler once, at registration time, so configuration errors surface
// before any request is served.
//
// Interceptors run outer to inner in declaration order. When the registry
// has an explicit order list, they run outer to inner in that order instead,
// and every marker a handler declares must appear in it.
package intercept
