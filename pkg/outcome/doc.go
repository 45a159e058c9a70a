// Package outcome defines the result values exchanged between handlers and the
// driver that runs a handler queue.
//
// Two families exist. Success-like values ([Success], [MultiStatus]) are
// returned as ordinary handler results. Failure values ([Failure]) implement
// error and travel up the chain by early return; every intermediate handler
// sees them unless it intercepts them explicitly.
//
// Status codes are fixed per kind and form the contract with whatever
// translates outcomes into a transport response:
//
//	200 Success            207 MultiStatus
//	400 BadRequest         404 NotFound / NoMoreHandlers
//	4xx ClientError        500 InternalError
//	503 Unavailable
package outcome
