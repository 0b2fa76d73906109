// Package qerror defines the error taxonomy shared by Query, InfiniteQuery
// and Mutation: a small, closed set of kinds plus a classification
// heuristic for turning an arbitrary error into one of them.
package qerror

import (
	"errors"
	"fmt"
	"strings"
)

// Kind categorizes a QueryError for UI branching and metrics labeling.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindParsing       Kind = "parsing"
	KindServer        Kind = "server"
	KindConfiguration Kind = "configuration"
	KindUnknown       Kind = "unknown"
)

// QueryError is the error type surfaced on every Query/InfiniteQuery/
// Mutation error signal.
type QueryError struct {
	Message string
	Kind    Kind
	Cause   error
	Trace   string
}

func (e *QueryError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Cause.Error())
	}
	return e.Message
}

func (e *QueryError) Unwrap() error { return e.Cause }

// New constructs a QueryError of the given kind.
func New(kind Kind, message string, cause error) *QueryError {
	return &QueryError{Kind: kind, Message: message, Cause: cause}
}

// Timeout builds a {timeout} QueryError, the specialization raised when a
// Query's requestTimeout elapses before fetchFn returns.
func Timeout(message string) *QueryError {
	return New(KindTimeout, message, nil)
}

// Configuration builds a {configuration} QueryError: a programmer error,
// e.g. calling an optimistic list operation against a query that isn't in
// granular mode.
func Configuration(message string) *QueryError {
	return New(KindConfiguration, message, nil)
}

// Classify turns an arbitrary error into a QueryError. A *QueryError
// passes through unchanged. Otherwise the error text is matched against a
// small set of substrings (spec-mandated heuristic, not a general-purpose
// classifier, so it stays hand-rolled rather than reaching for a library):
// {timeout, TimeoutException, deadline exceeded} => timeout, {network,
// socket, connection} => network, everything else => unknown.
func Classify(err error) *QueryError {
	if err == nil {
		return nil
	}

	var qe *QueryError
	if errors.As(err, &qe) {
		return qe
	}

	text := strings.ToLower(err.Error())
	switch {
	case strings.Contains(text, "timeout"), strings.Contains(text, "timeoutexception"),
		strings.Contains(text, "deadline exceeded"):
		return New(KindTimeout, err.Error(), err)
	case strings.Contains(text, "network"), strings.Contains(text, "socket"),
		strings.Contains(text, "connection"):
		return New(KindNetwork, err.Error(), err)
	default:
		return New(KindUnknown, err.Error(), err)
	}
}

// Parsing builds a {parsing} QueryError, raised when a raw fetch payload
// cannot be transformed or type-cast into the query's data type.
func Parsing(message string, cause error) *QueryError {
	return New(KindParsing, message, cause)
}
