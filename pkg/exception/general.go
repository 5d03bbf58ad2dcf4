package exception

import "errors"

// General errors
var (
	ErrNilInstance      = errors.New("nil instance")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInternal         = errors.New("internal error")
	ErrBreakerDuplicate = errors.New("breaker already registered")
)
