package staking

import "context"

// SessionOption configures a Session instance.
type SessionOption func(*Session)

// OperationLogger records domain-level events emitted by session operations.
type OperationLogger interface {
	LogOperation(ctx context.Context, entry OperationLog)
}

// OperationLog describes a session operation or fetch outcome.
type OperationLog struct {
	Operation string
	Identity  Identity
	Source    FetchSource
	PoolIndex int
	Cycle     uint64
	Status    string
	Error     error
}

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger OperationLogger) SessionOption {
	return func(session *Session) {
		session.logger = logger
	}
}
