package eventbus

import "github.com/chris-alexander-pop/eventbus/pkg/errors"

// Error codes for eventbus operations, named after spec.md §7's taxonomy.
const (
	CodeUnsupported        = "EVENTBUS_UNSUPPORTED"
	CodeQueueEmpty         = "EVENTBUS_QUEUE_EMPTY"
	CodeQueueFull          = "EVENTBUS_QUEUE_FULL"
	CodeRPCTimeout         = "EVENTBUS_RPC_TIMEOUT"
	CodeRPCError           = "EVENTBUS_RPC_ERROR"
	CodeShutdown           = "EVENTBUS_SHUTDOWN"
	CodeAlreadyInitialized = "EVENTBUS_ALREADY_INITIALIZED"
	CodeNotInitialized     = "EVENTBUS_NOT_INITIALIZED"
)

// ErrUnsupported signals an operation the active transport cannot honor
// (patterns on a transport without them, size() on one that can't answer).
func ErrUnsupported(op string) *errors.AppError {
	return errors.New(CodeUnsupported, "operation not supported by this transport: "+op, nil)
}

// ErrQueueEmpty signals a non-blocking or timed get found nothing.
func ErrQueueEmpty(queue string) *errors.AppError {
	return errors.New(CodeQueueEmpty, "queue is empty: "+queue, nil)
}

// ErrQueueFull signals a non-blocking put found no room.
func ErrQueueFull(queue string) *errors.AppError {
	return errors.New(CodeQueueFull, "queue is full: "+queue, nil)
}

// ErrRPCTimeout signals no response arrived within the deadline.
func ErrRPCTimeout(address string) *errors.AppError {
	return errors.New(CodeRPCTimeout, "rpc timed out: "+address, nil)
}

// ErrRPCError wraps the responder's own error text, surfaced to the caller.
func ErrRPCError(address, remoteErr string) *errors.AppError {
	return errors.New(CodeRPCError, "rpc failed: "+address+": "+remoteErr, nil)
}

// ErrShutdown signals a pending wait was released by lifecycle teardown.
func ErrShutdown() *errors.AppError {
	return errors.New(CodeShutdown, "bus is shutting down", nil)
}

// ErrAlreadyInitialized signals Init was called while a bus is active.
func ErrAlreadyInitialized() *errors.AppError {
	return errors.New(CodeAlreadyInitialized, "eventbus already initialized", nil)
}

// ErrNotInitialized signals a facade call before Init (or after Shutdown).
func ErrNotInitialized() *errors.AppError {
	return errors.New(CodeNotInitialized, "eventbus not initialized", nil)
}
