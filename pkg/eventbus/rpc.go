package eventbus

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/chris-alexander-pop/eventbus/pkg/concurrency"
	"github.com/chris-alexander-pop/eventbus/pkg/concurrency/distlock"
	"github.com/chris-alexander-pop/eventbus/pkg/datastructures/concurrentmap"
	"github.com/chris-alexander-pop/eventbus/pkg/eventbus/codec"
	"github.com/chris-alexander-pop/eventbus/pkg/logger"
)

// InvocationEnvelope is the wire record published on an RPC invocation
// channel (spec.md §3, §6: "__rpc__.<address>").
type InvocationEnvelope struct {
	ID           string `json:"id"`
	ReplyChannel string `json:"reply_channel"`
	Function     string `json:"function"`
	Args         []byte `json:"args"`
}

// ResponseEnvelope is the wire record published on a per-invocation reply
// channel ("__rpc_reply__.<uuid>").
type ResponseEnvelope struct {
	ID        string `json:"id"`
	Responder string `json:"responder"`
	Result    []byte `json:"result,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Response is the decoded, per-responder result of a multi-mode RPC call.
type Response[R any] struct {
	Responder string
	Result    R
	Error     string
}

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()
var errType = reflect.TypeOf((*error)(nil)).Elem()

type exposedEntry struct {
	address    string
	fn         reflect.Value
	paramTypes []reflect.Type
	hasResult  bool
	cancel     func() error

	locker  distlock.Locker
	lockTTL time.Duration
}

// ExposeOption configures a single Expose call.
type ExposeOption func(*exposedEntry)

// WithElection makes this registration a candidate in a per-invocation
// election among every process exposing the same address through locker
// (e.g. the redis transport's shared distlock.Locker): on each invocation,
// only the responder that wins a short-lived lock keyed by the invocation
// ID actually calls fn and replies; the rest silently skip it. This
// approximates single-responder semantics on transports whose pub/sub
// primitive fans out to every subscriber, without requiring a persistent
// leader election.
func WithElection(locker distlock.Locker, ttl time.Duration) ExposeOption {
	return func(e *exposedEntry) {
		e.locker = locker
		e.lockTTL = ttl
	}
}

type rpcState struct {
	bus         *Bus
	responderID string
	exposed     *concurrentmap.ShardedMap[string, *exposedEntry]
	mu          *concurrency.SmartMutex // guards the check-then-replace in Expose
}

func newRPCState(b *Bus) *rpcState {
	return &rpcState{
		bus:         b,
		responderID: uuid.New().String(),
		exposed:     concurrentmap.New[string, *exposedEntry](8),
		mu:          concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "eventbus.rpc.exposed"}),
	}
}

func (r *rpcState) shutdown() {
	r.exposed.Range(func(address string, e *exposedEntry) bool {
		_ = e.cancel()
		return true
	})
}

func invocationChannelFor(address string) string { return "__rpc__." + address }
func replyChannelFor(id string) string            { return "__rpc_reply__." + id }

// deriveAddress computes module.Class.method / module.function from a
// callable reference, the way spec.md §4.5/§9 describes — Go has no
// runtime module/class reflection for arbitrary values, so this falls
// back to runtime.FuncForPC's fully qualified function name, which already
// encodes package path, receiver type, and method name for bound methods.
func deriveAddress(fn any) (string, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return "", fmt.Errorf("eventbus: %T is not a callable", fn)
	}
	f := runtime.FuncForPC(v.Pointer())
	if f == nil {
		return "", fmt.Errorf("eventbus: could not resolve callable's address")
	}
	name := strings.TrimSuffix(f.Name(), "-fm")
	if name == "" || strings.Contains(name, ".func") {
		return "", fmt.Errorf("eventbus: cannot derive a stable address from an anonymous function; pass an explicit name")
	}
	return name, nil
}

func resolveAddress(fn any, name string) (string, error) {
	if name != "" {
		return name, nil
	}
	return deriveAddress(fn)
}

// validateExposed checks fn has the shape func(context.Context, ...) (R, error)
// or func(context.Context, ...) error, and returns its declared parameter
// types (excluding the leading context.Context) and whether it returns a value.
func validateExposed(fn any) (reflect.Value, []reflect.Type, bool, error) {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func {
		return reflect.Value{}, nil, false, fmt.Errorf("eventbus: %T is not a callable", fn)
	}
	t := v.Type()
	if t.IsVariadic() {
		return reflect.Value{}, nil, false, fmt.Errorf("eventbus: exposed callables must not be variadic")
	}
	if t.NumIn() < 1 || t.In(0) != ctxType {
		return reflect.Value{}, nil, false, fmt.Errorf("eventbus: exposed callable's first parameter must be context.Context")
	}
	if t.NumOut() < 1 || t.NumOut() > 2 || t.Out(t.NumOut()-1) != errType {
		return reflect.Value{}, nil, false, fmt.Errorf("eventbus: exposed callable must return (result, error) or (error)")
	}
	hasResult := t.NumOut() == 2

	params := make([]reflect.Type, t.NumIn()-1)
	for i := 1; i < t.NumIn(); i++ {
		params[i-1] = t.In(i)
	}
	return v, params, hasResult, nil
}

// Expose registers fn under its address (spec.md §4.5). If name is "" the
// address is derived from fn. Invariant: at most one registered callable
// per address per bus — re-exposing replaces the prior registration.
func Expose(ctx context.Context, b *Bus, fn any, name string, opts ...ExposeOption) (string, error) {
	address, err := resolveAddress(fn, name)
	if err != nil {
		return "", err
	}
	fv, paramTypes, hasResult, err := validateExposed(fn)
	if err != nil {
		return "", err
	}

	b.rpc.mu.Lock()
	defer b.rpc.mu.Unlock()

	if existing, ok := b.rpc.exposed.Get(address); ok {
		_ = existing.cancel()
	}

	entry := &exposedEntry{address: address, fn: fv, paramTypes: paramTypes, hasResult: hasResult}
	for _, opt := range opts {
		opt(entry)
	}
	cancel, err := b.subscribeRaw(ctx, invocationChannelFor(address), func(payload []byte) {
		b.rpc.handleInvocation(entry, payload)
	})
	if err != nil {
		return "", err
	}
	entry.cancel = cancel
	b.rpc.exposed.Set(address, entry)
	return address, nil
}

// Unexpose removes the callable registered at target's address (target may
// be the address string or the originally exposed callable). A callable is
// looked up by its derived address, so one exposed under an explicit name
// is only found by that name. It reports
// whether a registration was actually removed, matching pymq's boolean
// unexpose return.
func Unexpose(b *Bus, target any) (bool, error) {
	var address string
	if s, ok := target.(string); ok {
		address = s
	} else {
		addr, err := deriveAddress(target)
		if err != nil {
			return false, err
		}
		address = addr
	}

	entry, ok := b.rpc.exposed.Get(address)
	if !ok {
		return false, nil
	}
	_ = entry.cancel()
	b.rpc.exposed.Delete(address)
	return true, nil
}

func (r *rpcState) handleInvocation(entry *exposedEntry, payload []byte) {
	var env InvocationEnvelope
	if err := codec.Decode(payload, &env); err != nil {
		logger.L().Error("eventbus: failed to decode rpc invocation", "address", entry.address, "error", err)
		return
	}

	if entry.locker != nil {
		lock := entry.locker.NewLock("eventbus:rpc:"+entry.address+":"+env.ID, entry.lockTTL)
		acquired, err := lock.Acquire(context.Background())
		if err != nil {
			logger.L().Error("eventbus: election lock acquire failed", "address", entry.address, "error", err)
			return
		}
		if !acquired {
			return
		}
		defer func() { _ = lock.Release(context.Background()) }()
	}

	resp := ResponseEnvelope{ID: env.ID, Responder: r.responderID}

	args, err := decodeArgs(env.Args, entry.paramTypes)
	if err != nil {
		resp.Error = err.Error()
	} else {
		callArgs := make([]reflect.Value, 0, len(args)+1)
		callArgs = append(callArgs, reflect.ValueOf(context.Background()))
		callArgs = append(callArgs, args...)

		results, callErr := safeCall(entry.fn, callArgs)
		switch {
		case callErr != nil:
			resp.Error = callErr.Error()
		default:
			errVal := results[len(results)-1]
			if !errVal.IsNil() {
				resp.Error = errVal.Interface().(error).Error()
			} else if entry.hasResult {
				data, encErr := codec.Encode(results[0].Interface())
				if encErr != nil {
					resp.Error = encErr.Error()
				} else {
					resp.Result = data
				}
			}
		}
	}

	data, err := codec.Encode(resp)
	if err != nil {
		logger.L().Error("eventbus: failed to encode rpc response", "address", entry.address, "error", err)
		return
	}
	if err := r.bus.transport.Publish(context.Background(), env.ReplyChannel, data); err != nil {
		logger.L().Error("eventbus: failed to publish rpc response", "address", entry.address, "error", err)
	}
}

func safeCall(fn reflect.Value, args []reflect.Value) (results []reflect.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	results = fn.Call(args)
	return results, nil
}

func encodeArgs(args []any) ([]byte, error) {
	parts := make([][]byte, len(args))
	for i, a := range args {
		data, err := codec.Encode(a)
		if err != nil {
			return nil, err
		}
		parts[i] = data
	}
	return codec.Encode(parts)
}

func decodeArgs(data []byte, paramTypes []reflect.Type) ([]reflect.Value, error) {
	var parts [][]byte
	if len(data) > 0 {
		if err := codec.Decode(data, &parts); err != nil {
			return nil, err
		}
	}
	if len(parts) != len(paramTypes) {
		return nil, fmt.Errorf("eventbus: expected %d argument(s), got %d", len(paramTypes), len(parts))
	}
	out := make([]reflect.Value, len(parts))
	for i, p := range parts {
		ptr := reflect.New(paramTypes[i])
		if err := codec.Decode(p, ptr.Interface()); err != nil {
			return nil, err
		}
		out[i] = ptr.Elem()
	}
	return out, nil
}

// call performs the shared invocation/collection mechanics for Rpc and
// RpcMulti (spec.md §4.5 steps 1-6).
func (r *rpcState) call(ctx context.Context, address string, args []any, multi bool, timeout time.Duration) ([]ResponseEnvelope, error) {
	id := uuid.New().String()
	replyChannel := replyChannelFor(id)

	results := make(chan ResponseEnvelope, 16)
	cancel, err := r.bus.subscribeRaw(ctx, replyChannel, func(payload []byte) {
		var resp ResponseEnvelope
		if err := codec.Decode(payload, &resp); err != nil {
			logger.L().Error("eventbus: failed to decode rpc response", "address", address, "error", err)
			return
		}
		if resp.ID != id {
			return
		}
		select {
		case results <- resp:
		default:
			logger.L().Error("eventbus: rpc response buffer full, dropping response", "address", address, "id", id)
		}
	})
	if err != nil {
		return nil, err
	}
	defer cancel()

	argBytes, err := encodeArgs(args)
	if err != nil {
		return nil, err
	}
	env := InvocationEnvelope{ID: id, ReplyChannel: replyChannel, Function: address, Args: argBytes}
	payload, err := codec.Encode(env)
	if err != nil {
		return nil, err
	}
	if err := r.bus.transport.Publish(ctx, invocationChannelFor(address), payload); err != nil {
		return nil, err
	}

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	if !multi {
		select {
		case resp := <-results:
			return []ResponseEnvelope{resp}, nil
		case <-timeoutCh:
			return nil, ErrRPCTimeout(address)
		case <-r.bus.closed:
			return nil, ErrShutdown()
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, ErrRPCTimeout(address)
			}
			return nil, ctx.Err()
		}
	}

	var out []ResponseEnvelope
	for {
		select {
		case resp := <-results:
			out = append(out, resp)
		case <-timeoutCh:
			return out, nil
		case <-r.bus.closed:
			return out, ErrShutdown()
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}

// Rpc invokes the callable exposed at address with args, waiting for a
// single response (spec.md §4.5, multi=false). It returns RpcError if the
// responder's call raised, or RpcTimeout if nothing arrived before ctx's
// deadline; Rpc has no timeout of its own, so without a ctx deadline it
// waits until a response arrives, ctx is cancelled, or the bus closes.
func Rpc[R any](ctx context.Context, b *Bus, address string, args ...any) (R, error) {
	var zero R
	resp, err := b.rpc.call(ctx, address, args, false, 0)
	if err != nil {
		return zero, err
	}
	if len(resp) == 0 {
		return zero, ErrRPCTimeout(address)
	}
	env := resp[0]
	if env.Error != "" {
		return zero, ErrRPCError(address, env.Error)
	}
	var result R
	if len(env.Result) > 0 {
		if err := codec.Decode(env.Result, &result); err != nil {
			return zero, err
		}
	}
	return result, nil
}

// RpcMulti invokes every responder exposed at address, collecting
// responses until timeout elapses (spec.md §4.5, multi=true). The
// returned slice may be empty if no responder exists (NoSuchRemote,
// observable only this way in multi-mode).
func RpcMulti[R any](ctx context.Context, b *Bus, address string, timeout time.Duration, args ...any) ([]Response[R], error) {
	envs, err := b.rpc.call(ctx, address, args, true, timeout)
	if err != nil {
		return nil, err
	}
	out := make([]Response[R], 0, len(envs))
	for _, env := range envs {
		entry := Response[R]{Responder: env.Responder, Error: env.Error}
		if env.Error == "" && len(env.Result) > 0 {
			if err := codec.Decode(env.Result, &entry.Result); err != nil {
				entry.Error = err.Error()
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

// Stub returns a callable that performs a single-mode Rpc against address
// each time it is invoked, the Go equivalent of spec.md §6's stub(...).
func Stub[R any](b *Bus, address string) func(ctx context.Context, args ...any) (R, error) {
	return func(ctx context.Context, args ...any) (R, error) {
		return Rpc[R](ctx, b, address, args...)
	}
}

// StubMulti is Stub's multi-mode counterpart.
func StubMulti[R any](b *Bus, address string, timeout time.Duration) func(ctx context.Context, args ...any) ([]Response[R], error) {
	return func(ctx context.Context, args ...any) ([]Response[R], error) {
		return RpcMulti[R](ctx, b, address, timeout, args...)
	}
}
