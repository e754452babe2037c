// Package host is the bridge's single entry point. A Bridge owns the
// connection slot and processes calls strictly one at a time in its serve
// loop; transports hand calls to it with Submit or HandleRequest.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tomyedwab/sqlbridge/sqlbridge/args"
	"github.com/tomyedwab/sqlbridge/sqlbridge/conn"
	"github.com/tomyedwab/sqlbridge/sqlbridge/encode"
	"github.com/tomyedwab/sqlbridge/sqlbridge/errs"
	"github.com/tomyedwab/sqlbridge/sqlbridge/query"
	"github.com/tomyedwab/sqlbridge/sqlbridge/types"
)

// ErrStopped is returned by Submit once the serve loop has exited.
var ErrStopped = errors.New("bridge is not serving")

// Call is one request waiting for the serve loop. Reply is invoked exactly
// once, from the loop goroutine.
type Call struct {
	ID      string
	Request types.Request
	Reply   func(types.Response)
}

// Options configures a Bridge.
type Options struct {
	// MaxResultChars bounds array payloads; 0 disables the bound.
	MaxResultChars int
	Logger         zerolog.Logger
}

// Bridge dispatches calls to the connection manager and query executor.
type Bridge struct {
	conn   *conn.Manager
	exec   *query.Executor
	logger zerolog.Logger

	calls   chan Call
	quit    chan struct{}
	stopped chan struct{}
	serving atomic.Bool
	open    atomic.Bool
	once    sync.Once
}

// New creates a Bridge. Call Serve to start processing.
func New(opts Options) *Bridge {
	logger := opts.Logger.With().Str("component", "bridge").Logger()
	m := conn.NewManager(opts.Logger)
	return &Bridge{
		conn:    m,
		exec:    query.NewExecutor(m, opts.MaxResultChars, opts.Logger),
		logger:  logger,
		calls:   make(chan Call),
		quit:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// NewDefault creates a Bridge with the default result limit.
func NewDefault(logger zerolog.Logger) *Bridge {
	return New(Options{MaxResultChars: encode.DefaultLimit, Logger: logger})
}

// Serve runs the request loop until ctx is cancelled or Shutdown is called.
// On the way out any open database is closed; failures there are logged
// only. Serve must be called at most once.
func (b *Bridge) Serve(ctx context.Context) error {
	if !b.serving.CompareAndSwap(false, true) {
		return errors.New("bridge is already serving")
	}
	defer close(b.stopped)
	defer b.teardown()

	b.logger.Info().Msg("Bridge serving")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.quit:
			return nil
		case call := <-b.calls:
			call.Reply(b.dispatch(ctx, call))
		}
	}
}

// Shutdown asks the serve loop to stop and waits for it to finish.
func (b *Bridge) Shutdown(ctx context.Context) error {
	b.once.Do(func() { close(b.quit) })
	if !b.serving.Load() {
		return nil
	}
	select {
	case <-b.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit hands req to the serve loop and waits for its response.
func (b *Bridge) Submit(ctx context.Context, req types.Request) (types.Response, error) {
	reply := make(chan types.Response, 1)
	call := Call{
		ID:      uuid.NewString(),
		Request: req,
		Reply:   func(resp types.Response) { reply <- resp },
	}

	select {
	case b.calls <- call:
	case <-b.stopped:
		return types.Response{}, ErrStopped
	case <-ctx.Done():
		return types.Response{}, ctx.Err()
	}

	select {
	case resp := <-reply:
		return resp, nil
	case <-ctx.Done():
		return types.Response{}, ctx.Err()
	}
}

// HandleRequest decodes a JSON request, submits it and returns the JSON
// response. Operational failures are packaged in the response; the error
// is reserved for the bridge not serving.
func (b *Bridge) HandleRequest(ctx context.Context, requestPayload []byte) ([]byte, error) {
	var req types.Request
	if err := json.Unmarshal(requestPayload, &req); err != nil {
		return json.Marshal(errorResponse("", errs.Malformed("failed to decode request: %v", err)))
	}
	resp, err := b.Submit(ctx, req)
	if err != nil {
		return nil, err
	}
	return json.Marshal(resp)
}

// IsOpen reports whether a database was open after the last processed
// call. Safe to call from any goroutine.
func (b *Bridge) IsOpen() bool {
	return b.open.Load()
}

func (b *Bridge) dispatch(ctx context.Context, call Call) (resp types.Response) {
	req := call.Request
	action := types.CanonicalAction(req.Action)
	log := b.logger.With().Str("call_id", call.ID).Str("action", action).Logger()

	id := req.ID
	if id == "" {
		id = call.ID
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Call panicked")
			resp = errorResponse(id, errs.Engine(fmt.Errorf("internal error: %v", r)))
		}
		b.open.Store(b.conn.IsOpen())
	}()

	result, err := b.run(ctx, action, args.List(req.Args))
	if err != nil {
		log.Debug().Err(err).Stringer("kind", errs.KindOf(err)).Msg("Call failed")
		return errorResponse(id, err)
	}

	if result.Truncated {
		log.Debug().Int("bytes", len(result.Payload)).Msg("Payload truncated")
	}
	return types.Response{
		ID:        id,
		Status:    types.StatusOK,
		Payload:   result.Payload,
		Truncated: result.Truncated,
	}
}

type outcome struct {
	Payload   json.RawMessage
	Truncated bool
}

func (b *Bridge) run(ctx context.Context, action string, a args.List) (outcome, error) {
	switch action {
	case types.ActionOpen:
		path, err := a.String(0)
		if err != nil {
			return outcome{}, err
		}
		flag, err := a.Int(1)
		if err != nil {
			return outcome{}, err
		}
		if err := b.conn.Open(ctx, path, conn.ModeFromFlag(flag)); err != nil {
			return outcome{}, err
		}
		b.logger.Debug().Str("requested", path).Str("path", b.conn.Path()).Msg("Open resolved path")
		return outcome{}, nil

	case types.ActionQueryScalar:
		sql, params, err := queryArgs(a)
		if err != nil {
			return outcome{}, err
		}
		v, err := b.exec.Scalar(ctx, sql, params)
		return outcome{Payload: v}, err

	case types.ActionQueryArray:
		sql, params, err := queryArgs(a)
		if err != nil {
			return outcome{}, err
		}
		res, err := b.exec.Array(ctx, sql, params)
		if err != nil {
			return outcome{}, err
		}
		return outcome{Payload: res.Data, Truncated: res.Truncated}, nil

	case types.ActionBatchExec:
		statements, err := a.Strings(0)
		if err != nil {
			return outcome{}, err
		}
		return outcome{}, b.exec.Batch(ctx, statements)

	case types.ActionClose:
		if err := b.conn.Close(); err != nil {
			// The slot is already empty; the caller still gets success.
			b.logger.Warn().Err(err).Msg("Error closing database")
		}
		return outcome{}, nil

	default:
		return outcome{}, errs.UnknownAction(action)
	}
}

func queryArgs(a args.List) (string, []string, error) {
	sql, err := a.String(0)
	if err != nil {
		return "", nil, err
	}
	params, err := a.Strings(1)
	if err != nil {
		return "", nil, err
	}
	return sql, params, nil
}

func (b *Bridge) teardown() {
	b.conn.Teardown()
	b.open.Store(false)
	b.logger.Info().Msg("Bridge stopped")
}

func errorResponse(id string, err error) types.Response {
	kind := errs.KindOf(err)
	if kind == errs.KindUnknown {
		kind = errs.KindEngineFailure
	}
	return types.Response{
		ID:     id,
		Status: types.StatusError,
		Kind:   kind.String(),
		Error:  err.Error(),
	}
}
