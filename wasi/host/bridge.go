// Package host runs WASM guest scripts under wazero and gives them access
// to the SQL bridge through the host function env.sqlite_bridge_call.
//
// The guest passes a pointer and length for a JSON request in its own
// memory. The host submits the request, asks the guest to allocate room for
// the response through its exported alloc_bytes function and returns the
// allocation handle. Bit 32 of the return value flags a transport failure;
// the bytes behind the handle then hold the error message.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"
)

const (
	hostModule   = "env"
	bridgeCallFn = "sqlite_bridge_call"
	allocFn      = "alloc_bytes"

	errorBit = uint64(1) << 32
)

// Handler processes one request payload. *host.Bridge from the sqlbridge
// package implements it.
type Handler interface {
	HandleRequest(ctx context.Context, requestPayload []byte) ([]byte, error)
}

type guestMemory interface {
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
}

// guestAlloc reserves size bytes in the guest and returns the guest's
// handle for them and their address.
type guestAlloc func(ctx context.Context, size uint32) (handle, ptr uint32, err error)

func readBytes(mem guestMemory, offset, byteCount uint32) ([]byte, error) {
	buf, ok := mem.Read(offset, byteCount)
	if !ok {
		return nil, fmt.Errorf("Memory.Read(%d, %d) out of range", offset, byteCount)
	}
	// buf aliases guest memory, which the guest may reuse after we return.
	out := make([]byte, len(buf))
	copy(out, buf)
	return out, nil
}

func writeBytes(ctx context.Context, mem guestMemory, alloc guestAlloc, data []byte) (uint32, error) {
	handle, ptr, err := alloc(ctx, uint32(len(data)))
	if err != nil {
		return 0, err
	}
	if !mem.Write(ptr, data) {
		return 0, fmt.Errorf("Memory.Write(%d, %d) out of range", ptr, len(data))
	}
	return handle, nil
}

// bridgeCall reads the request, runs it through h and writes the response
// back into the guest. A failure to write even the error message is fatal
// to the guest.
func bridgeCall(ctx context.Context, h Handler, mem guestMemory, alloc guestAlloc, logger zerolog.Logger, reqOffset, reqByteCount uint32) uint64 {
	response, err := func() ([]byte, error) {
		request, err := readBytes(mem, reqOffset, reqByteCount)
		if err != nil {
			return nil, err
		}
		return h.HandleRequest(ctx, request)
	}()

	result := uint64(0)
	if err != nil {
		logger.Error().Err(err).Msg("Error handling guest bridge call")
		response = []byte(err.Error())
		result = errorBit
	}

	handle, werr := writeBytes(ctx, mem, alloc, response)
	if werr != nil {
		panic(fmt.Errorf("writing bridge response to guest: %w", werr))
	}
	return result | uint64(handle)
}

type moduleMemory struct {
	m api.Module
}

func (mm moduleMemory) Read(offset, byteCount uint32) ([]byte, bool) {
	return mm.m.Memory().Read(offset, byteCount)
}

func (mm moduleMemory) Write(offset uint32, v []byte) bool {
	return mm.m.Memory().Write(offset, v)
}

func moduleAlloc(m api.Module) guestAlloc {
	return func(ctx context.Context, size uint32) (uint32, uint32, error) {
		fn := m.ExportedFunction(allocFn)
		if fn == nil {
			return 0, 0, fmt.Errorf("guest does not export %s", allocFn)
		}
		results, err := fn.Call(ctx, uint64(size))
		if err != nil {
			return 0, 0, err
		}
		if len(results) != 1 {
			return 0, 0, fmt.Errorf("%s returned %d results, expected 1", allocFn, len(results))
		}
		return uint32(results[0] >> 32), uint32(results[0]), nil
	}
}

// Runner owns a wazero runtime with the bridge host module installed.
type Runner struct {
	runtime wazero.Runtime
	handler Handler
	logger  zerolog.Logger
}

// NewRunner creates the runtime and instantiates WASI and the env host
// module.
func NewRunner(ctx context.Context, h Handler, logger zerolog.Logger) (*Runner, error) {
	r := &Runner{
		runtime: wazero.NewRuntime(ctx),
		handler: h,
		logger:  logger.With().Str("component", "wasm").Logger(),
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r.runtime); err != nil {
		r.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate wasi: %w", err)
	}
	_, err := r.runtime.NewHostModuleBuilder(hostModule).
		NewFunctionBuilder().WithFunc(r.bridgeCall).Export(bridgeCallFn).
		Instantiate(ctx)
	if err != nil {
		r.runtime.Close(ctx)
		return nil, fmt.Errorf("instantiate %s module: %w", hostModule, err)
	}
	return r, nil
}

func (r *Runner) bridgeCall(ctx context.Context, m api.Module, reqOffset, reqByteCount uint32) uint64 {
	return bridgeCall(ctx, r.handler, moduleMemory{m}, moduleAlloc(m), r.logger, reqOffset, reqByteCount)
}

// RunOptions controls one guest run.
type RunOptions struct {
	Name   string
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
}

// Run instantiates the guest and calls its start functions: _initialize for
// reactors, then _start for commands. A zero exit code is not an error.
func (r *Runner) Run(ctx context.Context, wasm []byte, opts RunOptions) error {
	cfg := wazero.NewModuleConfig().
		WithName(opts.Name).
		WithArgs(append([]string{opts.Name}, opts.Args...)...).
		WithStartFunctions("_initialize", "_start")
	if opts.Stdout != nil {
		cfg = cfg.WithStdout(opts.Stdout)
	}
	if opts.Stderr != nil {
		cfg = cfg.WithStderr(opts.Stderr)
	}

	r.logger.Info().Str("module", opts.Name).Int("bytes", len(wasm)).Msg("Running guest module")
	mod, err := r.runtime.InstantiateWithConfig(ctx, wasm, cfg)
	if err != nil {
		var exitErr *sys.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 0 {
			return nil
		}
		return fmt.Errorf("run guest %s: %w", opts.Name, err)
	}
	return mod.Close(ctx)
}

// Close releases the runtime and every module in it.
func (r *Runner) Close(ctx context.Context) error {
	return r.runtime.Close(ctx)
}
