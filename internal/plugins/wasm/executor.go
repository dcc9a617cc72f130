package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/sys"
)

// ABI exports every plugin module must provide.
const (
	exportMemory = "memory"
	exportMalloc = "claw_malloc"
	exportInvoke = "claw_invoke"
)

const (
	// DefaultFuelBudget bounds one invocation. Fuel is charged at
	// fuelPerMillisecond of guest execution; exhausting it cancels the
	// instance.
	DefaultFuelBudget uint64 = 10_000_000

	fuelPerMillisecond uint64 = 10_000

	// memoryLimitPages caps guest linear memory (64 KiB pages).
	memoryLimitPages uint32 = 256
)

// ErrFuelExhausted reports that an invocation ran past its fuel budget.
var ErrFuelExhausted = errors.New("plugin fuel exhausted")

// Executor runs plugin tool invocations. Each call gets a fresh
// instance: no host imports, no WASI, no filesystem, no network, and no
// state carried between calls.
type Executor struct {
	compiled   []byte
	fuelBudget uint64
}

// NewExecutor validates the module bytes and returns an executor for
// them. A zero fuelBudget uses DefaultFuelBudget.
func NewExecutor(ctx context.Context, wasmBytes []byte, fuelBudget uint64) (*Executor, error) {
	if fuelBudget == 0 {
		fuelBudget = DefaultFuelBudget
	}

	// Compile once up front so export problems surface at load, not at
	// the first model-requested call.
	r := wazero.NewRuntimeWithConfig(ctx, runtimeConfig())
	defer r.Close(ctx)
	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile plugin module: %w", err)
	}
	defer compiled.Close(ctx)

	exports := compiled.ExportedFunctions()
	for _, name := range []string{exportMalloc, exportInvoke} {
		if _, ok := exports[name]; !ok {
			return nil, fmt.Errorf("plugin module missing export %q", name)
		}
	}
	if _, ok := compiled.ExportedMemories()[exportMemory]; !ok {
		return nil, fmt.Errorf("plugin module missing exported memory")
	}

	return &Executor{compiled: wasmBytes, fuelBudget: fuelBudget}, nil
}

func runtimeConfig() wazero.RuntimeConfig {
	return wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(memoryLimitPages)
}

// invocation is the JSON handed to the guest.
type invocation struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// InvokeResult is the JSON the guest hands back.
type InvokeResult struct {
	Result json.RawMessage `json:"result"`
	Data   json.RawMessage `json:"data,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Invoke runs one tool call inside a fresh instance and returns the
// guest's result payload.
func (e *Executor) Invoke(ctx context.Context, tool string, arguments json.RawMessage) (*InvokeResult, error) {
	input, err := json.Marshal(invocation{Tool: tool, Arguments: arguments})
	if err != nil {
		return nil, fmt.Errorf("failed to encode plugin input: %w", err)
	}

	deadline := time.Duration(e.fuelBudget/fuelPerMillisecond) * time.Millisecond
	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	r := wazero.NewRuntimeWithConfig(ctx, runtimeConfig())
	defer r.Close(context.WithoutCancel(ctx))

	// Instantiate with no host modules registered: imports cannot
	// resolve, so a module that asks for WASI or host functions fails
	// here instead of gaining access.
	mod, err := r.Instantiate(ctx, e.compiled)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate plugin module: %w", err)
	}

	malloc := mod.ExportedFunction(exportMalloc)
	invoke := mod.ExportedFunction(exportInvoke)
	mem := mod.Memory()
	if malloc == nil || invoke == nil || mem == nil {
		return nil, fmt.Errorf("plugin module missing required exports")
	}

	ptrRes, err := malloc.Call(ctx, uint64(len(input)))
	if err != nil {
		return nil, e.callError("claw_malloc", ctx, err)
	}
	inPtr := uint32(ptrRes[0])
	if !mem.Write(inPtr, input) {
		return nil, fmt.Errorf("plugin returned out-of-bounds input pointer %d", inPtr)
	}

	packedRes, err := invoke.Call(ctx, uint64(inPtr), uint64(len(input)))
	if err != nil {
		return nil, e.callError("claw_invoke", ctx, err)
	}
	outPtr, outLen := unpackResult(packedRes[0])
	output, ok := mem.Read(outPtr, outLen)
	if !ok {
		return nil, fmt.Errorf("plugin returned out-of-bounds result range (ptr=%d len=%d)", outPtr, outLen)
	}

	var result InvokeResult
	if err := json.Unmarshal(output, &result); err != nil {
		return nil, fmt.Errorf("plugin returned invalid JSON: %w", err)
	}
	return &result, nil
}

func (e *Executor) callError(export string, ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w (budget %d units)", export, ErrFuelExhausted, e.fuelBudget)
	}
	var exitErr *sys.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("%s: guest exited with code %d", export, exitErr.ExitCode())
	}
	return fmt.Errorf("%s failed: %w", export, err)
}

// unpackResult splits claw_invoke's packed return: high 32 bits are the
// result pointer, low 32 bits the length.
func unpackResult(packed uint64) (ptr, length uint32) {
	return uint32(packed >> 32), uint32(packed & 0xFFFFFFFF)
}
