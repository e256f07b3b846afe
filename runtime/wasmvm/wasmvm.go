// Package wasmvm is the Wasm RuntimeAdapter (spec.md §4.7): a
// bytecodealliance/wasmtime-go instance whose handler exchanges
// JSON-encoded byte buffers with the host through linear memory. State
// is kept in its Wasm-native representation — a byte buffer — between
// calls, only decoded to a JSON value on SnapshotState. Every store runs
// with epoch interruption enabled, so a timed-out call traps instead of
// running unbounded.
package wasmvm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bytecodealliance/wasmtime-go/v14"

	"github.com/smartweave-go/replay/log"
	"github.com/smartweave-go/replay/runtime"
)

// failureSentinel is the packed i64 value handle() returns to signal
// that the interaction failed; the host must not read memory at that
// "pointer" and must retain the prior state buffer.
const failureSentinel = int64(-1)

type adapter struct {
	engine   *wasmtime.Engine
	store    *wasmtime.Store
	instance *wasmtime.Instance
	memory   *wasmtime.Memory
	allocate *wasmtime.Func
	handleFn *wasmtime.Func

	state []byte // JSON-encoded, the buffer exchanged verbatim with the module
	log   log.Logger
}

// New compiles and instantiates source, requiring it to export linear
// memory plus `allocate(size i32) -> ptr i32` and `handle(state_ptr i32,
// state_len i32, input_ptr i32, input_len i32) -> packed i64` functions.
func New(ctx context.Context, source []byte, initialState json.RawMessage, info runtime.ContractInfo) (runtime.Adapter, error) {
	config := wasmtime.NewConfig()
	config.SetEpochInterruption(true)
	engine := wasmtime.NewEngineWithConfig(config)
	module, err := wasmtime.NewModule(engine, source)
	if err != nil {
		return nil, fmt.Errorf("%w: compiling wasm module: %v", runtime.ErrInstantiateFailed, err)
	}
	store := wasmtime.NewStore(engine)
	instance, err := wasmtime.NewInstance(store, module, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: instantiating wasm module: %v", runtime.ErrInstantiateFailed, err)
	}

	memExport := instance.GetExport(store, "memory")
	if memExport == nil || memExport.Memory() == nil {
		return nil, fmt.Errorf("%w: module does not export linear memory", runtime.ErrInstantiateFailed)
	}
	allocExport := instance.GetExport(store, "allocate")
	if allocExport == nil || allocExport.Func() == nil {
		return nil, fmt.Errorf("%w: module does not export allocate(size)", runtime.ErrInstantiateFailed)
	}
	handleExport := instance.GetExport(store, "handle")
	if handleExport == nil || handleExport.Func() == nil {
		return nil, fmt.Errorf("%w: module does not export handle(...)", runtime.ErrInstantiateFailed)
	}

	state := append([]byte(nil), initialState...)
	if len(state) == 0 {
		state = []byte("null")
	}

	return &adapter{
		engine:   engine,
		store:    store,
		instance: instance,
		memory:   memExport.Memory(),
		allocate: allocExport.Func(),
		handleFn: handleExport.Func(),
		state:    state,
		log:      log.Root().New("runtime", "wasm"),
	}, nil
}

func (a *adapter) writeBuffer(data []byte) (int32, int32, error) {
	if len(data) == 0 {
		return 0, 0, nil
	}
	res, err := a.allocate.Call(a.store, int32(len(data)))
	if err != nil {
		return 0, 0, err
	}
	ptr, ok := res.(int32)
	if !ok {
		return 0, 0, fmt.Errorf("allocate() did not return an i32 pointer")
	}
	mem := a.memory.UnsafeData(a.store)
	if int(ptr)+len(data) > len(mem) {
		return 0, 0, fmt.Errorf("allocate() returned an out-of-bounds region")
	}
	copy(mem[ptr:], data)
	return ptr, int32(len(data)), nil
}

func (a *adapter) Apply(ctx context.Context, call runtime.CallInput) error {
	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage("null")
	}
	inputBytes, err := json.Marshal(struct {
		Input  json.RawMessage `json:"input"`
		Caller string          `json:"caller"`
	}{Input: input, Caller: call.Caller})
	if err != nil {
		return fmt.Errorf("%w: encoding call input: %v", runtime.ErrApplyFailed, err)
	}

	statePtr, stateLen, err := a.writeBuffer(a.state)
	if err != nil {
		return fmt.Errorf("%w: writing state into linear memory: %v", runtime.ErrApplyFailed, err)
	}
	inputPtr, inputLen, err := a.writeBuffer(inputBytes)
	if err != nil {
		return fmt.Errorf("%w: writing input into linear memory: %v", runtime.ErrApplyFailed, err)
	}

	// Deadline is in epoch ticks from now, not wall-clock time: a single
	// tick is enough, since watchForInterrupt increments the engine's
	// epoch at most once per call.
	a.store.SetEpochDeadline(1)
	stopWatch := a.watchForInterrupt(ctx)
	result, err := a.handleFn.Call(a.store, statePtr, stateLen, inputPtr, inputLen)
	stopWatch()
	if err != nil {
		// A trap surfaces here the same way a thrown exception does in
		// the JS adapter: the interaction is invalid, state untouched.
		// ctx being done distinguishes our induced epoch trap from a
		// genuine one raised by the module itself.
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", runtime.ErrApplyTimeout, err)
		}
		return fmt.Errorf("%w: %v", runtime.ErrApplyFailed, err)
	}
	packed, ok := result.(int64)
	if !ok {
		return fmt.Errorf("%w: handle() did not return a packed i64", runtime.ErrApplyFailed)
	}
	if packed == failureSentinel {
		return fmt.Errorf("%w: contract reported failure", runtime.ErrApplyFailed)
	}

	ptr, length := unpack(packed)
	mem := a.memory.UnsafeData(a.store)
	if ptr < 0 || length < 0 || int(ptr)+int(length) > len(mem) {
		return fmt.Errorf("%w: handle() returned an out-of-bounds state buffer", runtime.ErrApplyFailed)
	}
	newState := make([]byte, length)
	copy(newState, mem[ptr:int(ptr)+int(length)])
	a.state = newState
	return nil
}

// watchForInterrupt increments the store's engine epoch the moment ctx is
// done, tripping the deadline Apply armed via SetEpochDeadline so the
// running handle() call traps on this same goroutine instead of running
// to completion in the background. The returned func must be called once
// the call returns; it stops the watcher goroutine and waits for it to
// exit.
func (a *adapter) watchForInterrupt(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			a.engine.IncrementEpoch()
		case <-done:
		}
	}()
	return func() { close(done); <-exited }
}

func (a *adapter) SnapshotState() (json.RawMessage, error) {
	var probe any
	if err := json.Unmarshal(a.state, &probe); err != nil {
		return nil, fmt.Errorf("wasmvm: state buffer is not valid JSON: %w", err)
	}
	return json.RawMessage(a.state), nil
}

func (a *adapter) Close() error {
	a.instance = nil
	a.memory = nil
	a.allocate = nil
	a.handleFn = nil
	a.engine = nil
	return nil
}

func unpack(v int64) (int32, int32) { return int32(v >> 32), int32(uint32(v)) }
