// Package jsvm is the JS RuntimeAdapter (spec.md §4.6), grounded on
// go-ethereum's internal/jsre: a goja.Runtime holding one evaluated
// contract, with the host's nondeterministic globals (Date, Math.random)
// replaced before any interaction is applied.
package jsvm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"github.com/smartweave-go/replay/log"
	"github.com/smartweave-go/replay/runtime"
)

// adapter is the goja-backed runtime.Adapter.
type adapter struct {
	vm    *goja.Runtime
	state goja.Value
	log   log.Logger
}

// New instantiates a fresh goja VM, evaluates source once and sets the
// initial state, implementing runtime.Factory.
func New(ctx context.Context, source []byte, initialState json.RawMessage, info runtime.ContractInfo) (runtime.Adapter, error) {
	vm := goja.New()
	a := &adapter{vm: vm, log: log.Root().New("runtime", "js")}

	installDeterminism(vm, info)
	vm.Set("ContractInfo", contractInfoToMap(info))

	if _, err := vm.RunString(string(source)); err != nil {
		return nil, fmt.Errorf("%w: evaluating contract source: %v", runtime.ErrInstantiateFailed, err)
	}
	if _, ok := goja.AssertFunction(vm.Get("handle")); !ok {
		return nil, fmt.Errorf("%w: contract does not define a handle(state, action) function", runtime.ErrInstantiateFailed)
	}

	state, err := parseJSON(vm, initialState)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing initial state: %v", runtime.ErrInstantiateFailed, err)
	}
	a.state = state
	return a, nil
}

func contractInfoToMap(info runtime.ContractInfo) map[string]any {
	return map[string]any{
		"transaction": map[string]any{"id": info.Transaction.ID},
		"block": map[string]any{
			"height":    info.Block.Height,
			"id":        info.Block.ID,
			"timestamp": info.Block.Timestamp,
		},
	}
}

// installDeterminism strips or replaces the nondeterministic host
// surface spec.md §4.6 and §9 require: Math.random becomes a PRNG seeded
// from the contract's own transaction id (same seed on every replica),
// and Date is frozen to the replay's block timestamp. goja exposes no
// setTimeout, fetch or require by default, so no further stripping of
// network/timer globals is needed.
func installDeterminism(vm *goja.Runtime, info runtime.ContractInfo) {
	seed := seedFromString(info.Transaction.ID)
	rnd := newDeterministicRand(seed)
	vm.SetRandSource(func() float64 { return rnd.float64() })

	vm.Set("__frozenTimestampMs", info.Block.Timestamp*1000)
	vm.RunString(`
(function() {
  var OrigDate = Date;
  function FrozenDate() { return new OrigDate(__frozenTimestampMs); }
  FrozenDate.now = function() { return __frozenTimestampMs; };
  FrozenDate.prototype = OrigDate.prototype;
  Date = FrozenDate;
})();
`)
}

func (a *adapter) Apply(ctx context.Context, call runtime.CallInput) error {
	handleFn, ok := goja.AssertFunction(a.vm.Get("handle"))
	if !ok {
		return fmt.Errorf("%w: handle is no longer callable", runtime.ErrApplyFailed)
	}

	inputVal, err := parseJSON(a.vm, call.Input)
	if err != nil {
		return fmt.Errorf("%w: decoding input: %v", runtime.ErrApplyFailed, err)
	}
	action := a.vm.NewObject()
	action.Set("input", inputVal)
	action.Set("caller", call.Caller)

	// The handler gets a copy of the state, so mutations made before a
	// throw or an interrupt never reach a.state.
	stateJSON, err := stringifyJSON(a.vm, a.state)
	if err != nil {
		return fmt.Errorf("%w: copying state: %v", runtime.ErrApplyFailed, err)
	}
	stateArg, err := parseJSON(a.vm, stateJSON)
	if err != nil {
		return fmt.Errorf("%w: copying state: %v", runtime.ErrApplyFailed, err)
	}

	stopWatch := a.watchForInterrupt(ctx)
	result, err := handleFn(goja.Undefined(), stateArg, action)
	stopWatch()
	a.vm.ClearInterrupt()
	if err != nil {
		var interrupted *goja.InterruptedError
		if errors.As(err, &interrupted) {
			return fmt.Errorf("%w: %v", runtime.ErrApplyTimeout, err)
		}
		return fmt.Errorf("%w: %v", runtime.ErrApplyFailed, err)
	}

	newState := extractState(a.vm, result, stateArg)
	a.state = newState
	return nil
}

// watchForInterrupt arms vm.Interrupt the moment ctx is done, so a
// timed-out or canceled Apply call unwinds on this same goroutine
// instead of running to completion in the background — goja checks for
// an interrupt between bytecode instructions regardless of which
// goroutine raised it. The returned func must be called once the
// handler call returns; it stops the watcher goroutine and waits for it
// to exit.
func (a *adapter) watchForInterrupt(ctx context.Context) (stop func()) {
	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		select {
		case <-ctx.Done():
			a.vm.Interrupt(ctx.Err())
		case <-done:
		}
	}()
	return func() { close(done); <-exited }
}

// extractState honors the common SmartWeave convention where a handler
// returns either {state: <newState>} or the new state directly.
func extractState(vm *goja.Runtime, result goja.Value, fallback goja.Value) goja.Value {
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return fallback
	}
	obj := result.ToObject(vm)
	if obj == nil {
		return fallback
	}
	if stateProp := obj.Get("state"); stateProp != nil && !goja.IsUndefined(stateProp) && !goja.IsNull(stateProp) {
		return stateProp
	}
	return result
}

func (a *adapter) SnapshotState() (json.RawMessage, error) {
	return stringifyJSON(a.vm, a.state)
}

func (a *adapter) Close() error {
	a.vm = nil
	return nil
}

func parseJSON(vm *goja.Runtime, raw json.RawMessage) (goja.Value, error) {
	if len(raw) == 0 {
		raw = []byte("null")
	}
	jsonObj := vm.Get("JSON").ToObject(vm)
	parseFn, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, fmt.Errorf("JSON.parse is unavailable")
	}
	return parseFn(goja.Undefined(), vm.ToValue(string(raw)))
}

func stringifyJSON(vm *goja.Runtime, v goja.Value) (json.RawMessage, error) {
	jsonObj := vm.Get("JSON").ToObject(vm)
	stringifyFn, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return nil, fmt.Errorf("JSON.stringify is unavailable")
	}
	result, err := stringifyFn(goja.Undefined(), v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(result.String()), nil
}
