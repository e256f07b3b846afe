// Package runtime defines RuntimeAdapter, the uniform capability surface
// over the two embedded VMs (JS and Wasm) spec.md §4.5 describes. The
// engine is polymorphic over which Adapter implementation it drives; the
// hot loop lives inside each VM package, not here.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrInstantiateFailed is fatal: the VM could not be set up at all.
var ErrInstantiateFailed = errors.New("runtime: instantiate failed")

// ErrApplyFailed marks a single interaction invalid. It never aborts a
// replay; the adapter's state is guaranteed unchanged when this is
// returned.
var ErrApplyFailed = errors.New("runtime: apply failed")

// ErrApplyTimeout marks a single interaction invalid because it did not
// return before ctx was done. Both adapters interrupt the running call
// rather than abandon it, so the adapter's state is guaranteed unchanged
// by the time this is returned, the same as ErrApplyFailed.
var ErrApplyTimeout = errors.New("runtime: apply timed out")

// ContractInfo is the read-only transaction/block metadata exposed to
// contract code, per spec.md §3 "ContractInfo".
type ContractInfo struct {
	Transaction ContractTransaction
	Block       ContractBlock
}

// ContractTransaction is the subset of the contract's own transaction
// metadata exposed to the VM.
type ContractTransaction struct {
	ID string
}

// ContractBlock is the (best-effort) block context a replay is anchored
// to, exposed to JS contracts as ContractInfo.block. The Wasm adapter
// does not pass it to the module.
type ContractBlock struct {
	Height    uint64
	ID        string
	Timestamp int64
}

// CallInput is the JSON object `{ "input": ..., "caller": ... }` spec.md
// §4.5 defines as the shape crossing into a single interaction.
type CallInput struct {
	Input  json.RawMessage
	Caller string
}

// Adapter is the uniform façade over one instantiated embedded VM. An
// engine owns exactly one Adapter per replay; the Adapter owns exactly
// one VM handle.
type Adapter interface {
	// Apply dispatches one interaction. On success, the adapter's
	// internal state reflects the handler's return value. On failure,
	// the pre-call state is preserved and ErrApplyFailed (or a wrapped
	// form of it) is returned; a call interrupted because ctx was done
	// returns ErrApplyTimeout instead.
	Apply(ctx context.Context, call CallInput) error

	// SnapshotState returns the post-fold state in its canonical JSON
	// shape.
	SnapshotState() (json.RawMessage, error)

	// Close releases the VM handle. Safe to call more than once.
	Close() error
}

// Factory instantiates a fresh Adapter bound to a contract's source,
// initial state and ContractInfo. Each of the two VM packages
// (runtime/jsvm, runtime/wasmvm) exposes one.
type Factory func(ctx context.Context, source []byte, initialState json.RawMessage, info ContractInfo) (Adapter, error)
