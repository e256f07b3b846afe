// Package replay implements ReplayEngine, the orchestration at the top
// of the stack: it drives the ledger client, the contract loader, the
// canonical ordering, the state cache and the two embedded runtimes
// through one execute call per contract. Every other package in this
// module exists to be driven from here.
package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/smartweave-go/replay/contract"
	"github.com/smartweave-go/replay/ledger"
	"github.com/smartweave-go/replay/log"
	"github.com/smartweave-go/replay/metrics"
	"github.com/smartweave-go/replay/ordering"
	"github.com/smartweave-go/replay/runtime"
	"github.com/smartweave-go/replay/runtime/jsvm"
	"github.com/smartweave-go/replay/runtime/wasmvm"
	"github.com/smartweave-go/replay/statecache"
)

// ResultKind tags which runtime family produced an ExecuteResult, the
// Go equivalent of the source's ExecuteResult::{JS,Wasm,Evm} tagged union.
type ResultKind int

const (
	KindJS ResultKind = iota
	KindWasm
	KindEvm
)

func (k ResultKind) String() string {
	switch k {
	case KindJS:
		return "js"
	case KindWasm:
		return "wasm"
	case KindEvm:
		return "evm"
	default:
		return "unknown"
	}
}

// ExecuteResult is the engine's return value: the post-fold state (null
// for the EVM stub) and the per-interaction validity table.
type ExecuteResult struct {
	Kind     ResultKind
	State    json.RawMessage
	Validity map[string]bool
}

// ExecuteOptions parameterizes one execute call, mirroring
// execute_contract(contract_id, src_override?, content_type_override?,
// height?, cache_enabled) from spec.md §6.
type ExecuteOptions struct {
	// SrcOverride, when non-nil, replaces the contract's source bytes
	// entirely, skipping any Contract-Src indirection.
	SrcOverride []byte
	// ContentTypeOverride, when non-nil, replaces the Content-Type tag
	// lookup used to classify the contract.
	ContentTypeOverride *string
	// CeilingHeight, when non-nil, bounds fetched interactions to it.
	CeilingHeight *uint64
	CacheEnabled  bool
}

// Engine is the ReplayEngine: a ledger client, a state cache and the two
// runtime factories, wired together with logging and metrics. The zero
// value is not usable; construct with New.
type Engine struct {
	Ledger ledger.Client
	Cache  statecache.StateCache

	// JSFactory and WasmFactory construct a fresh runtime.Adapter per
	// replay. They default to jsvm.New and wasmvm.New; tests override
	// them to inject a fault or record calls.
	JSFactory   runtime.Factory
	WasmFactory runtime.Factory

	PerInteractionTimeout time.Duration

	Log     log.Logger
	Metrics metrics.Registry

	appliedCounter metrics.Counter
	invalidCounter metrics.Counter
	cacheHit       metrics.Counter
	cacheMiss      metrics.Counter
	foldTimer      metrics.Timer
}

// New constructs an Engine from a Config, opening the configured
// StateCache backend and an HTTP ledger.Client against cfg.LedgerBaseURL.
func New(cfg Config) (*Engine, error) {
	cache, err := statecache.Open(cfg.CacheBackend, cfg.CacheDir, cfg.MemoryCacheCapacity)
	if err != nil {
		return nil, fmt.Errorf("replay: opening state cache: %w", err)
	}
	logger := log.Root().New("component", "replay")
	hc := &http.Client{Timeout: cfg.HTTPTimeout}
	client := ledger.NewHTTPClient(cfg.LedgerBaseURL, hc, logger)

	return NewWithCollaborators(client, cache, cfg.PerInteractionTimeout, logger, metrics.DefaultRegistry), nil
}

// NewWithCollaborators wires an Engine from already-constructed
// collaborators, the path tests use to inject an in-memory cache, a
// fault-injecting ledger.Client or a fake runtime.Factory, per spec.md §9
// "a reimplementation should pass the cache as an explicit collaborator".
func NewWithCollaborators(client ledger.Client, cache statecache.StateCache, perInteractionTimeout time.Duration, logger log.Logger, registry metrics.Registry) *Engine {
	if logger == nil {
		logger = log.Root()
	}
	if registry == nil {
		registry = metrics.DefaultRegistry
	}
	return &Engine{
		Ledger:                client,
		Cache:                 cache,
		JSFactory:             jsvm.New,
		WasmFactory:           wasmvm.New,
		PerInteractionTimeout: perInteractionTimeout,
		Log:                   logger,
		Metrics:               registry,
		appliedCounter:        metrics.NewRegisteredCounter("replay/interactions/applied", registry),
		invalidCounter:        metrics.NewRegisteredCounter("replay/interactions/invalid", registry),
		cacheHit:              metrics.NewRegisteredCounter("replay/cache/hit", registry),
		cacheMiss:             metrics.NewRegisteredCounter("replay/cache/miss", registry),
		foldTimer:             metrics.NewRegisteredTimer("replay/duration", registry),
	}
}

// Execute runs the full ReplayEngine algorithm (spec.md §4.8) for one
// contract: concurrent fetch, canonical sort, cache consult, a strictly
// sequential interaction fold, and a cache write-back on clean
// completion.
func (e *Engine) Execute(ctx context.Context, contractID string, opts ExecuteOptions) (*ExecuteResult, error) {
	start := time.Now()
	defer func() { metrics.UpdateSince(e.foldTimer, start) }()

	loaded, sorted, newIndex, areThereNew, err := e.fetchAndOrder(ctx, contractID, opts)
	if err != nil {
		return nil, err
	}

	validity := make(map[string]bool)
	var state json.RawMessage
	needsProcessing := true
	cacheHit := false
	cacheEnabled := opts.CacheEnabled

	if cacheEnabled {
		entry, found, cerr := e.Cache.FindState(contractID)
		if cerr != nil {
			// CacheIO is non-fatal: proceed as though cache_enabled were
			// false for this replay.
			e.Log.Warn("state cache read failed, replaying cold", "contract_id", contractID, "err", cerr)
			cacheEnabled = false
		} else if found {
			state = entry.State
			validity = entry.Validity
			needsProcessing = areThereNew
			cacheHit = true
			e.cacheHit.Inc(1)
		} else {
			e.cacheMiss.Inc(1)
		}
	}

	if !needsProcessing {
		return &ExecuteResult{Kind: kindOf(loaded.ContractType), State: state, Validity: validity}, nil
	}

	if loaded.ContractType == contract.ContractTypeEvm {
		return e.executeEvmStub(contractID, validity, len(sorted), cacheEnabled)
	}

	if state == nil {
		if !json.Valid(loaded.InitStateJSON) {
			return nil, fmt.Errorf("%w: contract %s", contract.ErrInitStateMalformed, contractID)
		}
		state = json.RawMessage(loaded.InitStateJSON)
	}

	factory, err := e.factoryFor(loaded.ContractType)
	if err != nil {
		return nil, err
	}
	info := contractInfoFor(contractID, opts.CeilingHeight, sorted)
	adapter, err := factory(ctx, loaded.SourceBytes, state, info)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", runtime.ErrInstantiateFailed, err)
	}
	defer adapter.Close()

	toApply := sorted
	if cacheEnabled && cacheHit && areThereNew && newIndex <= len(sorted) {
		toApply = sorted[newIndex:]
	}

	e.fold(ctx, adapter, toApply, validity)

	state, err = adapter.SnapshotState()
	if err != nil {
		return nil, fmt.Errorf("%w: snapshotting state for %s: %v", runtime.ErrApplyFailed, contractID, err)
	}

	if cacheEnabled {
		if cerr := e.Cache.CacheStates(contractID, statecache.CacheEntry{
			State:              state,
			Validity:           validity,
			LastProcessedIndex: len(sorted),
		}); cerr != nil {
			e.Log.Warn("state cache write failed", "contract_id", contractID, "err", cerr)
		}
	}

	return &ExecuteResult{Kind: kindOf(loaded.ContractType), State: state, Validity: validity}, nil
}

// fetchAndOrder runs fetch_contract and fetch_interactions concurrently
// (the engine's only permitted parallelism, per spec.md §5) and returns
// the interactions sorted into canonical order.
func (e *Engine) fetchAndOrder(ctx context.Context, contractID string, opts ExecuteOptions) (*contract.LoadedContract, []ledger.Interaction, int, bool, error) {
	var loaded *contract.LoadedContract
	var interactions []ledger.Interaction
	var newIndex int
	var areThereNew bool

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		loaded, err = e.Ledger.FetchContract(gctx, contractID, opts.SrcOverride, opts.ContentTypeOverride, opts.CacheEnabled)
		return err
	})
	g.Go(func() error {
		var err error
		interactions, newIndex, areThereNew, err = e.Ledger.FetchInteractions(gctx, contractID, opts.CeilingHeight, opts.CacheEnabled)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, nil, 0, false, err
	}

	keyed := make([]ordering.Keyed[ledger.Interaction], len(interactions))
	for i, in := range interactions {
		keyed[i] = ordering.Keyed[ledger.Interaction]{
			Key:   ordering.NewSortKey(in.BlockHeight, in.BlockID, in.TxID),
			Value: in,
		}
	}
	ordering.Sort(keyed)
	sorted := make([]ledger.Interaction, len(keyed))
	for i, k := range keyed {
		sorted[i] = k.Value
	}
	return loaded, sorted, newIndex, areThereNew, nil
}

// fold applies interactions to adapter strictly in order. Interaction
// failures (decode or VM apply) are interaction-local: they flip that
// tx's validity entry to false and never abort the fold.
func (e *Engine) fold(ctx context.Context, adapter runtime.Adapter, interactions []ledger.Interaction, validity map[string]bool) {
	for _, in := range interactions {
		ok := e.applyOne(ctx, adapter, in)
		validity[in.TxID] = ok
		if ok {
			e.appliedCounter.Inc(1)
		} else {
			e.invalidCounter.Inc(1)
		}
	}
}

func (e *Engine) applyOne(ctx context.Context, adapter runtime.Adapter, in ledger.Interaction) bool {
	// spec.md §4.8 step 9: extract the Input tag (empty string if
	// absent), then parse that value as JSON. An absent tag and a
	// malformed tag both fail to parse, so both land here as
	// InteractionDecode: interaction-local, state untouched.
	input := json.RawMessage(in.Input)
	if !json.Valid(input) {
		e.Log.Debug("interaction input is not valid JSON", "tx_id", in.TxID, "err", ErrInteractionDecode)
		return false
	}

	call := runtime.CallInput{Input: input, Caller: in.OwnerAddress}
	if e.PerInteractionTimeout <= 0 {
		return adapter.Apply(ctx, call) == nil
	}
	return e.applyWithTimeout(ctx, adapter, call, in.TxID)
}

// applyWithTimeout bounds a single Apply call by §5's optional
// per-interaction wall-clock ceiling. Exceeding it marks the interaction
// invalid without touching the adapter's already-preserved prior state.
// Both adapters watch ctx themselves (jsvm via goja.Runtime.Interrupt,
// wasmvm via wasmtime's epoch deadline) and unwind the running call the
// moment timeoutCtx is done, so Apply is called synchronously here: there
// is no background goroutine left holding a reference to the adapter
// after this function returns, and nothing to race against the next
// interaction's Apply call.
func (e *Engine) applyWithTimeout(ctx context.Context, adapter runtime.Adapter, call runtime.CallInput, txID string) bool {
	timeoutCtx, cancel := context.WithTimeout(ctx, e.PerInteractionTimeout)
	defer cancel()

	err := adapter.Apply(timeoutCtx, call)
	if err != nil && errors.Is(err, runtime.ErrApplyTimeout) {
		e.Log.Warn("interaction exceeded the per-interaction timeout", "tx_id", txID, "timeout", e.PerInteractionTimeout)
		return false
	}
	return err == nil
}

func (e *Engine) executeEvmStub(contractID string, validity map[string]bool, processedCount int, cacheEnabled bool) (*ExecuteResult, error) {
	// EVM execution is not implemented (spec.md §9 "EVM"): the stub
	// preserves accumulated validity and always reports a null state.
	if cacheEnabled {
		if cerr := e.Cache.CacheStates(contractID, statecache.CacheEntry{
			State:              nil,
			Validity:           validity,
			LastProcessedIndex: processedCount,
		}); cerr != nil {
			e.Log.Warn("state cache write failed", "contract_id", contractID, "err", cerr)
		}
	}
	return &ExecuteResult{Kind: KindEvm, State: nil, Validity: validity}, nil
}

func (e *Engine) factoryFor(t contract.ContractType) (runtime.Factory, error) {
	switch t {
	case contract.ContractTypeJS:
		return e.JSFactory, nil
	case contract.ContractTypeWasm:
		return e.WasmFactory, nil
	default:
		return nil, fmt.Errorf("replay: %w: no runtime factory for %s", contract.ErrUnsupportedContractType, t)
	}
}

func kindOf(t contract.ContractType) ResultKind {
	switch t {
	case contract.ContractTypeWasm:
		return KindWasm
	case contract.ContractTypeEvm:
		return KindEvm
	default:
		return KindJS
	}
}

// contractInfoFor builds the ContractInfo exposed to a fresh VM instance.
// It reflects the tip of the canonically-sorted interaction list (the
// most recent block this replay will fold through), overridden by an
// explicit ceiling height when the caller supplied one.
func contractInfoFor(contractID string, ceiling *uint64, sorted []ledger.Interaction) runtime.ContractInfo {
	info := runtime.ContractInfo{Transaction: runtime.ContractTransaction{ID: contractID}}
	if len(sorted) > 0 {
		tip := sorted[len(sorted)-1]
		info.Block = runtime.ContractBlock{Height: tip.BlockHeight, ID: tip.BlockID, Timestamp: tip.BlockTimestamp}
	}
	if ceiling != nil {
		info.Block.Height = *ceiling
	}
	return info
}
