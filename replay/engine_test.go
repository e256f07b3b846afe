package replay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/smartweave-go/replay/contract"
	"github.com/smartweave-go/replay/ledger"
	"github.com/smartweave-go/replay/runtime"
	"github.com/smartweave-go/replay/statecache"
)

// fakeClient is a Client double whose two fetches are pre-scripted, so
// tests can drive the engine's cache/ordering/fold logic without a
// network or an embedded VM.
type fakeClient struct {
	contractOut *contract.LoadedContract
	contractErr error

	interactionsOut []ledger.Interaction
	newIndex        int
	areThereNew     bool
	interactionsErr error
}

func (f *fakeClient) FetchContract(ctx context.Context, contractID string, srcOverride []byte, contentTypeOverride *string, cacheEnabled bool) (*contract.LoadedContract, error) {
	return f.contractOut, f.contractErr
}

func (f *fakeClient) FetchInteractions(ctx context.Context, contractID string, ceilingHeight *uint64, cacheEnabled bool) ([]ledger.Interaction, int, bool, error) {
	return f.interactionsOut, f.newIndex, f.areThereNew, f.interactionsErr
}

// markerState is the JSON shape recordingAdapter folds into: each
// successful Apply appends its interaction's marker.
type markerState struct {
	Applied []string `json:"applied"`
}

type markerInput struct {
	Marker string `json:"marker"`
	Fail   bool   `json:"fail"`
}

// recordingAdapter is a runtime.Adapter double that decodes a marker out
// of each interaction's input and appends it to state.applied on
// success, leaving state untouched on a requested failure.
type recordingAdapter struct {
	state json.RawMessage
}

func newRecordingAdapter(ctx context.Context, source []byte, initialState json.RawMessage, info runtime.ContractInfo) (runtime.Adapter, error) {
	return &recordingAdapter{state: append(json.RawMessage(nil), initialState...)}, nil
}

func (a *recordingAdapter) Apply(ctx context.Context, call runtime.CallInput) error {
	var in markerInput
	if err := json.Unmarshal(call.Input, &in); err != nil {
		return err
	}
	if in.Fail {
		return errors.New("recordingAdapter: requested failure")
	}
	var s markerState
	json.Unmarshal(a.state, &s)
	s.Applied = append(s.Applied, in.Marker)
	encoded, err := json.Marshal(s)
	if err != nil {
		return err
	}
	a.state = encoded
	return nil
}

func (a *recordingAdapter) SnapshotState() (json.RawMessage, error) { return a.state, nil }
func (a *recordingAdapter) Close() error                            { return nil }

func markerInteraction(height uint64, blockID, txID, marker string, fail bool) ledger.Interaction {
	input, _ := json.Marshal(markerInput{Marker: marker, Fail: fail})
	return ledger.Interaction{
		TxID:        txID,
		BlockHeight: height,
		BlockID:     blockID,
		Input:       string(input),
	}
}

func newTestEngine(t *testing.T, client ledger.Client) *Engine {
	t.Helper()
	store, err := statecache.NewMemoryStore(64)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	cache := statecache.NewKVCache(store)
	e := NewWithCollaborators(client, cache, 0, nil, nil)
	e.JSFactory = newRecordingAdapter
	return e
}

func jsContract(initState string) *contract.LoadedContract {
	return &contract.LoadedContract{
		ContractType:  contract.ContractTypeJS,
		SourceBytes:   []byte("function handle(state, action) { return { state }; }"),
		InitStateJSON: []byte(initState),
		ContractTx:    contract.Transaction{ID: "contract1"},
	}
}

func TestExecuteAppliesInteractionsInCanonicalOrder(t *testing.T) {
	client := &fakeClient{
		contractOut: jsContract(`{"applied":[]}`),
		interactionsOut: []ledger.Interaction{
			markerInteraction(10, "b", "t2", "t2", false),
			markerInteraction(10, "a", "t1", "t1", false),
			markerInteraction(11, "a", "t0", "t0", false),
		},
	}
	e := newTestEngine(t, client)

	result, err := e.Execute(context.Background(), "contract1", ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var s markerState
	if err := json.Unmarshal(result.State, &s); err != nil {
		t.Fatalf("unmarshal result state: %v", err)
	}
	want := []string{"t1", "t2", "t0"}
	if len(s.Applied) != len(want) {
		t.Fatalf("applied = %v, want %v", s.Applied, want)
	}
	for i, m := range want {
		if s.Applied[i] != m {
			t.Fatalf("applied[%d] = %s, want %s (applied=%v)", i, s.Applied[i], m, s.Applied)
		}
	}
	for _, txID := range []string{"t0", "t1", "t2"} {
		if !result.Validity[txID] {
			t.Fatalf("validity[%s] = false, want true", txID)
		}
	}
}

func TestExecuteFailureIsolationPreservesStateAcrossInvalidInteraction(t *testing.T) {
	client := &fakeClient{
		contractOut: jsContract(`{"applied":[]}`),
		interactionsOut: []ledger.Interaction{
			markerInteraction(1, "b", "i1", "i1", false),
			markerInteraction(2, "b", "i2", "i2", true),
			markerInteraction(3, "b", "i3", "i3", false),
		},
	}
	e := newTestEngine(t, client)

	result, err := e.Execute(context.Background(), "contract1", ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	var s markerState
	json.Unmarshal(result.State, &s)
	if len(s.Applied) != 2 || s.Applied[0] != "i1" || s.Applied[1] != "i3" {
		t.Fatalf("applied = %v, want [i1 i3] (i2's failure must not leave a mark)", s.Applied)
	}
	want := map[string]bool{"i1": true, "i2": false, "i3": true}
	for txID, ok := range want {
		if result.Validity[txID] != ok {
			t.Fatalf("validity[%s] = %v, want %v", txID, result.Validity[txID], ok)
		}
	}
}

func TestExecuteEmptyInteractionListReturnsInitStateAndEmptyValidity(t *testing.T) {
	client := &fakeClient{contractOut: jsContract(`{"applied":[]}`)}
	e := newTestEngine(t, client)

	result, err := e.Execute(context.Background(), "contract1", ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if string(result.State) != `{"applied":[]}` {
		t.Fatalf("state = %s, want the untouched init state", result.State)
	}
	if len(result.Validity) != 0 {
		t.Fatalf("validity = %v, want empty", result.Validity)
	}
}

func TestExecuteCachedResumptionOnlyFoldsNewInteractions(t *testing.T) {
	client := &fakeClient{
		contractOut: jsContract(`{"applied":[]}`),
		interactionsOut: []ledger.Interaction{
			markerInteraction(1, "b", "i1", "i1", false),
			markerInteraction(2, "b", "i2", "i2", false),
		},
		areThereNew: true,
	}
	e := newTestEngine(t, client)

	first, err := e.Execute(context.Background(), "contract1", ExecuteOptions{CacheEnabled: true})
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	var firstState markerState
	json.Unmarshal(first.State, &firstState)
	if len(firstState.Applied) != 2 {
		t.Fatalf("first pass applied = %v, want 2 entries", firstState.Applied)
	}

	// A new interaction arrives at a later height and fails.
	client.interactionsOut = append(client.interactionsOut, markerInteraction(3, "b", "i3", "i3", true))
	client.newIndex = 2
	client.areThereNew = true

	second, err := e.Execute(context.Background(), "contract1", ExecuteOptions{CacheEnabled: true})
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	var secondState markerState
	json.Unmarshal(second.State, &secondState)
	if len(secondState.Applied) != 2 || secondState.Applied[0] != "i1" || secondState.Applied[1] != "i2" {
		t.Fatalf("second pass state = %v, want unchanged from the first pass (i3 failed)", secondState.Applied)
	}
	if !second.Validity["i1"] || !second.Validity["i2"] || second.Validity["i3"] {
		t.Fatalf("validity = %v, want {i1:true i2:true i3:false}", second.Validity)
	}
}

func TestExecuteUnsupportedContractTypePropagatesFatalError(t *testing.T) {
	client := &fakeClient{contractErr: contract.ErrUnsupportedContractType}
	e := newTestEngine(t, client)

	_, err := e.Execute(context.Background(), "contract1", ExecuteOptions{})
	if !errors.Is(err, contract.ErrUnsupportedContractType) {
		t.Fatalf("err = %v, want contract.ErrUnsupportedContractType", err)
	}
}

func TestExecuteEvmStubReturnsNullStateWithAccumulatedValidity(t *testing.T) {
	client := &fakeClient{
		contractOut: &contract.LoadedContract{
			ContractType:  contract.ContractTypeEvm,
			InitStateJSON: []byte("{}"),
			ContractTx:    contract.Transaction{ID: "contract1"},
		},
		interactionsOut: []ledger.Interaction{markerInteraction(1, "b", "i1", "i1", false)},
	}
	e := newTestEngine(t, client)

	result, err := e.Execute(context.Background(), "contract1", ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Kind != KindEvm {
		t.Fatalf("Kind = %v, want KindEvm", result.Kind)
	}
	if result.State != nil {
		t.Fatalf("State = %s, want nil (the EVM stub never produces a state)", result.State)
	}
	if len(result.Validity) != 0 {
		t.Fatalf("Validity = %v, want empty (the EVM stub never folds interactions)", result.Validity)
	}
}

// poisonedCache fails the test if FindState or CacheStates is ever
// called, letting a test assert cache_enabled=false is honored (the
// No-cache purity property, spec.md §8).
type poisonedCache struct{ t *testing.T }

func (p poisonedCache) FindState(contractID string) (statecache.CacheEntry, bool, error) {
	p.t.Fatal("FindState called with cache_enabled=false")
	return statecache.CacheEntry{}, false, nil
}

func (p poisonedCache) CacheStates(contractID string, entry statecache.CacheEntry) error {
	p.t.Fatal("CacheStates called with cache_enabled=false")
	return nil
}

func TestExecuteNeverTouchesCacheWhenDisabled(t *testing.T) {
	client := &fakeClient{
		contractOut:     jsContract(`{"applied":[]}`),
		interactionsOut: []ledger.Interaction{markerInteraction(1, "b", "i1", "i1", false)},
	}
	e := NewWithCollaborators(client, poisonedCache{t: t}, 0, nil, nil)
	e.JSFactory = newRecordingAdapter

	if _, err := e.Execute(context.Background(), "contract1", ExecuteOptions{CacheEnabled: false}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
}

func TestExecuteMalformedInitStateIsFatal(t *testing.T) {
	client := &fakeClient{contractOut: jsContract(`not json`)}
	e := newTestEngine(t, client)

	_, err := e.Execute(context.Background(), "contract1", ExecuteOptions{})
	if !errors.Is(err, contract.ErrInitStateMalformed) {
		t.Fatalf("err = %v, want contract.ErrInitStateMalformed", err)
	}
}

// blockingAdapter simulates an adapter whose Apply call itself watches
// ctx and unwinds once it's done — the contract jsvm and wasmvm now both
// honor via goja.Runtime.Interrupt / wasmtime's epoch deadline. It never
// mutates state, so a test can assert the fold treats it the same as any
// other failed interaction.
type blockingAdapter struct {
	state json.RawMessage
}

func (a *blockingAdapter) Apply(ctx context.Context, call runtime.CallInput) error {
	<-ctx.Done()
	return fmt.Errorf("%w: %v", runtime.ErrApplyTimeout, ctx.Err())
}

func (a *blockingAdapter) SnapshotState() (json.RawMessage, error) { return a.state, nil }
func (a *blockingAdapter) Close() error                            { return nil }

func TestExecutePerInteractionTimeoutMarksInteractionInvalidWithoutMutatingState(t *testing.T) {
	client := &fakeClient{
		contractOut:     jsContract(`{"applied":[]}`),
		interactionsOut: []ledger.Interaction{markerInteraction(1, "b", "slow", "slow", false)},
	}
	store, err := statecache.NewMemoryStore(64)
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	e := NewWithCollaborators(client, statecache.NewKVCache(store), 20*time.Millisecond, nil, nil)
	e.JSFactory = func(ctx context.Context, source []byte, initialState json.RawMessage, info runtime.ContractInfo) (runtime.Adapter, error) {
		return &blockingAdapter{state: append(json.RawMessage(nil), initialState...)}, nil
	}

	done := make(chan struct {
		result *ExecuteResult
		err    error
	}, 1)
	go func() {
		result, err := e.Execute(context.Background(), "contract1", ExecuteOptions{})
		done <- struct {
			result *ExecuteResult
			err    error
		}{result, err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("Execute: %v", out.err)
		}
		if out.result.Validity["slow"] {
			t.Fatal("validity[slow] = true, want false: the call never returned before the timeout")
		}
		if string(out.result.State) != `{"applied":[]}` {
			t.Fatalf("state = %s, want the untouched init state", out.result.State)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after the per-interaction timeout elapsed")
	}
}

func TestExecuteMissingOrMalformedInputTagMarksInteractionInvalid(t *testing.T) {
	client := &fakeClient{
		contractOut: jsContract(`{"applied":[]}`),
		interactionsOut: []ledger.Interaction{
			{TxID: "i1", BlockHeight: 1, BlockID: "b", Input: ""},
			{TxID: "i2", BlockHeight: 2, BlockID: "b", Input: "{not json"},
		},
	}
	e := newTestEngine(t, client)

	result, err := e.Execute(context.Background(), "contract1", ExecuteOptions{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Validity["i1"] || result.Validity["i2"] {
		t.Fatalf("validity = %v, want both false", result.Validity)
	}
}
