package ledger

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smartweave-go/replay/contract"
)

func newTestGateway(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()

	mux.HandleFunc("/tx/contract1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(txMetaResponse{
			ID: "contract1",
			Tags: []gqlTag{
				{Name: "Content-Type", Value: "application/javascript"},
				{Name: "Init-State", Value: `{"counter":0}`},
			},
		})
	})
	mux.HandleFunc("/contract1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`export function handle(state, action) { return state }`))
	})
	mux.HandleFunc("/graphql", func(w http.ResponseWriter, r *http.Request) {
		var resp graphQLResponse
		resp.Data.Transactions.Edges = []gqlEdge{
			{Node: gqlNode{
				ID:    "tx1",
				Owner: struct {
					Address string `json:"address"`
				}{Address: "addr1"},
				Tags: []gqlTag{{Name: "Input", Value: `{"function":"increment"}`}},
				Block: struct {
					Height    uint64 `json:"height"`
					ID        string `json:"id"`
					Timestamp int64  `json:"timestamp"`
				}{Height: 10, ID: "b1", Timestamp: 1},
			}},
			{Node: gqlNode{
				ID:    "tx2",
				Owner: struct {
					Address string `json:"address"`
				}{Address: "addr2"},
				Tags: []gqlTag{{Name: "Input", Value: `{"function":"increment"}`}},
				Block: struct {
					Height    uint64 `json:"height"`
					ID        string `json:"id"`
					Timestamp int64  `json:"timestamp"`
				}{Height: 11, ID: "b2", Timestamp: 2},
			}},
		}
		json.NewEncoder(w).Encode(resp)
	})

	return httptest.NewServer(mux)
}

func TestFetchContractResolvesTypeAndInitState(t *testing.T) {
	srv := newTestGateway(t)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, srv.Client(), nil)
	lc, err := c.FetchContract(context.Background(), "contract1", nil, nil, false)
	if err != nil {
		t.Fatalf("FetchContract: %v", err)
	}
	if lc.ContractType != contract.ContractTypeJS {
		t.Fatalf("ContractType = %v, want JS", lc.ContractType)
	}
	if string(lc.InitStateJSON) != `{"counter":0}` {
		t.Fatalf("InitStateJSON = %s", lc.InitStateJSON)
	}
}

func TestFetchInteractionsColdMemoMarksEverythingNew(t *testing.T) {
	srv := newTestGateway(t)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, srv.Client(), nil)
	interactions, newIndex, hasNew, err := c.FetchInteractions(context.Background(), "contract1", nil, true)
	if err != nil {
		t.Fatalf("FetchInteractions: %v", err)
	}
	if len(interactions) != 2 {
		t.Fatalf("len(interactions) = %d, want 2", len(interactions))
	}
	if newIndex != 0 || !hasNew {
		t.Fatalf("newIndex=%d hasNew=%v, want 0,true on cold memo", newIndex, hasNew)
	}
	if interactions[0].Input != `{"function":"increment"}` {
		t.Fatalf("Input = %q", interactions[0].Input)
	}
}

func TestFetchInteractionsWarmMemoFindsSuffix(t *testing.T) {
	srv := newTestGateway(t)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, srv.Client(), nil)
	// Prime the memo.
	if _, _, _, err := c.FetchInteractions(context.Background(), "contract1", nil, true); err != nil {
		t.Fatalf("priming FetchInteractions: %v", err)
	}
	// Same gateway response (no new interactions appeared).
	_, newIndex, hasNew, err := c.FetchInteractions(context.Background(), "contract1", nil, true)
	if err != nil {
		t.Fatalf("FetchInteractions: %v", err)
	}
	if newIndex != 2 || hasNew {
		t.Fatalf("newIndex=%d hasNew=%v, want 2,false once the whole list is memoized", newIndex, hasNew)
	}
}

func TestFetchInteractionsCacheDisabledAlwaysReportsNew(t *testing.T) {
	srv := newTestGateway(t)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, srv.Client(), nil)
	c.(*httpClient).memo.Add("contract1", []string{"tx1", "tx2"})

	_, newIndex, hasNew, err := c.FetchInteractions(context.Background(), "contract1", nil, false)
	if err != nil {
		t.Fatalf("FetchInteractions: %v", err)
	}
	if newIndex != 0 || !hasNew {
		t.Fatalf("newIndex=%d hasNew=%v, want 0,true when caching disabled", newIndex, hasNew)
	}
}

func TestFetchContractWithSourceOverride(t *testing.T) {
	srv := newTestGateway(t)
	defer srv.Close()

	c := NewHTTPClient(srv.URL, srv.Client(), nil)
	lc, err := c.FetchContract(context.Background(), "contract1", []byte("override source"), nil, false)
	if err != nil {
		t.Fatalf("FetchContract: %v", err)
	}
	if string(lc.SourceBytes) != "override source" {
		t.Fatalf("SourceBytes = %q, want override", lc.SourceBytes)
	}
}
