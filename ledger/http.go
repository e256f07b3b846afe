package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/smartweave-go/replay/contract"
	"github.com/smartweave-go/replay/log"
)

// Tag names the loader and the interaction fold consult.
const (
	tagContentType = "Content-Type"
	tagContractSrc = "Contract-Src"
	tagInitState   = "Init-State"
	tagInitStateTX = "Init-State-TX"
)

// memoCapacity bounds how many contracts' interaction-id histories the
// client remembers for new_interaction_index computation.
const memoCapacity = 256

// httpClient is the production Client: a gateway answering
// GET /{tx_id}, GET /tx/{tx_id} and POST /graphql, per spec.md §6.
type httpClient struct {
	baseURL string
	hc      *http.Client
	log     log.Logger

	memo *lru.Cache // contractID -> []string, the tx ids returned by the last FetchInteractions call

	rawMu    sync.Mutex
	rawCache map[string][]byte // tx id -> body, used only when cacheEnabled
}

// NewHTTPClient constructs a Client talking to the ledger gateway at
// baseURL (e.g. "https://arweave.net").
func NewHTTPClient(baseURL string, hc *http.Client, logger log.Logger) Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = log.Root()
	}
	memo, _ := lru.New(memoCapacity)
	return &httpClient{
		baseURL:  baseURL,
		hc:       hc,
		log:      logger,
		memo:     memo,
		rawCache: make(map[string][]byte),
	}
}

type txMetaResponse struct {
	ID   string   `json:"id"`
	Tags []gqlTag `json:"tags"`
}

func (c *httpClient) get(ctx context.Context, path string, cacheEnabled bool) ([]byte, error) {
	if cacheEnabled {
		c.rawMu.Lock()
		if v, ok := c.rawCache[path]; ok {
			c.rawMu.Unlock()
			return v, nil
		}
		c.rawMu.Unlock()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request for %s: %v", ErrFetch, path, err)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrFetch, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", ErrFetch, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", ErrFetch, path, resp.StatusCode)
	}

	if cacheEnabled {
		c.rawMu.Lock()
		c.rawCache[path] = body
		c.rawMu.Unlock()
	}
	return body, nil
}

func (c *httpClient) FetchContract(ctx context.Context, contractID string, srcOverride []byte, contentTypeOverride *string, cacheEnabled bool) (*contract.LoadedContract, error) {
	metaRaw, err := c.get(ctx, "/tx/"+contractID, cacheEnabled)
	if err != nil {
		return nil, err
	}
	var meta txMetaResponse
	if err := json.Unmarshal(metaRaw, &meta); err != nil {
		return nil, fmt.Errorf("%w: decoding tx metadata for %s: %v", ErrFetch, contractID, err)
	}

	tags := make([]contract.Tag, len(meta.Tags))
	for i, t := range meta.Tags {
		tags[i] = contract.Tag{Name: t.Name, Value: t.Value}
	}
	tx := contract.Transaction{ID: contractID, Tags: tags}

	body := srcOverride
	if body == nil {
		srcTxID, hasOverrideTag := contract.TagValue(tags, tagContractSrc)
		fetchFrom := contractID
		if hasOverrideTag {
			fetchFrom = srcTxID
		}
		body, err = c.get(ctx, "/"+fetchFrom, cacheEnabled)
		if err != nil {
			return nil, err
		}
	}

	initState, err := c.resolveInitState(ctx, tags, cacheEnabled)
	if err != nil {
		return nil, err
	}

	var ctOverride string
	if contentTypeOverride != nil {
		ctOverride = *contentTypeOverride
	}

	c.log.Debug("fetched contract", "contract_id", contractID, "src_bytes", len(body), "init_state_bytes", len(initState))

	return contract.Load(contract.Source{
		ContractTx:          tx,
		Body:                body,
		InitState:           initState,
		ContentTypeOverride: ctOverride,
	})
}

func (c *httpClient) resolveInitState(ctx context.Context, tags []contract.Tag, cacheEnabled bool) ([]byte, error) {
	if v, ok := contract.TagValue(tags, tagInitState); ok {
		return []byte(v), nil
	}
	if txID, ok := contract.TagValue(tags, tagInitStateTX); ok {
		return c.get(ctx, "/"+txID, cacheEnabled)
	}
	return []byte("{}"), nil
}

func (c *httpClient) FetchInteractions(ctx context.Context, contractID string, ceilingHeight *uint64, cacheEnabled bool) ([]Interaction, int, bool, error) {
	variables := map[string]any{"contract": contractID}
	if ceilingHeight != nil {
		variables["maxHeight"] = *ceilingHeight
	}
	reqBody, err := json.Marshal(graphQLRequest{Query: interactionsQuery, Variables: variables})
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: encoding graphql request: %v", ErrFetch, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/graphql", bytes.NewReader(reqBody))
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: building graphql request: %v", ErrFetch, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: graphql request for %s: %v", ErrFetch, contractID, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, false, fmt.Errorf("%w: reading graphql response: %v", ErrFetch, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, 0, false, fmt.Errorf("%w: graphql endpoint returned status %d", ErrFetch, resp.StatusCode)
	}

	var gqlResp graphQLResponse
	if err := json.Unmarshal(raw, &gqlResp); err != nil {
		return nil, 0, false, fmt.Errorf("%w: decoding graphql response: %v", ErrFetch, err)
	}
	if len(gqlResp.Errors) > 0 {
		return nil, 0, false, fmt.Errorf("%w: graphql errors: %s", ErrFetch, gqlResp.Errors[0].Message)
	}

	interactions := make([]Interaction, 0, len(gqlResp.Data.Transactions.Edges))
	for _, edge := range gqlResp.Data.Transactions.Edges {
		tags := make([]contract.Tag, len(edge.Node.Tags))
		for i, t := range edge.Node.Tags {
			tags[i] = contract.Tag{Name: t.Name, Value: t.Value}
		}
		interactions = append(interactions, Interaction{
			TxID:           edge.Node.ID,
			OwnerAddress:   edge.Node.Owner.Address,
			BlockHeight:    edge.Node.Block.Height,
			BlockID:        edge.Node.Block.ID,
			BlockTimestamp: edge.Node.Block.Timestamp,
			Tags:           tags,
			Input:          inputFromTags(tags),
		})
	}

	newIndex, hasNew := c.diffAgainstMemo(contractID, interactions, cacheEnabled)
	c.log.Debug("fetched interactions", "contract_id", contractID, "count", len(interactions), "new_index", newIndex, "height_ceiling", ceilingFor(ceilingHeight))
	return interactions, newIndex, hasNew, nil
}

// diffAgainstMemo computes new_interaction_index by comparing the tx-id
// order of this fetch against the memoized order from the client's last
// FetchInteractions call for the same contract, per spec.md §4.1. On a
// cold memo the entire list is "new".
func (c *httpClient) diffAgainstMemo(contractID string, interactions []Interaction, cacheEnabled bool) (int, bool) {
	ids := make([]string, len(interactions))
	for i, in := range interactions {
		ids[i] = in.TxID
	}

	if !cacheEnabled {
		return 0, len(ids) > 0
	}

	newIndex := 0
	if v, ok := c.memo.Get(contractID); ok {
		prev := v.([]string)
		if commonPrefixMatches(prev, ids) && len(ids) >= len(prev) {
			newIndex = len(prev)
		}
	}
	c.memo.Add(contractID, ids)
	return newIndex, newIndex < len(ids)
}

func commonPrefixMatches(prev, next []string) bool {
	if len(next) < len(prev) {
		return false
	}
	for i, id := range prev {
		if next[i] != id {
			return false
		}
	}
	return true
}

func ceilingFor(h *uint64) string {
	if h == nil {
		return "none"
	}
	return strconv.FormatUint(*h, 10)
}
