package graphqlapi

import (
	"sort"

	"github.com/smartweave-go/replay/statecache"
)

// Resolver is the GraphQL root resolver, a thin read-only view over a
// StateCache.
type Resolver struct {
	cache statecache.StateCache
}

// NewResolver builds a Resolver over cache.
func NewResolver(cache statecache.StateCache) *Resolver {
	return &Resolver{cache: cache}
}

type cacheEntryArgs struct {
	ContractId string
}

// CacheEntry resolves the `cacheEntry` query field. It returns nil
// (a null CacheEntry) when nothing is cached for the given contract.
func (r *Resolver) CacheEntry(args cacheEntryArgs) (*cacheEntryResolver, error) {
	entry, found, err := r.cache.FindState(args.ContractId)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &cacheEntryResolver{contractID: args.ContractId, entry: entry}, nil
}

type cacheEntryResolver struct {
	contractID string
	entry      statecache.CacheEntry
}

func (c *cacheEntryResolver) ContractId() string { return c.contractID }
func (c *cacheEntryResolver) State() string       { return string(c.entry.State) }
func (c *cacheEntryResolver) LastProcessedIndex() int32 {
	return int32(c.entry.LastProcessedIndex)
}

// Validity returns the cache's validity table as a sorted list of
// entries, sorted so the response is deterministic across calls.
func (c *cacheEntryResolver) Validity() []*validityEntryResolver {
	out := make([]*validityEntryResolver, 0, len(c.entry.Validity))
	for txID, ok := range c.entry.Validity {
		out = append(out, &validityEntryResolver{txID: txID, valid: ok})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].txID < out[j].txID })
	return out
}

type validityEntryResolver struct {
	txID  string
	valid bool
}

func (v *validityEntryResolver) TxId() string { return v.txID }
func (v *validityEntryResolver) Valid() bool  { return v.valid }
