// Package ledger is the replay engine's sole network-facing dependency:
// a client over the content-addressed ledger that serves contract
// bodies, transaction metadata and GraphQL interaction listings. Per
// spec.md §4.1 it is specified only by interface — the engine never
// reaches for net/http directly.
package ledger

import (
	"context"
	"errors"

	"github.com/smartweave-go/replay/contract"
)

// ErrFetch wraps any transport or decode failure. It is fatal to the
// replay that triggered it.
var ErrFetch = errors.New("ledger: fetch failed")

// Interaction is a single ledger transaction targeting a contract.
type Interaction struct {
	TxID           string
	OwnerAddress   string
	BlockHeight    uint64
	BlockID        string
	BlockTimestamp int64
	Tags           []contract.Tag
	// Input is the value of the first "Input" tag, or "" if absent.
	Input string
}

// Client is the capability the replay engine depends on.
type Client interface {
	// FetchContract loads a contract transaction and resolves it into a
	// LoadedContract. srcOverride, when non-nil, replaces the contract's
	// source bytes entirely (skipping any Contract-Src indirection).
	// contentTypeOverride, when non-nil, replaces the Content-Type tag
	// lookup.
	FetchContract(ctx context.Context, contractID string, srcOverride []byte, contentTypeOverride *string, cacheEnabled bool) (*contract.LoadedContract, error)

	// FetchInteractions returns a contract's interactions (unsorted: the
	// engine is responsible for canonical ordering), the index into that
	// slice at which interactions unseen by the client's last fetch
	// begin, and whether that suffix is non-empty. ceilingHeight, when
	// non-nil, bounds the query to interactions at or below that height.
	FetchInteractions(ctx context.Context, contractID string, ceilingHeight *uint64, cacheEnabled bool) (interactions []Interaction, newInteractionIndex int, areThereNewInteractions bool, err error)
}

// InputTag is the transaction tag carrying a JSON-encoded action payload.
const InputTag = "Input"

// inputFromTags extracts the Input tag value, or "" if absent, per
// spec.md §9 ("reads the Input tag name literally ... case-sensitively
// and take the first match").
func inputFromTags(tags []contract.Tag) string {
	v, _ := contract.TagValue(tags, InputTag)
	return v
}
