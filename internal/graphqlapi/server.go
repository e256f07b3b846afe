// Package graphqlapi is an optional, read-only diagnostics server over a
// replay Engine's StateCache, built with graph-gophers/graphql-go. It is
// ambient enrichment, not a requirement of the core replay algorithm —
// the engine never depends on this package.
package graphqlapi

import (
	"fmt"
	"net/http"

	graphql "github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"

	"github.com/smartweave-go/replay/statecache"
)

// NewHandler parses the diagnostics schema against cache and returns the
// resulting GraphQL HTTP handler (POST /graphql).
func NewHandler(cache statecache.StateCache) (http.Handler, error) {
	parsed, err := graphql.ParseSchema(schema, NewResolver(cache))
	if err != nil {
		return nil, fmt.Errorf("graphqlapi: parsing schema: %w", err)
	}
	return &relay.Handler{Schema: parsed}, nil
}
