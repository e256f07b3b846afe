package graphqlapi

// schema is a read-only diagnostics surface over a replay's StateCache:
// it lets an operator see what's cached for a contract without adding a
// mutation field, since the cache is only ever written by an Engine's
// own Execute fold.
const schema = `
schema {
	query: Query
}

type Query {
	cacheEntry(contractId: String!): CacheEntry
}

type CacheEntry {
	contractId: String!
	state: String!
	validity: [ValidityEntry!]!
	lastProcessedIndex: Int!
}

type ValidityEntry {
	txId: String!
	valid: Boolean!
}
`
