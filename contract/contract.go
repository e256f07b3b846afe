// Package contract classifies a ledger transaction as a contract body and
// produces a LoadedContract, the immutable input the replay engine folds
// interactions against.
package contract

import (
	"errors"
	"fmt"
)

// ContractType is the runtime family a contract's source targets.
type ContractType int

const (
	ContractTypeUnknown ContractType = iota
	ContractTypeJS
	ContractTypeWasm
	ContractTypeEvm
)

func (t ContractType) String() string {
	switch t {
	case ContractTypeJS:
		return "js"
	case ContractTypeWasm:
		return "wasm"
	case ContractTypeEvm:
		return "evm"
	default:
		return "unknown"
	}
}

// ErrUnsupportedContractType is returned when a Content-Type tag matches
// none of the known contract families.
var ErrUnsupportedContractType = errors.New("contract: unsupported content type")

// ErrInitStateMalformed is fatal: a contract's init_state_json did not
// parse as JSON. The replay engine checks for it after loading, since
// this package only carries the bytes without validating them.
var ErrInitStateMalformed = errors.New("contract: init state malformed")

// contentTypeTable maps a transaction's Content-Type tag onto a
// ContractType, per spec.
var contentTypeTable = map[string]ContractType{
	"application/javascript": ContractTypeJS,
	"application/typescript": ContractTypeJS,
	"application/wasm":       ContractTypeWasm,
}

// evmMarkerTag is the tag spec.md §4.2's "application/octet-stream with
// marker" row refers to: an application/octet-stream body only
// classifies as Evm when this tag is present and equal to
// evmOctetStreamMarker. An octet-stream body without it matches no row
// in the table and is ErrUnsupportedContractType, same as any other
// unrecognized Content-Type.
const evmMarkerTag = "Contract-Type"

// evmOctetStreamMarker is the marker value that, combined with
// application/octet-stream, classifies a contract as an (unsupported,
// stubbed) EVM contract.
const evmOctetStreamMarker = "evm"

// Transaction is the subset of ledger transaction metadata the loader
// needs: its tags and, for contracts referencing an external source
// transaction, the Contract-Src indirection.
type Transaction struct {
	ID   string
	Tags []Tag
}

// Tag is a single (name, value) transaction tag. Tag lookups in this
// package are case-sensitive and take the first match, matching the
// ledger's own tag semantics.
type Tag struct {
	Name  string
	Value string
}

// TagValue returns the value of the first tag named name, and whether it
// was present.
func TagValue(tags []Tag, name string) (string, bool) {
	for _, t := range tags {
		if t.Name == name {
			return t.Value, true
		}
	}
	return "", false
}

// LoadedContract is the immutable result of loading a contract
// transaction: its classified type, its source bytes, its initial state
// and the transaction metadata exposed to the runtime as ContractInfo.
type LoadedContract struct {
	ContractType      ContractType
	SourceBytes       []byte
	InitStateJSON     []byte
	ContractTx        Transaction
	HasMultipleTarget bool // true when the transaction carries >1 "Contract" tag
}

// Source is the union of data the loader needs to classify and assemble a
// LoadedContract: the contract transaction's metadata, its body (or the
// body of the transaction it references via Contract-Src) and its
// initial state body.
type Source struct {
	ContractTx          Transaction
	Body                []byte
	InitState           []byte
	ContentTypeOverride string
	SourceOverride      []byte
}

// Load classifies src.ContractTx and assembles a LoadedContract. The
// Contract-Src indirection (src.SourceOverride, already resolved by the
// caller from src.ContractTx's Contract-Src tag) is substituted for
// src.Body when present.
func Load(src Source) (*LoadedContract, error) {
	contentType := src.ContentTypeOverride
	if contentType == "" {
		var ok bool
		contentType, ok = TagValue(src.ContractTx.Tags, "Content-Type")
		if !ok {
			return nil, fmt.Errorf("contract %s: %w: no Content-Type tag", src.ContractTx.ID, ErrUnsupportedContractType)
		}
	}

	ctype, err := classify(contentType, src.ContractTx.Tags)
	if err != nil {
		return nil, fmt.Errorf("contract %s: %w", src.ContractTx.ID, err)
	}

	body := src.Body
	if len(src.SourceOverride) > 0 {
		body = src.SourceOverride
	}

	return &LoadedContract{
		ContractType:      ctype,
		SourceBytes:       body,
		InitStateJSON:     src.InitState,
		ContractTx:        src.ContractTx,
		HasMultipleTarget: HasMultipleContractTags(src.ContractTx.Tags),
	}, nil
}

func classify(contentType string, tags []Tag) (ContractType, error) {
	if t, ok := contentTypeTable[contentType]; ok {
		return t, nil
	}
	if contentType == "application/octet-stream" {
		if v, ok := TagValue(tags, evmMarkerTag); ok && v == evmOctetStreamMarker {
			// EVM contracts are only detected, never executed: §9 "EVM" stub.
			return ContractTypeEvm, nil
		}
	}
	return ContractTypeUnknown, ErrUnsupportedContractType
}

// HasMultipleContractTags reports whether more than one "Contract" tag is
// present, meaning the transaction targets multiple contracts at once.
// Detection only: which contract dispatches the interaction is decided
// upstream of this engine.
func HasMultipleContractTags(tags []Tag) bool {
	count := 0
	for _, t := range tags {
		if t.Name == "Contract" {
			count++
			if count > 1 {
				return true
			}
		}
	}
	return false
}
