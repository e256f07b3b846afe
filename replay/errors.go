package replay

import "errors"

// ErrInteractionDecode marks an interaction whose Input tag failed to
// parse as JSON. It is never returned from Execute — InteractionDecode is
// interaction-local per spec.md §7, so this sentinel only labels what
// applyOne logs; the table entry it produces is recorded as false.
var ErrInteractionDecode = errors.New("replay: interaction input decode failed")
