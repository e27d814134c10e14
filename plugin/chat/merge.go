package chat

import (
	"slices"
	"strings"

	"github.com/hrygo/concierge/store"
)

// MergeMessages unions existing and incoming by id, incoming winning, and
// returns the result ordered by creation time with ties broken by id.
// Merging the same input again yields the same list.
func MergeMessages(existing, incoming []*store.Message) []*store.Message {
	byID := make(map[string]*store.Message, len(existing)+len(incoming))
	for _, m := range existing {
		if m != nil {
			byID[m.ID] = m
		}
	}
	for _, m := range incoming {
		if m != nil {
			byID[m.ID] = m
		}
	}

	merged := make([]*store.Message, 0, len(byID))
	for _, m := range byID {
		merged = append(merged, m)
	}
	slices.SortFunc(merged, func(a, b *store.Message) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return merged
}
