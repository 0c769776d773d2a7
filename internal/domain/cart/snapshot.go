package cart

import (
	"slices"

	"github.com/xenking/birdfarm-cart/internal/domain/catalog"
)

// Snapshot is an immutable view of the cart's contents.
// Callers must not modify the slices.
type Snapshot struct {
	Birds []string
	Nests []string
}

// IsEmpty reports whether both collections are empty.
func (s Snapshot) IsEmpty() bool {
	return len(s.Birds) == 0 && len(s.Nests) == 0
}

// Len returns the number of referenced products.
func (s Snapshot) Len() int {
	return len(s.Birds) + len(s.Nests)
}

// Equal reports whether s and o hold the same ids in the same order.
func (s Snapshot) Equal(o Snapshot) bool {
	return slices.Equal(s.Birds, o.Birds) && slices.Equal(s.Nests, o.Nests)
}

// References lists all entries, birds first, in cart order.
func (s Snapshot) References() []catalog.Reference {
	refs := make([]catalog.Reference, 0, s.Len())
	for _, id := range s.Birds {
		refs = append(refs, catalog.Reference{Kind: catalog.KindBird, ID: id})
	}
	for _, id := range s.Nests {
		refs = append(refs, catalog.Reference{Kind: catalog.KindNest, ID: id})
	}
	return refs
}

func (s Snapshot) clone() Snapshot {
	return Snapshot{
		Birds: slices.Clone(nonNil(s.Birds)),
		Nests: slices.Clone(nonNil(s.Nests)),
	}
}

// normalize drops empty and repeated ids, keeping first occurrences.
func (s Snapshot) normalize() Snapshot {
	return Snapshot{Birds: dedupe(s.Birds), Nests: dedupe(s.Nests)}
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
