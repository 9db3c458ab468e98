// Package sample picks random subsets of content for "related" listings.
package sample

import (
	"math/rand/v2"
)

// All as a count means "no limit": every non-excluded item is returned.
const All = -1

// Pick returns up to count items from items, in uniformly random order,
// skipping any item for which exclude returns true. A negative count returns
// every remaining item. items is never modified and the result never shares
// its backing array.
func Pick[T any](r *rand.Rand, items []T, count int, exclude func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, it := range items {
		if exclude != nil && exclude(it) {
			continue
		}
		out = append(out, it)
	}

	r.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })

	if count >= 0 && count < len(out) {
		out = out[:count:count]
	}
	return out
}

// ExcludeKeys builds an exclude predicate that drops items whose key is in keys.
func ExcludeKeys[T any](key func(T) string, keys ...string) func(T) bool {
	if len(keys) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return func(it T) bool {
		_, ok := set[key(it)]
		return ok
	}
}

// NewRand returns a generator seeded with seed, or from the runtime's
// entropy source when seed is 0. A fixed seed makes builds reproducible.
func NewRand(seed int64) *rand.Rand {
	if seed == 0 {
		return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return rand.New(rand.NewPCG(uint64(seed), uint64(seed)))
}
