package sample

import (
	"slices"
	"strconv"
	"testing"
)

func ints(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestPick_ExcludesAndTruncates(t *testing.T) {
	r := NewRand(7)
	items := []int{1, 2, 3, 4, 5}

	for range 50 {
		got := Pick(r, items, 2, func(i int) bool { return i == 3 })
		if len(got) != 2 {
			t.Fatalf("len = %d, want 2", len(got))
		}
		for _, g := range got {
			if g == 3 {
				t.Fatalf("excluded item returned: %v", got)
			}
			if !slices.Contains(items, g) {
				t.Fatalf("item %d not in input", g)
			}
		}
		if got[0] == got[1] {
			t.Fatalf("duplicate item: %v", got)
		}
	}
}

func TestPick_Lengths(t *testing.T) {
	tests := []struct {
		name    string
		n       int
		count   int
		exclude func(int) bool
		want    int
	}{
		{"count below size", 10, 6, nil, 6},
		{"count above size", 3, 6, nil, 3},
		{"count zero", 5, 0, nil, 0},
		{"all", 5, All, nil, 5},
		{"all with exclusion", 5, All, func(i int) bool { return i%2 == 0 }, 3},
		{"empty input", 0, 4, nil, 0},
		{"everything excluded", 3, 2, func(int) bool { return true }, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Pick(NewRand(1), ints(tt.n), tt.count, tt.exclude)
			if len(got) != tt.want {
				t.Fatalf("len = %d, want %d", len(got), tt.want)
			}
			if got == nil {
				t.Fatal("Pick should return an empty slice, not nil")
			}
		})
	}
}

func TestPick_DoesNotMutateInput(t *testing.T) {
	items := ints(20)
	orig := slices.Clone(items)

	got := Pick(NewRand(3), items, 5, nil)
	got[0] = -1

	if !slices.Equal(items, orig) {
		t.Fatalf("input mutated: %v", items)
	}
}

func TestPick_IsAPermutationWhenUnbounded(t *testing.T) {
	items := ints(8)
	got := Pick(NewRand(11), items, All, nil)
	slices.Sort(got)
	if !slices.Equal(got, items) {
		t.Fatalf("Pick(All) = %v, want a permutation of %v", got, items)
	}
}

func TestPick_UniformFirstPosition(t *testing.T) {
	// every item should lead the shuffle roughly equally often
	const trials = 20000
	r := NewRand(99)
	counts := make(map[int]int)
	for range trials {
		counts[Pick(r, []int{1, 2, 3, 4}, 1, nil)[0]]++
	}
	for k := 1; k <= 4; k++ {
		if c := counts[k]; c < trials/4-600 || c > trials/4+600 {
			t.Fatalf("item %d picked %d times of %d, distribution looks biased: %v", k, c, trials, counts)
		}
	}
}

func TestPick_SameSeedSameResult(t *testing.T) {
	a := Pick(NewRand(42), ints(30), 5, nil)
	b := Pick(NewRand(42), ints(30), 5, nil)
	if !slices.Equal(a, b) {
		t.Fatalf("seeded picks differ: %v vs %v", a, b)
	}
}

func TestExcludeKeys(t *testing.T) {
	key := func(i int) string { return strconv.Itoa(i) }

	if ExcludeKeys(key) != nil {
		t.Fatal("no keys should yield a nil predicate")
	}
	ex := ExcludeKeys(key, "2", "4")
	got := Pick(NewRand(5), ints(5), All, ex)
	slices.Sort(got)
	if !slices.Equal(got, []int{1, 3, 5}) {
		t.Fatalf("got %v", got)
	}
}
