package datasets

import (
	"reflect"
	"slices"
	"testing"
)

// The expected permutations are those of Python's
// random.seed(seed); random.shuffle(list(range(n))).
func TestPermutation_MatchesReferenceShuffle(t *testing.T) {
	cases := []struct {
		n    int
		seed int64
		want []int
	}{
		{10, 42, []int{7, 3, 2, 8, 5, 6, 9, 4, 0, 1}},
		{10, 7, []int{8, 3, 1, 4, 7, 0, 9, 6, 2, 5}},
		{10, 0, []int{7, 8, 1, 5, 3, 4, 2, 0, 9, 6}},
		{10, 1<<40 + 5, []int{1, 2, 3, 6, 7, 0, 5, 4, 9, 8}},
		{5, -3, []int{0, 2, 3, 4, 1}},
	}
	for _, c := range cases {
		got := Permutation(c.n, c.seed)
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("Permutation(%d, %d) = %v, want %v", c.n, c.seed, got, c.want)
		}
	}

	got := Permutation(100, 42)[:12]
	want := []int{42, 41, 91, 9, 65, 50, 1, 70, 15, 78, 73, 10}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Permutation(100, 42)[:12] = %v, want %v", got, want)
	}
}

func TestPermutation_SmallInputs(t *testing.T) {
	if got := Permutation(0, 42); len(got) != 0 {
		t.Fatalf("expected empty permutation, got %v", got)
	}
	if got := Permutation(1, 42); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("expected [0], got %v", got)
	}
}

func TestSplitIndices_SizesAndCover(t *testing.T) {
	for _, n := range []int{0, 1, 2, 5, 10, 99, 250} {
		for _, r := range []float64{0, 0.1, 0.2, 0.5, 0.99, 1} {
			train, val := SplitIndices(n, r, 123)
			wantVal := int(float64(n) * r)
			if len(val) != wantVal || len(train) != n-wantVal {
				t.Fatalf("n=%d r=%g: got %d/%d, want %d/%d", n, r, len(train), len(val), n-wantVal, wantVal)
			}
			all := append(slices.Clone(train), val...)
			slices.Sort(all)
			for i, v := range all {
				if v != i {
					t.Fatalf("n=%d r=%g: indices are not a permutation of 0..n-1: %v", n, r, all)
				}
			}
		}
	}
}

func TestSplitIndices_EdgeRatios(t *testing.T) {
	train, val := SplitIndices(10, 0, 42)
	if len(train) != 10 || len(val) != 0 {
		t.Fatalf("val_ratio=0 should keep everything for training, got %d/%d", len(train), len(val))
	}
	train, val = SplitIndices(10, 1, 42)
	if len(train) != 0 || len(val) != 10 {
		t.Fatalf("val_ratio=1 should move everything to validation, got %d/%d", len(train), len(val))
	}
	// A single example always stays in training for any ratio below 1.
	train, val = SplitIndices(1, 0.5, 42)
	if len(train) != 1 || len(val) != 0 {
		t.Fatalf("n=1 should train on its only example, got %d/%d", len(train), len(val))
	}
}

func TestTrainValSplit_Deterministic(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"}
	labels := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	s1 := TrainValSplit(texts, labels, 0.2, 42)
	s2 := TrainValSplit(texts, labels, 0.2, 42)
	if !reflect.DeepEqual(s1, s2) {
		t.Fatalf("same seed produced different splits")
	}
	// Permutation(10, 42) = [7 3 2 8 5 6 9 4 0 1]: the last two go to validation.
	if !reflect.DeepEqual(s1.ValTexts, []string{"a", "b"}) || !reflect.DeepEqual(s1.ValLabels, []int{0, 1}) {
		t.Fatalf("unexpected validation partition: %v %v", s1.ValTexts, s1.ValLabels)
	}
	if !reflect.DeepEqual(s1.TrainTexts, []string{"h", "d", "c", "i", "f", "g", "j", "e"}) {
		t.Fatalf("unexpected train partition: %v", s1.TrainTexts)
	}
	for i, text := range s1.TrainTexts {
		if int(text[0]-'a') != s1.TrainLabels[i] {
			t.Fatalf("text/label pairing broken at %d: %q -> %d", i, text, s1.TrainLabels[i])
		}
	}

	s3 := TrainValSplit(texts, labels, 0.2, 43)
	if reflect.DeepEqual(s1.TrainTexts, s3.TrainTexts) {
		t.Fatalf("different seeds produced identical orders")
	}
}

func TestLabelHelpers(t *testing.T) {
	labels := []int{2, 0, 2, 1, 0, 2}
	if got := LabelSet(labels); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("LabelSet = %v", got)
	}
	if !reflect.DeepEqual(labels, []int{2, 0, 2, 1, 0, 2}) {
		t.Fatalf("LabelSet modified its input")
	}
	s := &Split{TrainLabels: []int{1, 1, 3}, ValLabels: []int{0, 2}}
	if got := NumLabels(s); got != 2 {
		t.Fatalf("NumLabels counts training labels only, got %d", got)
	}
	counts := LabelCounts(labels)
	if counts[2] != 3 || counts[0] != 2 || counts[1] != 1 {
		t.Fatalf("LabelCounts = %v", counts)
	}
}

func TestDescribe(t *testing.T) {
	p := Describe("train", []string{"ab", "abcd", "héllo"}, []int{0, 1, 1})
	if p.Examples != 3 || p.MinLen != 2 || p.MaxLen != 5 {
		t.Fatalf("unexpected profile: %+v", p)
	}
	if p.LabelCounts[1] != 2 {
		t.Fatalf("unexpected label counts: %v", p.LabelCounts)
	}
	empty := Describe("val", nil, nil)
	if empty.Examples != 0 || empty.String() != "val: 0 examples" {
		t.Fatalf("unexpected empty profile: %q", empty.String())
	}
}
