package datasets

import (
	"math"
	"math/bits"

	"gonum.org/v1/gonum/mathext/prng"
)

// Split holds the train and validation partitions as parallel slices.
type Split struct {
	TrainTexts  []string
	TrainLabels []int
	ValTexts    []string
	ValLabels   []int
}

// NumTrain returns the number of training examples.
func (s *Split) NumTrain() int { return len(s.TrainTexts) }

// NumVal returns the number of validation examples.
func (s *Split) NumVal() int { return len(s.ValTexts) }

// Permutation returns a seeded shuffle of 0..n-1.
//
// The generator is MT19937 keyed with the 32-bit words of |seed|, and the
// shuffle walks from the last index down drawing rejection-sampled bounded
// integers. This reproduces Python's random.seed(seed); random.shuffle(x)
// exactly, so a seed selects the same partition in both ecosystems.
func Permutation(n int, seed int64) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	if n < 2 {
		return perm
	}

	src := newSeededSource(seed)
	for i := n - 1; i > 0; i-- {
		j := src.below(uint64(i + 1))
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm
}

// SplitIndices partitions 0..n-1 into train and validation index sets.
// The validation set takes floor(n*valRatio) entries from the tail of the
// seeded permutation, so rounding always favors the training side.
func SplitIndices(n int, valRatio float64, seed int64) (train, val []int) {
	perm := Permutation(n, seed)
	nVal := int(math.Floor(float64(n) * valRatio))
	if nVal < 0 {
		nVal = 0
	}
	if nVal > n {
		nVal = n
	}
	cut := n - nVal
	return perm[:cut], perm[cut:]
}

// TrainValSplit partitions parallel text/label slices with SplitIndices.
// Both partitions keep permutation order.
func TrainValSplit(texts []string, labels []int, valRatio float64, seed int64) *Split {
	trainIdx, valIdx := SplitIndices(len(texts), valRatio, seed)
	s := &Split{
		TrainTexts:  make([]string, 0, len(trainIdx)),
		TrainLabels: make([]int, 0, len(trainIdx)),
		ValTexts:    make([]string, 0, len(valIdx)),
		ValLabels:   make([]int, 0, len(valIdx)),
	}
	for _, i := range trainIdx {
		s.TrainTexts = append(s.TrainTexts, texts[i])
		s.TrainLabels = append(s.TrainLabels, labels[i])
	}
	for _, i := range valIdx {
		s.ValTexts = append(s.ValTexts, texts[i])
		s.ValLabels = append(s.ValLabels, labels[i])
	}
	return s
}

type seededSource struct {
	mt *prng.MT19937
}

func newSeededSource(seed int64) *seededSource {
	mag := uint64(seed)
	if seed < 0 {
		mag = -mag
	}
	keys := []uint32{uint32(mag)}
	if hi := uint32(mag >> 32); hi != 0 {
		keys = append(keys, hi)
	}
	mt := prng.NewMT19937()
	mt.SeedFromKeys(keys)
	return &seededSource{mt: mt}
}

// bitsOf returns k random bits, assembled from 32-bit outputs little end first.
func (s *seededSource) bitsOf(k int) uint64 {
	if k <= 32 {
		return uint64(s.mt.Uint32() >> (32 - k))
	}
	lo := uint64(s.mt.Uint32())
	hi := uint64(s.mt.Uint32() >> (64 - k))
	return hi<<32 | lo
}

// below returns a uniform integer in [0, n) for n > 0.
func (s *seededSource) below(n uint64) int {
	k := bits.Len64(n)
	r := s.bitsOf(k)
	for r >= n {
		r = s.bitsOf(k)
	}
	return int(r)
}
