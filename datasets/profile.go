package datasets

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/go-gota/gota/series"
)

// LabelSet returns the distinct labels in ascending order.
func LabelSet(labels []int) []int {
	set := slices.Clone(labels)
	slices.Sort(set)
	return slices.Compact(set)
}

// NumLabels is the number of distinct labels in the training partition,
// which sets the classifier's output size.
func NumLabels(s *Split) int {
	return len(LabelSet(s.TrainLabels))
}

// LabelCounts counts examples per label.
func LabelCounts(labels []int) map[int]int {
	counts := make(map[int]int)
	for _, l := range labels {
		counts[l]++
	}
	return counts
}

// Profile summarizes one partition for logging.
type Profile struct {
	Name        string
	Examples    int
	LabelCounts map[int]int

	// Text lengths in runes.
	MinLen, MaxLen  int
	MeanLen, Median float64
}

// Describe profiles a partition. The length statistics of an empty
// partition are left at zero.
func Describe(name string, texts []string, labels []int) Profile {
	p := Profile{Name: name, Examples: len(texts), LabelCounts: LabelCounts(labels)}
	if len(texts) == 0 {
		return p
	}
	lengths := make([]int, len(texts))
	for i, t := range texts {
		lengths[i] = utf8.RuneCountInString(t)
	}
	col := series.New(lengths, series.Int, "text_len")
	p.MinLen = int(col.Min())
	p.MaxLen = int(col.Max())
	p.MeanLen = col.Mean()
	p.Median = col.Quantile(0.5)
	return p
}

func (p Profile) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %d examples", p.Name, p.Examples)
	if p.Examples == 0 {
		return sb.String()
	}
	fmt.Fprintf(&sb, ", text length min=%d median=%.0f mean=%.1f max=%d, labels {", p.MinLen, p.Median, p.MeanLen, p.MaxLen)
	keys := make([]int, 0, len(p.LabelCounts))
	for k := range p.LabelCounts {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for i, k := range keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "%d: %d", k, p.LabelCounts[k])
	}
	sb.WriteString("}")
	return sb.String()
}
