package datasets

import (
	"fmt"
	"io"
	"math/rand"

	"github.com/gomlx/gomlx/pkg/core/tensors"
)

// Encoded is the tokenized form of one partition. Token ids and attention
// masks are stored row-major in flat buffers, every row padded to SeqLen.
type Encoded struct {
	SeqLen        int
	InputIDs      []int64
	AttentionMask []int64
	Labels        []int32
}

// Len returns the number of encoded examples.
func (e *Encoded) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Labels)
}

// Validate checks the flat buffers agree with SeqLen and the label count.
func (e *Encoded) Validate() error {
	n := len(e.Labels)
	if len(e.InputIDs) != n*e.SeqLen {
		return fmt.Errorf("encoded input ids length %d doesn't match %d examples of length %d", len(e.InputIDs), n, e.SeqLen)
	}
	if len(e.AttentionMask) != n*e.SeqLen {
		return fmt.Errorf("encoded attention mask length %d doesn't match %d examples of length %d", len(e.AttentionMask), n, e.SeqLen)
	}
	return nil
}

// EncodedDataset serves an Encoded partition in batches and implements the
// gomlx train.Dataset interface. Each Yield returns inputs
// [input_ids, attention_mask] shaped [batch, SeqLen] and labels shaped
// [batch, 1]. The final batch of an epoch may be smaller than BatchSize.
type EncodedDataset struct {
	BatchSize int

	name  string
	data  *Encoded
	order []int
	pos   int

	// Random generator for shuffling, nil when the order is fixed.
	rand *rand.Rand
}

// NewEncodedDataset creates a dataset that yields data in its stored order.
func NewEncodedDataset(name string, data *Encoded, batchSize int) (*EncodedDataset, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if err := data.Validate(); err != nil {
		return nil, err
	}
	order := make([]int, data.Len())
	for i := range order {
		order[i] = i
	}
	return &EncodedDataset{
		BatchSize: batchSize,
		name:      name,
		data:      data,
		order:     order,
	}, nil
}

// Shuffle makes the dataset reshuffle its order now and on every Reset,
// using a generator seeded with seed.
func (d *EncodedDataset) Shuffle(seed int64) *EncodedDataset {
	d.rand = rand.New(rand.NewSource(seed))
	d.reshuffle()
	return d
}

func (d *EncodedDataset) reshuffle() {
	d.rand.Shuffle(len(d.order), func(i, j int) {
		d.order[i], d.order[j] = d.order[j], d.order[i]
	})
}

// Len returns the number of examples.
func (d *EncodedDataset) Len() int { return d.data.Len() }

// NumBatches returns the number of Yield calls in one epoch.
func (d *EncodedDataset) NumBatches() int {
	return (d.Len() + d.BatchSize - 1) / d.BatchSize
}

// Name implements train.Dataset.
func (d *EncodedDataset) Name() string { return d.name }

// Reset implements train.Dataset.
func (d *EncodedDataset) Reset() {
	d.pos = 0
	if d.rand != nil {
		d.reshuffle()
	}
}

// Yield implements train.Dataset, returning io.EOF at the end of an epoch.
func (d *EncodedDataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	if d.pos >= len(d.order) {
		return nil, nil, nil, io.EOF
	}
	end := min(d.pos+d.BatchSize, len(d.order))
	batch, err := d.Batch(d.order[d.pos:end])
	if err != nil {
		return nil, nil, nil, err
	}
	d.pos = end
	inputs, labels = batch.ToTensors()
	return nil, inputs, labels, nil
}

// Batch gathers the examples at the given indices into a flat batch.
func (d *EncodedDataset) Batch(indices []int) (*EncodedBatch, error) {
	seqLen := d.data.SeqLen
	b := &EncodedBatch{
		BatchSize:     len(indices),
		SeqLen:        seqLen,
		InputIDs:      make([]int64, len(indices)*seqLen),
		AttentionMask: make([]int64, len(indices)*seqLen),
		Labels:        make([]int32, len(indices)),
	}
	for row, idx := range indices {
		if idx < 0 || idx >= d.data.Len() {
			return nil, fmt.Errorf("index %d out of range [0, %d)", idx, d.data.Len())
		}
		copy(b.InputIDs[row*seqLen:(row+1)*seqLen], d.data.InputIDs[idx*seqLen:(idx+1)*seqLen])
		copy(b.AttentionMask[row*seqLen:(row+1)*seqLen], d.data.AttentionMask[idx*seqLen:(idx+1)*seqLen])
		b.Labels[row] = d.data.Labels[idx]
	}
	return b, nil
}

// EncodedBatch stores a batch in flat contiguous buffers.
type EncodedBatch struct {
	BatchSize     int
	SeqLen        int
	InputIDs      []int64
	AttentionMask []int64
	Labels        []int32
}

// ToTensors converts the batch to gomlx tensors.
func (b *EncodedBatch) ToTensors() (inputs []*tensors.Tensor, labels []*tensors.Tensor) {
	ids := tensors.FromFlatDataAndDimensions(b.InputIDs, b.BatchSize, b.SeqLen)
	mask := tensors.FromFlatDataAndDimensions(b.AttentionMask, b.BatchSize, b.SeqLen)
	lab := tensors.FromFlatDataAndDimensions(b.Labels, b.BatchSize, 1)
	return []*tensors.Tensor{ids, mask}, []*tensors.Tensor{lab}
}
