package classifier

import (
	"github.com/Noofbiz/finetune/datasets"
	"github.com/gomlx/go-huggingface/tokenizers"
	"github.com/gomlx/go-huggingface/tokenizers/api"
	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"
)

// Fallback special token ids, those of the BERT uncased vocabularies.
const (
	defaultCLS = 101
	defaultSEP = 102
	defaultPad = 0
)

// Encoder turns texts into fixed-length token id rows:
//
//	[CLS] tokens... [SEP] [PAD]...
//
// Rows longer than MaxLength are truncated before [SEP]; shorter rows are
// padded on the right and masked out.
type Encoder struct {
	MaxLength int

	tokenize            func(text string) []int
	clsID, sepID, padID int
}

// NewEncoder wraps a HuggingFace tokenizer. Missing special tokens fall
// back to the BERT ids with a warning.
func NewEncoder(tok tokenizers.Tokenizer, maxLength int) *Encoder {
	special := func(name string, token api.SpecialToken, fallback int) int {
		id, err := tok.SpecialTokenID(token)
		if err != nil {
			klog.Warningf("tokenizer has no %s token, using id %d", name, fallback)
			return fallback
		}
		return id
	}
	return &Encoder{
		MaxLength: maxLength,
		tokenize:  tok.Encode,
		clsID:     special("[CLS]", api.TokClassification, defaultCLS),
		sepID:     special("[SEP]", api.TokEndOfSentence, defaultSEP),
		padID:     special("[PAD]", api.TokPad, defaultPad),
	}
}

// EncodeRow returns the token ids and attention mask of one text.
func (e *Encoder) EncodeRow(text string) (ids, mask []int64) {
	tokens := e.tokenize(text)
	if limit := e.MaxLength - 2; len(tokens) > limit {
		tokens = tokens[:limit]
	}
	ids = make([]int64, e.MaxLength)
	mask = make([]int64, e.MaxLength)
	ids[0], mask[0] = int64(e.clsID), 1
	for i, t := range tokens {
		ids[i+1], mask[i+1] = int64(t), 1
	}
	end := len(tokens) + 1
	ids[end], mask[end] = int64(e.sepID), 1
	for i := end + 1; i < e.MaxLength; i++ {
		ids[i] = int64(e.padID)
	}
	return ids, mask
}

// Encode encodes a whole partition. A progress bar is drawn when progress
// is set.
func (e *Encoder) Encode(name string, texts []string, labels []int, progress bool) (*datasets.Encoded, error) {
	if len(texts) != len(labels) {
		return nil, errors.Errorf("%s: %d texts but %d labels", name, len(texts), len(labels))
	}
	if e.MaxLength < 2 {
		return nil, errors.Errorf("max length %d leaves no room for special tokens", e.MaxLength)
	}
	enc := &datasets.Encoded{
		SeqLen:        e.MaxLength,
		InputIDs:      make([]int64, 0, len(texts)*e.MaxLength),
		AttentionMask: make([]int64, 0, len(texts)*e.MaxLength),
		Labels:        make([]int32, len(labels)),
	}
	var bar *progressbar.ProgressBar
	if progress && len(texts) > 0 {
		bar = progressbar.Default(int64(len(texts)), "tokenizing "+name)
	}
	truncated := 0
	for i, text := range texts {
		ids, mask := e.EncodeRow(text)
		if mask[len(mask)-1] == 1 {
			truncated++
		}
		enc.InputIDs = append(enc.InputIDs, ids...)
		enc.AttentionMask = append(enc.AttentionMask, mask...)
		enc.Labels[i] = int32(labels[i])
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	if truncated > 0 {
		klog.V(1).Infof("%s: %d of %d texts filled or exceeded max_length=%d", name, truncated, len(texts), e.MaxLength)
	}
	return enc, nil
}
