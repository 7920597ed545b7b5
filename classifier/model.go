package classifier

import (
	"slices"

	. "github.com/gomlx/gomlx/pkg/core/graph"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/layers"
	"github.com/gomlx/gomlx/pkg/ml/layers/activations"
	"github.com/gomlx/onnx-gomlx/onnx"
	"github.com/pkg/errors"
)

// HiddenStateOutput is the encoder output fed to the classification head
// when the ONNX graph exposes it.
const HiddenStateOutput = "last_hidden_state"

// sequenceClassifier is the encoder plus a DistilBERT style head:
//
//	h = hidden[:, 0, :]                    ([CLS] position)
//	h = dropout(relu(pre_classifier(h)))
//	logits = classifier(h)
type sequenceClassifier struct {
	encoder      onnx.Model
	hiddenOutput string
	tokenTypeIDs bool
	numLabels    int
	dropoutRate  float64
}

func newSequenceClassifier(encoder onnx.Model, numLabels int, dropoutRate float64) (*sequenceClassifier, error) {
	inputNames, _ := encoder.Inputs()
	for _, required := range []string{"input_ids", "attention_mask"} {
		if !slices.Contains(inputNames, required) {
			return nil, errors.Errorf("ONNX model inputs %v lack %q", inputNames, required)
		}
	}
	outputNames, _ := encoder.Outputs()
	if len(outputNames) == 0 {
		return nil, errors.New("ONNX model has no outputs")
	}
	hidden := outputNames[0]
	if slices.Contains(outputNames, HiddenStateOutput) {
		hidden = HiddenStateOutput
	}
	return &sequenceClassifier{
		encoder:      encoder,
		hiddenOutput: hidden,
		tokenTypeIDs: slices.Contains(inputNames, "token_type_ids"),
		numLabels:    numLabels,
		dropoutRate:  dropoutRate,
	}, nil
}

// ModelGraph implements train.ModelFn. inputs are [input_ids, attention_mask],
// both shaped [batch, seq_len]; it returns the logits shaped
// [batch, numLabels].
func (m *sequenceClassifier) ModelGraph(ctx *context.Context, spec any, inputs []*Node) []*Node {
	_ = spec
	inputIDs, mask := inputs[0], inputs[1]
	feeds := map[string]*Node{
		"input_ids":      inputIDs,
		"attention_mask": mask,
	}
	if m.tokenTypeIDs {
		feeds["token_type_ids"] = ZerosLike(inputIDs)
	}
	hidden := m.encoder.CallGraph(ctx, inputIDs.Graph(), feeds, m.hiddenOutput)[0]
	hidden.AssertRank(3)
	batchSize, hiddenSize := hidden.Shape().Dimensions[0], hidden.Shape().Dimensions[2]

	pooled := Slice(hidden, AxisRange(), AxisElem(0), AxisRange())
	pooled = Reshape(pooled, batchSize, hiddenSize)

	head := ctx.In("classifier_head")
	x := layers.Dense(head.In("pre_classifier"), pooled, true, hiddenSize)
	x = activations.Relu(x)
	if m.dropoutRate > 0 {
		x = layers.DropoutStatic(head.In("dropout"), x, m.dropoutRate)
	}
	logits := layers.Dense(head.In("classifier"), x, true, m.numLabels)
	return []*Node{logits}
}
