package model

import (
	"fmt"
	"slices"
	"strings"

	"github.com/tphakala/panns-go/internal/errors"
)

// EmbeddingDim is the width of the Cnn14 embedding, the output of fc1.
const EmbeddingDim = 2048

// Cnn14 channel widths per convolutional block.
var cnn14Channels = []int{1, 64, 128, 256, 512, 1024, 2048}

// Topology describes a network variant: which outputs it produces and
// the parameter names and shapes a checkpoint must supply.
type Topology struct {
	Name string
	// Outputs lists the graph outputs the wrappers read.
	Outputs []string
	// FrameRatio is the number of input frames per segment for
	// frame-resolving variants, and 0 otherwise.
	FrameRatio int
}

var (
	// Cnn14 is the whole-clip tagging network.
	Cnn14 = Topology{
		Name:    "Cnn14",
		Outputs: []string{OutputClipwise, OutputEmbedding},
	}

	// Cnn14DecisionLevelMax resolves predictions per frame.
	Cnn14DecisionLevelMax = Topology{
		Name:       "Cnn14_DecisionLevelMax",
		Outputs:    []string{OutputFramewise, OutputClipwise},
		FrameRatio: 32,
	}
)

// FrameResolving reports whether the topology produces per-frame output.
func (t Topology) FrameResolving() bool { return t.FrameRatio > 0 }

// Schema returns the expected parameter shapes for cfg. Scalars have an
// empty shape.
func (t Topology) Schema(cfg Config) map[string][]int {
	bins := cfg.WindowSize/2 + 1
	schema := map[string][]int{
		"spectrogram_extractor.stft.conv_real.weight": {bins, 1, cfg.WindowSize},
		"spectrogram_extractor.stft.conv_imag.weight": {bins, 1, cfg.WindowSize},
		"logmel_extractor.melW":                       {bins, cfg.MelBins},
	}
	addBatchNorm(schema, "bn0", cfg.MelBins)

	for i := 1; i < len(cnn14Channels); i++ {
		in, out := cnn14Channels[i-1], cnn14Channels[i]
		prefix := fmt.Sprintf("conv_block%d.", i)
		schema[prefix+"conv1.weight"] = []int{out, in, 3, 3}
		schema[prefix+"conv2.weight"] = []int{out, out, 3, 3}
		addBatchNorm(schema, prefix+"bn1", out)
		addBatchNorm(schema, prefix+"bn2", out)
	}

	schema["fc1.weight"] = []int{EmbeddingDim, EmbeddingDim}
	schema["fc1.bias"] = []int{EmbeddingDim}
	schema["fc_audioset.weight"] = []int{cfg.ClassesNum, EmbeddingDim}
	schema["fc_audioset.bias"] = []int{cfg.ClassesNum}
	return schema
}

func addBatchNorm(schema map[string][]int, prefix string, n int) {
	for _, p := range []string{"weight", "bias", "running_mean", "running_var"} {
		schema[prefix+"."+p] = []int{n}
	}
	schema[prefix+".num_batches_tracked"] = []int{}
}

// CheckState verifies store against the schema of t: every parameter
// present, none unexpected, every shape equal. Violations are reported
// together as a CategoryStateLoad error.
func (t Topology) CheckState(store ParameterStore, cfg Config) error {
	schema := t.Schema(cfg)

	var missing, unexpected, mismatched []string
	for name, want := range schema {
		got, ok := store[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		if !slices.Equal(got.Shape, want) {
			mismatched = append(mismatched, fmt.Sprintf("%s: checkpoint %v, model %v", name, got.Shape, want))
		}
	}
	for name := range store {
		if _, ok := schema[name]; !ok {
			unexpected = append(unexpected, name)
		}
	}

	if len(missing)+len(unexpected)+len(mismatched) == 0 {
		return nil
	}

	slices.Sort(missing)
	slices.Sort(unexpected)
	slices.Sort(mismatched)

	var b strings.Builder
	fmt.Fprintf(&b, "error(s) loading state for %s:", t.Name)
	if len(missing) > 0 {
		fmt.Fprintf(&b, " missing keys %s;", quoteList(missing))
	}
	if len(unexpected) > 0 {
		fmt.Fprintf(&b, " unexpected keys %s;", quoteList(unexpected))
	}
	for _, m := range mismatched {
		fmt.Fprintf(&b, " size mismatch for %s;", m)
	}

	return errors.Newf("%s", strings.TrimSuffix(b.String(), ";")).
		Component("model").
		Category(errors.CategoryStateLoad).
		Context("topology", t.Name).
		Context("missing_keys", len(missing)).
		Context("unexpected_keys", len(unexpected)).
		Context("shape_mismatches", len(mismatched)).
		Build()
}

func quoteList(names []string) string {
	const limit = 8
	shown := names
	if len(shown) > limit {
		shown = shown[:limit]
	}
	quoted := make([]string, len(shown))
	for i, n := range shown {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	s := strings.Join(quoted, ", ")
	if len(names) > limit {
		s += fmt.Sprintf(" and %d more", len(names)-limit)
	}
	return s
}
