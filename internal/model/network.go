package model

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/born-ml/born/onnx"
	"github.com/born-ml/born/tensor"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/panns-go/internal/device"
	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/logger"
)

// Network runs a Cnn14 variant exported to ONNX with its parameters as
// named graph inputs. One graph replica is loaded per device in the
// placement; a forward call splits the batch across replicas.
type Network struct {
	topology  Topology
	cfg       Config
	graphPath string
	placement device.Config
	log       logger.Logger

	replicas []*replica

	mu         sync.RWMutex
	params     map[string]*tensor.RawTensor
	unpin      []func()
	audioInput string

	eval   atomic.Bool
	closed atomic.Bool
}

type replica struct {
	graph   onnx.Model
	release func()
	backend string
}

// NewNetwork loads the graph at graphPath once per replica of placement.
// The network holds no parameters until LoadState.
func NewNetwork(topology Topology, cfg Config, graphPath string, placement device.Config) (*Network, error) {
	if _, err := os.Stat(graphPath); err != nil {
		return nil, errors.New(fmt.Errorf("model graph unavailable: %w", err)).
			Component("model").
			Category(errors.CategoryModelInit).
			FileContext(graphPath, 0).
			Context("topology", topology.Name).
			Build()
	}

	info, err := onnx.GetModelInfo(graphPath)
	if err != nil {
		return nil, errors.New(fmt.Errorf("read model graph: %w", err)).
			Component("model").
			Category(errors.CategoryModelInit).
			FileContext(graphPath, 0).
			Build()
	}
	for _, out := range topology.Outputs {
		if out == OutputFramewise && slices.Contains(info.OutputNames, OutputSegmentwise) {
			continue
		}
		if !slices.Contains(info.OutputNames, out) {
			return nil, errors.Newf("graph %s has no %q output (outputs: %v)", graphPath, out, info.OutputNames).
				Component("model").
				Category(errors.CategoryModelInit).
				Context("topology", topology.Name).
				Build()
		}
	}

	n := &Network{
		topology:  topology,
		cfg:       cfg,
		graphPath: graphPath,
		placement: placement,
		log:       GetLogger().With(logger.String("topology", topology.Name)),
	}

	count := max(placement.Replicas, 1)
	for i := range count {
		ordinal := i
		if placement.Ordinal >= 0 {
			ordinal = placement.Ordinal
		}
		r, err := loadReplica(graphPath, placement, ordinal)
		if err != nil {
			_ = n.Close()
			return nil, errors.New(fmt.Errorf("load graph replica %d: %w", i, err)).
				Component("model").
				Category(errors.CategoryModelInit).
				Context("placement", placement.String()).
				Build()
		}
		n.replicas = append(n.replicas, r)
	}

	n.log.Debug("model graph loaded",
		logger.String("producer", info.ProducerName),
		logger.Int64("opset", info.OpsetVersion),
		logger.Int("replicas", len(n.replicas)),
		logger.String("backend", n.replicas[0].backend))
	return n, nil
}

// Topology implements Model.
func (n *Network) Topology() Topology { return n.topology }

// Replicas returns the number of loaded graph replicas.
func (n *Network) Replicas() int { return len(n.replicas) }

// LoadState checks store against the topology schema and binds the
// parameters the graph consumes. The graph must have exactly one input that
// is not a parameter; it receives the waveform.
func (n *Network) LoadState(store ParameterStore) error {
	if err := n.topology.CheckState(store, n.cfg); err != nil {
		return err
	}

	inputs := n.replicas[0].graph.InputNames()
	var audio []string
	params := make(map[string]*tensor.RawTensor, len(inputs))
	var unpin []func()
	release := func() {
		for _, u := range unpin {
			u()
		}
	}

	for _, name := range inputs {
		t, ok := store[name]
		if !ok {
			audio = append(audio, name)
			continue
		}
		raw, err := toRaw(t)
		if err != nil {
			release()
			return stateError(fmt.Errorf("parameter %s: %w", name, err), n.topology)
		}
		// Shared across calls: keep the buffer non-unique so no op runs in place on it.
		unpin = append(unpin, raw.ForceNonUnique())
		params[name] = raw
	}

	if len(audio) != 1 {
		release()
		return stateError(fmt.Errorf("graph inputs %v are not covered by the checkpoint", audio), n.topology)
	}

	n.mu.Lock()
	old := n.unpin
	n.params, n.unpin, n.audioInput = params, unpin, audio[0]
	n.mu.Unlock()
	for _, u := range old {
		u()
	}

	n.log.Debug("parameters bound",
		logger.Int("graph_parameters", len(params)),
		logger.Int("checkpoint_parameters", len(store)),
		logger.String("audio_input", audio[0]))
	return nil
}

// Eval implements Model. The exported graph is inference-only; the flag
// guards against forwarding before the wrapper asked for evaluation mode.
func (n *Network) Eval() { n.eval.Store(true) }

// Forward implements Model.
func (n *Network) Forward(ctx context.Context, waveform *Tensor) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n.closed.Load() {
		return nil, fmt.Errorf("forward on closed network")
	}
	if !n.eval.Load() {
		return nil, fmt.Errorf("forward before Eval")
	}
	if len(waveform.Shape) != 2 {
		return nil, fmt.Errorf("waveform must be [batch, samples], got %v", waveform.Shape)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.params == nil {
		return nil, fmt.Errorf("forward before LoadState")
	}

	batch := waveform.Shape[0]
	shards := min(len(n.replicas), batch)
	if shards <= 1 {
		return n.forwardReplica(n.replicas[0], waveform)
	}

	results := make([]*Output, shards)
	g, gctx := errgroup.WithContext(ctx)
	for i := range shards {
		from, to := i*batch/shards, (i+1)*batch/shards
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out, err := n.forwardReplica(n.replicas[i], SliceRows(waveform, from, to))
			if err != nil {
				return fmt.Errorf("replica %d: %w", i, err)
			}
			results[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return gatherOutputs(results)
}

func (n *Network) forwardReplica(r *replica, waveform *Tensor) (*Output, error) {
	input, err := toRaw(waveform)
	if err != nil {
		return nil, err
	}
	defer input.Release()

	feed := make(map[string]*tensor.RawTensor, len(n.params)+1)
	for name, p := range n.params {
		feed[name] = p
	}
	feed[n.audioInput] = input

	raw, err := r.graph.ForwardNamed(feed)
	if err != nil {
		return nil, err
	}

	out := &Output{}
	for name, t := range raw {
		var dst **Tensor
		switch name {
		case OutputClipwise:
			dst = &out.Clipwise
		case OutputEmbedding:
			dst = &out.Embedding
		case OutputFramewise:
			dst = &out.Framewise
		case OutputSegmentwise:
			dst = &out.Segmentwise
		default:
			t.Release()
			continue
		}
		*dst = fromRaw(t)
		t.Release()
	}
	return out, nil
}

// Close implements Model. It unpins parameters and releases device backends.
func (n *Network) Close() error {
	if !n.closed.CompareAndSwap(false, true) {
		return nil
	}
	n.mu.Lock()
	for _, u := range n.unpin {
		u()
	}
	n.params, n.unpin = nil, nil
	n.mu.Unlock()

	for _, r := range n.replicas {
		if r.release != nil {
			r.release()
		}
	}
	return nil
}

func gatherOutputs(parts []*Output) (*Output, error) {
	out := &Output{}
	fields := []func(*Output) **Tensor{
		func(o *Output) **Tensor { return &o.Clipwise },
		func(o *Output) **Tensor { return &o.Embedding },
		func(o *Output) **Tensor { return &o.Framewise },
		func(o *Output) **Tensor { return &o.Segmentwise },
	}
	for _, field := range fields {
		if *field(parts[0]) == nil {
			continue
		}
		tensors := make([]*Tensor, len(parts))
		for i, p := range parts {
			tensors[i] = *field(p)
			if tensors[i] == nil {
				return nil, fmt.Errorf("replica %d is missing an output the others produced", i)
			}
		}
		merged, err := ConcatRows(tensors)
		if err != nil {
			return nil, err
		}
		*field(out) = merged
	}
	return out, nil
}

func toRaw(t *Tensor) (*tensor.RawTensor, error) {
	raw, err := tensor.NewRaw(tensor.Shape(t.Shape), tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, err
	}
	if len(t.Data) > 0 {
		copy(raw.AsFloat32(), t.Data)
	}
	return raw, nil
}

func fromRaw(raw *tensor.RawTensor) *Tensor {
	shape := []int(raw.Shape())
	data := make([]float32, NumElements(shape))
	if len(data) > 0 {
		copy(data, raw.AsFloat32())
	}
	return &Tensor{Shape: slices.Clone(shape), Data: data}
}

func stateError(err error, t Topology) error {
	return errors.New(err).
		Component("model").
		Category(errors.CategoryStateLoad).
		Context("topology", t.Name).
		Build()
}
