// Package inference provides the AudioTagging and SoundEventDetection
// wrappers. Both take raw 32 kHz mono waveforms and return plain host arrays.
package inference

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tphakala/panns-go/internal/checkpoint"
	"github.com/tphakala/panns-go/internal/conf"
	"github.com/tphakala/panns-go/internal/device"
	"github.com/tphakala/panns-go/internal/errors"
	"github.com/tphakala/panns-go/internal/labels"
	"github.com/tphakala/panns-go/internal/logger"
	"github.com/tphakala/panns-go/internal/model"
	"github.com/tphakala/panns-go/internal/observability/metrics"
)

// GraphExtension is the file extension of exported network graphs.
const GraphExtension = ".onnx"

// CheckpointResolver locates a checkpoint and makes sure a usable copy is on disk.
type CheckpointResolver interface {
	Resolve(modelName, explicitPath string) (checkpoint.Handle, error)
	Ensure(ctx context.Context, h checkpoint.Handle) error
}

// StateLoader decodes a checkpoint file into a parameter store.
type StateLoader interface {
	Load(path string, placement device.Config) (model.ParameterStore, error)
}

// Options configures a wrapper. Zero values select the defaults noted on
// each field.
type Options struct {
	// ModelName picks the checkpoint; empty uses the wrapper's default model.
	ModelName string
	// CheckpointPath is used verbatim when set.
	CheckpointPath string
	// GraphPath locates the exported graph for the default network.
	// Empty means <checkpoint dir>/<model name>.onnx.
	GraphPath string
	// Device is "cpu", "cuda", "cuda:N", "gpu" or "webgpu". Unknown or
	// unavailable devices fall back to CPU.
	Device string
	// InterpolateMode is "nearest" (default) or "linear". Only
	// SoundEventDetection uses it.
	InterpolateMode string

	// Labels sizes the classifier; nil uses labels.Default.
	Labels *labels.Table
	// Model replaces the born-backed network, e.g. in tests. The wrapper
	// loads state into it and closes it on Close.
	Model model.Model

	Inventory device.Inventory
	Resolver  CheckpointResolver
	Loader    StateLoader
	Metrics   *metrics.PANNsMetrics
	Logger    logger.Logger
}

// OptionsFromSettings fills Options from the model section of settings.
func OptionsFromSettings(settings *conf.Settings, section conf.ModelSettings) Options {
	return Options{
		ModelName:      section.ModelName,
		CheckpointPath: section.CheckpointPath,
		GraphPath:      section.GraphPath,
		Device:         settings.Inference.Device,
		Inventory:      device.SystemInventory{Limit: settings.Inference.VisibleDevices},
	}
}

func (o Options) withDefaults() (Options, error) {
	if o.Inventory == nil {
		o.Inventory = device.SystemInventory{Limit: conf.Setting().Inference.VisibleDevices}
	}
	if o.Resolver == nil {
		r, err := checkpoint.NewResolver(conf.Setting())
		if err != nil {
			return o, errors.New(fmt.Errorf("checkpoint resolver: %w", err)).
				Component("inference").
				Category(errors.CategoryConfiguration).
				Build()
		}
		r.Metrics = o.Metrics
		o.Resolver = r
	}
	if o.Loader == nil {
		o.Loader = &checkpoint.Loader{Metrics: o.Metrics}
	}
	if o.Logger == nil {
		o.Logger = GetLogger()
	}
	if o.Labels == nil {
		table, err := labels.Default()
		if err != nil {
			return o, err
		}
		o.Labels = table
	}
	return o, nil
}

// core is the construction sequence and forward call shared by both wrappers.
type core struct {
	wrapper    string
	modelName  string
	checkpoint string
	model      model.Model
	cfg        model.Config
	placement  device.Config
	labels     *labels.Table
	metrics    *metrics.PANNsMetrics
	log        logger.Logger
	closed     atomic.Bool
}

func newCore(ctx context.Context, wrapper string, topology model.Topology, defaultModel string, opts Options) (*core, error) {
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}

	modelName := cmp.Or(opts.ModelName, defaultModel)
	log := opts.Logger.With(logger.String("wrapper", wrapper), logger.String("model", modelName))
	start := time.Now()

	h, err := opts.Resolver.Resolve(modelName, opts.CheckpointPath)
	if err != nil {
		return nil, err
	}
	if err := opts.Resolver.Ensure(ctx, h); err != nil {
		return nil, err
	}

	placement := device.SelectDevice(opts.Device, opts.Inventory.AcceleratorCount())
	if wantsAccelerator(opts.Device) && !placement.IsAccelerator() {
		log.Debug("requested device unavailable, using cpu", logger.String("requested", opts.Device))
	}

	store, err := opts.Loader.Load(h.LocalPath, placement)
	if err != nil {
		return nil, err
	}

	cfg := model.DefaultConfig(opts.Labels.Len())
	if opts.InterpolateMode != "" {
		cfg.InterpolateMode = opts.InterpolateMode
	}

	m := opts.Model
	if m == nil {
		graphPath := opts.GraphPath
		if graphPath == "" {
			graphPath = filepath.Join(filepath.Dir(h.LocalPath), modelName+GraphExtension)
		}
		net, err := model.NewNetwork(topology, cfg, graphPath, placement)
		if err != nil {
			return nil, err
		}
		m = net
	}

	if err := loadState(m, store, cfg); err != nil {
		if opts.Model == nil {
			_ = m.Close()
		}
		return nil, err
	}

	opts.Metrics.ModelLoaded(wrapper, 1)
	log.Info("model ready",
		logger.String("checkpoint", h.LocalPath),
		logger.String("placement", placement.String()),
		logger.Int("classes", cfg.ClassesNum),
		logger.Duration("elapsed", time.Since(start)))

	return &core{
		wrapper:    wrapper,
		modelName:  modelName,
		checkpoint: h.LocalPath,
		model:      m,
		cfg:        cfg,
		placement:  placement,
		labels:     opts.Labels,
		metrics:    opts.Metrics,
		log:        log,
	}, nil
}

// loadState checks store against the model's topology before handing it
// over. Every failure is reported as CategoryStateLoad.
func loadState(m model.Model, store model.ParameterStore, cfg model.Config) error {
	topology := m.Topology()
	if err := topology.CheckState(store, cfg); err != nil {
		return err
	}
	if err := m.LoadState(store); err != nil {
		if errors.IsStateLoad(err) {
			return err
		}
		return errors.New(fmt.Errorf("load state for %s: %w", topology.Name, err)).
			Component("inference").
			Category(errors.CategoryStateLoad).
			Context("topology", topology.Name).
			Build()
	}
	return nil
}

func wantsAccelerator(requested string) bool {
	name := strings.ToLower(strings.TrimSpace(requested))
	return name != "" && name != "cpu"
}

// forward runs one evaluation-mode pass over batch and reports it to metrics.
func (c *core) forward(ctx context.Context, batch [][]float32) (out *model.Output, err error) {
	start := time.Now()
	defer func() {
		c.metrics.RecordInference(c.wrapper, time.Since(start), err)
	}()

	if c.closed.Load() {
		return nil, errors.Newf("%s: inference on closed wrapper", c.wrapper).
			Component("inference").
			Category(errors.CategoryInference).
			Build()
	}

	input, err := batchTensor(batch)
	if err != nil {
		return nil, err
	}

	c.model.Eval()
	out, err = c.model.Forward(ctx, input)
	if err != nil {
		category := errors.CategoryInference
		if ctx.Err() != nil {
			category = errors.CategoryCancellation
		}
		return nil, errors.New(fmt.Errorf("%s forward pass: %w", c.wrapper, err)).
			Component("inference").
			Category(category).
			ModelContext(c.checkpoint, c.modelName).
			Context("batch_size", input.Shape[0]).
			Context("samples", input.Shape[1]).
			Context("placement", c.placement.String()).
			Build()
	}

	if out == nil {
		return nil, outputError("output", nil)
	}

	c.log.Debug("forward pass complete",
		logger.Int("batch_size", input.Shape[0]),
		logger.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (c *core) close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.metrics.ModelLoaded(c.wrapper, -1)
	return c.model.Close()
}

// batchTensor packs batch rows into a [batch, samples] tensor. Rows of
// different length cannot form one tensor and are rejected.
func batchTensor(batch [][]float32) (*model.Tensor, error) {
	if len(batch) == 0 {
		return nil, errors.Newf("empty batch").
			Component("inference").
			Category(errors.CategoryValidation).
			Build()
	}

	samples := len(batch[0])
	data := make([]float32, 0, len(batch)*samples)
	for i, row := range batch {
		if len(row) != samples {
			return nil, errors.Newf("batch row %d has %d samples, row 0 has %d", i, len(row), samples).
				Component("inference").
				Category(errors.CategoryValidation).
				Context("row", i).
				Build()
		}
		data = append(data, row...)
	}
	return &model.Tensor{Shape: []int{len(batch), samples}, Data: data}, nil
}

// checkOutput verifies that t has the given rank, one row per batch entry
// and exactly the number of elements its shape implies.
func checkOutput(t *model.Tensor, name string, rank, batch int) error {
	if t == nil || len(t.Shape) != rank || t.Shape[0] != batch {
		return outputError(name, t)
	}
	for _, d := range t.Shape {
		if d < 0 {
			return outputError(name, t)
		}
	}
	if model.NumElements(t.Shape) != len(t.Data) {
		return outputError(name, t)
	}
	return nil
}

// rows2 copies a [batch, n] tensor into fresh rows.
func rows2(t *model.Tensor, name string, batch int) ([][]float32, error) {
	if err := checkOutput(t, name, 2, batch); err != nil {
		return nil, err
	}
	n := t.Shape[1]
	data := slices.Clone(t.Data)
	out := make([][]float32, batch)
	for b := range out {
		out[b] = data[b*n : (b+1)*n : (b+1)*n]
	}
	return out, nil
}

// rows3 copies a [batch, frames, classes] tensor into fresh rows.
func rows3(t *model.Tensor, name string, batch int) ([][][]float32, error) {
	if err := checkOutput(t, name, 3, batch); err != nil {
		return nil, err
	}
	frames, classes := t.Shape[1], t.Shape[2]
	data := slices.Clone(t.Data)
	out := make([][][]float32, batch)
	for b := range out {
		out[b] = make([][]float32, frames)
		for f := range out[b] {
			off := (b*frames + f) * classes
			out[b][f] = data[off : off+classes : off+classes]
		}
	}
	return out, nil
}

func outputError(name string, t *model.Tensor) error {
	var shape []int
	if t != nil {
		shape = t.Shape
	}
	return errors.Newf("model output %q missing or malformed (shape %v, %d values)", name, shape, tensorLen(t)).
		Component("inference").
		Category(errors.CategoryInference).
		Build()
}

func tensorLen(t *model.Tensor) int {
	if t == nil {
		return 0
	}
	return len(t.Data)
}
