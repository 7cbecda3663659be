package ai

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chewxy/math32"

	"plantdisease/internal/logger"
	"plantdisease/internal/model"
)

// ErrClosed is returned by Predict after the pool has been closed.
var ErrClosed = errors.New("model pool closed")

// drainTimeout bounds how long Close waits for checked-out instances.
var drainTimeout = 30 * time.Second

// Instance is one loaded copy of the network. Instances are not safe for
// concurrent use; the Pool hands each one to a single caller at a time.
type Instance interface {
	Run(input []float32) ([]float32, error)
	Close() error
}

// Factory loads a new Instance of the model artifact.
type Factory func() (Instance, error)

// Pool owns a fixed set of model instances loaded at startup and serves
// Predict calls from whichever instance is free.
type Pool struct {
	instances  chan Instance
	all        []Instance
	inputShape []int64
	activation string
	logger     *logger.Logger

	closeOnce sync.Once
	done      chan struct{}
	leaked    int
}

// NewPool loads size instances through factory. Any load failure closes the
// instances loaded so far and is returned; the caller should treat it as fatal.
func NewPool(size int, factory Factory, manifest *model.Manifest, logger *logger.Logger) (*Pool, error) {
	if size < 1 {
		size = 1
	}

	p := &Pool{
		instances:  make(chan Instance, size),
		inputShape: append([]int64(nil), manifest.InputShape...),
		activation: manifest.OutputActivation,
		logger:     logger,
		done:       make(chan struct{}),
	}

	for i := 0; i < size; i++ {
		instance, err := factory()
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("failed to load model instance %d: %w", i, err)
		}
		p.all = append(p.all, instance)
		p.instances <- instance
	}

	p.logger.Info("Model pool ready with %d instance(s)", size)
	return p, nil
}

// Predict runs one forward pass and returns the probability vector. The
// tensor is validated against the model input shape before the model sees it.
// Waiting for a free instance honors ctx; the forward pass itself does not.
func (p *Pool) Predict(ctx context.Context, input *model.Tensor) ([]float32, error) {
	if err := input.Validate(p.inputShape); err != nil {
		return nil, err
	}

	var instance Instance
	select {
	case <-p.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	case instance = <-p.instances:
	}
	defer func() { p.instances <- instance }()

	// Close may have started while this caller was waiting.
	select {
	case <-p.done:
		return nil, ErrClosed
	default:
	}

	output, err := instance.Run(input.Data)
	if err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return p.postprocess(output)
}

// Warmup runs a zero tensor through every instance so a malformed artifact
// fails at startup rather than on the first request. It returns the output
// dimensionality.
func (p *Pool) Warmup(ctx context.Context) (int, error) {
	dims := -1
	for range p.all {
		output, err := p.Predict(ctx, model.NewTensor(p.inputShape))
		if err != nil {
			return 0, fmt.Errorf("warm-up inference failed: %w", err)
		}
		if dims >= 0 && len(output) != dims {
			return 0, fmt.Errorf("instances disagree on output size: %d vs %d", dims, len(output))
		}
		dims = len(output)
	}
	return dims, nil
}

// Close stops new predictions, waits for checked-out instances to be
// returned and releases them. Instances still running after drainTimeout
// are leaked rather than freed under a native call. Safe to call more than once.
func (p *Pool) Close() {
	p.closeOnce.Do(func() {
		close(p.done)

		timeout := time.NewTimer(drainTimeout)
		defer timeout.Stop()

		for reclaimed := 0; reclaimed < len(p.all); reclaimed++ {
			select {
			case instance := <-p.instances:
				if err := instance.Close(); err != nil {
					p.logger.Warning("Failed to release model instance: %v", err)
				}
			case <-timeout.C:
				p.leaked = len(p.all) - reclaimed
				p.logger.Error("%d model instance(s) still busy after %s, not released", p.leaked, drainTimeout)
				return
			}
		}
	})
}

// Leaked returns how many instances Close could not reclaim. The runtime
// must stay initialized while any are still running.
func (p *Pool) Leaked() int {
	return p.leaked
}

func (p *Pool) postprocess(output []float32) ([]float32, error) {
	if len(output) == 0 {
		return nil, errors.New("inference failed: model returned an empty output")
	}
	for i, v := range output {
		if math32.IsNaN(v) || math32.IsInf(v, 0) {
			return nil, fmt.Errorf("inference failed: output %d is %v", i, v)
		}
	}
	if p.activation == model.ActivationSoftmax {
		return Softmax(output), nil
	}
	return output, nil
}

// Softmax returns the normalized exponentials of logits.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}

	peak := logits[0]
	for _, v := range logits[1:] {
		if v > peak {
			peak = v
		}
	}

	out := make([]float32, len(logits))
	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
