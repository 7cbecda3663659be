package service

import (
	"context"
	"errors"
	"math"
	"time"

	"golang.org/x/sync/semaphore"

	"plantdisease/internal/dto"
	"plantdisease/internal/logger"
	"plantdisease/internal/model"
	"plantdisease/internal/service/imaging"
)

// Predictor runs the model on a prepared input tensor and returns its
// probability vector.
type Predictor interface {
	Predict(ctx context.Context, input *model.Tensor) ([]float32, error)
}

// Classifier turns uploaded image bytes into a labelled prediction.
type Classifier struct {
	predictor    Predictor
	preprocessor *imaging.Preprocessor
	manifest     *model.Manifest
	admission    *semaphore.Weighted
	maxPixels    int
	logger       *logger.Logger
}

type Options struct {
	MaxConcurrent int // In-flight classifications, <= 0 means unbounded
	MaxPixels     int // Decoded image size limit, <= 0 means unbounded
}

// NewClassifier wires a predictor to the preprocessing described by manifest.
func NewClassifier(predictor Predictor, manifest *model.Manifest, opts Options, logger *logger.Logger) (*Classifier, error) {
	preprocessor, err := imaging.NewPreprocessor(manifest)
	if err != nil {
		return nil, err
	}

	c := &Classifier{
		predictor:    predictor,
		preprocessor: preprocessor,
		manifest:     manifest,
		maxPixels:    opts.MaxPixels,
		logger:       logger,
	}
	if opts.MaxConcurrent > 0 {
		c.admission = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return c, nil
}

// Manifest returns the model manifest the classifier was built with.
func (c *Classifier) Manifest() *model.Manifest {
	return c.manifest
}

// Classify decodes data, runs the model and maps the arg-max to a label.
// Errors are always *Error.
func (c *Classifier) Classify(ctx context.Context, data []byte) (*dto.PredictionResult, error) {
	if c.admission != nil {
		if err := c.admission.Acquire(ctx, 1); err != nil {
			return nil, classifyError(err)
		}
		defer c.admission.Release(1)
	}

	start := time.Now()

	decoded, err := imaging.Decode(data, c.maxPixels)
	if err != nil {
		return nil, classifyError(err)
	}

	bounds := decoded.Image.Bounds()
	c.logger.Debug("Decoded %s image %dx%d", decoded.Format, bounds.Dx(), bounds.Dy())

	tensor, err := c.preprocessor.Tensor(decoded.Image)
	if err != nil {
		return nil, classifyError(err)
	}

	probabilities, err := c.predictor.Predict(ctx, tensor)
	if err != nil {
		return nil, classifyError(err)
	}
	if len(probabilities) == 0 {
		return nil, &Error{Kind: KindInference, Err: errors.New("model returned an empty output")}
	}

	index, value := argmax(probabilities)
	result := &dto.PredictionResult{
		ClassIndex: index,
		ClassName:  c.manifest.Label(index),
		Confidence: percent(value),
	}

	c.logger.Info("Predicted %s (%.2f%%) for %dx%d %s in %s",
		result.ClassName, result.Confidence, bounds.Dx(), bounds.Dy(), decoded.Format, time.Since(start).Round(time.Millisecond))

	return result, nil
}

// argmax returns the first index holding the maximum value.
func argmax(values []float32) (int, float32) {
	index, best := 0, values[0]
	for i, v := range values[1:] {
		if v > best {
			index, best = i+1, v
		}
	}
	return index, best
}

// percent converts a probability to a percentage rounded to two decimals.
func percent(p float32) float64 {
	return math.Round(float64(p)*100*100) / 100
}
