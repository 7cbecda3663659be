package onnx

import (
	"fmt"
	"os"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"plantdisease/internal/model"
)

var (
	initOnce sync.Once
	initErr  error
)

// Initialize loads the ONNX Runtime shared library once per process.
// libraryPath may be empty to use the loader's default search path.
func Initialize(libraryPath string) error {
	initOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			initErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return initErr
}

// Shutdown tears down the ONNX Runtime environment. Call it after every
// session has been closed.
func Shutdown() {
	if ort.IsInitialized() {
		ort.DestroyEnvironment()
	}
}

// Session is one ONNX Runtime session with pre-allocated input and output tensors.
type Session struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// Open creates a session for the artifact at modelPath. Input and output
// names default to the first ones declared by the model; dynamic output
// dimensions are fixed to 1 because the service always runs a batch of one.
func Open(modelPath string, manifest *model.Manifest) (*Session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model declares %d inputs and %d outputs", len(inputs), len(outputs))
	}

	inputName := manifest.InputName
	if inputName == "" {
		inputName = inputs[0].Name
	}

	outputInfo := outputs[0]
	if manifest.OutputName != "" {
		found := false
		for _, o := range outputs {
			if o.Name == manifest.OutputName {
				outputInfo, found = o, true
				break
			}
		}
		if !found {
			return nil, fmt.Errorf("model has no output named %q", manifest.OutputName)
		}
	}

	outputDims := make([]int64, len(outputInfo.Dimensions))
	for i, d := range outputInfo.Dimensions {
		if d < 1 {
			d = 1
		}
		outputDims[i] = d
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(manifest.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputDims...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputName}, []string{outputInfo.Name},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &Session{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
	}, nil
}

// Run copies input into the session's input tensor and executes the graph.
func (s *Session) Run(input []float32) ([]float32, error) {
	data := s.inputTensor.GetData()
	if len(input) != len(data) {
		return nil, fmt.Errorf("input has %d values, session expects %d", len(input), len(data))
	}
	copy(data, input)

	if err := s.session.Run(); err != nil {
		return nil, err
	}

	out := s.outputTensor.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

// Close destroys the session and its tensors.
func (s *Session) Close() error {
	var firstErr error
	for _, destroy := range []func() error{s.session.Destroy, s.inputTensor.Destroy, s.outputTensor.Destroy} {
		if err := destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
