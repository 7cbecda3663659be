package opencv

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"gocv.io/x/gocv"

	"plantdisease/internal/model"
)

// Session is one network loaded through OpenCV's DNN module.
type Session struct {
	net        gocv.Net
	sizes      []int
	inputName  string
	outputName string
	blobBytes  []byte
}

// Open loads the artifact at modelPath. The format is inferred by OpenCV from
// the file extension (ONNX, TensorFlow, Caffe, ...).
func Open(modelPath string, manifest *model.Manifest) (*Session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model file not found: %w", err)
	}

	net := gocv.ReadNet(modelPath, "")
	if net.Empty() {
		return nil, fmt.Errorf("failed to load network from %s", modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return nil, fmt.Errorf("failed to set preferable backend or target")
	}

	sizes := make([]int, len(manifest.InputShape))
	count := 1
	for i, d := range manifest.InputShape {
		sizes[i] = int(d)
		count *= int(d)
	}

	return &Session{
		net:        net,
		sizes:      sizes,
		inputName:  manifest.InputName,
		outputName: manifest.OutputName,
		blobBytes:  make([]byte, count*4),
	}, nil
}

// Run feeds input as a float32 blob and returns the flattened network output.
func (s *Session) Run(input []float32) ([]float32, error) {
	if len(input)*4 != len(s.blobBytes) {
		return nil, fmt.Errorf("input has %d values, network expects %d", len(input), len(s.blobBytes)/4)
	}
	for i, v := range input {
		binary.LittleEndian.PutUint32(s.blobBytes[i*4:], math.Float32bits(v))
	}

	blob, err := gocv.NewMatWithSizesFromBytes(s.sizes, gocv.MatTypeCV32F, s.blobBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to create input blob: %w", err)
	}
	defer blob.Close()

	s.net.SetInput(blob, s.inputName)

	output := s.net.Forward(s.outputName)
	defer output.Close()

	if output.Empty() {
		return nil, fmt.Errorf("network produced no output")
	}

	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("failed to read network output: %w", err)
	}

	result := make([]float32, len(data))
	copy(result, data)
	return result, nil
}

// Close releases the native network.
func (s *Session) Close() error {
	return s.net.Close()
}
