package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
)

// Input layouts.
const (
	LayoutNHWC = "NHWC"
	LayoutNCHW = "NCHW"
)

// Preprocessing modes, named after the Keras applications conventions.
const (
	PreprocessCaffe = "caffe" // RGB->BGR, ImageNet mean subtraction (ResNet50)
	PreprocessTF    = "tf"    // scale to [-1, 1]
	PreprocessTorch = "torch" // scale to [0, 1], ImageNet mean/std
	PreprocessNone  = "none"  // raw 0..255
)

// Output activations.
const (
	ActivationNone    = "none"
	ActivationSoftmax = "softmax"
)

// DefaultLabels is the class ordering of the reference plant disease model.
var DefaultLabels = []string{
	"Pepper__bell___Bacterial_spot",
	"Pepper__bell___healthy",
	"Potato___Early_blight",
	"Potato___Late_blight",
	"Potato___healthy",
	"Tomato_Bacterial_spot",
	"Tomato_Early_blight",
	"Tomato_Late_blight",
	"Tomato_Leaf_Mold",
	"Tomato_Septoria_leaf_spot",
	"Tomato_Spider_mites_Two_spotted_spider_mite",
	"Tomato__Target_Spot",
	"Tomato__Tomato_YellowLeaf__Curl_Virus",
	"Tomato__Tomato_mosaic_virus",
	"Tomato_healthy",
}

// Manifest describes a model artifact: its class labels and the tensor
// contract the artifact was trained with. It lives next to the artifact.
type Manifest struct {
	Labels           []string `json:"labels"`
	InputShape       []int64  `json:"input_shape"`
	InputLayout      string   `json:"input_layout"`
	InputName        string   `json:"input_name,omitempty"`
	OutputName       string   `json:"output_name,omitempty"`
	Preprocessing    string   `json:"preprocessing"`
	OutputActivation string   `json:"output_activation"`
}

// DefaultManifest returns the contract of the reference ResNet50 model.
func DefaultManifest() *Manifest {
	m := &Manifest{}
	m.applyDefaults()
	return m
}

// LoadManifest reads a manifest from path. found is false when the file does
// not exist, in which case the default manifest is returned.
func LoadManifest(path string) (m *Manifest, found bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultManifest(), false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read manifest: %w", err)
	}

	m = &Manifest{}
	if err := json.Unmarshal(data, m); err != nil {
		return nil, true, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	m.applyDefaults()

	if err := m.Validate(); err != nil {
		return nil, true, fmt.Errorf("invalid manifest %s: %w", path, err)
	}
	return m, true, nil
}

func (m *Manifest) applyDefaults() {
	if len(m.Labels) == 0 {
		m.Labels = append([]string(nil), DefaultLabels...)
	}
	if len(m.InputShape) == 0 {
		m.InputShape = []int64{1, 224, 224, 3}
	}
	m.InputLayout = strings.ToUpper(m.InputLayout)
	if m.InputLayout == "" {
		m.InputLayout = LayoutNHWC
	}
	m.Preprocessing = strings.ToLower(m.Preprocessing)
	if m.Preprocessing == "" {
		m.Preprocessing = PreprocessCaffe
	}
	m.OutputActivation = strings.ToLower(m.OutputActivation)
	if m.OutputActivation == "" {
		m.OutputActivation = ActivationNone
	}
}

// Validate checks that the manifest describes a single-image, three channel
// input the service can produce.
func (m *Manifest) Validate() error {
	if len(m.InputShape) != 4 {
		return fmt.Errorf("input_shape must have 4 dimensions, got %v", m.InputShape)
	}
	if m.InputShape[0] != 1 {
		return fmt.Errorf("input_shape batch dimension must be 1, got %d", m.InputShape[0])
	}
	switch m.InputLayout {
	case LayoutNHWC, LayoutNCHW:
	default:
		return fmt.Errorf("unsupported input_layout %q", m.InputLayout)
	}
	width, height, channels := m.Dimensions()
	if channels != 3 {
		return fmt.Errorf("input must have 3 channels, got %d", channels)
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("input spatial size must be positive, got %dx%d", width, height)
	}
	switch m.Preprocessing {
	case PreprocessCaffe, PreprocessTF, PreprocessTorch, PreprocessNone:
	default:
		return fmt.Errorf("unsupported preprocessing %q", m.Preprocessing)
	}
	switch m.OutputActivation {
	case ActivationNone, ActivationSoftmax:
	default:
		return fmt.Errorf("unsupported output_activation %q", m.OutputActivation)
	}
	for i, label := range m.Labels {
		if strings.TrimSpace(label) == "" {
			return fmt.Errorf("label %d is empty", i)
		}
	}
	return nil
}

// Dimensions returns width, height and channel count of the model input.
func (m *Manifest) Dimensions() (width, height, channels int) {
	if m.InputLayout == LayoutNCHW {
		return int(m.InputShape[3]), int(m.InputShape[2]), int(m.InputShape[1])
	}
	return int(m.InputShape[2]), int(m.InputShape[1]), int(m.InputShape[3])
}

// Label maps an output index to its class name. Indices outside the label
// list get a synthetic "Class {index}" name.
func (m *Manifest) Label(index int) string {
	if index >= 0 && index < len(m.Labels) {
		return m.Labels[index]
	}
	return fmt.Sprintf("Class %d", index)
}
