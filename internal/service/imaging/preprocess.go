package imaging

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"

	"plantdisease/internal/model"
)

// Per-channel constants of the ImageNet training pipelines.
var (
	caffeMeanBGR = [3]float32{103.939, 116.779, 123.68}
	torchMeanRGB = [3]float32{0.485, 0.456, 0.406}
	torchStdRGB  = [3]float32{0.229, 0.224, 0.225}
)

// Preprocessor turns decoded images into model input tensors following the
// contract in a model manifest.
type Preprocessor struct {
	width, height int
	layout        string
	mode          string
	shape         []int64
}

// NewPreprocessor builds a Preprocessor for the manifest's input contract.
func NewPreprocessor(manifest *model.Manifest) (*Preprocessor, error) {
	if err := manifest.Validate(); err != nil {
		return nil, err
	}
	width, height, _ := manifest.Dimensions()
	return &Preprocessor{
		width:  width,
		height: height,
		layout: manifest.InputLayout,
		mode:   manifest.Preprocessing,
		shape:  append([]int64(nil), manifest.InputShape...),
	}, nil
}

// Size returns the spatial size images are resized to.
func (p *Preprocessor) Size() (width, height int) {
	return p.width, p.height
}

// Resize stretches img to the model's input size with bicubic resampling.
// Aspect ratio is not preserved, matching how the model was trained.
func (p *Preprocessor) Resize(img image.Image) image.Image {
	return resize.Resize(uint(p.width), uint(p.height), img, resize.Bicubic)
}

// Tensor resizes img and converts it into a normalized batch-of-one tensor.
func (p *Preprocessor) Tensor(img image.Image) (*model.Tensor, error) {
	resized := p.Resize(img)
	bounds := resized.Bounds()
	if bounds.Dx() != p.width || bounds.Dy() != p.height {
		return nil, fmt.Errorf("%w: resized image is %dx%d, want %dx%d",
			model.ErrShapeMismatch, bounds.Dx(), bounds.Dy(), p.width, p.height)
	}

	tensor := model.NewTensor(p.shape)
	plane := p.width * p.height

	for y := 0; y < p.height; y++ {
		for x := 0; x < p.width; x++ {
			r, g, b := rgb8(resized, bounds.Min.X+x, bounds.Min.Y+y)
			values := p.normalize(r, g, b)

			pixel := y*p.width + x
			for c := 0; c < 3; c++ {
				if p.layout == model.LayoutNCHW {
					tensor.Data[c*plane+pixel] = values[c]
				} else {
					tensor.Data[pixel*3+c] = values[c]
				}
			}
		}
	}

	return tensor, nil
}

// normalize maps 8-bit RGB values to the channel order and range the
// network was trained on.
func (p *Preprocessor) normalize(r, g, b uint8) [3]float32 {
	rf, gf, bf := float32(r), float32(g), float32(b)

	switch p.mode {
	case model.PreprocessCaffe:
		return [3]float32{bf - caffeMeanBGR[0], gf - caffeMeanBGR[1], rf - caffeMeanBGR[2]}
	case model.PreprocessTF:
		return [3]float32{rf/127.5 - 1, gf/127.5 - 1, bf/127.5 - 1}
	case model.PreprocessTorch:
		return [3]float32{
			(rf/255 - torchMeanRGB[0]) / torchStdRGB[0],
			(gf/255 - torchMeanRGB[1]) / torchStdRGB[1],
			(bf/255 - torchMeanRGB[2]) / torchStdRGB[2],
		}
	default:
		return [3]float32{rf, gf, bf}
	}
}

func rgb8(img image.Image, x, y int) (uint8, uint8, uint8) {
	switch src := img.(type) {
	case *image.RGBA:
		i := src.PixOffset(x, y)
		return src.Pix[i], src.Pix[i+1], src.Pix[i+2]
	case *image.NRGBA:
		i := src.PixOffset(x, y)
		return src.Pix[i], src.Pix[i+1], src.Pix[i+2]
	}
	r, g, b, _ := img.At(x, y).RGBA()
	return uint8(r >> 8), uint8(g >> 8), uint8(b >> 8)
}
