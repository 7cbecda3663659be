package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

var (
	// ErrUnsupportedType is returned for payloads that are not images at all.
	ErrUnsupportedType = errors.New("unsupported content type")
	// ErrUndecodable is returned for image payloads that fail to decode.
	ErrUndecodable = errors.New("cannot decode image")
	// ErrTooManyPixels is returned when the declared image size exceeds the limit.
	ErrTooManyPixels = errors.New("image has too many pixels")
)

// Decoded is an uploaded image forced to three opaque RGB channels.
type Decoded struct {
	Image  *image.NRGBA
	Format string
	MIME   string
}

// Decode sniffs, validates and decodes raw image bytes. Alpha is dropped
// rather than composited and grayscale or paletted images are expanded to RGB.
// maxPixels <= 0 disables the size check.
func Decode(data []byte, maxPixels int) (*Decoded, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrUndecodable)
	}

	mime := strings.Split(mimetype.Detect(data).String(), ";")[0]
	if !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mime)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w (%s): %v", ErrUndecodable, mime, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %dx%d image", ErrUndecodable, cfg.Width, cfg.Height)
	}
	if maxPixels > 0 && cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d", ErrTooManyPixels, cfg.Width, cfg.Height, maxPixels)
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w (%s): %v", ErrUndecodable, mime, err)
	}

	return &Decoded{
		Image:  ToRGB(img),
		Format: format,
		MIME:   mime,
	}, nil
}

// ToRGB converts any image to an opaque NRGBA image anchored at the origin.
// Color values of translucent non-premultiplied pixels are kept as they are,
// alpha is forced to 255. Premultiplied sources lose color where alpha is 0.
func ToRGB(img image.Image) *image.NRGBA {
	bounds := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))

	switch src := img.(type) {
	case *image.NRGBA:
		// draw.Draw would premultiply translucent pixels, copy rows instead.
		for y := 0; y < bounds.Dy(); y++ {
			i := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+4*bounds.Dx()], src.Pix[i:i+4*bounds.Dx()])
		}
	case *image.NRGBA64:
		for y := 0; y < bounds.Dy(); y++ {
			for x := 0; x < bounds.Dx(); x++ {
				c := src.NRGBA64At(bounds.Min.X+x, bounds.Min.Y+y)
				i := dst.PixOffset(x, y)
				dst.Pix[i+0] = uint8(c.R >> 8)
				dst.Pix[i+1] = uint8(c.G >> 8)
				dst.Pix[i+2] = uint8(c.B >> 8)
			}
		}
	case *image.YCbCr, *image.Gray, *image.Gray16, *image.CMYK:
		// Always opaque, the standard converter is exact.
		draw.Draw(dst, dst.Bounds(), src, bounds.Min, draw.Src)
	default:
		for y := 0; y < bounds.Dy(); y++ {
			for x := 0; x < bounds.Dx(); x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				i := dst.PixOffset(x, y)
				dst.Pix[i+0] = c.R
				dst.Pix[i+1] = c.G
				dst.Pix[i+2] = c.B
			}
		}
	}

	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst
}
