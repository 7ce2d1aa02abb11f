// Package ppm decodes binary (P6) PPM images and converts them into the
// channel-major, mean-subtracted layout expected by the classifier input.
package ppm

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var (
	// ErrNotPPM is returned for files without a .ppm extension or a P6 header.
	ErrNotPPM = errors.New("not a ppm file")
	// ErrDimensions is returned when an image does not match the network input.
	ErrDimensions = errors.New("image dimensions do not match network input")
)

// MaxSide bounds the width and height accepted by Decode.
const MaxSide = 1 << 15

// Image is an interleaved RGB image (HWC).
type Image struct {
	Width  int
	Height int
	Max    int
	Pix    []byte
}

// Params describes the network input layout and per-channel mean.
type Params struct {
	Channels int
	Height   int
	Width    int
	Mean     []int
}

// DefaultParams matches a 224x224 RGB classifier with a uniform mean of 128.
func DefaultParams() Params {
	return Params{
		Channels: 3,
		Height:   224,
		Width:    224,
		Mean:     []int{128, 128, 128},
	}
}

// Load checks the extension and decodes the image at path.
func Load(path string) (*Image, error) {
	if !strings.EqualFold(strings.TrimPrefix(filepath.Ext(path), "."), "ppm") {
		return nil, fmt.Errorf("%w: %s", ErrNotPPM, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	return img, nil
}

// Decode reads a P6 image with 8-bit samples.
func Decode(r io.Reader) (*Image, error) {
	br := bufio.NewReader(r)

	magic, err := headerToken(br)
	if err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	if magic != "P6" {
		return nil, fmt.Errorf("%w: magic %q", ErrNotPPM, magic)
	}

	var dims [3]int
	for i, field := range []string{"width", "height", "max value"} {
		tok, err := headerToken(br)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", field, err)
		}

		n, err := strconv.Atoi(tok)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid %s %q", field, tok)
		}

		dims[i] = n
	}

	width, height, maxVal := dims[0], dims[1], dims[2]
	if width > MaxSide || height > MaxSide {
		return nil, fmt.Errorf("image %dx%d exceeds %d pixels per side", width, height, MaxSide)
	}
	if maxVal > 255 {
		return nil, fmt.Errorf("unsupported max value %d (only 8-bit samples)", maxVal)
	}

	// Exactly one whitespace byte separates the header from the raster.
	if _, err := br.ReadByte(); err != nil {
		return nil, fmt.Errorf("read header terminator: %w", err)
	}

	pix := make([]byte, width*height*3)
	if _, err := io.ReadFull(br, pix); err != nil {
		return nil, fmt.Errorf("read %dx%d raster: %w", width, height, err)
	}

	return &Image{Width: width, Height: height, Max: maxVal, Pix: pix}, nil
}

// Preprocess converts img to CHW order and subtracts the channel mean. With an
// 8-bit image and a mean of 128 every value fits a signed 8-bit integer.
func Preprocess(img *Image, p Params) ([]float32, error) {
	if p.Channels != 3 || img.Width != p.Width || img.Height != p.Height {
		return nil, fmt.Errorf("%w: got %dx%dx3, want %dx%dx%d",
			ErrDimensions, img.Height, img.Width, p.Height, p.Width, p.Channels)
	}
	if len(p.Mean) != p.Channels {
		return nil, fmt.Errorf("mean has %d entries for %d channels", len(p.Mean), p.Channels)
	}

	c, h, w := p.Channels, p.Height, p.Width
	out := make([]float32, c*h*w)

	for ch := 0; ch < c; ch++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				dst := ch*h*w + y*w + x
				src := y*w*c + x*c + ch
				out[dst] = float32(int(img.Pix[src]) - p.Mean[ch])
			}
		}
	}

	return out, nil
}

func headerToken(br *bufio.Reader) (string, error) {
	var sb strings.Builder

	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) && sb.Len() > 0 {
				return sb.String(), nil
			}

			return "", err
		}

		switch {
		case b == '#' && sb.Len() == 0:
			if _, err := br.ReadString('\n'); err != nil {
				return "", err
			}
		case isSpace(b):
			if sb.Len() > 0 {
				return sb.String(), br.UnreadByte()
			}
		default:
			sb.WriteByte(b)
		}
	}
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\v' || b == '\f'
}
