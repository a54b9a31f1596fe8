// Package mask holds 2D binary segmentation masks and the encoders that turn
// them into the opaque "data" payload of an annotation record.
package mask

import (
	"encoding/json"
	"fmt"
)

// Mask is a binary 2D mask stored row-major: Pix[y*Width+x].
type Mask struct {
	Width  int
	Height int
	Pix    []bool
}

func New(width, height int) Mask {
	return Mask{Width: width, Height: height, Pix: make([]bool, width*height)}
}

func (m Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}

	return m.Pix[y*m.Width+x]
}

func (m Mask) Set(x, y int, v bool) {
	m.Pix[y*m.Width+x] = v
}

// Count returns the number of foreground pixels.
func (m Mask) Count() int {
	n := 0
	for _, v := range m.Pix {
		if v {
			n++
		}
	}

	return n
}

// Encoder turns a mask into the payload stored in an annotation's data field.
type Encoder interface {
	EncodeMask(m Mask) (json.RawMessage, error)
}

const (
	EncodingContour = "contour"
	EncodingRLE     = "rle"
)

// EncoderByName returns the encoder registered under name.
func EncoderByName(name string) (Encoder, error) {
	switch name {
	case EncodingContour, "":
		return ContourEncoder{}, nil
	case EncodingRLE:
		return RLEEncoder{}, nil
	}

	return nil, fmt.Errorf("unknown mask encoding %q (want %q or %q)", name, EncodingContour, EncodingRLE)
}
