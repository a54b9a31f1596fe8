package mask

import (
	"encoding/json"
	"fmt"

	"github.com/tj/go-rle"
)

// RLEEncoder stores the mask as a run-length encoded stream of 0/1 pixel
// values in row-major order.
type RLEEncoder struct{}

type rlePayload struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	RLE    []byte `json:"rle"`
}

func (RLEEncoder) EncodeMask(m Mask) (json.RawMessage, error) {
	pixelLabels := make([]int64, len(m.Pix))
	for i, v := range m.Pix {
		if v {
			pixelLabels[i] = 1
		}
	}

	return json.Marshal(rlePayload{
		Width:  m.Width,
		Height: m.Height,
		RLE:    rle.EncodeInt64(pixelLabels),
	})
}

// DecodeRLE reverses RLEEncoder.EncodeMask.
func DecodeRLE(raw json.RawMessage) (Mask, error) {
	var payload rlePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Mask{}, err
	}

	slc, err := rle.DecodeInt64(payload.RLE)
	if err != nil {
		return Mask{}, err
	}

	if len(slc) != payload.Width*payload.Height {
		return Mask{}, fmt.Errorf("decoded %d pixels, expected %dx%d", len(slc), payload.Width, payload.Height)
	}

	m := New(payload.Width, payload.Height)
	for i, v := range slc {
		m.Pix[i] = v != 0
	}

	return m, nil
}
