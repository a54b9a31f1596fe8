package volume

import (
	"fmt"

	"cloud.google.com/go/storage"
	"github.com/carbocation/segupload"
	"github.com/carbocation/segupload/mask"
	"github.com/carbocation/segupload/sopuid"
)

// Volume is a validated segmentation volume with shape [slices, height,
// width].
type Volume struct {
	arr Array

	// When selected, only voxels equal to value are foreground. Otherwise
	// every non-zero voxel is.
	selected bool
	value    float64
}

// FromArray validates that arr is 3-dimensional, that its data fills its
// shape, and that it has one slice per SOPInstanceUID.
func FromArray(arr Array, uids sopuid.Map) (Volume, error) {
	if arr.Rank() != 3 {
		return Volume{}, &segupload.ShapeError{Rank: arr.Rank()}
	}

	if len(arr.Data) != product(arr.Shape) {
		return Volume{}, fmt.Errorf("volume data has %d values but shape %v needs %d", len(arr.Data), arr.Shape, product(arr.Shape))
	}

	if arr.Shape[0] != uids.Len() {
		return Volume{}, &segupload.ShapeError{Rank: 3, Slices: arr.Shape[0], UIDs: uids.Len()}
	}

	return Volume{arr: arr}, nil
}

// FromFile reads the image at path and validates it. Images with fewer than 3
// dimensions are rejected with a *segupload.DimensionError, since they belong
// to the single slice upload. Images with more than 3 dimensions are accepted
// if squeezing out the singleton dimensions leaves exactly 3.
func FromFile(path string, uids sopuid.Map, client *storage.Client) (Volume, error) {
	arr, err := ReadFile(path, client)
	if err != nil {
		return Volume{}, err
	}

	return FromImageArray(arr, uids)
}

// FromImageArray applies the rank rules of FromFile to an array that was
// already read from an image.
func FromImageArray(arr Array, uids sopuid.Map) (Volume, error) {
	if arr.Rank() < 3 {
		return Volume{}, &segupload.DimensionError{Rank: arr.Rank(), Shape: arr.Shape}
	}

	if arr.Rank() > 3 {
		arr = arr.Squeeze()
		if arr.Rank() != 3 {
			return Volume{}, &segupload.DimensionError{Rank: arr.Rank(), Shape: arr.Shape}
		}
	}

	return FromArray(arr, uids)
}

func (v Volume) Slices() int { return v.arr.Shape[0] }
func (v Volume) Height() int { return v.arr.Shape[1] }
func (v Volume) Width() int  { return v.arr.Shape[2] }

// Array returns the underlying [slices, height, width] array.
func (v Volume) Array() Array { return v.arr }

// Select returns a view of the volume where only voxels equal to value are
// foreground.
func (v Volume) Select(value float64) Volume {
	v.selected = true
	v.value = value
	return v
}

// Slice returns the binary mask of slice i.
func (v Volume) Slice(i int) mask.Mask {
	h, w := v.Height(), v.Width()
	out := mask.New(w, h)

	plane := v.arr.Data[i*h*w : (i+1)*h*w]
	for j, val := range plane {
		if v.selected {
			out.Pix[j] = val == v.value
		} else {
			out.Pix[j] = val != 0
		}
	}

	return out
}
