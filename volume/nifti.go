package volume

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/carbocation/pfx"
	"github.com/henghuang/nifti"
)

const niftiHeaderSize = 348

// safelyNiftiParse consumes panics emitted by the nifti library, which are
// inappropriate and must be captured in order to turn them into recoverable
// errors.
func safelyNiftiParse(filename string, rdata bool) (parsedData nifti.Nifti1Image, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	parsedData.LoadImage(filename, rdata)

	return
}

func safelyNiftiHeaderParse(filename string) (parsedData nifti.Nifti1Header, err error) {
	defer func() {
		if panicErr := recover(); panicErr != nil {
			err = fmt.Errorf("%v", panicErr)
		}
	}()

	parsedData.LoadHeader(filename)

	return
}

// voxelFunc returns the voxel at x, y, z, t.
type voxelFunc func(x, y, z, t int) float64

// niftiShape turns the header's dim field (dim[0] is the rank, dim[1..] the
// x, y, z, t... extents) into an array shape ordered slowest-first, the
// way ITK hands volumes to array libraries: [t, z, y, x].
func niftiShape(dim []int) ([]int, error) {
	if len(dim) == 0 {
		return nil, fmt.Errorf("empty NIfTI dim field")
	}

	rank := dim[0]
	if rank < 1 || rank >= len(dim) {
		return nil, fmt.Errorf("NIfTI header has invalid rank %d", rank)
	}

	// Voxels are only addressable along x, y, z and t
	for i := 5; i <= rank; i++ {
		if dim[i] > 1 {
			return nil, fmt.Errorf("NIfTI dimension %d has extent %d; only the first 4 dimensions can be read", i, dim[i])
		}
	}

	shape := make([]int, 0, rank)
	for i := rank; i >= 1; i-- {
		d := dim[i]
		if d < 1 {
			d = 1
		}
		shape = append(shape, d)
	}

	return shape, nil
}

// niftiToArray copies the voxels into a row-major array of the given shape.
func niftiToArray(at voxelFunc, dim []int, shape []int) Array {
	ext := [4]int{1, 1, 1, 1}
	for i := 1; i <= 4 && i <= dim[0]; i++ {
		if dim[i] > 1 {
			ext[i-1] = dim[i]
		}
	}
	nx, ny, nz, nt := ext[0], ext[1], ext[2], ext[3]

	out := NewArray(shape...)

	// Leading singleton dimensions do not change the row-major offset, so
	// the t, z, y, x walk fills any rank from 1 to 4.
	i := 0
	for t := 0; t < nt; t++ {
		for z := 0; z < nz; z++ {
			for y := 0; y < ny; y++ {
				for x := 0; x < nx; x++ {
					out.Data[i] = at(x, y, z, t)
					i++
				}
			}
		}
	}

	return out
}

// niftiFileSize counts the bytes of filename after decompression. Like the
// nifti library, only a ".gz" suffix is treated as gzipped.
func niftiFileSize(filename string) (int64, error) {
	f, err := os.Open(filename)
	if err != nil {
		return 0, pfx.Err(err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(filename, ".gz") {
		gzr, err := gzip.NewReader(f)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", filename, err)
		}
		defer gzr.Close()
		r = gzr
	}

	n, err := io.Copy(io.Discard, r)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", filename, err)
	}

	return n, nil
}

func readNIfTI(filename string) (Array, error) {
	header, err := safelyNiftiHeaderParse(filename)
	if err != nil {
		return Array{}, fmt.Errorf("%s: %w", filename, err)
	}

	if header.SizeofHdr != niftiHeaderSize {
		return Array{}, fmt.Errorf("%s: not a little-endian NIfTI-1 file (sizeof_hdr is %d)", filename, header.SizeofHdr)
	}

	switch header.Bitpix {
	case 8, 16, 32, 64:
	default:
		return Array{}, fmt.Errorf("%s: unsupported NIfTI bitpix %d", filename, header.Bitpix)
	}

	dim := make([]int, len(header.Dim))
	for i, v := range header.Dim {
		dim[i] = int(v)
	}

	shape, err := niftiShape(dim)
	if err != nil {
		return Array{}, fmt.Errorf("%s: %w", filename, err)
	}

	// The library slices the payload without checking its length, so a
	// truncated file would read as zeros.
	size, err := niftiFileSize(filename)
	if err != nil {
		return Array{}, err
	}
	need := int64(header.VoxOffset) + int64(product(shape))*int64(header.Bitpix/8)
	if size < need {
		return Array{}, fmt.Errorf("%s: file holds %d bytes but its header describes %d (%d voxels of %d bits after offset %v)", filename, size, need, product(shape), header.Bitpix, header.VoxOffset)
	}

	img, err := safelyNiftiParse(filename, true)
	if err != nil {
		return Array{}, fmt.Errorf("%s: %w", filename, err)
	}

	at := func(x, y, z, t int) float64 {
		return float64(img.GetAt(x, y, z, t))
	}

	return niftiToArray(at, dim, shape), nil
}
