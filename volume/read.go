package volume

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/carbocation/segupload"
	"github.com/disintegration/imaging"

	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
)

var imageSuffixes = []string{".png", ".jpg", ".jpeg", ".bmp", ".tif", ".tiff"}

func hasImageSuffix(name string) bool {
	lower := strings.ToLower(name)
	for _, suffix := range imageSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}

	return false
}

// ReadFile reads an image of any rank from a local path or a gs:// path:
//   - .nii / .nii.gz NIfTI volumes, shaped [t, z, y, x] with trailing extents
//     dropped per the header's rank
//   - single PNG, JPEG, BMP or TIFF images, shaped [height, width]
//   - GIF files, one slice per frame
//   - .tar.gz archives of 2D images, one slice per image in name order
//   - folders (or gs:// prefixes) of 2D images, one slice per image in name
//     order
func ReadFile(path string, client *storage.Client) (Array, error) {
	lower := strings.ToLower(path)

	switch {
	case strings.HasSuffix(lower, ".nii"), strings.HasSuffix(lower, ".nii.gz"):
		return readNIfTIFromLocalOrGoogleStorage(path, client)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return readTarGz(path, client)
	case strings.HasSuffix(lower, ".gif"):
		return readGIF(path, client)
	case hasImageSuffix(lower):
		img, err := openImage(path, client)
		if err != nil {
			return Array{}, err
		}
		return imageToArray(img), nil
	}

	if segupload.IsGoogleStoragePath(path) {
		return readGoogleStorageFolder(path, client)
	}

	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		return Array{}, &segupload.MissingFileError{Path: path}
	} else if err != nil {
		return Array{}, err
	}
	if stat.IsDir() {
		return readFolder(path)
	}

	return Array{}, fmt.Errorf("%s: unrecognized image format", path)
}

func readNIfTIFromLocalOrGoogleStorage(path string, client *storage.Client) (Array, error) {
	if !segupload.IsGoogleStoragePath(path) {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return Array{}, &segupload.MissingFileError{Path: path}
		}

		return readNIfTI(path)
	}

	// The nifti reader only accepts filenames
	local, err := segupload.DownloadToTemp(path, client)
	if err != nil {
		return Array{}, err
	}
	defer os.Remove(local)

	return readNIfTI(local)
}

func openImage(path string, client *storage.Client) (image.Image, error) {
	f, _, err := segupload.MaybeOpenFromGoogleStorage(path, client)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// The image decoder swallows errors, so we won't see i/o errors if they
	// happen during image decoding. To capture these, we read the full image
	// into memory here, and pass a byte reader to the image decoder.
	imgBytes, err := io.ReadAll(f)
	if err != nil {
		return nil, pfx.Err(err)
	}

	img, err := imaging.Decode(bytes.NewReader(imgBytes))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	return img, nil
}

// pixelValue reads a label value from a pixel. Gray and paletted images carry
// the value directly. Color images are expected to repeat the value in each
// channel (#010101 for label 1).
func pixelValue(img image.Image, x, y int) float64 {
	switch v := img.(type) {
	case *image.Gray:
		return float64(v.GrayAt(x, y).Y)
	case *image.Gray16:
		return float64(v.Gray16At(x, y).Y)
	case *image.Paletted:
		return float64(v.ColorIndexAt(x, y))
	}

	c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)

	return float64(c.R)
}

func imageToArray(img image.Image) Array {
	b := img.Bounds()
	out := NewArray(b.Dy(), b.Dx())

	i := 0
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			out.Data[i] = pixelValue(img, x, y)
			i++
		}
	}

	return out
}

// stackImages stacks 2D images of identical size along a new first axis.
func stackImages(images []image.Image, names []string) (Array, error) {
	if len(images) == 0 {
		return Array{}, fmt.Errorf("no images to stack")
	}

	h, w := images[0].Bounds().Dy(), images[0].Bounds().Dx()
	out := NewArray(len(images), h, w)

	for i, img := range images {
		if img.Bounds().Dy() != h || img.Bounds().Dx() != w {
			return Array{}, fmt.Errorf("%s is %dx%d but %s is %dx%d", names[i], img.Bounds().Dx(), img.Bounds().Dy(), names[0], w, h)
		}

		copy(out.Data[i*h*w:(i+1)*h*w], imageToArray(img).Data)
	}

	return out, nil
}

func readFolder(folder string) (Array, error) {
	entries, err := os.ReadDir(folder)
	if err != nil {
		return Array{}, err
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !hasImageSuffix(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	images := make([]image.Image, 0, len(names))
	for _, name := range names {
		img, err := openImage(filepath.Join(folder, name), nil)
		if err != nil {
			return Array{}, err
		}
		images = append(images, img)
	}

	return stackImages(images, names)
}

func readGoogleStorageFolder(prefix string, client *storage.Client) (Array, error) {
	paths, err := segupload.ListFromGoogleStorage(prefix, client)
	if err != nil {
		return Array{}, err
	}

	names := make([]string, 0, len(paths))
	images := make([]image.Image, 0, len(paths))
	for _, path := range paths {
		if !hasImageSuffix(path) {
			continue
		}

		img, err := openImage(path, client)
		if err != nil {
			return Array{}, err
		}
		names = append(names, path)
		images = append(images, img)
	}

	if len(images) == 0 {
		return Array{}, &segupload.MissingFileError{Path: prefix}
	}

	return stackImages(images, names)
}

func readTarGz(path string, client *storage.Client) (Array, error) {
	// Reader: Open and stream/ungzip the tar.gz
	f, _, err := segupload.MaybeOpenFromGoogleStorage(path, client)
	if err != nil {
		return Array{}, err
	}
	defer f.Close()
	gzr, err := gzip.NewReader(f)
	if err != nil {
		return Array{}, pfx.Err(err)
	}
	defer gzr.Close()
	tarReader := tar.NewReader(gzr)

	byName := make(map[string]image.Image)

	// Iterate over tarfile contents, processing all image files
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return Array{}, pfx.Err(err)
		} else if header.Typeflag != tar.TypeReg || !hasImageSuffix(header.Name) {
			continue
		}

		// Every entry must decode, or later slices shift onto the wrong index
		img, err := imaging.Decode(tarReader)
		if err != nil {
			return Array{}, fmt.Errorf("%s->%s: %w", path, header.Name, err)
		}

		byName[header.Name] = img
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Strings(names)

	images := make([]image.Image, 0, len(names))
	for _, name := range names {
		images = append(images, byName[name])
	}

	return stackImages(images, names)
}

func readGIF(path string, client *storage.Client) (Array, error) {
	f, _, err := segupload.MaybeOpenFromGoogleStorage(path, client)
	if err != nil {
		return Array{}, err
	}
	defer f.Close()

	g, err := gif.DecodeAll(f)
	if err != nil {
		return Array{}, fmt.Errorf("%s: %w", path, err)
	}

	// Frames may only cover part of the canvas, so composite each onto the
	// previous one
	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	canvas := image.NewRGBA(bounds)

	images := make([]image.Image, 0, len(g.Image))
	names := make([]string, 0, len(g.Image))
	for i, frame := range g.Image {
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		img := image.NewRGBA(bounds)
		draw.Draw(img, bounds, canvas, bounds.Min, draw.Src)
		images = append(images, img)
		names = append(names, fmt.Sprintf("%s frame %d", path, i))
	}

	// A still GIF is a plain 2D image
	if len(images) == 1 {
		return imageToArray(images[0]), nil
	}

	return stackImages(images, names)
}
