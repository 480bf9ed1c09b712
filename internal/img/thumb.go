// internal/img/thumb.go
package img

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

const (
	DefaultWidth   = 100
	DefaultHeight  = 100
	DefaultQuality = 85
	FormatJPEG     = "jpeg"
)

var (
	ErrDecode = errors.New("decode image")
	ErrEncode = errors.New("encode image")
)

// Codec is the image collaborator of the thumbnail pipeline.
type Codec interface {
	Decode(path string) (image.Image, error)
	// Fit scales src down to fit inside w×h, keeping the aspect ratio. Images
	// already inside the box are not upscaled.
	Fit(src image.Image, w, h int) image.Image
	Encode(w io.Writer, src image.Image) error
	// Format names the encoding written by Encode.
	Format() string
}

// ImagingCodec implements Codec with disintegration/imaging and writes JPEG.
type ImagingCodec struct {
	Quality int
}

func NewImagingCodec(quality int) *ImagingCodec {
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	return &ImagingCodec{Quality: quality}
}

func (c *ImagingCodec) Decode(path string) (image.Image, error) {
	src, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return src, nil
}

func (c *ImagingCodec) Fit(src image.Image, w, h int) image.Image {
	return imaging.Fit(src, w, h, imaging.Lanczos)
}

func (c *ImagingCodec) Encode(w io.Writer, src image.Image) error {
	if err := imaging.Encode(w, src, imaging.JPEG, imaging.JPEGQuality(c.Quality)); err != nil {
		return fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return nil
}

func (c *ImagingCodec) Format() string { return FormatJPEG }

// Thumbnail is an encoded thumbnail held in memory.
type Thumbnail struct {
	Data         []byte
	Format       string
	Width        int
	Height       int
	SourceWidth  int
	SourceHeight int
}

// GenerateThumbnail decodes srcPath, fits it into boxW×boxH and encodes the
// result with codec.
func GenerateThumbnail(codec Codec, srcPath string, boxW, boxH int) (*Thumbnail, error) {
	src, err := codec.Decode(srcPath)
	if err != nil {
		return nil, err
	}
	sb := src.Bounds()

	thumb := codec.Fit(src, boxW, boxH)

	var buf bytes.Buffer
	if err := codec.Encode(&buf, thumb); err != nil {
		return nil, err
	}

	b := thumb.Bounds()
	return &Thumbnail{
		Data:         buf.Bytes(),
		Format:       codec.Format(),
		Width:        b.Dx(),
		Height:       b.Dy(),
		SourceWidth:  sb.Dx(),
		SourceHeight: sb.Dy(),
	}, nil
}

// WriteThumbnailFile runs GenerateThumbnail and writes the encoded result to
// dstPath, creating parent directories as needed.
func WriteThumbnailFile(codec Codec, srcPath, dstPath string, boxW, boxH int) (*Thumbnail, error) {
	thumb, err := GenerateThumbnail(codec, srcPath, boxW, boxH)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	if err := os.WriteFile(dstPath, thumb.Data, 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", dstPath, err)
	}
	return thumb, nil
}
