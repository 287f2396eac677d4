// Package avatar stores user avatar images on disk: generated defaults for
// new accounts and images uploaded by users. The HTTP server serves the
// directory at /images/.
package avatar

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/sakif/account-service/internal/apperror"
)

// MaxUploadBytes caps the size of an uploaded avatar.
const MaxUploadBytes = 5 << 20

// RoutePrefix is the URL path the image directory is served under.
const RoutePrefix = "/images/"

const (
	gridCells = 5
	cellPx    = 24
	marginPx  = 12
)

// allowedTypes maps sniffed content types to the extension they are saved with.
var allowedTypes = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Store writes avatar files into a single directory.
type Store struct {
	dir string
}

// NewStore creates dir if needed and returns a Store rooted there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("avatar: creating directory %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (s *Store) Dir() string {
	return s.dir
}

// Generate renders a default identicon for seed and returns its file name.
//
// The image is a 5x5 grid mirrored around the vertical axis; the SHA-256 of
// the seed picks both the foreground color and which cells are filled, so
// the same seed always yields the same picture.
func (s *Store) Generate(seed string) (string, error) {
	sum := sha256.Sum256([]byte(seed))
	img := identicon(sum)

	name := fmt.Sprintf("%x.png", sum[:12])
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("avatar: creating %s: %w", name, err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return "", fmt.Errorf("avatar: encoding %s: %w", name, err)
	}
	return name, nil
}

// Save writes an uploaded image under a fresh random name and returns it.
// The content type is sniffed from the bytes, never trusted from the client;
// anything that is not a supported image is a validation error.
func (s *Store) Save(r io.Reader) (string, error) {
	head := make([]byte, 512)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		if errors.Is(err, io.EOF) {
			return "", apperror.ValidationFailed("avatar", "avatar file is empty")
		}
		return "", fmt.Errorf("avatar: reading upload: %w", err)
	}
	head = head[:n]

	ext, ok := allowedTypes[http.DetectContentType(head)]
	if !ok {
		return "", apperror.ValidationFailed("avatar", "avatar must be a PNG, JPEG, GIF or WebP image")
	}

	name := uuid.NewString() + ext
	path := filepath.Join(s.dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("avatar: creating %s: %w", name, err)
	}

	if _, err := io.Copy(f, io.MultiReader(bytes.NewReader(head), r)); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("avatar: writing %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("avatar: closing %s: %w", name, err)
	}

	return name, nil
}

// PublicURL joins the service's public base URL and a stored file name.
//
//	PublicURL("http://localhost:3000", "a.png") → "http://localhost:3000/images/a.png"
func PublicURL(baseURL, name string) (string, error) {
	u, err := url.JoinPath(baseURL, RoutePrefix, name)
	if err != nil {
		return "", fmt.Errorf("avatar: building URL for %s: %w", name, err)
	}
	return u, nil
}

func identicon(sum [32]byte) *image.Paletted {
	fg := color.RGBA{R: sum[0], G: sum[1], B: sum[2], A: 0xff}
	bg := color.RGBA{R: 0xf0, G: 0xf0, B: 0xf0, A: 0xff}

	size := gridCells*cellPx + 2*marginPx
	img := image.NewPaletted(image.Rect(0, 0, size, size), color.Palette{bg, fg})

	half := (gridCells + 1) / 2
	for row := 0; row < gridCells; row++ {
		for col := 0; col < half; col++ {
			// One bit of the hash per cell in the left half.
			bit := sum[3+(row*half+col)/8] >> uint((row*half+col)%8) & 1
			if bit == 0 {
				continue
			}
			fillCell(img, row, col)
			fillCell(img, row, gridCells-1-col)
		}
	}
	return img
}

func fillCell(img *image.Paletted, row, col int) {
	x0 := marginPx + col*cellPx
	y0 := marginPx + row*cellPx
	for y := y0; y < y0+cellPx; y++ {
		for x := x0; x < x0+cellPx; x++ {
			img.SetColorIndex(x, y, 1)
		}
	}
}
