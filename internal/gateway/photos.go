package gateway

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"attendancesvc/internal/apperr"
	"attendancesvc/internal/cloudinary"
)

// DefaultMaxPhotoBytes caps a check-in photo.
const DefaultMaxPhotoBytes = 5 << 20

var allowedPhotoTypes = regexp.MustCompile(`/(jpg|jpeg|png|gif|webp)$`)

// Photo is a stored check-in photo. URL goes into the attendance record; Ref
// is whatever the backend needs to delete it again.
type Photo struct {
	URL string
	Ref string
}

// PhotoStore keeps check-in photos.
type PhotoStore interface {
	Save(ctx context.Context, fh *multipart.FileHeader) (Photo, error)
	Remove(ctx context.Context, p Photo) error
}

func checkPhoto(fh *multipart.FileHeader, maxBytes int64) error {
	if !allowedPhotoTypes.MatchString(fh.Header.Get("Content-Type")) {
		return apperr.InvalidArgument("Only image files are allowed!")
	}
	if fh.Size > maxBytes {
		return &apperr.Error{Kind: apperr.KindInvalidArgument, Status: http.StatusRequestEntityTooLarge, Message: "File too large"}
	}
	return nil
}

func readPhoto(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

// LocalPhotos writes photos under dir as <uuid><ext> and records them as
// uploads/<name>.
type LocalPhotos struct {
	dir      string
	maxBytes int64
}

// NewLocalPhotos stores into dir, creating it if needed.
func NewLocalPhotos(dir string, maxBytes int64) (*LocalPhotos, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPhotoBytes
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &LocalPhotos{dir: dir, maxBytes: maxBytes}, nil
}

func (l *LocalPhotos) Save(_ context.Context, fh *multipart.FileHeader) (Photo, error) {
	if err := checkPhoto(fh, l.maxBytes); err != nil {
		return Photo{}, err
	}
	name := uuid.NewString() + strings.ToLower(filepath.Ext(fh.Filename))

	src, err := fh.Open()
	if err != nil {
		return Photo{}, fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	path := filepath.Join(l.dir, name)
	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return Photo{}, fmt.Errorf("create photo: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		_ = os.Remove(path)
		return Photo{}, fmt.Errorf("write photo: %w", err)
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(path)
		return Photo{}, fmt.Errorf("write photo: %w", err)
	}
	return Photo{URL: "uploads/" + name, Ref: path}, nil
}

func (l *LocalPhotos) Remove(_ context.Context, p Photo) error {
	if p.Ref == "" {
		return nil
	}
	if err := os.Remove(p.Ref); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CloudinaryPhotos uploads photos to Cloudinary and records the secure URL.
type CloudinaryPhotos struct {
	client   *cloudinary.Client
	maxBytes int64
}

func NewCloudinaryPhotos(client *cloudinary.Client, maxBytes int64) *CloudinaryPhotos {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxPhotoBytes
	}
	return &CloudinaryPhotos{client: client, maxBytes: maxBytes}
}

func (c *CloudinaryPhotos) Save(ctx context.Context, fh *multipart.FileHeader) (Photo, error) {
	if err := checkPhoto(fh, c.maxBytes); err != nil {
		return Photo{}, err
	}
	data, err := readPhoto(fh)
	if err != nil {
		return Photo{}, err
	}
	res, err := c.client.UploadBytes(ctx, data, fh.Filename)
	if err != nil {
		return Photo{}, err
	}
	return Photo{URL: res.SecureURL, Ref: res.PublicID}, nil
}

func (c *CloudinaryPhotos) Remove(ctx context.Context, p Photo) error {
	if p.Ref == "" {
		return nil
	}
	return c.client.Destroy(ctx, p.Ref)
}
