// Package media uploads video and image files to a hosting backend and returns their public URLs.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/config"
	"github.com/MarcoPoloResearchLab/vyon/backend/internal/ids"
)

// AssetKind selects the resource type an asset is uploaded as.
type AssetKind string

const (
	AssetVideo AssetKind = "video"
	AssetImage AssetKind = "image"
)

var (
	// ErrUploadFailed indicates the backend rejected or could not complete an upload.
	ErrUploadFailed = errors.New("media: upload failed")
	// ErrInvalidAsset indicates an asset with an unknown kind or no content.
	ErrInvalidAsset = errors.New("media: invalid asset")
	// ErrUnsupportedBackend indicates a backend name that is not configured.
	ErrUnsupportedBackend = errors.New("media: unsupported backend")
)

// Asset is one file to upload. Body is read once.
type Asset struct {
	Kind        AssetKind
	Filename    string
	ContentType string
	Body        io.Reader
	Size        int64
}

// Uploader stores an asset and returns its public URL. A call either
// returns a URL or an error; there is no partial result.
type Uploader interface {
	Upload(ctx context.Context, asset Asset) (string, error)
}

func (a Asset) validate() error {
	if a.Kind != AssetVideo && a.Kind != AssetImage {
		return fmt.Errorf("%w: kind %q", ErrInvalidAsset, a.Kind)
	}
	if a.Body == nil {
		return fmt.Errorf("%w: missing body", ErrInvalidAsset)
	}
	return nil
}

func (a Asset) filename() string {
	name := strings.TrimSpace(a.Filename)
	if name == "" {
		return string(a.Kind)
	}
	return name
}

// NewUploader builds the backend selected by cfg.Backend.
func NewUploader(ctx context.Context, cfg config.MediaConfig, idProvider ids.Provider, logger *zap.Logger) (Uploader, error) {
	switch cfg.Backend {
	case config.MediaBackendPreset:
		uploader, err := NewPresetUploader(PresetUploaderConfig{
			BaseURL:      cfg.PresetBaseURL,
			CloudName:    cfg.CloudName,
			UploadPreset: cfg.UploadPreset,
			Logger:       logger,
		})
		if err != nil {
			return nil, err
		}
		return uploader, nil
	case config.MediaBackendS3:
		uploader, err := NewS3Uploader(ctx, S3UploaderConfig{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretKey,
			PublicBaseURL:   cfg.S3PublicURL,
			IDProvider:      idProvider,
			Logger:          logger,
		})
		if err != nil {
			return nil, err
		}
		return uploader, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedBackend, cfg.Backend)
	}
}
