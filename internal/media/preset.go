package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const defaultPresetTimeout = 10 * time.Minute

var errMissingPresetConfig = errors.New("media: base url, cloud name and upload preset are required")

// PresetUploaderConfig configures unsigned uploads to a Cloudinary-compatible endpoint.
type PresetUploaderConfig struct {
	BaseURL      string
	CloudName    string
	UploadPreset string
	HTTPClient   *http.Client
	Logger       *zap.Logger
}

// PresetUploader posts assets with an unsigned upload preset.
type PresetUploader struct {
	baseURL      string
	cloudName    string
	uploadPreset string
	client       *http.Client
	logger       *zap.Logger
}

type presetResponse struct {
	SecureURL string `json:"secure_url"`
	Error     *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewPresetUploader validates cfg and constructs a PresetUploader.
func NewPresetUploader(cfg PresetUploaderConfig) (*PresetUploader, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cloudName := strings.TrimSpace(cfg.CloudName)
	uploadPreset := strings.TrimSpace(cfg.UploadPreset)
	if baseURL == "" || cloudName == "" || uploadPreset == "" {
		return nil, errMissingPresetConfig
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultPresetTimeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PresetUploader{
		baseURL:      baseURL,
		cloudName:    cloudName,
		uploadPreset: uploadPreset,
		client:       client,
		logger:       logger,
	}, nil
}

// Upload sends asset as a multipart form and returns the hosted secure URL.
func (u *PresetUploader) Upload(ctx context.Context, asset Asset) (string, error) {
	if err := asset.validate(); err != nil {
		return "", err
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("upload_preset", u.uploadPreset); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	part, err := writer.CreateFormFile("file", asset.filename())
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if _, err := io.Copy(part, asset.Body); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	endpoint := fmt.Sprintf("%s/v1_1/%s/%s/upload", u.baseURL, u.cloudName, asset.Kind)
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	request.Header.Set("Content-Type", writer.FormDataContentType())

	response, err := u.client.Do(request)
	if err != nil {
		u.logger.Warn("media upload request failed", zap.String("kind", string(asset.Kind)), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	defer response.Body.Close()

	var payload presetResponse
	decodeErr := json.NewDecoder(response.Body).Decode(&payload)
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		message := http.StatusText(response.StatusCode)
		if decodeErr == nil && payload.Error != nil && payload.Error.Message != "" {
			message = payload.Error.Message
		}
		u.logger.Warn("media upload rejected",
			zap.String("kind", string(asset.Kind)),
			zap.Int("status", response.StatusCode),
			zap.String("message", message))
		return "", fmt.Errorf("%w: %s", ErrUploadFailed, message)
	}
	if decodeErr != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUploadFailed, decodeErr)
	}
	if strings.TrimSpace(payload.SecureURL) == "" {
		return "", fmt.Errorf("%w: response missing secure_url", ErrUploadFailed)
	}
	return payload.SecureURL, nil
}
