package media

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/config"
)

type fixedIDProvider struct {
	id string
}

func (p fixedIDProvider) NewID() (string, error) {
	return p.id, nil
}

type recordingObjectUploader struct {
	inputs []*s3.PutObjectInput
	bodies []string
	err    error
	output *manager.UploadOutput
}

func (u *recordingObjectUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	if u.err != nil {
		return nil, u.err
	}
	body, _ := io.ReadAll(input.Body)
	u.inputs = append(u.inputs, input)
	u.bodies = append(u.bodies, string(body))
	if u.output != nil {
		return u.output, nil
	}
	return &manager.UploadOutput{}, nil
}

func TestPresetUploaderPostsMultipartForm(t *testing.T) {
	var gotPath, gotPreset, gotFilename, gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		gotPreset = r.FormValue("upload_preset")
		file, header, err := r.FormFile("file")
		if err == nil {
			gotFilename = header.Filename
			data, _ := io.ReadAll(file)
			gotBody = string(data)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"secure_url": "https://cdn.example.com/v/clip.mp4"})
	}))
	defer server.Close()

	uploader, err := NewPresetUploader(PresetUploaderConfig{
		BaseURL:      server.URL + "/",
		CloudName:    "demo",
		UploadPreset: "unsigned",
	})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}

	url, err := uploader.Upload(context.Background(), Asset{
		Kind:     AssetVideo,
		Filename: "clip.mp4",
		Body:     strings.NewReader("video-bytes"),
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if url != "https://cdn.example.com/v/clip.mp4" {
		t.Fatalf("unexpected url %q", url)
	}
	if gotPath != "/v1_1/demo/video/upload" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotPreset != "unsigned" || gotFilename != "clip.mp4" || gotBody != "video-bytes" {
		t.Fatalf("unexpected form preset=%q filename=%q body=%q", gotPreset, gotFilename, gotBody)
	}
}

func TestPresetUploaderSurfacesRemoteError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Upload preset not found"}}`))
	}))
	defer server.Close()

	uploader, err := NewPresetUploader(PresetUploaderConfig{BaseURL: server.URL, CloudName: "demo", UploadPreset: "missing"})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	_, err = uploader.Upload(context.Background(), Asset{Kind: AssetImage, Filename: "t.png", Body: strings.NewReader("png")})
	if !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "Upload preset not found") {
		t.Fatalf("expected remote message in error, got %v", err)
	}
}

func TestPresetUploaderRejectsInvalidAsset(t *testing.T) {
	uploader, err := NewPresetUploader(PresetUploaderConfig{BaseURL: "http://127.0.0.1:1", CloudName: "demo", UploadPreset: "p"})
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	if _, err := uploader.Upload(context.Background(), Asset{Kind: "audio", Body: strings.NewReader("x")}); !errors.Is(err, ErrInvalidAsset) {
		t.Fatalf("expected ErrInvalidAsset, got %v", err)
	}
}

func TestS3UploaderUsesPublicBaseURL(t *testing.T) {
	recorder := &recordingObjectUploader{}
	uploader, err := newS3Uploader("vyon-media", "https://media.example.com/", recorder, fixedIDProvider{id: "abc"}, nil)
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}

	url, err := uploader.Upload(context.Background(), Asset{
		Kind:        AssetImage,
		Filename:    "Thumb.PNG",
		ContentType: "image/png",
		Body:        strings.NewReader("png-bytes"),
	})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if url != "https://media.example.com/images/abc.png" {
		t.Fatalf("unexpected url %q", url)
	}
	input := recorder.inputs[0]
	if aws.ToString(input.Bucket) != "vyon-media" || aws.ToString(input.Key) != "images/abc.png" {
		t.Fatalf("unexpected object %s/%s", aws.ToString(input.Bucket), aws.ToString(input.Key))
	}
	if aws.ToString(input.ContentType) != "image/png" || recorder.bodies[0] != "png-bytes" {
		t.Fatalf("unexpected content %q %q", aws.ToString(input.ContentType), recorder.bodies[0])
	}
}

func TestS3UploaderFallsBackToLocation(t *testing.T) {
	recorder := &recordingObjectUploader{output: &manager.UploadOutput{Location: "https://bucket.s3.amazonaws.com/videos/abc.mp4"}}
	uploader, err := newS3Uploader("bucket", "", recorder, fixedIDProvider{id: "abc"}, nil)
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	url, err := uploader.Upload(context.Background(), Asset{Kind: AssetVideo, Filename: "a.mp4", Body: strings.NewReader("v")})
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if url != "https://bucket.s3.amazonaws.com/videos/abc.mp4" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestS3UploaderWrapsFailure(t *testing.T) {
	recorder := &recordingObjectUploader{err: errors.New("access denied")}
	uploader, err := newS3Uploader("bucket", "https://media.example.com", recorder, fixedIDProvider{id: "abc"}, nil)
	if err != nil {
		t.Fatalf("constructor failed: %v", err)
	}
	if _, err := uploader.Upload(context.Background(), Asset{Kind: AssetVideo, Body: strings.NewReader("v")}); !errors.Is(err, ErrUploadFailed) {
		t.Fatalf("expected ErrUploadFailed, got %v", err)
	}
}

func TestNewUploaderSelectsBackend(t *testing.T) {
	preset, err := NewUploader(context.Background(), config.MediaConfig{
		Backend:       config.MediaBackendPreset,
		PresetBaseURL: "https://api.example.com",
		CloudName:     "demo",
		UploadPreset:  "unsigned",
	}, fixedIDProvider{id: "x"}, nil)
	if err != nil {
		t.Fatalf("preset backend failed: %v", err)
	}
	if _, ok := preset.(*PresetUploader); !ok {
		t.Fatalf("expected preset uploader, got %T", preset)
	}

	s3Uploader, err := NewUploader(context.Background(), config.MediaConfig{
		Backend:       config.MediaBackendS3,
		S3Bucket:      "vyon-media",
		S3Region:      "us-east-1",
		S3Endpoint:    "http://127.0.0.1:9000",
		S3AccessKeyID: "minio",
		S3SecretKey:   "minio-secret",
	}, fixedIDProvider{id: "x"}, nil)
	if err != nil {
		t.Fatalf("s3 backend failed: %v", err)
	}
	if _, ok := s3Uploader.(*S3Uploader); !ok {
		t.Fatalf("expected s3 uploader, got %T", s3Uploader)
	}

	if _, err := NewUploader(context.Background(), config.MediaConfig{Backend: "ftp"}, nil, nil); !errors.Is(err, ErrUnsupportedBackend) {
		t.Fatalf("expected ErrUnsupportedBackend, got %v", err)
	}
}
