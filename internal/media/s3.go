package media

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/MarcoPoloResearchLab/vyon/backend/internal/ids"
)

var (
	errMissingBucket     = errors.New("media: s3 bucket is required")
	errMissingRegion     = errors.New("media: s3 region is required")
	errMissingIDProvider = errors.New("media: id provider is required")
)

// objectUploader is the subset of manager.Uploader used here.
type objectUploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3UploaderConfig configures uploads to an S3-compatible bucket.
// Static credentials are optional; the default AWS chain applies when empty.
type S3UploaderConfig struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PublicBaseURL   string
	IDProvider      ids.Provider
	Logger          *zap.Logger
}

// S3Uploader stores assets through the AWS multipart upload manager.
type S3Uploader struct {
	bucket        string
	publicBaseURL string
	uploader      objectUploader
	idProvider    ids.Provider
	logger        *zap.Logger
}

// NewS3Uploader loads AWS configuration and constructs an S3Uploader.
func NewS3Uploader(ctx context.Context, cfg S3UploaderConfig) (*S3Uploader, error) {
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, errMissingBucket
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		return nil, errMissingRegion
	}

	options := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		options = append(options, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, options...)
	if err != nil {
		return nil, fmt.Errorf("media: load aws config: %w", err)
	}

	endpoint := strings.TrimSpace(cfg.Endpoint)
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Uploader(bucket, cfg.PublicBaseURL, manager.NewUploader(client), cfg.IDProvider, cfg.Logger)
}

func newS3Uploader(bucket, publicBaseURL string, uploader objectUploader, idProvider ids.Provider, logger *zap.Logger) (*S3Uploader, error) {
	if idProvider == nil {
		return nil, errMissingIDProvider
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &S3Uploader{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(strings.TrimSpace(publicBaseURL), "/"),
		uploader:      uploader,
		idProvider:    idProvider,
		logger:        logger,
	}, nil
}

// Upload stores asset under "<kind>s/<id><ext>" and returns its public URL.
func (u *S3Uploader) Upload(ctx context.Context, asset Asset) (string, error) {
	if err := asset.validate(); err != nil {
		return "", err
	}
	objectID, err := u.idProvider.NewID()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	key := fmt.Sprintf("%ss/%s%s", asset.Kind, objectID, strings.ToLower(path.Ext(asset.filename())))

	input := &s3.PutObjectInput{
		Bucket: aws.String(u.bucket),
		Key:    aws.String(key),
		Body:   asset.Body,
	}
	if asset.ContentType != "" {
		input.ContentType = aws.String(asset.ContentType)
	}
	output, err := u.uploader.Upload(ctx, input)
	if err != nil {
		u.logger.Warn("s3 upload failed",
			zap.String("bucket", u.bucket),
			zap.String("key", key),
			zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if u.publicBaseURL != "" {
		return u.publicBaseURL + "/" + key, nil
	}
	if output != nil && output.Location != "" {
		return output.Location, nil
	}
	return "", fmt.Errorf("%w: no public location for %s", ErrUploadFailed, key)
}
