package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dmitrijs2005/docvault/internal/common"
	sc "github.com/dmitrijs2005/docvault/internal/server/config"
)

// S3Store keeps encrypted blobs in an S3-compatible bucket under
// users/<owner_user_id>/<opaque_token> keys.
type S3Store struct {
	client *s3.Client
	bucket string
}

// NewS3Store builds the S3 client from config (static credentials, custom
// base endpoint for MinIO-style deployments).
func NewS3Store(ctx context.Context, cfg *sc.Config) (*S3Store, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			cfg.S3RootUser,
			cfg.S3RootPassword,
			"",
		)))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(cfg.S3BaseEndpoint)
		o.UsePathStyle = true
	})

	return &S3Store{client: client, bucket: cfg.S3Bucket}, nil
}

func blobKey(userID int64, token string) string {
	return fmt.Sprintf("users/%d/%s", userID, token)
}

// candidateKeys mirrors the local store's defensive resolution: the
// recorded location first, then the token under the user prefix.
func candidateKeys(userID int64, loc Locator) []string {
	var keys []string
	if loc.StoragePath != "" {
		keys = append(keys, loc.StoragePath)
	}
	if loc.StoredName != "" {
		keys = append(keys, blobKey(userID, loc.StoredName))
	}
	return keys
}

func isNoSuchKey(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	return errors.As(err, &nsk) || errors.As(err, &nf)
}

func (s *S3Store) Save(ctx context.Context, userID int64, data []byte) (string, string, error) {
	token := common.RandomToken()
	key := blobKey(userID, token)

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", "", fmt.Errorf("put object: %w", err)
	}
	return token, key, nil
}

func (s *S3Store) Load(ctx context.Context, userID int64, loc Locator) ([]byte, error) {
	for _, key := range candidateKeys(userID, loc) {
		out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: &s.bucket,
			Key:    aws.String(key),
		})
		if err != nil {
			if isNoSuchKey(err) {
				continue
			}
			return nil, fmt.Errorf("get object: %w", err)
		}
		defer out.Body.Close()
		data, err := io.ReadAll(out.Body)
		if err != nil {
			return nil, fmt.Errorf("read object body: %w", err)
		}
		return data, nil
	}
	return nil, fmt.Errorf("%w: blob for user %d", common.ErrorNotFound, userID)
}

func (s *S3Store) Copy(ctx context.Context, userID int64, src Locator) (string, string, error) {
	token := common.RandomToken()
	key := blobKey(userID, token)

	var lastErr error
	for _, srcKey := range candidateKeys(userID, src) {
		_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     &s.bucket,
			Key:        &key,
			CopySource: aws.String(url.PathEscape(s.bucket + "/" + srcKey)),
		})
		if err == nil {
			return token, key, nil
		}
		if !isNoSuchKey(err) {
			return "", "", fmt.Errorf("copy object: %w", err)
		}
		lastErr = err
	}
	return "", "", fmt.Errorf("%w: blob for user %d: %v", common.ErrorNotFound, userID, lastErr)
}

func (s *S3Store) Remove(ctx context.Context, userID int64, loc Locator) error {
	keys := candidateKeys(userID, loc)
	if len(keys) == 0 {
		return fmt.Errorf("%w: blob for user %d", common.ErrorNotFound, userID)
	}
	// DeleteObject is idempotent in S3; delete the primary key only.
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: &s.bucket,
		Key:    aws.String(keys[0]),
	})
	if err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
