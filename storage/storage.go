/*
Copyright 2025 Clear Transcript Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package storage puts audio files and finished transcripts into an
// S3-compatible object store. Recognition reads the audio straight from the
// store, so the returned URIs use the s3:// scheme.
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/gistrec/clear-transcript/config"
)

// ObjectStore uploads local files and raw payloads into a single bucket.
type ObjectStore struct {
	client *minio.Client
	bucket string
}

// NewObjectStore connects to the configured endpoint and ensures the bucket
// exists.
func NewObjectStore(ctx context.Context) (*ObjectStore, error) {
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	client, err := minio.New(conf.ObjectStore.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(conf.ObjectStore.AccessKey, conf.ObjectStore.SecretKey, ""),
		Secure: conf.ObjectStore.UseSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create object store client")
	}

	store := &ObjectStore{client: client, bucket: conf.ObjectStore.Bucket}
	if err := store.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *ObjectStore) ensureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return errors.Wrapf(err, "failed to check bucket %q", s.bucket)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return errors.Wrapf(err, "failed to create bucket %q", s.bucket)
	}
	logrus.Infof("created bucket %q", s.bucket)
	return nil
}

// Upload puts the file at localPath into the bucket under key, retrying
// transient failures with exponential backoff. It returns the object's
// s3:// URI.
func (s *ObjectStore) Upload(ctx context.Context, localPath, key string) (string, error) {
	contentType := contentTypeForKey(key)

	operation := func() error {
		_, err := s.client.FPutObject(ctx, s.bucket, key, localPath, minio.PutObjectOptions{
			ContentType: contentType,
		})
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.RetryNotify(operation, policy, func(err error, next time.Duration) {
		logrus.WithError(err).Warnf("upload of %q failed, retrying in %s", key, next)
	}); err != nil {
		return "", errors.Wrapf(err, "failed to upload %q", key)
	}

	return s.URI(key), nil
}

// UploadBytes puts a raw payload into the bucket under key. Used for
// finished transcripts.
func (s *ObjectStore) UploadBytes(ctx context.Context, payload []byte, key string) (string, error) {
	operation := func() error {
		_, err := s.client.PutObject(ctx, s.bucket, key,
			strings.NewReader(string(payload)), int64(len(payload)),
			minio.PutObjectOptions{ContentType: contentTypeForKey(key)})
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 4), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return "", errors.Wrapf(err, "failed to upload %q", key)
	}

	return s.URI(key), nil
}

// URI returns the s3:// address of an object in the bucket.
func (s *ObjectStore) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, key)
}

func contentTypeForKey(key string) string {
	switch {
	case strings.HasSuffix(key, ".ogg"):
		return "audio/ogg"
	case strings.HasSuffix(key, ".txt"):
		return "text/plain; charset=utf-8"
	case strings.HasSuffix(key, ".json"):
		return "application/json"
	}
	return "application/octet-stream"
}
