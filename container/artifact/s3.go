// Copyright 2019 Drone IO, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package artifact

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3 is an object-store Backend for deployments that do not want artifact
// bytes sitting on the controller's local disk.
type S3 struct {
	client *s3.S3
	bucket string
	prefix string
}

// NewS3 returns an S3-backed Backend. sess is expected to already carry
// region/credentials resolution (environment, shared config, or an
// assumed role), the conventional way the AWS SDK for Go expects callers
// to build a session once and reuse it.
func NewS3(sess *session.Session, bucket, prefix string) *S3 {
	return &S3{client: s3.New(sess), bucket: bucket, prefix: strings.Trim(prefix, "/")}
}

func (s *S3) key(projectID, buildID int64, name string) string {
	parts := []string{strconv.FormatInt(projectID, 10), strconv.FormatInt(buildID, 10), name}
	if s.prefix != "" {
		parts = append([]string{s.prefix}, parts...)
	}
	return strings.Join(parts, "/")
}

func (s *S3) Put(ctx context.Context, projectID, buildID int64, name string, content io.Reader) (int64, error) {
	buf, err := io.ReadAll(content)
	if err != nil {
		return 0, fmt.Errorf("artifact: read %s: %w", name, err)
	}
	_, err = s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(projectID, buildID, name)),
		Body:   bytes.NewReader(buf),
	})
	if err != nil {
		return 0, fmt.Errorf("artifact: put %s: %w", name, err)
	}
	return int64(len(buf)), nil
}

func (s *S3) Open(ctx context.Context, projectID, buildID int64, name string) (io.ReadCloser, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(projectID, buildID, name)),
	})
	if err != nil {
		return nil, fmt.Errorf("artifact: get %s: %w", name, err)
	}
	return out.Body, nil
}

func (s *S3) Delete(ctx context.Context, projectID, buildID int64, name string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(projectID, buildID, name)),
	})
	if err != nil {
		return fmt.Errorf("artifact: delete %s: %w", name, err)
	}
	return nil
}
