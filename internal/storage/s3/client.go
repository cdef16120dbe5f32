// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package s3 adapts an S3 bucket to the folder operations the user
// directory needs.
package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/opentrusty/bucketwarden/internal/retry"
)

// ErrInvalidFolder is returned for empty or relative folder paths.
var ErrInvalidFolder = errors.New("invalid folder path")

// Config holds S3 connection settings
type Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// Client represents the S3 client wrapper
type Client struct {
	bucketName string
	svc        s3iface.S3API
	policy     retry.Policy
}

// NewClient creates a new S3 client instance
func NewClient(cfg Config, policy retry.Policy) (*Client, error) {
	awsCfg := &aws.Config{
		Region: aws.String(cfg.Region),
	}
	if cfg.AccessKeyID != "" {
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKeyID, cfg.SecretAccessKey, "")
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws session: %w", err)
	}

	return NewWithAPI(s3.New(sess), cfg.Bucket, policy), nil
}

// NewWithAPI wraps an existing S3 API implementation.
func NewWithAPI(svc s3iface.S3API, bucket string, policy retry.Policy) *Client {
	return &Client{bucketName: bucket, svc: svc, policy: policy}
}

// CreateFolder creates a folder marker (empty object with a trailing slash).
// Creating an existing folder succeeds.
func (c *Client) CreateFolder(ctx context.Context, folderPath string) error {
	key, err := folderKey(folderPath)
	if err != nil {
		return err
	}

	return c.policy.Do(ctx, func(ctx context.Context) error {
		_, err := c.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket: aws.String(c.bucketName),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("failed to create folder %s: %w", key, err)
		}
		return nil
	})
}

// ListFolders lists the immediate subfolders of prefix ("" for the bucket root).
func (c *Client) ListFolders(ctx context.Context, prefix string) ([]string, error) {
	if prefix != "" {
		key, err := folderKey(prefix)
		if err != nil {
			return nil, err
		}
		prefix = key
	}

	var folders []string
	err := c.policy.Once(ctx, func(ctx context.Context) error {
		folders = folders[:0]
		return c.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:    aws.String(c.bucketName),
			Prefix:    aws.String(prefix),
			Delimiter: aws.String("/"),
		}, func(page *s3.ListObjectsV2Output, _ bool) bool {
			for _, p := range page.CommonPrefixes {
				folders = append(folders, aws.StringValue(p.Prefix))
			}
			return true
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	return folders, nil
}

// Ping checks that the bucket is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.policy.Once(ctx, func(ctx context.Context) error {
		_, err := c.svc.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(c.bucketName)})
		return err
	})
}

func folderKey(p string) (string, error) {
	p = strings.TrimLeft(p, "/")
	if p == "" {
		return "", ErrInvalidFolder
	}
	for _, seg := range strings.Split(strings.TrimSuffix(p, "/"), "/") {
		if seg == "" || seg == "." || seg == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidFolder, p)
		}
	}
	if !strings.HasSuffix(p, "/") {
		p += "/"
	}
	return p, nil
}
