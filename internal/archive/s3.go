// Package archive uploads finished intake records to S3 as JSON documents.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"voice-intake/internal/domain"
)

// s3API is the subset of the S3 client used by Archive.
type s3API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

type Archive struct {
	api    s3API
	bucket string
	prefix string
}

func New(api s3API, bucket, prefix string) (*Archive, error) {
	if api == nil {
		return nil, errors.New("archive: api must not be nil")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("archive: bucket must not be empty")
	}
	return &Archive{api: api, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (a *Archive) Name() string { return "s3" }

// Key returns the object key of rec: <prefix>/yyyy/mm/dd/<session>.json,
// dated by the end of the call.
func (a *Archive) Key(rec domain.Record) string {
	return path.Join(a.prefix, rec.EndedAt.UTC().Format("2006/01/02"), rec.SessionID+".json")
}

func (a *Archive) Write(ctx context.Context, rec domain.Record) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return errors.New("archive: Write: session id is required")
	}
	body, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("archive: marshal record: %w", err)
	}
	_, err = a.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(a.Key(rec)),
		Body:          bytes.NewReader(body),
		ContentLength: aws.Int64(int64(len(body))),
		ContentType:   aws.String("application/json"),
		Metadata: map[string]string{
			"call-id": rec.CallID,
			"outcome": string(rec.Outcome),
		},
	})
	if err != nil {
		return fmt.Errorf("archive: put %s: %w", a.Key(rec), err)
	}
	return nil
}

// Read fetches an archived record by key.
func (a *Archive) Read(ctx context.Context, key string) (domain.Record, error) {
	out, err := a.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return domain.Record{}, fmt.Errorf("archive: get %s: %w", key, err)
	}
	defer out.Body.Close()

	var rec domain.Record
	if err := json.NewDecoder(out.Body).Decode(&rec); err != nil {
		return domain.Record{}, fmt.Errorf("archive: decode %s: %w", key, err)
	}
	return rec, nil
}
