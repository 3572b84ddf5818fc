package datafiles

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Source abstracts where datafiles are loaded from, so the repository logic
// (parse, sanity-check, cache) doesn't care whether they came off local disk
// or an object store.
type Source interface {
	// List returns every datafile's path key, relative to the source root.
	List(ctx context.Context) ([]string, error)
	// Read fetches the raw bytes for one path returned by List.
	Read(ctx context.Context, path string) ([]byte, error)
}

// DirSource walks a directory tree on local disk for *.json files. It needs
// no external configuration and is always available.
type DirSource struct {
	Root string
}

func (d DirSource) List(ctx context.Context) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(d.Root, func(path string, entry os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			return nil
		}
		rel, err := filepath.Rel(d.Root, path)
		if err != nil {
			return err
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func (d DirSource) Read(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(filepath.Join(d.Root, filepath.FromSlash(path)))
}

// S3Source reads datafiles published to an S3 bucket/prefix instead of a
// shared local directory, for deployments where the platform's build step
// writes straight to object storage.
type S3Source struct {
	Client *s3.Client
	Bucket string
	Prefix string
}

func (s S3Source) List(ctx context.Context) ([]string, error) {
	var paths []string
	var token *string
	for {
		out, err := s.Client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.Bucket),
			Prefix:            aws.String(s.Prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("datafiles: s3 list %s/%s: %w", s.Bucket, s.Prefix, err)
		}
		for _, obj := range out.Contents {
			key := aws.ToString(obj.Key)
			if !strings.HasSuffix(key, ".json") {
				continue
			}
			paths = append(paths, strings.TrimPrefix(strings.TrimPrefix(key, s.Prefix), "/"))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return paths, nil
}

func (s S3Source) Read(ctx context.Context, path string) ([]byte, error) {
	key := strings.TrimSuffix(s.Prefix, "/") + "/" + path
	key = strings.TrimPrefix(key, "/")
	out, err := s.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("datafiles: s3 get %s/%s: %w", s.Bucket, key, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
