package storage

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// PathSnapshots is the object prefix for archived program documents.
const PathSnapshots = "snapshots"

// Archive keeps copies of the programs document outside the data directory.
type Archive interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	Health(ctx context.Context) error
}

// ObjectInfo represents metadata about a stored object.
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
	ETag         string
}

// MinIOConfig holds MinIO connection configuration.
type MinIOConfig struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	UseSSL          bool
	Region          string
}

// MinIOArchive implements Archive on any S3-compatible store.
type MinIOArchive struct {
	client     *minio.Client
	bucketName string
	region     string
}

// NewMinIOArchive creates a MinIO archive client.
func NewMinIOArchive(cfg MinIOConfig) (*MinIOArchive, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &MinIOArchive{
		client:     client,
		bucketName: cfg.BucketName,
		region:     cfg.Region,
	}, nil
}

// InitBucket ensures the bucket exists and creates it if necessary.
func (s *MinIOArchive) InitBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		err = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{
			Region: s.region,
		})
		if err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return nil
}

// Health checks MinIO connectivity.
func (s *MinIOArchive) Health(ctx context.Context) error {
	_, err := s.client.BucketExists(ctx, s.bucketName)
	return err
}

// Upload stores data as a JSON object under the snapshots prefix.
func (s *MinIOArchive) Upload(ctx context.Context, name string, data []byte) (string, error) {
	key := SnapshotKey(name)
	info, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}
	return info.Key, nil
}

// List lists objects with the given prefix.
func (s *MinIOArchive) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var objects []ObjectInfo

	objectCh := s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	for obj := range objectCh {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		objects = append(objects, ObjectInfo{
			Key:          obj.Key,
			Size:         obj.Size,
			LastModified: obj.LastModified,
			ETag:         obj.ETag,
		})
	}

	return objects, nil
}

// Delete removes an object.
func (s *MinIOArchive) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// SnapshotKey returns the object key for a snapshot file name.
func SnapshotKey(name string) string {
	return path.Join(PathSnapshots, name)
}

// SnapshotName returns the archive file name for a run finished at t.
func SnapshotName(t time.Time) string {
	return "scraped-programs-" + t.UTC().Format("20060102T150405Z") + ".json"
}

// PruneArchive deletes all but the newest keep snapshots in archive.
func PruneArchive(ctx context.Context, archive Archive, keep int) ([]string, error) {
	objects, err := archive.List(ctx, PathSnapshots+"/")
	if err != nil {
		return nil, err
	}
	if len(objects) <= keep {
		return nil, nil
	}

	sort.Slice(objects, func(i, j int) bool {
		return objects[i].Key < objects[j].Key
	})

	var removed []string
	for _, obj := range objects[:len(objects)-keep] {
		if err := archive.Delete(ctx, obj.Key); err != nil {
			return removed, err
		}
		removed = append(removed, obj.Key)
	}
	return removed, nil
}
