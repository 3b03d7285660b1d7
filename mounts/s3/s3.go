// Package s3 serves an object-store bucket prefix as a read-only backend,
// meant as a lower overlay layer. Keys map to paths with '/' as separator;
// a trailing slash or the x-directory content type marks a directory, and
// directories also exist implicitly as common prefixes.
package s3

import (
	"context"
	"strings"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	vfs "github.com/mwantia/guestvfs"
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/data/errors"
	"github.com/mwantia/guestvfs/log"
)

const providerName = "s3"

const dirContentType = "application/x-directory"

// Config carries the connection parameters of one bucket backend.
type Config struct {
	Endpoint  string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Logger    *log.Logger
}

// S3Fs is a read-only filesystem view of a bucket prefix. Object keys are
// listed and read live; inode identity is synthesized per key and kept for
// the lifetime of the instance.
type S3Fs struct {
	client *minio.Client
	bucket string
	prefix string
	log    *log.Logger

	mu     sync.Mutex
	next   data.BackendInodeId
	byKey  map[string]data.BackendInodeId
	byId   map[data.BackendInodeId]string
	isDirs map[data.BackendInodeId]bool
}

// New connects to the endpoint and verifies the bucket exists.
func New(ctx context.Context, cfg Config) (*S3Fs, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, errors.Backend(providerName, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, errors.Backend(providerName, err)
	}
	if !exists {
		return nil, errors.NotFound([]byte(cfg.Bucket))
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.NewDiscard()
	}

	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	s := &S3Fs{
		client: client,
		bucket: cfg.Bucket,
		prefix: prefix,
		log:    logger.Named(providerName),
		byKey:  make(map[string]data.BackendInodeId),
		byId:   make(map[data.BackendInodeId]string),
		isDirs: make(map[data.BackendInodeId]bool),
	}

	s.inodeFor("", true)
	return s, nil
}

func (s *S3Fs) ProviderName() string {
	return providerName
}

func (s *S3Fs) Capabilities() vfs.Capabilities {
	return vfs.CapPersistent
}

func (s *S3Fs) Root() vfs.FsNode {
	return &s3Node{fs: s, rel: "", dir: true, ino: s.inodeFor("", true)}
}

func (s *S3Fs) NodeByInode(id data.BackendInodeId) (vfs.FsNode, bool) {
	s.mu.Lock()
	rel, ok := s.byId[id]
	dir := s.isDirs[id]
	s.mu.Unlock()
	if !ok {
		return nil, false
	}
	return &s3Node{fs: s, rel: rel, dir: dir, ino: id}, true
}

// inodeFor returns the synthetic inode of a bucket-relative path.
func (s *S3Fs) inodeFor(rel string, dir bool) data.BackendInodeId {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.byKey[rel]; ok {
		return id
	}

	s.next++
	s.byKey[rel] = s.next
	s.byId[s.next] = rel
	s.isDirs[s.next] = dir
	return s.next
}

// key builds the full object key of a relative path.
func (s *S3Fs) key(rel string) string {
	return s.prefix + rel
}

// statKey classifies one relative path against the bucket: an exact object,
// a directory marker object, or an implicit directory prefix.
func (s *S3Fs) statKey(ctx context.Context, rel string) (*minio.ObjectInfo, bool, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(rel), minio.StatObjectOptions{})
	if err == nil {
		dir := strings.HasSuffix(info.Key, "/") || info.ContentType == dirContentType
		return &info, dir, nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return nil, false, errors.Backend(providerName, err)
	}

	// Directory marker objects carry a trailing slash.
	info, err = s.client.StatObject(ctx, s.bucket, s.key(rel)+"/", minio.StatObjectOptions{})
	if err == nil {
		return &info, true, nil
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return nil, false, errors.Backend(providerName, err)
	}

	// An implicit directory exists when anything lives under the prefix.
	listing := s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{
		Prefix:  s.key(rel) + "/",
		MaxKeys: 1,
	})
	for obj := range listing {
		if obj.Err != nil {
			return nil, false, errors.Backend(providerName, obj.Err)
		}
		return nil, true, nil
	}

	return nil, false, errors.NotFound([]byte(rel))
}
