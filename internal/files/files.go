package files

import (
	"context"
	"io"
	"os"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"
)

// FileStorage reads fixtures from an S3 compatible bucket. Fixture paths are
// used as object keys.
type FileStorage struct {
	cl     *minio.Client
	Bucket string
}

type Config struct {
	Url      string
	Login    string
	Password string
	Bucket   string
	Secure   bool
	// Region skips the bucket location lookup when set.
	Region string
}

func NewFileStorage(cfg Config) (*FileStorage, error) {
	client, err := minio.New(cfg.Url, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Login, cfg.Password, ""),
		Secure: cfg.Secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create minio client")
	}
	return &FileStorage{cl: client, Bucket: cfg.Bucket}, nil
}

func (s *FileStorage) GetFile(ctx context.Context, filename string) (io.ReadCloser, error) {
	file, err := s.cl.GetObject(ctx, s.Bucket, objectKey(filename), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	return file, nil
}

func (s *FileStorage) ReadFixture(ctx context.Context, filename string) ([]byte, error) {
	file, err := s.GetFile(ctx, filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s/%s", s.Bucket, objectKey(filename))
	}
	defer file.Close()

	// A missing object surfaces on the first read, not on GetObject.
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s/%s", s.Bucket, objectKey(filename))
	}
	return data, nil
}

func objectKey(filename string) string {
	return strings.TrimPrefix(path.Clean("/"+filename), "/")
}

// LocalStorage reads fixtures from the filesystem.
type LocalStorage struct{}

func NewLocalStorage() *LocalStorage {
	return &LocalStorage{}
}

func (LocalStorage) ReadFixture(_ context.Context, filename string) ([]byte, error) {
	return os.ReadFile(filename)
}
