// Package remote fetches datasets stored in S3 or Google Cloud Storage to
// a local cache so they can be memory-mapped like local files.
package remote

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/ajitpratap0/prositlmdb/pkg/errors"
)

// Location is a parsed object URI.
type Location struct {
	Scheme string // s3 or gs
	Bucket string
	Key    string
}

func (l Location) String() string { return l.Scheme + "://" + l.Bucket + "/" + l.Key }

// IsRemote reports whether path is an s3:// or gs:// URI.
func IsRemote(path string) bool {
	return strings.HasPrefix(path, "s3://") || strings.HasPrefix(path, "gs://")
}

// Parse splits an s3:// or gs:// URI.
func Parse(uri string) (Location, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return Location{}, errors.Wrap(err, errors.ErrorTypePathUnavailable, "invalid object URI").
			WithDetail("uri", uri)
	}
	if u.Scheme != "s3" && u.Scheme != "gs" {
		return Location{}, errors.Newf(errors.ErrorTypePathUnavailable, "unsupported scheme %q", u.Scheme).
			WithDetail("uri", uri)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return Location{}, errors.New(errors.ErrorTypePathUnavailable, "object URI needs a bucket and a key").
			WithDetail("uri", uri)
	}
	return Location{Scheme: u.Scheme, Bucket: u.Host, Key: key}, nil
}

// Fetcher downloads remote objects into a cache directory. Clients are
// created on first use.
type Fetcher struct {
	cacheDir string
	logger   *zap.Logger

	region     string
	gcsOptions []option.ClientOption

	s3Once   sync.Once
	s3Client *s3.Client
	s3Err    error

	gcsOnce   sync.Once
	gcsClient *storage.Client
	gcsErr    error
}

// Option customizes a Fetcher.
type Option func(*Fetcher)

// WithS3Client uses c instead of a client from the default AWS config.
func WithS3Client(c *s3.Client) Option {
	return func(f *Fetcher) {
		f.s3Client = c
		f.s3Once.Do(func() {})
	}
}

// WithRegion sets the AWS region of the default S3 client.
func WithRegion(region string) Option {
	return func(f *Fetcher) { f.region = region }
}

// WithGCSOptions passes client options, such as a credentials file, to the
// GCS client.
func WithGCSOptions(opts ...option.ClientOption) Option {
	return func(f *Fetcher) { f.gcsOptions = append(f.gcsOptions, opts...) }
}

// NewFetcher creates a fetcher caching under cacheDir.
func NewFetcher(cacheDir string, logger *zap.Logger, opts ...Option) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	f := &Fetcher{cacheDir: cacheDir, logger: logger}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CachePath returns where loc is stored locally.
func (f *Fetcher) CachePath(loc Location) string {
	return filepath.Join(f.cacheDir, loc.Scheme, loc.Bucket, filepath.FromSlash(loc.Key))
}

// Exists reports whether path exists. Local paths are checked on disk;
// remote ones with a metadata request.
func (f *Fetcher) Exists(ctx context.Context, path string) (bool, error) {
	if !IsRemote(path) {
		_, err := os.Stat(path)
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to stat input").
			WithDetail("path", path)
	}

	loc, err := Parse(path)
	if err != nil {
		return false, err
	}

	switch loc.Scheme {
	case "s3":
		client, err := f.s3()
		if err != nil {
			return false, err
		}
		_, err = client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(loc.Bucket),
			Key:    aws.String(loc.Key),
		})
		if err != nil {
			var notFound *s3types.NotFound
			var respErr *awshttp.ResponseError
			if errors.As(err, &notFound) || (errors.As(err, &respErr) && respErr.HTTPStatusCode() == http.StatusNotFound) {
				return false, nil
			}
			return false, errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to stat object").
				WithDetail("uri", path)
		}
		return true, nil
	default:
		client, err := f.gcs(ctx)
		if err != nil {
			return false, err
		}
		_, err = client.Bucket(loc.Bucket).Object(loc.Key).Attrs(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		if err != nil {
			return false, errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to stat object").
				WithDetail("uri", path)
		}
		return true, nil
	}
}

// Fetch returns a local path for path, downloading remote objects into
// the cache. Local paths are returned unchanged. A cached copy is reused.
func (f *Fetcher) Fetch(ctx context.Context, path string) (string, error) {
	if !IsRemote(path) {
		return path, nil
	}

	loc, err := Parse(path)
	if err != nil {
		return "", err
	}
	local := f.CachePath(loc)
	if _, err := os.Stat(local); err == nil {
		f.logger.Debug("using cached object", zap.String("uri", path), zap.String("path", local))
		return local, nil
	}

	if err := os.MkdirAll(filepath.Dir(local), 0o755); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to create cache directory").
			WithDetail("path", local)
	}
	tmp, err := os.CreateTemp(filepath.Dir(local), ".fetch-*")
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to create cache file").
			WithDetail("path", local)
	}
	defer os.Remove(tmp.Name())

	f.logger.Info("fetching remote dataset", zap.String("uri", path), zap.String("path", local))

	var n int64
	switch loc.Scheme {
	case "s3":
		n, err = f.downloadS3(ctx, loc, tmp)
	default:
		n, err = f.downloadGCS(ctx, loc, tmp)
	}
	if closeErr := tmp.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		return "", errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to fetch object").
			WithDetail("uri", path)
	}
	if err := os.Rename(tmp.Name(), local); err != nil {
		return "", errors.Wrap(err, errors.ErrorTypePathUnavailable, "failed to store fetched object").
			WithDetail("path", local)
	}

	f.logger.Info("fetched remote dataset", zap.String("uri", path), zap.Int64("bytes", n))
	return local, nil
}

func (f *Fetcher) downloadS3(ctx context.Context, loc Location, w io.WriterAt) (int64, error) {
	client, err := f.s3()
	if err != nil {
		return 0, err
	}
	downloader := manager.NewDownloader(client)
	return downloader.Download(ctx, w, &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	})
}

func (f *Fetcher) downloadGCS(ctx context.Context, loc Location, w io.Writer) (int64, error) {
	client, err := f.gcs(ctx)
	if err != nil {
		return 0, err
	}
	r, err := client.Bucket(loc.Bucket).Object(loc.Key).NewReader(ctx)
	if err != nil {
		return 0, err
	}
	defer r.Close()
	return io.Copy(w, r)
}

func (f *Fetcher) s3() (*s3.Client, error) {
	f.s3Once.Do(func() {
		var opts []func(*awsconfig.LoadOptions) error
		if f.region != "" {
			opts = append(opts, awsconfig.WithRegion(f.region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
		if err != nil {
			f.s3Err = errors.Wrap(err, errors.ErrorTypeConfig, "failed to load AWS configuration")
			return
		}
		f.s3Client = s3.NewFromConfig(cfg)
	})
	return f.s3Client, f.s3Err
}

func (f *Fetcher) gcs(ctx context.Context) (*storage.Client, error) {
	f.gcsOnce.Do(func() {
		client, err := storage.NewClient(ctx, f.gcsOptions...)
		if err != nil {
			f.gcsErr = errors.Wrap(err, errors.ErrorTypeConfig, "failed to create GCS client")
			return
		}
		f.gcsClient = client
	})
	return f.gcsClient, f.gcsErr
}

// Close releases the GCS client, if one was created.
func (f *Fetcher) Close() error {
	if f.gcsClient != nil {
		return f.gcsClient.Close()
	}
	return nil
}
