// Package source reads the input text of a run from a local file or an
// s3:// object, decompressing and stripping HTML as needed.
package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pierrec/lz4/v4"

	"github.com/cognicore/wordfreq/internal/logging"
	"github.com/cognicore/wordfreq/pkg/wordfreq/internalerr"
)

// S3Options holds credentials for s3:// inputs.
type S3Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Region    string
}

// Options controls how an input is read.
type Options struct {
	// HTML forces tag stripping. Inputs named *.html or *.htm are always
	// stripped.
	HTML   bool
	S3     S3Options
	Logger *slog.Logger
}

// Read returns the whole input as valid UTF-8; invalid sequences are
// replaced with U+FFFD. Compression is chosen by extension: .gz, .zst or
// .zstd, .lz4.
func Read(ctx context.Context, name string, opts Options) (string, error) {
	logger := logging.Component(opts.Logger, "source")

	raw, err := open(ctx, name, opts.S3)
	if err != nil {
		return "", err
	}
	defer raw.Close()

	r, err := Decompress(name, raw)
	if err != nil {
		return "", err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", name, err)
	}
	logger.Debug("read input", "name", name, "bytes", len(data))

	text := strings.ToValidUTF8(string(data), "\uFFFD")
	if opts.HTML || isHTML(name) {
		text = StripHTML(text)
	}
	return text, nil
}

func open(ctx context.Context, name string, s3 S3Options) (io.ReadCloser, error) {
	if !strings.HasPrefix(name, "s3://") {
		f, err := os.Open(name)
		if err != nil {
			return nil, fmt.Errorf("open input: %w", err)
		}
		return f, nil
	}

	bucket, key, err := ParseS3URL(name)
	if err != nil {
		return nil, err
	}
	if s3.Endpoint == "" {
		return nil, fmt.Errorf("%w: s3 endpoint required for %s", internalerr.ErrInvalidConfig, name)
	}
	client, err := minio.New(s3.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(s3.AccessKey, s3.SecretKey, ""),
		Secure: s3.UseSSL,
		Region: s3.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 client: %w", err)
	}
	if _, err := client.StatObject(ctx, bucket, key, minio.StatObjectOptions{}); err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NotFound" {
			return nil, fmt.Errorf("%s: %w", name, internalerr.ErrNotFound)
		}
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	obj, err := client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", name, err)
	}
	return obj, nil
}

// ParseS3URL splits s3://bucket/key.
func ParseS3URL(raw string) (bucket, key string, err error) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "s3" || u.Host == "" || strings.TrimPrefix(u.Path, "/") == "" {
		return "", "", fmt.Errorf("%w: not an s3://bucket/key url: %q", internalerr.ErrInvalidInput, raw)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Decompress wraps r in the decoder matching name's extension. Unknown
// extensions pass through.
func Decompress(name string, r io.Reader) (io.ReadCloser, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".gz":
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip %s: %w", name, err)
		}
		return zr, nil
	case ".zst", ".zstd":
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("zstd %s: %w", name, err)
		}
		return zr.IOReadCloser(), nil
	case ".lz4":
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return io.NopCloser(r), nil
	}
}

func isHTML(name string) bool {
	base := strings.ToLower(name)
	for _, ext := range []string{".gz", ".zst", ".zstd", ".lz4"} {
		base = strings.TrimSuffix(base, ext)
	}
	ext := path.Ext(base)
	return ext == ".html" || ext == ".htm"
}
