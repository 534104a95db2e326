package source

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/cognicore/wordfreq/pkg/wordfreq/internalerr"
)

const sample = "The quick brown fox jumps over the lazy dog"

func writeCompressed(t *testing.T, name string, wrap func(io.Writer) io.WriteCloser) string {
	t.Helper()
	var buf bytes.Buffer
	w := wrap(&buf)
	if _, err := w.Write([]byte(sample)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadFormats(t *testing.T) {
	tests := []struct {
		name string
		wrap func(io.Writer) io.WriteCloser
	}{
		{"plain.txt", func(w io.Writer) io.WriteCloser { return nopWriteCloser{w} }},
		{"corpus.txt.gz", func(w io.Writer) io.WriteCloser { return gzip.NewWriter(w) }},
		{"corpus.txt.zst", func(w io.Writer) io.WriteCloser {
			zw, err := zstd.NewWriter(w)
			if err != nil {
				t.Fatal(err)
			}
			return zw
		}},
		{"corpus.txt.lz4", func(w io.Writer) io.WriteCloser { return lz4.NewWriter(w) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCompressed(t, tt.name, tt.wrap)
			got, err := Read(context.Background(), path, Options{})
			if err != nil {
				t.Fatalf("Read: %v", err)
			}
			if got != sample {
				t.Fatalf("Read = %q, want %q", got, sample)
			}
		})
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func TestReadReplacesInvalidUTF8(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	if err := os.WriteFile(path, []byte("ok \xff\xfe done"), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Read(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got != "ok \uFFFD done" {
		t.Fatalf("Read = %q", got)
	}
}

func TestReadHTML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	page := `<html><head><style>p{color:red}</style><script>var x = 1;</script></head>
<body><h1>Title</h1><p>first<b>bold</b></p><p>second</p></body></html>`
	if err := os.WriteFile(path, []byte(page), 0644); err != nil {
		t.Fatal(err)
	}
	got, err := Read(context.Background(), path, Options{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	fields := strings.Fields(got)
	want := []string{"Title", "first", "bold", "second"}
	if strings.Join(fields, " ") != strings.Join(want, " ") {
		t.Fatalf("fields = %q, want %q", fields, want)
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := Read(context.Background(), "/nonexistent/input.txt", Options{}); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseS3URL(t *testing.T) {
	bucket, key, err := ParseS3URL("s3://corpora/2024/wiki.txt.zst")
	if err != nil {
		t.Fatalf("ParseS3URL: %v", err)
	}
	if bucket != "corpora" || key != "2024/wiki.txt.zst" {
		t.Fatalf("got %q %q", bucket, key)
	}

	for _, bad := range []string{"s3://bucket", "s3:///key", "http://bucket/key"} {
		if _, _, err := ParseS3URL(bad); !errors.Is(err, internalerr.ErrInvalidInput) {
			t.Errorf("ParseS3URL(%q) err = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestS3RequiresEndpoint(t *testing.T) {
	_, err := Read(context.Background(), "s3://bucket/key.txt", Options{})
	if !errors.Is(err, internalerr.ErrInvalidConfig) {
		t.Fatalf("err = %v, want ErrInvalidConfig", err)
	}
}

func TestIsHTML(t *testing.T) {
	tests := map[string]bool{
		"a.html":     true,
		"a.HTM":      true,
		"a.html.gz":  true,
		"a.txt":      false,
		"a.html.txt": false,
	}
	for name, want := range tests {
		if got := isHTML(name); got != want {
			t.Errorf("isHTML(%q) = %v, want %v", name, got, want)
		}
	}
}
