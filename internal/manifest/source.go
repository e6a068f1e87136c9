package manifest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/lucretia/decomplicator/internal/failure"
)

// Source is a manifest document as read from its location.
type Source struct {
	Data     []byte
	Format   Format
	Location string // absolute file path or URL
	Dir      string // template directory, empty for remote manifests
}

// Reader reads manifest documents of one location scheme.
type Reader interface {
	Read(ctx context.Context, location string) (*Source, error)
}

// Registry maps location schemes to Reader implementations.
type Registry struct {
	readers map[string]Reader
}

// NewRegistry creates a new empty manifest reader registry.
func NewRegistry() *Registry {
	return &Registry{readers: make(map[string]Reader)}
}

// DefaultRegistry reads local files and http(s) URLs.
func DefaultRegistry(client HTTPClient) *Registry {
	r := NewRegistry()
	r.Register("file", &LocalReader{})
	web := &URLReader{Client: client}
	r.Register("http", web)
	r.Register("https", web)
	return r
}

// Register adds a reader for the given scheme.
func (r *Registry) Register(scheme string, reader Reader) {
	r.readers[scheme] = reader
}

// Get returns the reader for the given scheme.
func (r *Registry) Get(scheme string) (Reader, error) {
	reader, ok := r.readers[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported manifest location scheme '%s'; supported: %s", scheme, r.supportedSchemes())
	}
	return reader, nil
}

// Read dispatches location to the reader registered for its scheme.
// Locations without a scheme are local paths.
func (r *Registry) Read(ctx context.Context, location string) (*Source, error) {
	scheme, rest := splitScheme(location)
	reader, err := r.Get(scheme)
	if err != nil {
		return nil, failure.New(failure.MalformedManifest, "read manifest", err)
	}
	if scheme == "file" {
		location = rest
	}
	return reader.Read(ctx, location)
}

func (r *Registry) supportedSchemes() string {
	schemes := make([]string, 0, len(r.readers))
	for s := range r.readers {
		schemes = append(schemes, s)
	}
	if len(schemes) == 0 {
		return "(none registered)"
	}
	sort.Strings(schemes)
	return strings.Join(schemes, ", ")
}

func splitScheme(location string) (string, string) {
	scheme, rest, ok := strings.Cut(location, "://")
	if !ok || strings.ContainsAny(scheme, `/\.`) || len(scheme) < 2 {
		// Windows drive letters ("C:\...") and plain paths have no scheme.
		return "file", location
	}
	return strings.ToLower(scheme), rest
}

// LocalReader reads manifests from files or template directories.
type LocalReader struct{}

func (LocalReader) Read(ctx context.Context, location string) (*Source, error) {
	abs, err := filepath.Abs(location)
	if err != nil {
		return nil, failure.New(failure.IOFailure, "read manifest", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, failure.New(failure.IOFailure, "read manifest", fmt.Errorf("stat %s: %w", location, err)).
			WithHint("check that the template path exists")
	}

	file := abs
	if info.IsDir() {
		file, err = FindFile(abs)
		if err != nil {
			return nil, failure.New(failure.MalformedManifest, "read manifest", err)
		}
	}

	format, err := FormatOf(file)
	if err != nil {
		return nil, failure.New(failure.MalformedManifest, "read manifest", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, failure.New(failure.IOFailure, "read manifest", fmt.Errorf("reading %s: %w", file, err))
	}
	return &Source{Data: data, Format: format, Location: file, Dir: filepath.Dir(file)}, nil
}

// FindFile returns the manifest inside a template directory.
func FindFile(dir string) (string, error) {
	for _, name := range FileNames {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no manifest found in %s (looked for %s)", dir, strings.Join(FileNames, ", "))
}

// HTTPClient abstracts HTTP operations for testing.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultMaxManifestSize bounds remote manifest downloads.
const DefaultMaxManifestSize = 1 << 20

// URLReader reads manifests over HTTP(S).
type URLReader struct {
	Client  HTTPClient
	MaxSize int64         // 0 means DefaultMaxManifestSize
	Timeout time.Duration // 0 means no extra timeout beyond context
}

func (u *URLReader) Read(ctx context.Context, location string) (*Source, error) {
	parsed, err := url.Parse(location)
	if err != nil || parsed.Host == "" {
		return nil, failure.Newf(failure.MalformedManifest, "read manifest", "invalid manifest URL '%s'", location)
	}

	if u.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.Timeout)
		defer cancel()
	}
	client := u.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, failure.New(failure.MalformedManifest, "read manifest", fmt.Errorf("creating request: %w", err))
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return nil, failure.New(failure.Cancelled, "read manifest", err)
		}
		return nil, failure.New(failure.FetchFailed, "read manifest", fmt.Errorf("fetching %s: %w", location, err)).
			WithHint("check network connectivity and URL")
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, failure.Newf(failure.FetchRejected, "read manifest", "HTTP %d from %s", resp.StatusCode, location)
	default:
		return nil, failure.Newf(failure.FetchFailed, "read manifest", "HTTP %d from %s", resp.StatusCode, location)
	}

	limit := u.MaxSize
	if limit <= 0 {
		limit = DefaultMaxManifestSize
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, failure.New(failure.FetchFailed, "read manifest", fmt.Errorf("reading response: %w", err))
	}
	if int64(len(data)) > limit {
		return nil, failure.Newf(failure.MalformedManifest, "read manifest", "manifest exceeds %d bytes", limit)
	}

	format, err := FormatOf(parsed.Path)
	if err != nil {
		format, err = formatOfContentType(resp.Header.Get("Content-Type"))
		if err != nil {
			return nil, failure.New(failure.MalformedManifest, "read manifest", err)
		}
	}
	return &Source{Data: data, Format: format, Location: location}, nil
}

func formatOfContentType(header string) (Format, error) {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return "", fmt.Errorf("cannot tell manifest format from Content-Type '%s'", header)
	}
	switch {
	case strings.HasSuffix(mediaType, "toml"):
		return FormatTOML, nil
	case strings.HasSuffix(mediaType, "yaml"):
		return FormatYAML, nil
	case strings.HasSuffix(mediaType, "json"):
		return FormatJSON, nil
	}
	return "", fmt.Errorf("cannot tell manifest format from Content-Type '%s'", header)
}
