package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// LocalStore keeps objects on the local filesystem and serves them under a public base URL.
type LocalStore struct {
	dir     string
	baseURL string
	client  *http.Client
}

// NewLocalStore creates dir if needed. baseURL is the URL prefix Handler is mounted at.
func NewLocalStore(dir, baseURL string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &LocalStore{
		dir:     dir,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

func (s *LocalStore) Put(_ context.Context, key string, r io.Reader, _ string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	dst := filepath.Join(s.dir, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", fmt.Errorf("create blob parent dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create blob temp file: %w", err)
	}
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob %s: %w", k, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob %s: %w", k, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("commit blob %s: %w", k, err)
	}
	return s.baseURL + "/" + k, nil
}

func (s *LocalStore) Open(ctx context.Context, url string) (io.ReadCloser, error) {
	if key, ok := strings.CutPrefix(url, s.baseURL+"/"); ok {
		k, err := cleanKey(key)
		if err != nil {
			return nil, err
		}
		f, err := os.Open(filepath.Join(s.dir, filepath.FromSlash(k)))
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrObjectNotFound
		}
		if err != nil {
			return nil, fmt.Errorf("open blob %s: %w", k, err)
		}
		return f, nil
	}
	if isHTTPURL(url) {
		return fetchHTTP(ctx, s.client, url)
	}
	return nil, fmt.Errorf("unsupported blob url %q", url)
}

// Handler serves stored objects. Mount it with the path prefix of the base URL stripped.
// Directories and dot-files, including in-flight uploads, are not served.
func (s *LocalStore) Handler() http.Handler {
	return http.FileServer(objectsOnly{http.Dir(s.dir)})
}

// objectsOnly hides everything but committed object files.
type objectsOnly struct {
	fs http.FileSystem
}

func (o objectsOnly) Open(name string) (http.File, error) {
	for _, seg := range strings.Split(name, "/") {
		if strings.HasPrefix(seg, ".") {
			return nil, os.ErrNotExist
		}
	}
	f, err := o.fs.Open(name)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if info.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}
