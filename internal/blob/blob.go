// Package blob stores uploaded source models and generated render artifacts and hands
// back durable URLs for them.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
)

var ErrObjectNotFound = errors.New("blob object not found")

// Store is the durable object storage used for uploads and pipeline outputs.
type Store interface {
	// Put writes the content of r under key and returns the public URL for it.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (string, error)
	// Open returns the content behind a URL previously returned by Put. Any other
	// http(s) URL is fetched with a plain GET.
	Open(ctx context.Context, url string) (io.ReadCloser, error)
}

var modelContentTypes = map[string]string{
	".glb":   "model/gltf-binary",
	".gltf":  "model/gltf+json",
	".obj":   "model/obj",
	".stl":   "model/stl",
	".fbx":   "application/octet-stream",
	".blend": "application/octet-stream",
}

// ContentTypeFor guesses the content type of an object from its name.
func ContentTypeFor(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := modelContentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// cleanKey rejects keys that would escape the store root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	return k, nil
}

func fetchHTTP(ctx context.Context, client *http.Client, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrObjectNotFound
	case resp.StatusCode >= 300:
		resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: unexpected status %d", url, resp.StatusCode)
	}
	return resp.Body, nil
}
