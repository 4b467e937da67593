// WebDAV [ObjectStore] implementation
//
// Speaks the small subset of RFC 4918 a backup needs: GET, PUT, HEAD, DELETE, MKCOL and PROPFIND.
package services

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/desertthunder/sheetsync/internal/shared"
)

// WebDAVStore implements [ObjectStore] over a WebDAV share using basic auth.
type WebDAVStore struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
}

// NewWebDAVStore creates a new WebDAV store for the share at baseURL.
func NewWebDAVStore(cfg shared.WebDAVConfig, client *http.Client) *WebDAVStore {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &WebDAVStore{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: client,
	}
}

// Name returns the store name.
func (w *WebDAVStore) Name() string {
	return "webdav"
}

func (w *WebDAVStore) url(key string) string {
	return w.baseURL + "/" + strings.TrimPrefix(key, "/")
}

func (w *WebDAVStore) do(ctx context.Context, method, key string, body io.Reader, size int64, headers map[string]string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, w.url(key), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if size > 0 {
		req.ContentLength = size
	}
	if w.username != "" {
		req.SetBasicAuth(w.username, w.password)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", shared.ErrTransferIO, method, key, err)
	}
	return resp, nil
}

func statusError(method, key string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", shared.ErrObjectNotFound, key)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s %s returned %d", shared.ErrMissingCredentials, method, key, resp.StatusCode)
	}
	return fmt.Errorf("%w: %s %s returned %d", shared.ErrTransferIO, method, key, resp.StatusCode)
}

// Exists reports whether a resource is present at key.
func (w *WebDAVStore) Exists(ctx context.Context, key string) (bool, error) {
	resp, err := w.do(ctx, http.MethodHead, key, nil, 0, nil)
	if err != nil {
		return false, err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return true, nil
	}
	return false, statusError(http.MethodHead, key, resp)
}

// Get downloads the resource at key.
func (w *WebDAVStore) Get(ctx context.Context, key string) ([]byte, error) {
	resp, err := w.do(ctx, http.MethodGet, key, nil, 0, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, statusError(http.MethodGet, key, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", shared.ErrTransferIO, err)
	}
	return body, nil
}

// Put uploads data to key, creating parent collections as needed.
func (w *WebDAVStore) Put(ctx context.Context, key string, data []byte, onProgress ProgressFunc) error {
	if err := w.mkcolAll(ctx, path.Dir("/"+strings.TrimPrefix(key, "/"))); err != nil {
		return err
	}

	total := int64(len(data))
	body := newProgressReader(bytes.NewReader(data), total, onProgress)
	resp, err := w.do(ctx, http.MethodPut, key, body, total, map[string]string{"Content-Type": "application/octet-stream"})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(http.MethodPut, key, resp)
	}
	return nil
}

// mkcolAll creates every collection along dir. Existing collections answer 405 which is accepted.
func (w *WebDAVStore) mkcolAll(ctx context.Context, dir string) error {
	if dir == "/" || dir == "." || dir == "" {
		return nil
	}

	var current string
	for part := range strings.SplitSeq(strings.Trim(dir, "/"), "/") {
		current += "/" + part
		resp, err := w.do(ctx, "MKCOL", current+"/", nil, 0, nil)
		if err != nil {
			return err
		}
		resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated, http.StatusOK, http.StatusMethodNotAllowed:
		default:
			return statusError("MKCOL", current, resp)
		}
	}
	return nil
}

// List returns the resources directly inside the collection at prefix.
func (w *WebDAVStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	dir := strings.TrimSuffix(prefix, "/") + "/"
	resp, err := w.do(ctx, "PROPFIND", dir, strings.NewReader(propfindBody), int64(len(propfindBody)), map[string]string{
		"Depth":        "1",
		"Content-Type": "application/xml",
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusMultiStatus {
		return nil, statusError("PROPFIND", dir, resp)
	}

	var ms multistatus
	if err := xml.NewDecoder(resp.Body).Decode(&ms); err != nil {
		return nil, fmt.Errorf("%w: failed to decode PROPFIND response: %v", shared.ErrTransferIO, err)
	}

	base, _ := url.Parse(w.baseURL)
	root := ""
	if base != nil {
		root = strings.TrimSuffix(base.Path, "/")
	}

	var objects []ObjectInfo
	for _, r := range ms.Responses {
		if r.Prop.ResourceType.Collection != nil {
			continue
		}
		href := r.Href
		if u, err := url.Parse(r.Href); err == nil {
			href = u.Path
		}
		info := ObjectInfo{
			Key:  strings.TrimPrefix(strings.TrimPrefix(href, root), "/"),
			Size: r.Prop.ContentLength,
			ETag: strings.Trim(r.Prop.ETag, `"`),
		}
		if t, err := http.ParseTime(r.Prop.LastModified); err == nil {
			info.Modified = t
		}
		objects = append(objects, info)
	}
	return objects, nil
}

// Delete removes the resource at key. Deleting a missing resource succeeds.
func (w *WebDAVStore) Delete(ctx context.Context, key string) error {
	resp, err := w.do(ctx, http.MethodDelete, key, nil, 0, nil)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || (resp.StatusCode >= 200 && resp.StatusCode < 300) {
		return nil
	}
	return statusError(http.MethodDelete, key, resp)
}

// ContentHash returns the resource ETag, or the BLAKE3 hash of its content when the server sends none.
func (w *WebDAVStore) ContentHash(ctx context.Context, key string) (string, error) {
	resp, err := w.do(ctx, http.MethodHead, key, nil, 0, nil)
	if err != nil {
		return "", err
	}
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(http.MethodHead, key, resp)
	}
	if etag := strings.Trim(strings.TrimPrefix(resp.Header.Get("ETag"), "W/"), `"`); etag != "" {
		return etag, nil
	}

	data, err := w.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return shared.ContentHash(data), nil
}

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:"><d:prop><d:resourcetype/><d:getcontentlength/><d:getetag/><d:getlastmodified/></d:prop></d:propfind>`

type multistatus struct {
	XMLName   xml.Name      `xml:"DAV: multistatus"`
	Responses []davResponse `xml:"DAV: response"`
}

type davResponse struct {
	Href string  `xml:"DAV: href"`
	Prop davProp `xml:"DAV: propstat>prop"`
}

type davProp struct {
	ResourceType struct {
		Collection *struct{} `xml:"DAV: collection"`
	} `xml:"DAV: resourcetype"`
	ContentLength int64  `xml:"DAV: getcontentlength"`
	ETag          string `xml:"DAV: getetag"`
	LastModified  string `xml:"DAV: getlastmodified"`
}
