package jobs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/kestrelvision/kestrel/internal/observability"
	"github.com/kestrelvision/kestrel/model"
)

// DirectorySource yields the image files of a directory in name order. Used
// by batch jobs.
type DirectorySource struct {
	dir   string
	files []string
	next  int
}

// NewDirectorySource lists the supported image files under dir.
func NewDirectorySource(dir string) (*DirectorySource, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read input dir %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg", ".png", ".bmp", ".webp":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	if len(files) == 0 {
		return nil, model.NewBadRequestError(fmt.Sprintf("input dir %s contains no images", dir))
	}
	return &DirectorySource{dir: dir, files: files}, nil
}

// Next implements FrameSource.
func (s *DirectorySource) Next(ctx context.Context) (model.Frame, error) {
	if err := ctx.Err(); err != nil {
		return model.Frame{}, err
	}
	if s.next >= len(s.files) {
		return model.Frame{}, io.EOF
	}

	path := s.files[s.next]
	s.next++
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Frame{}, fmt.Errorf("read %s: %w", path, err)
	}
	return model.Frame{Seq: int64(s.next), Data: data, CapturedAt: time.Now().UTC()}, nil
}

// Close implements FrameSource.
func (s *DirectorySource) Close() error { return nil }

// Len returns the number of images found. For testing and progress totals.
func (s *DirectorySource) Len() int { return len(s.files) }

// HTTPFrameSource pulls frames one at a time from the capture sidecar, which
// fronts video files, RTSP streams, and webcams behind a single endpoint.
// A 204 response means the stream has ended.
type HTTPFrameSource struct {
	client   *http.Client
	frameURL string
	seq      int64
}

// NewHTTPFrameSource creates a source reading from baseURL for the given
// capture source reference (a file path, rtsp:// URL, or device id). The
// reference is query-escaped so rtsp URLs with their own query survive.
func NewHTTPFrameSource(baseURL, source string, timeout time.Duration) *HTTPFrameSource {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	q := url.Values{"source": {source}}
	return &HTTPFrameSource{
		client:   &http.Client{Timeout: timeout},
		frameURL: strings.TrimRight(baseURL, "/") + "/v1/frames?" + q.Encode(),
	}
}

// Next implements FrameSource.
func (s *HTTPFrameSource) Next(ctx context.Context) (model.Frame, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.frameURL, nil)
	if err != nil {
		return model.Frame{}, fmt.Errorf("build frame request: %w", err)
	}
	observability.InjectTraceHeaders(ctx, req.Header)

	resp, err := s.client.Do(req)
	if err != nil {
		return model.Frame{}, fmt.Errorf("fetch frame: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNoContent:
		return model.Frame{}, io.EOF
	case resp.StatusCode >= 400:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return model.Frame{}, fmt.Errorf("capture sidecar returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.Frame{}, fmt.Errorf("read frame body: %w", err)
	}
	s.seq++
	return model.Frame{Seq: s.seq, Data: data, CapturedAt: time.Now().UTC()}, nil
}

// Close implements FrameSource.
func (s *HTTPFrameSource) Close() error { return nil }
