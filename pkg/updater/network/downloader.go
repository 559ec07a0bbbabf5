package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/debojyoti452/shorebird/internal/pkg/utils/fileutils"
	"github.com/debojyoti452/shorebird/internal/pkg/utils/observer"
	"github.com/debojyoti452/shorebird/internal/pkg/utils/readerutils"
	"github.com/debojyoti452/shorebird/pkg/backoff"
)

// Downloader fetches the bytes behind url and stores them at destination.
// Parent directories of destination are created as needed.
type Downloader interface {
	DownloadFileToPath(ctx context.Context, url, destination string) error
}

// DownloaderFunc adapts a function to the Downloader interface.
type DownloaderFunc func(ctx context.Context, url, destination string) error

func (f DownloaderFunc) DownloadFileToPath(ctx context.Context, url, destination string) error {
	return f(ctx, url, destination)
}

var (
	// ErrUnexpectedStatus is returned for non 2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected status code")
	// errClientStatus marks 4xx responses, retrying them does not help.
	errClientStatus = errors.New("client error")
)

// HTTPDownloader downloads files over HTTP(S).
type HTTPDownloader struct {
	client           *http.Client
	newBackoff       func() backoff.Strategy
	progressInterval time.Duration
}

// NewHTTPDownloader creates a downloader with the given options.
func NewHTTPDownloader(options ...func(*HTTPDownloader)) *HTTPDownloader {
	d := &HTTPDownloader{
		client:           http.DefaultClient,
		newBackoff:       backoff.DefaultBackoff,
		progressInterval: 10 * time.Second,
	}
	for _, option := range options {
		option(d)
	}
	return d
}

// WithHTTPClient sets the client used for requests.
func WithHTTPClient(c *http.Client) func(*HTTPDownloader) {
	return func(d *HTTPDownloader) {
		d.client = c
	}
}

// WithTimeout limits the duration of a single download attempt.
func WithTimeout(timeout time.Duration) func(*HTTPDownloader) {
	return func(d *HTTPDownloader) {
		c := *d.client
		c.Timeout = timeout
		d.client = &c
	}
}

// WithBackoff sets the retry strategy, a fresh strategy is created per download.
func WithBackoff(newBackoff func() backoff.Strategy) func(*HTTPDownloader) {
	return func(d *HTTPDownloader) {
		d.newBackoff = newBackoff
	}
}

// WithProgressInterval sets how often the progress of a running download is logged.
func WithProgressInterval(interval time.Duration) func(*HTTPDownloader) {
	return func(d *HTTPDownloader) {
		d.progressInterval = interval
	}
}

// DownloadFileToPath fetches url into destination, retrying transient failures.
func (d *HTTPDownloader) DownloadFileToPath(ctx context.Context, url, destination string) error {
	if err := fileutils.EnsureDir(filepath.Dir(destination)); err != nil {
		return err
	}
	b := d.newBackoff()
	for {
		err := d.download(ctx, url, destination)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return errors.Join(err, ctx.Err())
		}
		if errors.Is(err, errClientStatus) {
			return err
		}
		log.WithError(err).WithField("url", url).Warn("download attempt failed")
		if errWait := b.Wait(ctx); errWait != nil {
			return errors.Join(err, errWait)
		}
	}
}

func (d *HTTPDownloader) download(ctx context.Context, url, destination string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	log.Debugf("downloading %s to %q", url, destination)
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return fmt.Errorf("%w: %w: %s", ErrUnexpectedStatus, errClientStatus, resp.Status)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s", ErrUnexpectedStatus, resp.Status)
	}
	fp, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	body := readerutils.NewCountingReader(resp.Body)
	stopProgress := d.logProgress(ctx, url, body, resp.ContentLength)
	n, err := io.Copy(fp, body)
	stopProgress()
	if err = errors.Join(err, fp.Sync(), fp.Close()); err != nil {
		return err
	}
	if resp.ContentLength >= 0 && n != resp.ContentLength {
		return fmt.Errorf("received %d of %d bytes", n, resp.ContentLength)
	}
	log.WithField("bytes", n).Debugf("downloaded %s", url)
	return nil
}

// logProgress logs the bytes read from body until the returned function is called.
func (d *HTTPDownloader) logProgress(ctx context.Context, url string, body *readerutils.CountingReader, total int64) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	o := observer.IntervalObserver[*readerutils.CountingReader]{
		Interval:   d.progressInterval,
		Observable: body,
		F: func(r *readerutils.CountingReader) error {
			log.WithFields(log.Fields{
				"url":   url,
				"bytes": r.Count(),
				"total": total,
			}).Debug("download progress")
			return nil
		},
	}
	go func() {
		defer close(done)
		_ = o.Observe(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}
