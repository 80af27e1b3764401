package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"sitebuild/common"
	"sitebuild/config"
)

// Fetcher downloads remote resources, following redirects itself so the
// hop count is bounded and every failure maps onto one NetworkError
type Fetcher struct {
	client       *http.Client
	timeout      time.Duration
	maxRedirects int
	maxBytes     int64
	userAgent    string
	log          *logrus.Entry
}

// NewFetcher creates a fetcher from the fetch section of the config
func NewFetcher(cfg config.FetchConfig, log *logrus.Entry) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			// Redirects are followed by Fetch so they can be counted
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout:      cfg.Timeout,
		maxRedirects: cfg.MaxRedirects,
		maxBytes:     cfg.MaxBytes,
		userAgent:    cfg.UserAgent,
		log:          log.WithField("component", "fetcher"),
	}
}

// Fetch retrieves the body at rawURL. Any non-2xx terminal response,
// transport failure, missing Location header, exceeded hop limit or
// oversized body yields a *common.NetworkError.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*common.RawAsset, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	current, err := url.Parse(rawURL)
	if err != nil {
		return nil, &common.NetworkError{URL: rawURL, Message: "invalid URL", Err: err}
	}

	for hop := 0; ; hop++ {
		resp, err := f.do(ctx, current)
		if err != nil {
			return nil, &common.NetworkError{URL: current.String(), Message: err.Error(), Err: err}
		}

		if isRedirect(resp.StatusCode) {
			location := resp.Header.Get("Location")
			drain(resp.Body)
			if location == "" {
				return nil, &common.NetworkError{
					URL:        current.String(),
					StatusCode: resp.StatusCode,
					Message:    "redirect without Location header",
				}
			}
			if hop >= f.maxRedirects {
				return nil, &common.NetworkError{
					URL:        current.String(),
					StatusCode: resp.StatusCode,
					Message:    fmt.Sprintf("stopped after %d redirects", f.maxRedirects),
				}
			}
			next, err := current.Parse(location)
			if err != nil {
				return nil, &common.NetworkError{
					URL:        current.String(),
					StatusCode: resp.StatusCode,
					Message:    fmt.Sprintf("invalid Location %q", location),
					Err:        err,
				}
			}
			f.log.WithFields(logrus.Fields{
				"status": resp.StatusCode,
				"from":   current.String(),
				"to":     next.String(),
			}).Debug("Following redirect")
			current = next
			continue
		}

		return f.readBody(resp, current.String(), rawURL)
	}
}

func (f *Fetcher) do(ctx context.Context, target *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	return f.client.Do(req)
}

func (f *Fetcher) readBody(resp *http.Response, finalURL, sourceURL string) (*common.RawAsset, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		drain(resp.Body)
		return nil, &common.NetworkError{
			URL:        finalURL,
			StatusCode: resp.StatusCode,
			Message:    http.StatusText(resp.StatusCode),
		}
	}

	reader := io.Reader(resp.Body)
	if f.maxBytes > 0 {
		reader = io.LimitReader(resp.Body, f.maxBytes+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, &common.NetworkError{URL: finalURL, StatusCode: resp.StatusCode, Message: "failed to read body", Err: err}
	}
	if f.maxBytes > 0 && int64(len(data)) > f.maxBytes {
		return nil, &common.NetworkError{
			URL:        finalURL,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("body exceeds %d bytes", f.maxBytes),
		}
	}

	f.log.WithFields(logrus.Fields{"url": finalURL, "bytes": len(data)}).Info("Fetched remote asset")
	return &common.RawAsset{SourceURL: sourceURL, Data: data}, nil
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

func drain(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 64<<10))
	body.Close()
}

// IsNetworkError reports whether err came from a failed fetch
func IsNetworkError(err error) bool {
	var netErr *common.NetworkError
	return errors.As(err, &netErr)
}
