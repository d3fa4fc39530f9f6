package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/railsync/railsync/boundary"
	"github.com/railsync/railsync/document"
	"github.com/railsync/railsync/log"
)

// errUnreachable marks failures that say nothing about the request itself:
// the service could not be reached or could not serve it.
var errUnreachable = errors.New("service unreachable")

// checkRetry does not retry answers that would not change on a second
// attempt.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusBadRequest, http.StatusForbidden, http.StatusNotFound:
			return false, nil
		}
		if resp.Header.Get(boundary.ErrorHeader) == boundary.CodeCorrupted {
			return false, nil
		}
	}
	return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
}

// A wrapper around zap.Logger to make it compatible with
// retryablehttp.LeveledLogger interface.
type retryableHttpLogger struct {
	inner *zap.Logger
}

func (r retryableHttpLogger) Error(format string, args ...any) {
	r.inner.Sugar().Errorw(format, args...)
}

func (r retryableHttpLogger) Info(format string, args ...any) {
	r.inner.Sugar().Infow(format, args...)
}

func (r retryableHttpLogger) Warn(format string, args ...any) {
	r.inner.Sugar().Warnw(format, args...)
}

func (r retryableHttpLogger) Debug(format string, args ...any) {
	r.inner.Sugar().Debugw(format, args...)
}

type remote struct {
	logger  *zap.Logger
	baseURL *url.URL
	caller  boundary.Caller
	client  *retryablehttp.Client
}

func newRemote(cfg Config, caller boundary.Caller, httpClient *http.Client, logger *zap.Logger) (*remote, error) {
	baseURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing address: %w", err)
	}
	if baseURL.Scheme == "" {
		baseURL.Scheme = "http"
	}
	client := &retryablehttp.Client{
		HTTPClient:   httpClient,
		Logger:       &retryableHttpLogger{inner: logger},
		RetryMax:     cfg.RetryMax,
		RetryWaitMin: cfg.RetryWaitMin,
		RetryWaitMax: cfg.RetryWaitMax,
		Backoff:      retryablehttp.LinearJitterBackoff,
		CheckRetry:   checkRetry,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}
	client.ResponseLogHook = func(_ retryablehttp.Logger, resp *http.Response) {
		logger.Debug(
			"response received",
			zap.Stringer("url", resp.Request.URL),
			zap.Int("status", resp.StatusCode),
		)
	}
	return &remote{
		logger:  logger,
		baseURL: baseURL,
		caller:  caller,
		client:  client,
	}, nil
}

func (r *remote) url(elem ...string) string {
	u := r.baseURL.JoinPath(append([]string{"v1", string(r.caller.Role)}, elem...)...)
	if r.caller.Unit != "" {
		u.RawQuery = url.Values{"unit": {r.caller.Unit}}.Encode()
	}
	return u.String()
}

func (r *remote) read(ctx context.Context, doc string) (document.Document, error) {
	return r.req(ctx, http.MethodGet, r.url(doc), nil)
}

func (r *remote) write(ctx context.Context, doc string, body []byte) (document.Document, error) {
	return r.req(ctx, http.MethodPost, r.url(doc), body)
}

func (r *remote) remove(ctx context.Context, doc, entity string) (document.Document, error) {
	return r.req(ctx, http.MethodDelete, r.url(doc, entity), nil)
}

// probe checks the service health endpoint once.
func (r *remote) probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL.JoinPath("healthz").String(), nil)
	if err != nil {
		return err
	}
	resp, err := r.client.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health probe: %s", resp.Status)
	}
	return nil
}

func (r *remote) req(ctx context.Context, method, target string, body []byte) (document.Document, error) {
	var reqBody any
	if body != nil {
		reqBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id, ok := log.ExtractRequestId(ctx); ok {
		req.Header.Set(boundary.RequestIDHeader, id)
	}

	res, err := r.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", errUnreachable, err)
	}
	defer res.Body.Close()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %w", errUnreachable, err)
	}
	if res.StatusCode != http.StatusOK {
		r.logger.Debug("request failed",
			log.ZContext(ctx),
			zap.String("status", res.Status),
			zap.String("body", strings.TrimSpace(string(data))),
		)
		code := res.Header.Get(boundary.ErrorHeader)
		if sentinel := boundary.CodeError(code); sentinel != nil {
			return nil, fmt.Errorf("%w: %s", sentinel, strings.TrimSpace(string(data)))
		}
		return nil, fmt.Errorf("%w: response status code: %s, body: %s", errUnreachable, res.Status, string(data))
	}
	doc, err := document.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: decoding response: %w", errUnreachable, err)
	}
	return doc, nil
}
