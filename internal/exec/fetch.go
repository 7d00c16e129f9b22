package exec

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/cybershell/backy/internal/errors"
	"github.com/cybershell/backy/internal/logger"
)

// MaxScriptSize bounds a downloaded remoteScript.
const MaxScriptSize = 4 << 20

// DefaultFetchRetries is how often a failed download is retried.
const DefaultFetchRetries = 3

// ScriptFetcher downloads the body of a remoteScript command.
type ScriptFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches scripts over http and https. Connection errors and
// 5xx responses are retried with backoff; other statuses fail at once.
type HTTPFetcher struct {
	client *retryablehttp.Client
}

// NewHTTPFetcher creates a fetcher that retries up to retries times,
// waiting between minWait and maxWait.
func NewHTTPFetcher(log logger.Logger, retries int, minWait, maxWait time.Duration) *HTTPFetcher {
	c := retryablehttp.NewClient()
	c.RetryMax = retries
	c.RetryWaitMin = minWait
	c.RetryWaitMax = maxWait
	c.Logger = retryLogger{log: log}
	return &HTTPFetcher{client: c}
}

// Fetch downloads url. The body must come with 200 OK and be at most
// MaxScriptSize bytes.
func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxScriptSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", url, err)
	}
	if len(data) > MaxScriptSize {
		return nil, fmt.Errorf("script at %s is larger than %d bytes", url, MaxScriptSize)
	}
	return data, nil
}

// fetchScript fills in the script of a remoteScript backend. Other backends
// are returned unchanged.
func (e *Executor) fetchScript(ctx context.Context, b Backend) (Backend, error) {
	var url string
	switch b := b.(type) {
	case LocalRemoteScript:
		url = b.URL
	case SSHRemoteScript:
		url = b.URL
	default:
		return b, nil
	}

	data, err := e.fetcher.Fetch(ctx, url)
	if err != nil {
		return b, errors.WrapWithCode(err, errors.ErrStart,
			fmt.Sprintf("Can't fetch remote script %s", url),
			"Check that the URL is reachable from this machine")
	}
	script := string(data)
	if !strings.HasSuffix(script, "\n") {
		script += "\n"
	}

	switch b := b.(type) {
	case LocalRemoteScript:
		b.Script = script
		return b, nil
	case SSHRemoteScript:
		b.Script = script
		return b, nil
	}
	return b, nil
}

// retryLogger adapts a Logger to retryablehttp's leveled logger.
type retryLogger struct {
	log logger.Logger
}

func (l retryLogger) Error(msg string, kv ...interface{}) { l.log.Error("%s", keyValues(msg, kv)) }
func (l retryLogger) Warn(msg string, kv ...interface{})  { l.log.Warn("%s", keyValues(msg, kv)) }
func (l retryLogger) Info(msg string, kv ...interface{})  { l.log.Debug("%s", keyValues(msg, kv)) }
func (l retryLogger) Debug(msg string, kv ...interface{}) { l.log.Debug("%s", keyValues(msg, kv)) }

func keyValues(msg string, kv []interface{}) string {
	var b strings.Builder
	b.WriteString(msg)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&b, " %v=%v", kv[i], kv[i+1])
	}
	return b.String()
}
