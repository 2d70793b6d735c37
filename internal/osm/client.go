package osm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ErrTransient marks an upstream call that kept failing with retryable errors
// (network errors, timeouts, HTTP 429 and 5xx) until the attempt budget ran out.
var ErrTransient = errors.New("transient upstream failure")

// RequestMetrics receives one observation per HTTP attempt
type RequestMetrics interface {
	ObserveRequest(service, outcome string, d time.Duration)
	RetryInc(service string)
}

// Options configures a client for one upstream service
type Options struct {
	BaseURL        string
	UserAgent      string
	Timeout        time.Duration // per attempt
	RatePerSecond  float64       // 0 disables client-side limiting
	MaxAttempts    int
	InitialBackoff time.Duration
	Logger         logrus.FieldLogger
	Metrics        RequestMetrics
}

// statusError is an HTTP response that was not 200 OK
type statusError struct {
	code int
	body string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("API returned %d: %s", e.code, e.body)
}

// client wraps an *http.Client with rate limiting and bounded retry
type client struct {
	service   string
	baseURL   string
	userAgent string
	http      *http.Client
	limiter   *rate.Limiter
	attempts  int
	backoff   time.Duration
	logger    logrus.FieldLogger
	metrics   RequestMetrics
}

func newClient(service string, opts Options) *client {
	c := &client{
		service:   service,
		baseURL:   opts.BaseURL,
		userAgent: opts.UserAgent,
		http: &http.Client{
			Timeout: opts.Timeout,
		},
		attempts: opts.MaxAttempts,
		backoff:  opts.InitialBackoff,
		logger:   opts.Logger,
		metrics:  opts.Metrics,
	}
	if c.http.Timeout <= 0 {
		c.http.Timeout = 15 * time.Second
	}
	if c.attempts < 1 {
		c.attempts = 1
	}
	if c.backoff <= 0 {
		c.backoff = 500 * time.Millisecond
	}
	if opts.RatePerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), 1)
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	return c
}

// do sends the request built by newReq, retrying transient failures, and
// returns the body of the first 200 response that check accepts. A check error
// wrapping ErrTransient is retried like a failed request; a nil check accepts
// every body.
func (c *client) do(ctx context.Context, newReq func(context.Context) (*http.Request, error), check func([]byte) error) ([]byte, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.backoff
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.attempts-1)), ctx)

	var body []byte
	op := func() error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		req, err := newReq(ctx)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		if c.userAgent != "" {
			req.Header.Set("User-Agent", c.userAgent)
		}

		start := time.Now()
		data, err := c.send(req)
		c.observe(err, time.Since(start))
		if err == nil && check != nil {
			err = check(data)
		}
		if err != nil {
			if isTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		body = data
		return nil
	}
	notify := func(err error, wait time.Duration) {
		if c.metrics != nil {
			c.metrics.RetryInc(c.service)
		}
		c.logger.WithFields(logrus.Fields{
			"service": c.service,
			"wait":    wait,
		}).WithError(err).Warn("upstream request failed, retrying")
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		if isTransient(err) && !errors.Is(err, ErrTransient) {
			return nil, fmt.Errorf("%s: %w: %w", c.service, ErrTransient, err)
		}
		return nil, fmt.Errorf("%s: %w", c.service, err)
	}
	return body, nil
}

func (c *client) send(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &statusError{code: resp.StatusCode, body: string(body)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

func (c *client) observe(err error, d time.Duration) {
	if c.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var se *statusError
		if errors.As(err, &se) {
			outcome = fmt.Sprintf("http_%d", se.code)
		}
	}
	c.metrics.ObserveRequest(c.service, outcome, d)
}

func isTransient(err error) bool {
	if errors.Is(err, ErrTransient) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF)
}
