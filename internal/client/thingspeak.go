package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/afroash/baeder-monitor/internal/models"
)

// DefaultBaseURL is the public ThingSpeak API.
const DefaultBaseURL = "https://api.thingspeak.com"

const maxResponseBytes = 8 << 20

// ErrAccessDenied is returned when ThingSpeak answers "-1", which it does for
// private channels requested without a valid read key.
var ErrAccessDenied = errors.New("thingspeak: access denied")

// StatusError is returned for a non-2xx response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("thingspeak: GET %s: status %d", e.URL, e.StatusCode)
}

// Temporary reports whether retrying the request may succeed.
func (e *StatusError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// FetchRecorder receives request outcomes.
type FetchRecorder interface {
	Fetch(d time.Duration, outcome string)
	FetchRetry()
}

// Config holds the client settings
type Config struct {
	BaseURL              string
	Timeout              time.Duration
	MaxRetries           int
	RetryInitialInterval time.Duration
}

// ThingSpeak reads channel fields from the ThingSpeak REST API
type ThingSpeak struct {
	baseURL  string
	hc       *http.Client
	cfg      Config
	recorder FetchRecorder
	logger   zerolog.Logger
}

// NewThingSpeak creates a client. recorder may be nil.
func NewThingSpeak(cfg Config, recorder FetchRecorder, logger zerolog.Logger) *ThingSpeak {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryInitialInterval <= 0 {
		cfg.RetryInitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &ThingSpeak{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		hc:       &http.Client{Timeout: cfg.Timeout},
		cfg:      cfg,
		recorder: recorder,
		logger:   logger,
	}
}

// HTTPClient returns the underlying client, for other plain GETs.
func (t *ThingSpeak) HTTPClient() *http.Client {
	return t.hc
}

// FieldURL builds the request URL for one channel field.
func (t *ThingSpeak) FieldURL(ch models.Channel, field int, q models.FeedQuery) string {
	v := url.Values{}
	if q.Results > 0 {
		v.Set("results", strconv.Itoa(q.Results))
	}
	if q.Days > 0 {
		v.Set("days", strconv.Itoa(q.Days))
	}
	if q.Timezone != "" {
		v.Set("timezone", q.Timezone)
	}
	if ch.ReadAPIKey != "" {
		v.Set("api_key", ch.ReadAPIKey)
	}

	u := fmt.Sprintf("%s/channels/%d/fields/%d.json", t.baseURL, ch.ID, field)
	if enc := v.Encode(); enc != "" {
		u += "?" + enc
	}
	return u
}

// FetchField requests the feed of one channel field. Server errors and
// transport failures are retried with exponential backoff; client errors
// and undecodable bodies are not.
func (t *ThingSpeak) FetchField(ctx context.Context, ch models.Channel, field int, q models.FeedQuery) (*models.FeedResponse, error) {
	target := t.FieldURL(ch, field, q)
	safe := redact(target)
	start := time.Now()

	var out *models.FeedResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := t.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return fmt.Errorf("GET %s: %w", safe, redactErr(err))
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			serr := &StatusError{StatusCode: resp.StatusCode, URL: safe}
			if serr.Temporary() {
				return serr
			}
			return backoff.Permanent(serr)
		}

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return fmt.Errorf("read body of %s: %w", safe, err)
		}
		if bytes.Equal(bytes.TrimSpace(body), []byte("-1")) {
			return backoff.Permanent(ErrAccessDenied)
		}

		var feed models.FeedResponse
		if err := json.Unmarshal(body, &feed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode %s: %w", safe, err))
		}
		out = &feed
		return nil
	}

	notify := func(err error, wait time.Duration) {
		if t.recorder != nil {
			t.recorder.FetchRetry()
		}
		t.logger.Warn().Err(err).Dur("wait", wait).Str("url", safe).Msg("ThingSpeak request failed, retrying")
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = t.cfg.RetryInitialInterval
	exp.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(t.cfg.MaxRetries)), ctx)

	err := backoff.RetryNotify(op, policy, notify)
	t.record(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	t.logger.Debug().
		Int("channel", ch.ID).
		Int("field", field).
		Int("entries", len(out.Feeds)).
		Dur("took", time.Since(start)).
		Msg("fetched field")
	return out, nil
}

func (t *ThingSpeak) record(d time.Duration, err error) {
	if t.recorder == nil {
		return
	}
	outcome := "ok"
	var serr *StatusError
	switch {
	case err == nil:
	case errors.As(err, &serr):
		outcome = "http_" + strconv.Itoa(serr.StatusCode)
	case errors.Is(err, ErrAccessDenied):
		outcome = "denied"
	default:
		outcome = "error"
	}
	t.recorder.Fetch(d, outcome)
}

// redact hides the read key in URLs that end up in logs and errors.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("api_key") {
		q.Set("api_key", "REDACTED")
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func redactErr(err error) error {
	var uerr *url.Error
	if errors.As(err, &uerr) {
		return fmt.Errorf("%s", redact(uerr.URL)+": "+uerr.Err.Error())
	}
	return err
}
