// Package prefclient reads and writes community preferences on the Morphic
// server. It backs the org.raisingthefloor.morphic.client settings handler.
package prefclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	"golang.org/x/time/rate"

	"github.com/stegru/morphic-windows/internal/settings"
	"github.com/stegru/morphic-windows/internal/settings/handlers"
)

const (
	clientTimeout         = 20 * time.Second
	dialTimeout           = 5 * time.Second
	keepAlive             = 30 * time.Second
	tlsHandshakeTimeout   = 5 * time.Second
	responseHeaderTimeout = 10 * time.Second
	idleConnTimeout       = 90 * time.Second

	// DefaultRetryMax is the number of retries after a failed request.
	DefaultRetryMax = 3
	// DefaultRate is the request rate, per second, when none is configured.
	DefaultRate = 10.0
)

var (
	// ErrNoCommunity is returned when the client has no community to address.
	ErrNoCommunity = errors.New("no community configured")
	// ErrRequest is returned for responses the client does not accept.
	ErrRequest = errors.New("preference request failed")
)

// Options configures a Client.
type Options struct {
	BaseURL     string
	CommunityID string
	Token       string

	RetryMax int
	// Rate limits requests per second. Zero uses DefaultRate.
	Rate float64

	Logger zerolog.Logger

	// HTTPClient replaces the retrying client, mainly in tests.
	HTTPClient *http.Client
}

// Client talks to the preference endpoints of one community.
type Client struct {
	base      *url.URL
	community string
	token     string
	http      *http.Client
	limiter   *rate.Limiter
	log       zerolog.Logger
}

var _ handlers.PreferenceStore = (*Client)(nil)

// New creates a client.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, errors.Errorf("invalid base url %q", opts.BaseURL)
	}
	if opts.CommunityID == "" {
		return nil, ErrNoCommunity
	}

	retryMax := opts.RetryMax
	if retryMax <= 0 {
		retryMax = DefaultRetryMax
	}
	perSecond := opts.Rate
	if perSecond <= 0 {
		perSecond = DefaultRate
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = newRetryableHTTPClient(retryMax)
	}

	return &Client{
		base:      base,
		community: opts.CommunityID,
		token:     opts.Token,
		http:      hc,
		limiter:   rate.NewLimiter(rate.Limit(perSecond), 1),
		log:       opts.Logger.With().Str("component", "prefclient").Logger(),
	}, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: clientTimeout,
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: keepAlive,
			}).DialContext,
			TLSHandshakeTimeout:   tlsHandshakeTimeout,
			ResponseHeaderTimeout: responseHeaderTimeout,
			IdleConnTimeout:       idleConnTimeout,
		},
	}
}

func newRetryableHTTPClient(retryMax int) *http.Client {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = retryMax
	retryClient.Logger = nil
	retryClient.HTTPClient = newHTTPClient()

	return retryClient.StandardClient()
}

func (c *Client) endpoint(parts ...string) string {
	u := *c.base
	segs := append([]string{"communities", c.community, "preferences"}, parts...)
	escaped := make([]string, len(segs))
	for i, s := range segs {
		escaped[i] = url.PathEscape(s)
	}
	prefix := strings.TrimRight(u.Path, "/")
	u.RawPath = strings.TrimRight(u.EscapedPath(), "/") + "/" + strings.Join(escaped, "/")
	u.Path = prefix + "/" + strings.Join(segs, "/")
	return u.String()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, errors.Wrap(err, "rate limit")
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, rd)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "%s %s", method, endpoint)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("X-Morphic-Auth-Token", c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, errors.Wrapf(err, "%s %s", method, endpoint)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, errors.Wrapf(err, "read %s", endpoint)
	}
	c.log.Debug().Str("method", method).Str("url", endpoint).Int("status", resp.StatusCode).Msg("preference request")
	return data, resp.StatusCode, nil
}

func statusError(method, endpoint string, status int) error {
	return errors.Wrapf(ErrRequest, "%s %s: %d %s", method, endpoint, status, http.StatusText(status))
}

// GetPreference returns the value of one preference. Numbers come back as
// float64; the setting coerces them to its data type.
func (c *Client) GetPreference(ctx context.Context, solution, preference string) (any, error) {
	endpoint := c.endpoint(solution, preference)
	data, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, errors.Wrapf(handlers.ErrValueNotFound, "%s/%s", solution, preference)
	case status != http.StatusOK:
		return nil, statusError(http.MethodGet, endpoint, status)
	}

	value := gjson.GetBytes(data, "value")
	if !value.Exists() {
		return nil, errors.Wrapf(handlers.ErrValueNotFound, "%s/%s", solution, preference)
	}
	return value.Value(), nil
}

// SetPreference writes one preference.
func (c *Client) SetPreference(ctx context.Context, solution, preference string, value any) error {
	body, err := sjson.SetBytes([]byte(`{}`), "value", value)
	if err != nil {
		return errors.Wrapf(err, "encode %s/%s", solution, preference)
	}

	endpoint := c.endpoint(solution, preference)
	_, status, err := c.do(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusNoContent {
		return statusError(http.MethodPut, endpoint, status)
	}
	return nil
}

// Preferences fetches every preference of the community, keyed by
// solution. The response looks like {"solutions": {"<solution>": {"<preference>": value}}}.
func (c *Client) Preferences(ctx context.Context) (*settings.Preferences, error) {
	endpoint := c.endpoint()
	data, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, statusError(http.MethodGet, endpoint, status)
	}
	if !gjson.ValidBytes(data) {
		return nil, errors.Wrapf(ErrRequest, "%s: invalid json", endpoint)
	}

	prefs := settings.NewPreferences()
	gjson.GetBytes(data, "solutions").ForEach(func(solution, values gjson.Result) bool {
		values.ForEach(func(pref, v gjson.Result) bool {
			prefs.Set(settings.NewSettingID(solution.String(), pref.String()), v.Value())
			return true
		})
		return true
	})
	return prefs, nil
}

// String describes the client for logs.
func (c *Client) String() string {
	return fmt.Sprintf("%s (community %s)", c.base, c.community)
}
