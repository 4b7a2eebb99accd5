// Package portal reads homework, evaluations and grades from the school
// portal's JSON API.
package portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/awnumar/memguard"

	appLog "schoolsync/internal/log"
	"schoolsync/internal/source"
)

// Login modes.
const (
	LoginForm    = "form"
	LoginBrowser = "browser"
)

// Config configures the portal client.
type Config struct {
	// BaseURL is the portal root, e.g. "https://ent.example.fr/pronote".
	BaseURL  string
	Username string
	// LoginMode is LoginForm (default) or LoginBrowser.
	LoginMode string
	Browser   BrowserConfig
	// Timeout bounds each API request. Zero selects 30s.
	Timeout time.Duration
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client implements source.Reader. The password lives in an encrypted
// enclave and is only decrypted for the duration of a login.
type Client struct {
	cfg      Config
	base     *url.URL
	password *memguard.Enclave
	login    loginFunc
}

// New builds a client. password is copied into an enclave and wiped.
func New(cfg Config, password []byte) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("portal: base url is required")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("portal: invalid base url %q", cfg.BaseURL)
	}
	if cfg.Username == "" || len(password) == 0 {
		return nil, errors.New("portal: username and password are required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	c := &Client{cfg: cfg, base: base, password: memguard.NewEnclave(password)}
	switch cfg.LoginMode {
	case "", LoginForm:
		c.login = formLogin
	case LoginBrowser:
		c.login = browserLogin
	default:
		return nil, fmt.Errorf("portal: unknown login mode %q", cfg.LoginMode)
	}
	return c, nil
}

// Connect logs in and returns a Connected session.
func (c *Client) Connect(ctx context.Context) (source.Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	httpClient := &http.Client{Jar: jar, Timeout: c.cfg.Timeout, Transport: c.cfg.Transport}

	pw, err := c.password.Open()
	if err != nil {
		return nil, fmt.Errorf("portal: open credential: %w", err)
	}
	err = c.login(ctx, httpClient, c.base, credentials{username: c.cfg.Username, password: pw.String()}, c.cfg.Browser)
	pw.Destroy()
	if err != nil {
		return nil, err
	}

	appLog.Info("portal session opened", "host", c.base.Host, "mode", c.loginMode())
	s := &session{client: httpClient, base: c.base}
	s.guard.Open()
	return s, nil
}

func (c *Client) loginMode() string {
	if c.cfg.LoginMode == "" {
		return LoginForm
	}
	return c.cfg.LoginMode
}

type session struct {
	guard  source.StateGuard
	client *http.Client
	base   *url.URL
}

func (s *session) Homework(ctx context.Context, r source.Range) ([]source.Homework, error) {
	var items []homeworkJSON
	if err := s.get(ctx, "api/homework", r, &items); err != nil {
		return nil, err
	}
	out := make([]source.Homework, 0, len(items))
	for _, it := range items {
		out = append(out, it.record())
	}
	return out, nil
}

func (s *session) Evaluations(ctx context.Context, r source.Range) ([]source.Evaluation, error) {
	var items []evaluationJSON
	if err := s.get(ctx, "api/evaluations", r, &items); err != nil {
		return nil, err
	}
	out := make([]source.Evaluation, 0, len(items))
	for _, it := range items {
		out = append(out, it.record())
	}
	return out, nil
}

func (s *session) Grades(ctx context.Context, r source.Range) ([]source.Grade, error) {
	var items []gradeJSON
	if err := s.get(ctx, "api/grades", r, &items); err != nil {
		return nil, err
	}
	out := make([]source.Grade, 0, len(items))
	for _, it := range items {
		out = append(out, it.record())
	}
	return out, nil
}

// Close logs out once. Logout failures are logged, not returned: the
// session is unusable afterwards either way.
func (s *session) Close() error {
	if !s.guard.Release() {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint("logout", nil), nil)
	if err == nil {
		var resp *http.Response
		if resp, err = s.client.Do(req); err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
	}
	if err != nil {
		appLog.Warn("portal logout failed", "err", err)
	}
	s.client.CloseIdleConnections()
	appLog.Debug("portal session closed", "host", s.base.Host)
	return nil
}

func (s *session) endpoint(path string, q url.Values) string {
	u := *s.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + path
	u.RawQuery = q.Encode()
	return u.String()
}

func (s *session) get(ctx context.Context, path string, r source.Range, into any) error {
	if err := s.guard.Check(); err != nil {
		return err
	}
	q := url.Values{}
	q.Set("from", r.From.Format(time.DateOnly))
	q.Set("to", r.To.Format(time.DateOnly))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(path, q), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("portal %s: %w", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("portal %s: %s: %w", path, resp.Status, source.ErrAuth)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("portal %s: unexpected status %s", path, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return fmt.Errorf("portal %s: decode: %w", path, err)
	}
	return nil
}
