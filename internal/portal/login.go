package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"schoolsync/internal/source"
)

type credentials struct {
	username string
	password string
}

// loginFunc authenticates and leaves the session cookies in client's jar.
type loginFunc func(ctx context.Context, client *http.Client, base *url.URL, creds credentials, browser BrowserConfig) error

// formLogin posts the credentials to {base}/login.
func formLogin(ctx context.Context, client *http.Client, base *url.URL, creds credentials, _ BrowserConfig) error {
	form := url.Values{}
	form.Set("username", creds.username)
	form.Set("password", creds.password)

	u := *base
	u.Path = strings.TrimRight(u.Path, "/") + "/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("portal login: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("portal login: %s: %w", resp.Status, source.ErrAuth)
	case resp.StatusCode >= 400:
		return fmt.Errorf("portal login: unexpected status %s", resp.Status)
	}
	return nil
}

// Browser login defaults.
const (
	DefaultLoginPath        = "/login"
	DefaultUsernameSelector = `input[name="username"]`
	DefaultPasswordSelector = `input[name="password"]`
	DefaultSubmitSelector   = `button[type="submit"]`
	DefaultReadySelector    = `[data-ready="true"]`
	DefaultBrowserTimeout   = 45 * time.Second
)

// BrowserConfig drives the headless login used by portals that only
// authenticate through a JavaScript login page (CAS/ENT frontends).
type BrowserConfig struct {
	LoginPath        string
	UsernameSelector string
	PasswordSelector string
	SubmitSelector   string
	// ReadySelector becomes visible once the portal has logged us in.
	ReadySelector string
	// ExecPath points at a Chromium binary. Empty lets chromedp find one.
	ExecPath string
	Timeout  time.Duration
}

func (b BrowserConfig) withDefaults() BrowserConfig {
	if b.LoginPath == "" {
		b.LoginPath = DefaultLoginPath
	}
	if b.UsernameSelector == "" {
		b.UsernameSelector = DefaultUsernameSelector
	}
	if b.PasswordSelector == "" {
		b.PasswordSelector = DefaultPasswordSelector
	}
	if b.SubmitSelector == "" {
		b.SubmitSelector = DefaultSubmitSelector
	}
	if b.ReadySelector == "" {
		b.ReadySelector = DefaultReadySelector
	}
	if b.Timeout <= 0 {
		b.Timeout = DefaultBrowserTimeout
	}
	return b
}

// browserLogin fills the login page in headless Chromium and copies the
// resulting cookies into the HTTP client's jar.
func browserLogin(parent context.Context, client *http.Client, base *url.URL, creds credentials, b BrowserConfig) error {
	b = b.withDefaults()

	allocCtx := parent
	if b.ExecPath != "" {
		opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.ExecPath(b.ExecPath))
		var cancelAlloc context.CancelFunc
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(parent, opts...)
		defer cancelAlloc()
	}
	ctx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, b.Timeout)
	defer cancelTimeout()

	loginURL := *base
	loginURL.Path = strings.TrimRight(loginURL.Path, "/") + b.LoginPath

	var cookies []*network.Cookie
	tasks := chromedp.Tasks{
		chromedp.Navigate(loginURL.String()),
		chromedp.WaitVisible(b.UsernameSelector, chromedp.ByQuery),
		chromedp.SendKeys(b.UsernameSelector, creds.username, chromedp.ByQuery),
		chromedp.SendKeys(b.PasswordSelector, creds.password, chromedp.ByQuery),
		chromedp.Click(b.SubmitSelector, chromedp.ByQuery),
		chromedp.WaitVisible(b.ReadySelector, chromedp.ByQuery),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			cookies, err = network.GetCookies().WithURLs([]string{base.String()}).Do(ctx)
			return err
		}),
	}

	if err := chromedp.Run(ctx, tasks); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
			return fmt.Errorf("portal browser login: ready selector never appeared: %w", source.ErrAuth)
		}
		return fmt.Errorf("portal browser login: %w", err)
	}
	if len(cookies) == 0 {
		return fmt.Errorf("portal browser login: no session cookie: %w", source.ErrAuth)
	}

	client.Jar.SetCookies(base, toHTTPCookies(cookies))
	return nil
}

func toHTTPCookies(in []*network.Cookie) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(in))
	for _, c := range in {
		hc := &http.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Path:     c.Path,
			Domain:   c.Domain,
			Secure:   c.Secure,
			HttpOnly: c.HTTPOnly,
		}
		if c.Expires > 0 {
			hc.Expires = time.Unix(int64(c.Expires), 0)
		}
		out = append(out, hc)
	}
	return out
}
