// Package rusprofile is a client for the rusprofile.ru company registry.
// Premium financial fields are only visible to logged-in accounts, so the
// client exposes a cookie-based login and accepts the resulting cookies on
// each request; callers decide how long to keep a session alive.
package rusprofile

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const defaultBaseURL = "https://www.rusprofile.ru"

var (
	// ErrNotFound means the registry has no company page for the tax ID.
	ErrNotFound = errors.New("rusprofile: company not found")
	// ErrRateLimited means the registry throttled us; retry later.
	ErrRateLimited = errors.New("rusprofile: rate limited")
	// ErrAuthRequired means the session cookies were rejected.
	ErrAuthRequired = errors.New("rusprofile: authentication required")
	// ErrUnavailable means the registry answered with a server error.
	ErrUnavailable = errors.New("rusprofile: service unavailable")
)

// Client fetches premium company data from rusprofile.ru.
type Client interface {
	// Login authenticates and returns the session cookies.
	Login(ctx context.Context) (map[string]string, error)
	// Premium fetches the company page for an INN and parses its premium
	// fields. Returns ErrNotFound when the registry does not know the INN.
	Premium(ctx context.Context, cookies map[string]string, inn string) (*Profile, error)
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default site URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit caps requests per second to the registry.
func WithRateLimit(perSec float64, burst int) Option {
	return func(c *httpClient) {
		c.limiter = rate.NewLimiter(rate.Limit(perSec), burst)
	}
}

type httpClient struct {
	email    string
	password string
	baseURL  string
	http     *http.Client
	limiter  *rate.Limiter
}

// NewClient creates a rusprofile client for the given account.
func NewClient(email, password string, opts ...Option) Client {
	c := &httpClient{
		email:    email,
		password: password,
		baseURL:  defaultBaseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(1), 2),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Login loads the front page for a CSRF token, posts the credentials, and
// returns the session cookies on success. Success is detected the same way a
// human would: the response page offers a logout link.
func (c *httpClient) Login(ctx context.Context) (map[string]string, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, eris.Wrap(err, "rusprofile: cookie jar")
	}
	hc := *c.http
	hc.Jar = jar

	doc, _, err := c.getDoc(ctx, &hc, c.baseURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "rusprofile: load login page")
	}

	form := url.Values{
		"email":    {c.email},
		"password": {c.password},
		"remember": {"1"},
	}
	if token, ok := csrfToken(doc); ok {
		form.Set("_token", token)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, eris.Wrap(err, "rusprofile: login request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", c.baseURL)

	resp, err := hc.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "rusprofile: login post")
	}
	defer resp.Body.Close()

	body, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "rusprofile: parse login response")
	}
	if !loggedIn(body) {
		return nil, ErrAuthRequired
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, eris.Wrap(err, "rusprofile: parse base url")
	}
	cookies := make(map[string]string)
	for _, ck := range jar.Cookies(base) {
		cookies[ck.Name] = ck.Value
	}
	return cookies, nil
}

// csrfToken extracts the login form's CSRF token, trying the field names the
// site has used over time.
func csrfToken(doc *goquery.Document) (string, bool) {
	for _, name := range []string{"_token", "csrf_token"} {
		if v, ok := doc.Find(fmt.Sprintf("input[name=%s]", name)).First().Attr("value"); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// loggedIn checks for a logout affordance in the page.
func loggedIn(doc *goquery.Document) bool {
	text := strings.ToLower(doc.Text())
	if strings.Contains(text, "выход") {
		return true
	}
	if doc.Find(`a[href*="logout"]`).Length() > 0 {
		return true
	}
	return strings.Contains(text, "logout")
}

// Premium searches the registry for an INN, follows the company page link,
// and parses the premium fields.
func (c *httpClient) Premium(ctx context.Context, cookies map[string]string, inn string) (*Profile, error) {
	searchURL := fmt.Sprintf("%s/search?query=%s", c.baseURL, url.QueryEscape(inn))
	doc, pageURL, err := c.getDoc(ctx, c.http, searchURL, cookies)
	if err != nil {
		return nil, err
	}

	// Searching for an exact INN often lands on the company page directly.
	if canonical, ok := doc.Find(`link[rel=canonical]`).Attr("href"); ok && strings.Contains(canonical, "/id/") {
		return profileFor(doc, pageURL, inn)
	}

	href, ok := companyLink(doc)
	if !ok {
		return nil, ErrNotFound
	}
	if !strings.HasPrefix(href, "http") {
		href = c.baseURL + href
	}

	doc, pageURL, err = c.getDoc(ctx, c.http, href, cookies)
	if err != nil {
		return nil, err
	}
	return profileFor(doc, pageURL, inn)
}

// profileFor parses a company page and rejects it when it belongs to a
// different INN. The search result list can lead anywhere; without this
// check a near-miss would attribute a stranger's finances to the requested
// company.
func profileFor(doc *goquery.Document, pageURL, inn string) (*Profile, error) {
	p := parseProfile(doc, pageURL)
	if p.INN != "" && p.INN != inn {
		return nil, fmt.Errorf("%w: search for %s landed on INN %s", ErrNotFound, inn, p.INN)
	}
	return p, nil
}

// companyLink finds the first link to a company page (/id/<digits>).
func companyLink(doc *goquery.Document) (string, bool) {
	var href string
	doc.Find(`a[href*="/id/"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		h, ok := s.Attr("href")
		if ok && companyHref.MatchString(h) {
			href = h
			return false
		}
		return true
	})
	return href, href != ""
}

func (c *httpClient) getDoc(ctx context.Context, hc *http.Client, rawURL string, cookies map[string]string) (*goquery.Document, string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", eris.Wrapf(err, "rusprofile: request %s", rawURL)
	}
	for name, value := range cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, "", eris.Wrapf(err, "rusprofile: get %s", rawURL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, "", ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, "", ErrRateLimited
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, "", ErrAuthRequired
	case resp.StatusCode >= 500:
		return nil, "", fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, "", eris.Errorf("rusprofile: unexpected status %d for %s", resp.StatusCode, rawURL)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, "", eris.Wrapf(err, "rusprofile: parse %s", rawURL)
	}
	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return doc, finalURL, nil
}
