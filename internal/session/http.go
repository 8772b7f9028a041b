// Package session implements the automation remote-session capability over
// plain HTTP. Pages are parsed with goquery; form edits mutate the parsed
// document and are sent when the form is submitted.
package session

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/SirClappington/slotwatch/internal/automation"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0 Safari/537.36"
	maxPageBytes     = 4 << 20
)

type HTTP struct {
	client  *http.Client
	limiter *rate.Limiter
	ua      string
	logger  *zap.Logger

	url   *url.URL
	doc   *goquery.Document
	title string
}

type Option func(*HTTP)

// WithRequestsPerSecond caps outgoing requests. Zero or less disables the cap.
func WithRequestsPerSecond(rps float64) Option {
	return func(h *HTTP) {
		if rps <= 0 {
			h.limiter = rate.NewLimiter(rate.Inf, 1)
			return
		}
		h.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

func WithUserAgent(ua string) Option            { return func(h *HTTP) { h.ua = ua } }
func WithLogger(l *zap.Logger) Option           { return func(h *HTTP) { h.logger = l } }
func WithTimeout(d time.Duration) Option        { return func(h *HTTP) { h.client.Timeout = d } }
func WithTransport(rt http.RoundTripper) Option { return func(h *HTTP) { h.client.Transport = rt } }

// New returns a session with its own cookie jar.
func New(opts ...Option) (*HTTP, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Wrap(err, "session: cookie jar")
	}
	h := &HTTP{
		client:  &http.Client{Jar: jar, Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(1, 1),
		ua:      defaultUserAgent,
		logger:  zap.NewNop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Factory opens a fresh HTTP session per job.
func Factory(opts ...Option) automation.SessionFactory {
	return func(context.Context) (automation.Session, error) {
		return New(opts...)
	}
}

func (h *HTTP) Navigate(ctx context.Context, raw string) error {
	u, err := h.resolve(raw)
	if err != nil {
		return errors.Wrapf(err, "session: bad url %q", raw)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return errors.Wrap(err, "session: build request")
	}
	return h.load(ctx, req)
}

func (h *HTTP) resolve(raw string) (*url.URL, error) {
	ref, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if h.url != nil {
		ref = h.url.ResolveReference(ref)
	}
	if ref.Scheme != "http" && ref.Scheme != "https" {
		return nil, errors.Errorf("unsupported scheme %q", ref.Scheme)
	}
	return ref, nil
}

// load performs req and replaces the current page with the response. Client
// errors still produce a page, since portals serve challenges and lockouts
// that way; server errors do not.
func (h *HTTP) load(ctx context.Context, req *http.Request) error {
	if err := h.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "session: rate limit")
	}
	req.Header.Set("User-Agent", h.ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	if h.url != nil {
		req.Header.Set("Referer", h.url.String())
	}

	res, err := h.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "session: %s %s", req.Method, req.URL.Redacted())
	}
	defer res.Body.Close()
	if res.StatusCode >= 500 {
		return errors.Errorf("session: %s %s: status %d", req.Method, req.URL.Redacted(), res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxPageBytes))
	if err != nil {
		return errors.Wrap(err, "session: read page")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "session: parse page")
	}
	h.url = res.Request.URL
	h.doc = doc
	h.title = cleanText(doc.Find("title").First().Text())
	h.logger.Debug("page loaded",
		zap.String("method", req.Method),
		zap.String("url", h.url.Redacted()),
		zap.Int("status", res.StatusCode))
	return nil
}

func (h *HTTP) WaitSettled(ctx context.Context) error { return ctx.Err() }

func (h *HTTP) CurrentURL() string {
	if h.url == nil {
		return ""
	}
	return h.url.String()
}

func (h *HTTP) Title() string { return h.title }

func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	h.doc = nil
	return nil
}

func (h *HTTP) Visible(_ context.Context, t automation.Target) automation.Probe {
	if h.first(t) == nil {
		return automation.ProbeAbsent
	}
	return automation.ProbeOK
}

func (h *HTTP) Count(_ context.Context, t automation.Target) (int, automation.Probe) {
	n := len(h.matches(t))
	if n == 0 {
		return 0, automation.ProbeAbsent
	}
	return n, automation.ProbeOK
}

func (h *HTTP) Texts(_ context.Context, t automation.Target, limit int) ([]string, automation.Probe) {
	var out []string
	for _, s := range h.matches(t) {
		if limit > 0 && len(out) >= limit {
			break
		}
		if txt := textOf(s); txt != "" {
			out = append(out, txt)
		}
	}
	if len(out) == 0 {
		return nil, automation.ProbeAbsent
	}
	return out, automation.ProbeOK
}

func (h *HTTP) Fill(_ context.Context, t automation.Target, value string) automation.Probe {
	s := h.first(t)
	if s == nil {
		return automation.ProbeAbsent
	}
	switch goquery.NodeName(s) {
	case "input":
		s.SetAttr("value", value)
	case "textarea":
		s.SetText(value)
	default:
		return automation.ProbeAbsent
	}
	return automation.ProbeOK
}

func (h *HTTP) Check(_ context.Context, t automation.Target) automation.Probe {
	s := h.first(t)
	if s == nil || goquery.NodeName(s) != "input" {
		return automation.ProbeAbsent
	}
	switch strings.ToLower(s.AttrOr("type", "")) {
	case "checkbox", "radio":
		s.SetAttr("checked", "checked")
		return automation.ProbeOK
	}
	return automation.ProbeAbsent
}

// SelectOption picks the option naming label. A select whose form has no
// submit control submits the form, the way auto-submitting selects reload
// the page; otherwise the choice is sent with the next submit.
func (h *HTTP) SelectOption(ctx context.Context, t automation.Target, label string) automation.Probe {
	s := h.first(t)
	if s == nil || goquery.NodeName(s) != "select" {
		return automation.ProbeAbsent
	}
	opt := pickOption(s, label)
	if opt == nil {
		return automation.ProbeAbsent
	}
	s.Find("option").RemoveAttr("selected")
	opt.SetAttr("selected", "selected")
	form := s.Closest("form")
	if form.Length() == 0 || hasSubmitter(form) {
		return automation.ProbeOK
	}
	return h.probe(h.submit(ctx, form, nil))
}

// Click follows links and submits forms. Clicking anything else is accepted
// and has no effect.
func (h *HTTP) Click(ctx context.Context, t automation.Target) automation.Probe {
	s := h.first(t)
	if s == nil {
		return automation.ProbeAbsent
	}
	switch {
	case goquery.NodeName(s) == "a":
		href := strings.TrimSpace(s.AttrOr("href", ""))
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return automation.ProbeAbsent
		}
		return h.probe(h.Navigate(ctx, href))
	case isSubmitter(s):
		form := s.Closest("form")
		if form.Length() == 0 {
			return automation.ProbeAbsent
		}
		return h.probe(h.submit(ctx, form, s))
	case isCheckable(s):
		if _, on := s.Attr("checked"); on {
			s.RemoveAttr("checked")
		} else {
			s.SetAttr("checked", "checked")
		}
	}
	return automation.ProbeOK
}

// Press supports Enter, which submits the form around the target.
func (h *HTTP) Press(ctx context.Context, t automation.Target, key string) automation.Probe {
	s := h.first(t)
	if s == nil || !strings.EqualFold(key, "enter") {
		return automation.ProbeAbsent
	}
	form := s.Closest("form")
	if form.Length() == 0 {
		return automation.ProbeAbsent
	}
	return h.probe(h.submit(ctx, form, nil))
}

func (h *HTTP) probe(err error) automation.Probe {
	if err != nil {
		h.logger.Debug("session action failed", zap.Error(err))
		return automation.ProbeFailed
	}
	return automation.ProbeOK
}
