// Package httppage implements page.Page over plain HTTP for server-rendered
// record-search sites. It simulates just enough browser behavior for the
// session state machine: navigation, form fill + submit with real form
// semantics (method, action, hidden inputs), link clicks, and asset fetch.
//
// Sites that require JavaScript need a real browser driver behind the same
// page.Page interface; this implementation covers the large class of
// government sites that still render results on the server.
package httppage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"lienharvest/internal/page"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Options configures the HTTP session. This is also where stealth-adjacent
// session setup (user agent, extra headers) lives, deliberately outside the
// state machine.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	Headers   map[string]string
	Logger    *zap.Logger
}

// Client is one exclusive HTTP page session. Not safe for concurrent use;
// run one Client per session, like any other page capability.
type Client struct {
	http *resty.Client
	log  *zap.Logger

	url  *url.URL
	doc  *goquery.Document
	body string

	// fills holds pending form values keyed by input element name, applied
	// at submit time. Fill overwrites, so fields never concatenate.
	fills map[string]string
}

// New constructs a Client. Cookies persist across navigations within the
// session, which is what keeps ASP.NET-style search flows alive.
func New(opts Options) *Client {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}

	httpClient := resty.New().
		SetHeader("User-Agent", ua).
		SetHeaders(opts.Headers)
	if opts.Timeout > 0 {
		httpClient.SetTimeout(opts.Timeout)
	}

	return &Client{
		http:  httpClient,
		log:   log,
		fills: map[string]string{},
	}
}

// URL returns the current page URL, empty before the first navigation.
func (c *Client) URL() string {
	if c.url == nil {
		return ""
	}
	return c.url.String()
}

func (c *Client) Goto(ctx context.Context, rawURL string) error {
	target, err := c.resolve(rawURL)
	if err != nil {
		return page.NewDriverError("goto", rawURL, err)
	}

	resp, err := c.http.R().SetContext(ctx).Get(target)
	if err != nil {
		return page.NewDriverError("goto", rawURL, err)
	}
	return c.setDocument("goto", rawURL, resp)
}

// WaitForReady is trivially satisfied here: an HTTP document is complete
// once the response is parsed. It still validates that a page is loaded.
func (c *Client) WaitForReady(ctx context.Context, timeout time.Duration) error {
	if c.doc == nil {
		return page.NewDriverError("wait_for_ready", "", errors.New("no page loaded"))
	}
	return nil
}

// WaitFor checks locator presence on the current document. Server-rendered
// documents do not mutate after parse, so a missing locator cannot appear
// later; absence maps straight to a timeout-class DriverError.
func (c *Client) WaitFor(ctx context.Context, locator string, timeout time.Duration) error {
	h, err := c.Query(locator)
	if err != nil {
		return err
	}
	if h == nil {
		return page.NewDriverError("wait_for", locator, page.ErrTimeout)
	}
	return nil
}

func (c *Client) Query(locator string) (page.Handle, error) {
	if c.doc == nil {
		return nil, page.NewDriverError("query", locator, errors.New("no page loaded"))
	}
	return page.FirstIn(c.doc.Selection, locator)
}

func (c *Client) QueryAll(locator string) ([]page.Handle, error) {
	if c.doc == nil {
		return nil, page.NewDriverError("query_all", locator, errors.New("no page loaded"))
	}
	return page.FindIn(c.doc.Selection, locator)
}

// Fill stages a value for the named form control matched by locator. The
// staged value replaces any earlier one for the same control.
func (c *Client) Fill(ctx context.Context, locator, value string) error {
	sel, err := c.first("fill", locator)
	if err != nil {
		return err
	}

	name, ok := sel.Attr("name")
	if !ok || name == "" {
		return page.NewDriverError("fill", locator, errors.New("form control has no name attribute"))
	}
	c.fills[name] = value
	return nil
}

// Click follows a link, or submits the enclosing form when the element is a
// form control. Anything else is a JS-only control this transport cannot
// drive.
func (c *Client) Click(ctx context.Context, locator string) error {
	sel, err := c.first("click", locator)
	if err != nil {
		return err
	}

	if href, ok := sel.Attr("href"); ok && href != "" {
		target, err := c.resolve(href)
		if err != nil {
			return page.NewDriverError("click", locator, err)
		}
		resp, err := c.http.R().SetContext(ctx).Get(target)
		if err != nil {
			return page.NewDriverError("click", locator, err)
		}
		return c.setDocument("click", locator, resp)
	}

	form := sel.Closest("form")
	if form.Length() == 0 {
		return page.NewDriverError("click", locator,
			errors.New("element is neither a link nor inside a form"))
	}
	return c.submitForm(ctx, locator, form, sel)
}

// submitForm serializes the form the way a browser would: every named
// control contributes its default, staged fills override, and the clicked
// submit control contributes its own name/value pair.
func (c *Client) submitForm(ctx context.Context, locator string, form, clicked *goquery.Selection) error {
	values := url.Values{}

	form.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		name, ok := s.Attr("name")
		if !ok || name == "" {
			return
		}

		switch goquery.NodeName(s) {
		case "input":
			switch typ, _ := s.Attr("type"); strings.ToLower(typ) {
			case "checkbox", "radio":
				if _, checked := s.Attr("checked"); checked {
					values.Set(name, attrOr(s, "value", "on"))
				}
			case "submit", "button", "image", "reset":
				// Only the clicked control contributes, below.
			default:
				values.Set(name, attrOr(s, "value", ""))
			}
		case "select":
			if opt := s.Find("option[selected]").First(); opt.Length() > 0 {
				values.Set(name, attrOr(opt, "value", strings.TrimSpace(opt.Text())))
			} else if opt := s.Find("option").First(); opt.Length() > 0 {
				values.Set(name, attrOr(opt, "value", strings.TrimSpace(opt.Text())))
			}
		case "textarea":
			values.Set(name, s.Text())
		}
	})

	for name, value := range c.fills {
		values.Set(name, value)
	}
	if name, ok := clicked.Attr("name"); ok && name != "" {
		values.Set(name, attrOr(clicked, "value", ""))
	}

	action := attrOr(form, "action", c.URL())
	target, err := c.resolve(action)
	if err != nil {
		return page.NewDriverError("click", locator, err)
	}

	method := strings.ToUpper(attrOr(form, "method", "GET"))
	c.log.Debug("submitting form",
		zap.String("method", method),
		zap.String("action", target),
		zap.Int("fields", len(values)))

	var resp *resty.Response
	if method == "POST" {
		resp, err = c.http.R().SetContext(ctx).SetFormDataFromValues(values).Post(target)
	} else {
		resp, err = c.http.R().SetContext(ctx).SetQueryParamsFromValues(values).Get(target)
	}
	if err != nil {
		return page.NewDriverError("click", locator, err)
	}

	// Staged fills are consumed by the submission.
	c.fills = map[string]string{}
	return c.setDocument("click", locator, resp)
}

func (c *Client) FetchAsset(ctx context.Context, rawURL string) ([]byte, error) {
	target, err := c.resolve(rawURL)
	if err != nil {
		return nil, page.NewDriverError("fetch_asset", rawURL, err)
	}

	resp, err := c.http.R().SetContext(ctx).Get(target)
	if err != nil {
		return nil, page.NewDriverError("fetch_asset", rawURL, err)
	}
	if resp.StatusCode() >= 400 {
		return nil, page.NewDriverError("fetch_asset", rawURL,
			fmt.Errorf("unexpected status %d", resp.StatusCode()))
	}
	return resp.Body(), nil
}

// Snapshot writes the current document's HTML to path; the HTTP transport's
// stand-in for a screenshot.
func (c *Client) Snapshot(path string) error {
	if c.doc == nil {
		return page.NewDriverError("snapshot", path, errors.New("no page loaded"))
	}
	return os.WriteFile(path, []byte(c.body), 0o644)
}

// setDocument parses a navigation response into the current document and
// records the final URL after redirects.
func (c *Client) setDocument(op, locator string, resp *resty.Response) error {
	if resp.StatusCode() >= 400 {
		return page.NewDriverError(op, locator, fmt.Errorf("unexpected status %d", resp.StatusCode()))
	}

	body := string(resp.Body())
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return page.NewDriverError(op, locator, fmt.Errorf("parse html: %w", err))
	}

	c.doc = doc
	c.body = body
	if req := resp.RawResponse; req != nil && req.Request != nil && req.Request.URL != nil {
		c.url = req.Request.URL
	}
	return nil
}

// resolve turns a possibly relative reference into an absolute URL against
// the current page.
func (c *Client) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", ref, err)
	}
	if u.IsAbs() || c.url == nil {
		return u.String(), nil
	}
	return c.url.ResolveReference(u).String(), nil
}

// first returns the first match of locator as a goquery selection, erroring
// when nothing matches.
func (c *Client) first(op, locator string) (*goquery.Selection, error) {
	h, err := c.Query(locator)
	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, page.NewDriverError(op, locator, errors.New("no such element"))
	}
	return h.(*page.SelectionHandle).Selection(), nil
}

func attrOr(s *goquery.Selection, name, fallback string) string {
	if v, ok := s.Attr(name); ok {
		return v
	}
	return fallback
}
