// Package pagetest provides a scripted, goquery-backed implementation of
// page.Page for engine tests. Pages are plain HTML strings keyed by URL;
// clicks navigate according to a script table, so state-machine tests can
// model form submission and pagination without any network or browser.
package pagetest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"lienharvest/internal/page"
)

// Fake is a scripted page capability.
//
// Script tables:
//   - Docs maps URL -> HTML document.
//   - Clicks maps "currentURL|locator" -> destination URL. A click with no
//     script entry falls back to the matched element's href attribute.
//   - Assets maps asset URL -> bytes for FetchAsset.
//
// Fault injection:
//   - GotoFailures / ClickFailures map a URL or click key to a number of
//     times the call should fail before succeeding (for retry tests).
//   - AssetErrs marks asset URLs whose fetch always fails.
//   - MissingWait marks locators WaitFor should time out on.
type Fake struct {
	Docs   map[string]string
	Clicks map[string]string
	Assets map[string][]byte

	GotoFailures  map[string]int
	ClickFailures map[string]int
	AssetErrs     map[string]bool
	MissingWait   map[string]bool

	// Filled records the last value written per locator; FillLog records
	// every fill in order.
	Filled  map[string]string
	FillLog []string

	// Trace records every navigation in order (for delay/ordering asserts).
	Trace []string

	currentURL string
	doc        *goquery.Document
}

// New returns an empty Fake; populate the script tables before use.
func New() *Fake {
	return &Fake{
		Docs:          map[string]string{},
		Clicks:        map[string]string{},
		Assets:        map[string][]byte{},
		GotoFailures:  map[string]int{},
		ClickFailures: map[string]int{},
		AssetErrs:     map[string]bool{},
		MissingWait:   map[string]bool{},
		Filled:        map[string]string{},
	}
}

// URL returns the current page URL.
func (f *Fake) URL() string { return f.currentURL }

func (f *Fake) load(url string) error {
	html, ok := f.Docs[url]
	if !ok {
		return page.NewDriverError("goto", url, errors.New("no scripted document"))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return page.NewDriverError("goto", url, err)
	}
	f.currentURL = url
	f.doc = doc
	f.Trace = append(f.Trace, url)
	return nil
}

func (f *Fake) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return page.NewDriverError("goto", url, err)
	}
	if n := f.GotoFailures[url]; n > 0 {
		f.GotoFailures[url] = n - 1
		return page.NewDriverError("goto", url, errors.New("scripted navigation failure"))
	}
	return f.load(url)
}

func (f *Fake) WaitForReady(ctx context.Context, timeout time.Duration) error {
	if f.doc == nil {
		return page.NewDriverError("wait_for_ready", "", page.ErrTimeout)
	}
	return nil
}

func (f *Fake) WaitFor(ctx context.Context, locator string, timeout time.Duration) error {
	if f.MissingWait[locator] {
		return page.NewDriverError("wait_for", locator, page.ErrTimeout)
	}
	h, err := f.Query(locator)
	if err != nil {
		return err
	}
	if h == nil {
		return page.NewDriverError("wait_for", locator, page.ErrTimeout)
	}
	return nil
}

func (f *Fake) Query(locator string) (page.Handle, error) {
	if f.doc == nil {
		return nil, page.NewDriverError("query", locator, errors.New("no page loaded"))
	}
	return page.FirstIn(f.doc.Selection, locator)
}

func (f *Fake) QueryAll(locator string) ([]page.Handle, error) {
	if f.doc == nil {
		return nil, page.NewDriverError("query_all", locator, errors.New("no page loaded"))
	}
	return page.FindIn(f.doc.Selection, locator)
}

// Fill overwrites (never appends to) the recorded value for locator,
// mirroring the clear-then-write contract of page.Page.
func (f *Fake) Fill(ctx context.Context, locator, value string) error {
	h, err := f.Query(locator)
	if err != nil {
		return err
	}
	if h == nil {
		return page.NewDriverError("fill", locator, errors.New("no such element"))
	}
	f.Filled[locator] = value
	f.FillLog = append(f.FillLog, fmt.Sprintf("%s=%s", locator, value))
	return nil
}

func (f *Fake) Click(ctx context.Context, locator string) error {
	h, err := f.Query(locator)
	if err != nil {
		return err
	}
	if h == nil {
		return page.NewDriverError("click", locator, errors.New("no such element"))
	}

	key := f.currentURL + "|" + locator
	if n := f.ClickFailures[key]; n > 0 {
		f.ClickFailures[key] = n - 1
		return page.NewDriverError("click", locator, errors.New("scripted click failure"))
	}

	if dest, ok := f.Clicks[key]; ok {
		return f.load(dest)
	}
	if href := h.Attr("href"); href != "" {
		return f.load(href)
	}
	// Clicking something with no scripted destination keeps the page as-is,
	// like a no-op button.
	return nil
}

func (f *Fake) FetchAsset(ctx context.Context, url string) ([]byte, error) {
	if f.AssetErrs[url] {
		return nil, page.NewDriverError("fetch_asset", url, errors.New("scripted fetch failure"))
	}
	b, ok := f.Assets[url]
	if !ok {
		return nil, page.NewDriverError("fetch_asset", url, errors.New("no scripted asset"))
	}
	return b, nil
}

func (f *Fake) Snapshot(path string) error {
	if f.doc == nil {
		return page.NewDriverError("snapshot", path, errors.New("no page loaded"))
	}
	html, err := f.doc.Html()
	if err != nil {
		return page.NewDriverError("snapshot", path, err)
	}
	return os.WriteFile(path, []byte(html), 0o644)
}
