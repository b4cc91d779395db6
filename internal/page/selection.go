package page

import (
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
)

// SelectionHandle adapts a goquery selection to the Handle interface. Both
// the HTTP page implementation and the scripted test page are goquery-backed,
// so they share this adapter.
type SelectionHandle struct {
	sel *goquery.Selection
}

// NewSelectionHandle wraps sel. sel must contain at least one node.
func NewSelectionHandle(sel *goquery.Selection) *SelectionHandle {
	return &SelectionHandle{sel: sel}
}

// FindIn runs locator against root and returns the matches in document order.
//
// goquery's Find panics on a malformed selector, so the locator is compiled
// through cascadia first and a compile failure becomes a *DriverError. The
// engine treats that as "field absent" rather than aborting the row.
func FindIn(root *goquery.Selection, locator string) ([]Handle, error) {
	matcher, err := cascadia.Compile(locator)
	if err != nil {
		return nil, NewDriverError("query", locator, fmt.Errorf("malformed locator: %w", err))
	}

	var handles []Handle
	root.FindMatcher(matcher).Each(func(_ int, s *goquery.Selection) {
		handles = append(handles, NewSelectionHandle(s))
	})
	return handles, nil
}

// FirstIn returns the first match of locator under root, or (nil, nil).
func FirstIn(root *goquery.Selection, locator string) (Handle, error) {
	handles, err := FindIn(root, locator)
	if err != nil {
		return nil, err
	}
	if len(handles) == 0 {
		return nil, nil
	}
	return handles[0], nil
}

func (h *SelectionHandle) Query(locator string) (Handle, error) {
	return FirstIn(h.sel, locator)
}

func (h *SelectionHandle) QueryAll(locator string) ([]Handle, error) {
	return FindIn(h.sel, locator)
}

func (h *SelectionHandle) Text() string { return h.sel.Text() }

func (h *SelectionHandle) Attr(name string) string {
	v, _ := h.sel.Attr(name)
	return v
}

// Selection exposes the underlying goquery selection for driver
// implementations that need form semantics (method, action, enclosing form).
func (h *SelectionHandle) Selection() *goquery.Selection { return h.sel }
