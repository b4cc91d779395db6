package page

import (
	"errors"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
)

func doc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	d, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse html: %v", err)
	}
	return d
}

const tableHTML = `<html><body><table><tbody>
  <tr class="odd"><td class="case">A-1</td></tr>
  <tr class="even"><td class="case">A-2</td></tr>
  <tr class="odd"><td class="case">A-3</td></tr>
</tbody></table></body></html>`

func TestFindIn_DocumentOrder(t *testing.T) {
	t.Parallel()

	d := doc(t, tableHTML)
	handles, err := FindIn(d.Selection, "tr.odd, tr.even")
	if err != nil {
		t.Fatalf("FindIn: %v", err)
	}
	if len(handles) != 3 {
		t.Fatalf("matches = %d, want 3", len(handles))
	}
	// Grouped selectors still yield document order, not group order.
	for i, want := range []string{"A-1", "A-2", "A-3"} {
		h, err := handles[i].Query("td.case")
		if err != nil || h == nil {
			t.Fatalf("row %d: %v", i, err)
		}
		if h.Text() != want {
			t.Fatalf("row %d = %q, want %q", i, h.Text(), want)
		}
	}
}

func TestFirstIn_NoMatchIsNilNil(t *testing.T) {
	t.Parallel()

	d := doc(t, tableHTML)
	h, err := FirstIn(d.Selection, "div.absent")
	if err != nil {
		t.Fatalf("FirstIn: %v", err)
	}
	if h != nil {
		t.Fatalf("handle = %v, want nil", h)
	}
}

// TestFindIn_MalformedLocator: a bad selector is a typed DriverError, never a
// panic out of the selector engine.
func TestFindIn_MalformedLocator(t *testing.T) {
	t.Parallel()

	d := doc(t, tableHTML)
	_, err := FindIn(d.Selection, "tr[unclosed")
	if err == nil {
		t.Fatal("expected error for malformed locator")
	}
	var de *DriverError
	if !errors.As(err, &de) || de.Op != "query" {
		t.Fatalf("error = %v", err)
	}
}

func TestSelectionHandle_Attr(t *testing.T) {
	t.Parallel()

	d := doc(t, `<html><body><a id="x" href="/doc.png" title="Deed">view</a></body></html>`)
	h, err := FirstIn(d.Selection, "#x")
	if err != nil || h == nil {
		t.Fatalf("FirstIn: %v", err)
	}
	if h.Attr("href") != "/doc.png" {
		t.Fatalf("href = %q", h.Attr("href"))
	}
	if h.Attr("absent") != "" {
		t.Fatalf("absent attr = %q", h.Attr("absent"))
	}
}

func TestDriverError(t *testing.T) {
	t.Parallel()

	err := NewDriverError("wait_for", "#results", ErrTimeout)
	if !IsTimeout(err) {
		t.Fatal("timeout not detected through the wrap chain")
	}
	if !strings.Contains(err.Error(), `wait_for "#results"`) {
		t.Fatalf("message = %q", err.Error())
	}

	plain := NewDriverError("goto", "", errors.New("connection refused"))
	if IsTimeout(plain) {
		t.Fatal("non-timeout classified as timeout")
	}
	if strings.Contains(plain.Error(), `""`) {
		t.Fatalf("empty locator rendered: %q", plain.Error())
	}
}
