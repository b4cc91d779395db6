// Package extract resolves configured field mappings against result rows.
package extract

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"lienharvest/internal/config"
	"lienharvest/internal/page"
)

// AddressSource is the OCR escalation hook. It is satisfied by
// *ocr.AddressPipeline; tests substitute fakes.
type AddressSource interface {
	ExtractAddresses(ctx context.Context, ref string, pg page.Page) ([]string, error)
}

// Resolver turns (row, FieldMapping) pairs into field values.
//
// Resolution tries the mapping's selectors in order and stops at the first
// non-empty result; later selectors are never evaluated. A mapping whose
// selectors all miss resolves to "" — absence is not an error here, it only
// matters later against required_fields.
type Resolver struct {
	addrs AddressSource
	log   *zap.Logger

	// tried is a test seam invoked before each selector evaluation, used to
	// verify the first-match-wins short circuit. Production leaves it nil.
	tried func(field string, selectorIndex int)
}

// NewResolver constructs a Resolver. addrs may be nil when no mapping in the
// site config requires OCR; the factory enforces that.
func NewResolver(addrs AddressSource, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	return &Resolver{addrs: addrs, log: log}
}

// Resolve produces the value of one field from one row.
//
// The returned error is advisory: it reports a per-field fault (malformed
// locator, OCR failure) that was recovered as an empty value. Callers log it
// and keep the row; a field fault never aborts row extraction.
func (r *Resolver) Resolve(ctx context.Context, row page.Handle, m config.FieldMapping, pg page.Page) (string, error) {
	var firstErr error

	for i, sel := range m.Selectors {
		if r.tried != nil {
			r.tried(m.FieldName, i)
		}

		h, err := row.Query(sel.Locator)
		if err != nil {
			// Selector-engine fault: report it, treat as field absent, and
			// keep trying the remaining fallbacks.
			if firstErr == nil {
				firstErr = fmt.Errorf("field %q selector %d: %w", m.FieldName, i, err)
			}
			continue
		}
		if h == nil {
			continue
		}

		value := readValue(h, sel.Attribute)
		if value == "" {
			continue
		}

		if m.RequiresOCR {
			return r.resolveOCR(ctx, m, value, pg)
		}
		return value, nil
	}

	return "", firstErr
}

// resolveOCR treats ref as a link to a document/image and delegates to the
// address pipeline. The pipeline's first match becomes the field value; any
// failure degrades to an empty value.
func (r *Resolver) resolveOCR(ctx context.Context, m config.FieldMapping, ref string, pg page.Page) (string, error) {
	if r.addrs == nil {
		return "", fmt.Errorf("field %q requires OCR but no recognizer is configured", m.FieldName)
	}

	addrs, err := r.addrs.ExtractAddresses(ctx, ref, pg)
	if err != nil {
		return "", fmt.Errorf("field %q ocr: %w", m.FieldName, err)
	}
	if len(addrs) == 0 {
		return "", nil
	}
	return addrs[0], nil
}

// readValue reads the configured attribute from a matched element.
// "" and "text" mean the text content, trimmed and whitespace-collapsed;
// anything else is a DOM attribute name.
func readValue(h page.Handle, attribute string) string {
	switch attribute {
	case "", "text":
		return collapseSpace(h.Text())
	default:
		return strings.TrimSpace(h.Attr(attribute))
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
