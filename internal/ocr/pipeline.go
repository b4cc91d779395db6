// Package ocr turns linked document images into structured addresses.
//
// The pipeline is strictly isolated from the main extraction path: a failure
// here degrades one field of one row, never the row itself. Linked assets
// render slowly, get replaced by interstitial pages, and the recognition
// engine is best-effort, so every failure mode maps to "no address found"
// plus a recorded reason.
package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"lienharvest/internal/page"
)

// Recognizer is the injected external text-recognition capability.
type Recognizer interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// AddressPipeline fetches a referenced asset, runs text recognition on it,
// and parses addresses out of the recognized text.
//
// Every recognized asset leaves two artifacts in the pipeline's scoped work
// directory: the raw asset bytes and a sidecar text file carrying an audit
// header (run id, source reference, timestamp) followed by the raw
// recognized text.
type AddressPipeline struct {
	rec     Recognizer
	workDir string
	runID   string
	log     *zap.Logger

	// now is injected for deterministic tests. Production uses time.Now.
	now func() time.Time
}

// NewAddressPipeline constructs a pipeline writing artifacts under
// workDir/<runID>. An empty workDir falls back to the system temp directory.
func NewAddressPipeline(rec Recognizer, workDir, runID string, log *zap.Logger) (*AddressPipeline, error) {
	if rec == nil {
		return nil, fmt.Errorf("ocr: recognizer is required")
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	if workDir == "" {
		workDir = os.TempDir()
	}
	if log == nil {
		log = zap.NewNop()
	}

	dir := filepath.Join(workDir, "lienharvest-ocr", runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ocr: create work dir: %w", err)
	}

	return &AddressPipeline{
		rec:     rec,
		workDir: dir,
		runID:   runID,
		log:     log,
		now:     time.Now,
	}, nil
}

// WorkDir returns the scoped artifact directory for this run.
func (p *AddressPipeline) WorkDir() string { return p.workDir }

// ExtractAddresses resolves ref (a document/image URL) into zero or more
// addresses, ordered by position in the recognized text.
//
// Failures (fetch, persist, recognition) return an empty slice plus the
// reason; callers log it and carry on with an empty field value. An asset
// that recognizes cleanly but contains no address is not an error.
func (p *AddressPipeline) ExtractAddresses(ctx context.Context, ref string, pg page.Page) ([]string, error) {
	asset, err := pg.FetchAsset(ctx, ref)
	if err != nil {
		p.log.Warn("ocr asset fetch failed", zap.String("ref", ref), zap.Error(err))
		return nil, fmt.Errorf("fetch asset %q: %w", ref, err)
	}

	name := uuid.NewString()
	assetPath := filepath.Join(p.workDir, name+assetExt(ref))
	if err := os.WriteFile(assetPath, asset, 0o644); err != nil {
		return nil, fmt.Errorf("persist asset %q: %w", ref, err)
	}

	text, err := p.rec.Recognize(ctx, asset)
	if err != nil {
		p.log.Warn("ocr recognition failed", zap.String("ref", ref), zap.Error(err))
		return nil, fmt.Errorf("recognize %q: %w", ref, err)
	}

	if err := p.writeSidecar(filepath.Join(p.workDir, name+".txt"), ref, text); err != nil {
		// The sidecar is an audit artifact; losing it is worth a log line
		// but must not cost the field value.
		p.log.Warn("ocr sidecar write failed", zap.String("ref", ref), zap.Error(err))
	}

	addrs := ParseAddresses(text)
	p.log.Debug("ocr addresses parsed",
		zap.String("ref", ref),
		zap.Int("count", len(addrs)))
	return addrs, nil
}

// writeSidecar persists the audit artifact: a small header identifying the
// run and source, then the raw recognized text.
func (p *AddressPipeline) writeSidecar(path, ref, text string) error {
	header := fmt.Sprintf("# run_id: %s\n# source: %s\n# recognized_at: %s\n\n",
		p.runID, ref, p.now().UTC().Format(time.RFC3339))
	return os.WriteFile(path, []byte(header+text), 0o644)
}

// assetExt keeps the source extension on the persisted asset when it has
// one, so the artifact directory stays browsable.
func assetExt(ref string) string {
	ext := filepath.Ext(ref)
	if ext == "" || len(ext) > 5 {
		return ".bin"
	}
	return ext
}
