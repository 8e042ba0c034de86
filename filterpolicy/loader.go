package filterpolicy

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultReloadInterval is the refresh cadence the original implementation
// intended (hourly) but expressed as a block-number modulo that was
// algebraically always zero (spec.md §9 Design Notes, first Open
// Question). This loader reimplements it as a plain wall-clock ticker,
// which is what "hourly refresh" actually requires.
const DefaultReloadInterval = time.Hour

type document struct {
	DefaultAction      Action            `yaml:"defaultAction" json:"defaultAction"`
	Owners             map[string]Action `yaml:"owners" json:"owners"`
	Handlers           map[string]Action `yaml:"handlers" json:"handlers"`
	Transactions       map[string]Action `yaml:"transactions" json:"transactions"`
	ConditionalOrderIDs map[string]Action `yaml:"conditionalOrderIds" json:"conditionalOrderIds"`
}

// Loader fetches the filter policy document from an external URL on a
// jittered hourly interval, keeping the last good snapshot in effect when
// a fetch or parse fails (spec.md §4.4).
type Loader struct {
	url      string
	interval time.Duration
	jitter   time.Duration
	httpc    *http.Client
	log      *slog.Logger

	current atomic.Pointer[Policy]
}

// NewLoader constructs a Loader that has not yet fetched; Current returns
// the fallback policy (ACCEPT everything) until the first successful Fetch
// or Run iteration.
func NewLoader(url string, httpc *http.Client, log *slog.Logger) *Loader {
	if httpc == nil {
		httpc = http.DefaultClient
	}
	l := &Loader{
		url:      url,
		interval: DefaultReloadInterval,
		jitter:   jitterFor(DefaultReloadInterval),
		httpc:    httpc,
		log:      log,
	}
	l.current.Store(&Policy{DefaultAction: ActionAccept})
	return l
}

func jitterFor(interval time.Duration) time.Duration {
	maxJitter := int64(interval) / 10 // +-10%
	if maxJitter <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(2*maxJitter))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64() - maxJitter)
}

// Current returns the most recently loaded policy, or the ACCEPT-default
// fallback if no fetch has ever succeeded.
func (l *Loader) Current() *Policy {
	return l.current.Load()
}

// Fetch retrieves and parses the policy document once, swapping it in on
// success. A failure logs and leaves the previous snapshot in effect,
// returning the error for callers (e.g. tests) that want to observe it.
func (l *Loader) Fetch(ctx context.Context) error {
	if l.url == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		l.logErr("build request", err)
		return err
	}
	resp, err := l.httpc.Do(req)
	if err != nil {
		l.logErr("fetch", err)
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %d", resp.StatusCode)
		l.logErr("fetch", err)
		return err
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		l.logErr("read body", err)
		return err
	}

	var doc document
	if decodeErr := decodeDocument(l.url, body, &doc); decodeErr != nil {
		l.logErr("parse", decodeErr)
		return decodeErr
	}

	l.current.Store(&Policy{
		DefaultAction:      doc.DefaultAction,
		ByOwner:            normalizeKeys(doc.Owners),
		ByHandler:          normalizeKeys(doc.Handlers),
		ByTransaction:      normalizeKeys(doc.Transactions),
		ByConditionalOrder: normalizeKeys(doc.ConditionalOrderIDs),
	})
	return nil
}

func decodeDocument(url string, body []byte, doc *document) error {
	// Accept either YAML or JSON documents; JSON is valid YAML so this
	// simply tries YAML first and falls back to strict JSON on failure,
	// matching how the teacher's sibling services accept either for
	// operator convenience.
	if err := yaml.Unmarshal(body, doc); err == nil {
		return nil
	}
	return json.Unmarshal(body, doc)
}

// Run blocks, refetching on a jittered hourly ticker, until ctx is
// cancelled. Intended to run in its own goroutine per chain watcher.
func (l *Loader) Run(ctx context.Context) {
	_ = l.Fetch(ctx)
	ticker := time.NewTicker(l.interval + l.jitter)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = l.Fetch(ctx)
		}
	}
}

func (l *Loader) logErr(stage string, err error) {
	if l.log == nil {
		return
	}
	l.log.Error("filterpolicy: reload failed, keeping last good snapshot",
		slog.String("stage", stage), slog.String("error", err.Error()))
}
