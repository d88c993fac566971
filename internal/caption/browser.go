package caption

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/sirupsen/logrus"
)

// DefaultCaptionSelector matches the caption segments of the YouTube player.
const DefaultCaptionSelector = ".ytp-caption-segment"

const (
	captionTextJS = `(sel) => {
		const nodes = document.querySelectorAll(sel);
		if (!nodes.length) return null;
		return Array.from(nodes).map(n => n.textContent).join(' ');
	}`
	playbackTimeJS = `() => {
		const v = document.querySelector('video');
		return v ? v.currentTime : -1;
	}`
	surfaceJS = `(sel) => document.querySelector('video') !== null || document.querySelector(sel) !== null`
)

// BrowserProbe reads captions from a page in a headless browser.
type BrowserProbe struct {
	launcher *launcher.Launcher
	browser  *rod.Browser
	page     *rod.Page
	selector string
	mu       sync.Mutex
}

// BrowserOptions configures NewBrowserProbe.
type BrowserOptions struct {
	PageURL  string
	Selector string
	// ControlURL attaches to a running browser instead of launching one.
	ControlURL string
	Timeout    time.Duration
}

// NewBrowserProbe launches (or attaches to) a browser and opens the page.
func NewBrowserProbe(opts BrowserOptions) (*BrowserProbe, error) {
	if opts.PageURL == "" {
		return nil, fmt.Errorf("caption page url is required")
	}
	if opts.Selector == "" {
		opts.Selector = DefaultCaptionSelector
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}

	p := &BrowserProbe{selector: opts.Selector}
	controlURL := opts.ControlURL
	if controlURL == "" {
		l := launcher.New().Headless(true)
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("error launching browser: %w", err)
		}
		p.launcher = l
		controlURL = u
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		p.Close()
		return nil, fmt.Errorf("error connecting to browser: %w", err)
	}
	p.browser = browser

	page, err := browser.Page(proto.TargetCreateTarget{URL: opts.PageURL})
	if err != nil {
		p.Close()
		return nil, fmt.Errorf("error opening %s: %w", opts.PageURL, err)
	}
	if err := page.Timeout(opts.Timeout).WaitLoad(); err != nil {
		p.Close()
		return nil, fmt.Errorf("error loading %s: %w", opts.PageURL, err)
	}
	p.page = page

	logrus.WithFields(logrus.Fields{
		"page_url": opts.PageURL,
		"selector": opts.Selector,
	}).Info("Browser caption probe ready")
	return p, nil
}

func (p *BrowserProbe) Check(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, err := p.page.Context(ctx).Eval(surfaceJS, p.selector)
	if err != nil {
		return fmt.Errorf("probe page: %w", err)
	}
	if !res.Value.Bool() {
		return ErrNoCaptionSurface
	}
	return nil
}

func (p *BrowserProbe) SampleCaptionText(ctx context.Context) (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, err := p.page.Context(ctx).Eval(captionTextJS, p.selector)
	if err != nil {
		return "", false, fmt.Errorf("read captions: %w", err)
	}
	if res.Value.Nil() {
		return "", false, nil
	}
	return res.Value.Str(), true, nil
}

func (p *BrowserProbe) CurrentPlaybackTime(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, err := p.page.Context(ctx).Eval(playbackTimeJS)
	if err != nil {
		return 0, fmt.Errorf("read playback time: %w", err)
	}
	t := res.Value.Num()
	if t < 0 {
		return 0, ErrNoCaptionSurface
	}
	return t, nil
}

// Close releases the page. A browser this probe launched is shut down too;
// an attached one is left running.
func (p *BrowserProbe) Close() {
	if p.page != nil {
		_ = p.page.Close()
	}
	if p.launcher == nil {
		return
	}
	if p.browser != nil {
		_ = p.browser.Close()
	}
	p.launcher.Cleanup()
}
