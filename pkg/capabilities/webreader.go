package capabilities

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog"

	"github.com/harun/nara/pkg/capability"
)

// defaultPageChars caps extracted page text so observations stay small
// enough for the reasoning prompt.
const defaultPageChars = 8000

// WebReader fetches a page in a headless browser and returns its visible
// text. The browser is launched lazily on first use and shared across
// calls; Close kills it.
type WebReader struct {
	logger zerolog.Logger

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

func NewWebReader(logger zerolog.Logger) *WebReader {
	return &WebReader{
		logger: logger.With().Str("component", "webreader").Logger(),
	}
}

func (w *WebReader) Describe() capability.Descriptor {
	return capability.Descriptor{
		Name:        "web",
		Version:     "1.0.0",
		Category:    "information",
		Description: "Fetches a web page in a headless browser and extracts its readable text",
		Actions: []capability.ActionSpec{
			{
				Name:        "read",
				Description: "Load a page and return its title and visible text",
				Parameters: []capability.ParamSpec{
					{Name: "url", Type: "string", Description: "http or https URL", Required: true},
					{Name: "max_chars", Type: "integer", Description: "Truncate extracted text to this many characters"},
				},
			},
		},
	}
}

func (w *WebReader) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	if action != "" && action != "read" {
		return nil, fmt.Errorf("web does not support action %q", action)
	}

	raw, err := requireString(params, "url")
	if err != nil {
		return nil, err
	}
	target, err := url.Parse(raw)
	if err != nil || target.Scheme != "http" && target.Scheme != "https" || target.Host == "" {
		return nil, fmt.Errorf("url must be absolute http or https, got %q", raw)
	}

	maxChars := defaultPageChars
	if v, ok := intParam(params, "max_chars"); ok && v > 0 && v < maxChars {
		maxChars = v
	}

	browser, err := w.ensureBrowser()
	if err != nil {
		return nil, err
	}

	page, err := browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()
	page = page.Context(ctx)

	if err := page.Navigate(target.String()); err != nil {
		return nil, fmt.Errorf("navigate to %s: %w", target, err)
	}
	if err := page.WaitLoad(); err != nil {
		return nil, fmt.Errorf("page load: %w", err)
	}

	res, err := page.Eval(`() => document.body.innerText`)
	if err != nil {
		return nil, fmt.Errorf("extract text: %w", err)
	}
	text := strings.TrimSpace(res.Value.String())
	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}

	title := ""
	if info, err := page.Info(); err == nil {
		title = info.Title
	}

	w.logger.Debug().Str("url", target.String()).Int("chars", len(text)).Msg("Page read")
	return map[string]any{
		"url":       target.String(),
		"title":     title,
		"text":      text,
		"truncated": truncated,
	}, nil
}

// ensureBrowser launches the headless browser once.
func (w *WebReader) ensureBrowser() (*rod.Browser, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.browser != nil {
		return w.browser, nil
	}

	l := launcher.New().Headless(true).NoSandbox(true)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("connect to browser: %w", err)
	}

	w.logger.Info().Msg("Headless browser started")
	w.launcher = l
	w.browser = browser
	return browser, nil
}

// Close shuts the browser down if it was started.
func (w *WebReader) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var err error
	if w.browser != nil {
		err = w.browser.Close()
		w.browser = nil
	}
	if w.launcher != nil {
		w.launcher.Kill()
		w.launcher = nil
	}
	return err
}
