package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/sightlinehq/sightline/internal/commands"
)

// commandTimeout bounds a single browser command.
const commandTimeout = 30 * time.Second

// Browser drives a Chrome instance via the DevTools protocol. It
// implements both Executor and FrameSource.
type Browser struct {
	ctx           context.Context
	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc
	logger        *slog.Logger
}

// NewBrowser launches a browser. The returned Browser must be closed.
func NewBrowser(headless bool, logger *slog.Logger) (*Browser, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("no-first-run", true),
		chromedp.Flag("no-default-browser-check", true),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.WindowSize(1366, 768),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Force the browser process to start now so launch failures surface
	// here instead of on the first command.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("launch browser: %w", err)
	}

	logger.Info("browser launched", "headless", headless)
	return &Browser{
		ctx:           browserCtx,
		allocCancel:   allocCancel,
		browserCancel: browserCancel,
		logger:        logger,
	}, nil
}

// Close shuts the browser down.
func (b *Browser) Close() {
	b.browserCancel()
	b.allocCancel()
}

// opContext derives a command-scoped chromedp context that also honors
// the caller's cancellation.
func (b *Browser) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	opCtx, opCancel := context.WithTimeout(b.ctx, commandTimeout)
	stop := context.AfterFunc(ctx, opCancel)
	return opCtx, func() {
		stop()
		opCancel()
	}
}

// Execute runs one parsed command against the live page.
func (b *Browser) Execute(ctx context.Context, inv commands.Invocation) (string, error) {
	opCtx, cancel := b.opContext(ctx)
	defer cancel()

	switch inv.Name {
	case "go":
		if err := needArgs(inv, 1); err != nil {
			return "", err
		}
		target := normalizeURL(inv.Args[0])
		if err := chromedp.Run(opCtx, chromedp.Navigate(target)); err != nil {
			return "", err
		}
		return "Navigated to " + target, nil

	case "refresh":
		return "Page reloaded", chromedp.Run(opCtx, chromedp.Reload())

	case "back":
		return "Went back", chromedp.Run(opCtx, chromedp.NavigateBack())

	case "forward":
		return "Went forward", chromedp.Run(opCtx, chromedp.NavigateForward())

	case "home":
		return "At blank page", chromedp.Run(opCtx, chromedp.Navigate("about:blank"))

	case "url":
		var loc string
		if err := chromedp.Run(opCtx, chromedp.Location(&loc)); err != nil {
			return "", err
		}
		return loc, nil

	case "title":
		var title string
		if err := chromedp.Run(opCtx, chromedp.Title(&title)); err != nil {
			return "", err
		}
		return title, nil

	case "click":
		if err := needArgs(inv, 1); err != nil {
			return "", err
		}
		sel := inv.Args[0]
		err := chromedp.Run(opCtx,
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Click(sel, chromedp.ByQuery),
		)
		if err != nil {
			return "", err
		}
		return "Clicked " + sel, nil

	case "type":
		if err := needArgs(inv, 2); err != nil {
			return "", err
		}
		sel := inv.Args[0]
		text := strings.Join(inv.Args[1:], " ")
		err := chromedp.Run(opCtx,
			chromedp.Click(sel, chromedp.ByQuery),
			chromedp.SendKeys(sel, text, chromedp.ByQuery),
		)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Typed %q into %s", text, sel), nil

	case "press":
		if err := needArgs(inv, 1); err != nil {
			return "", err
		}
		key := mapKey(inv.Args[0])
		if err := chromedp.Run(opCtx, chromedp.KeyEvent(key)); err != nil {
			return "", err
		}
		return "Pressed " + inv.Args[0], nil

	case "scroll":
		delta := 600
		if len(inv.Args) > 0 && strings.EqualFold(inv.Args[0], "up") {
			delta = -600
		}
		js := fmt.Sprintf("window.scrollBy(0, %d)", delta)
		if err := chromedp.Run(opCtx, chromedp.Evaluate(js, nil)); err != nil {
			return "", err
		}
		return "Scrolled", nil

	case "hover":
		if err := needArgs(inv, 1); err != nil {
			return "", err
		}
		sel := inv.Args[0]
		js := fmt.Sprintf(
			`(function(){var el=document.querySelector(%q);if(!el)return false;`+
				`el.dispatchEvent(new MouseEvent('mouseover',{bubbles:true}));return true})()`, sel)
		var ok bool
		if err := chromedp.Run(opCtx,
			chromedp.ScrollIntoView(sel, chromedp.ByQuery),
			chromedp.Evaluate(js, &ok),
		); err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("no element matches %q", sel)
		}
		return "Hovering over " + sel, nil

	case "select":
		if err := needArgs(inv, 2); err != nil {
			return "", err
		}
		sel, value := inv.Args[0], inv.Args[1]
		err := chromedp.Run(opCtx, chromedp.SetValue(sel, value, chromedp.ByQuery))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Selected %q in %s", value, sel), nil

	case "scan":
		var summary string
		js := `(function(){
			var n = {
				links: document.querySelectorAll('a[href]').length,
				buttons: document.querySelectorAll('button,[role=button],input[type=submit]').length,
				inputs: document.querySelectorAll('input,textarea,select').length,
				forms: document.forms.length
			};
			return n.links+' links, '+n.buttons+' buttons, '+n.inputs+' inputs, '+n.forms+' forms';
		})()`
		if err := chromedp.Run(opCtx, chromedp.Evaluate(js, &summary)); err != nil {
			return "", err
		}
		return summary, nil

	case "links":
		var links []string
		js := `Array.from(document.querySelectorAll('a[href]')).slice(0, 20)
			.map(function(a){ return (a.textContent.trim()||'(no text)')+' -> '+a.href })`
		if err := chromedp.Run(opCtx, chromedp.Evaluate(js, &links)); err != nil {
			return "", err
		}
		if len(links) == 0 {
			return "No links found", nil
		}
		return strings.Join(links, "\n"), nil

	case "text":
		var text string
		if err := chromedp.Run(opCtx, chromedp.Text("body", &text, chromedp.ByQuery)); err != nil {
			return "", err
		}
		return truncate(strings.TrimSpace(text), 2000), nil

	case "find":
		if err := needArgs(inv, 1); err != nil {
			return "", err
		}
		query := strings.Join(inv.Args, " ")
		js := fmt.Sprintf(`(function(){
			var q = %q.toLowerCase();
			var body = document.body ? document.body.innerText : '';
			var idx = body.toLowerCase().indexOf(q);
			if (idx < 0) return '';
			return body.substr(Math.max(0, idx-80), q.length+160).replace(/\s+/g,' ');
		})()`, query)
		var snippet string
		if err := chromedp.Run(opCtx, chromedp.Evaluate(js, &snippet)); err != nil {
			return "", err
		}
		if snippet == "" {
			return "", fmt.Errorf("%q not found on page", query)
		}
		return "Found: ..." + snippet + "...", nil

	case "wait":
		d := time.Second
		if len(inv.Args) > 0 {
			secs, err := strconv.ParseFloat(inv.Args[0], 64)
			if err != nil || secs <= 0 {
				return "", fmt.Errorf("invalid wait duration %q", inv.Args[0])
			}
			d = time.Duration(secs * float64(time.Second))
		}
		if err := chromedp.Run(opCtx, chromedp.Sleep(d)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Waited %s", d), nil

	case "screenshot":
		var buf []byte
		if err := chromedp.Run(opCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
			return "", err
		}
		return fmt.Sprintf("Captured screenshot (%d bytes)", len(buf)), nil

	default:
		return "", fmt.Errorf("command %q is not implemented", inv.Name)
	}
}

// CaptureFrame grabs one PNG snapshot of the viewport.
func (b *Browser) CaptureFrame(ctx context.Context) ([]byte, error) {
	opCtx, cancel := b.opContext(ctx)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(opCtx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func needArgs(inv commands.Invocation, n int) error {
	if len(inv.Args) < n {
		return fmt.Errorf("usage: %s", inv.Spec.Syntax)
	}
	return nil
}

func normalizeURL(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") ||
		strings.HasPrefix(raw, "about:") {
		return raw
	}
	return "https://" + raw
}

// mapKey translates friendly key names to DevTools key identifiers.
func mapKey(name string) string {
	switch strings.ToLower(name) {
	case "enter", "return":
		return kb.Enter
	case "tab":
		return kb.Tab
	case "escape", "esc":
		return kb.Escape
	case "backspace":
		return kb.Backspace
	case "delete", "del":
		return kb.Delete
	case "up":
		return kb.ArrowUp
	case "down":
		return kb.ArrowDown
	case "left":
		return kb.ArrowLeft
	case "right":
		return kb.ArrowRight
	case "home":
		return kb.Home
	case "end":
		return kb.End
	case "pageup":
		return kb.PageUp
	case "pagedown":
		return kb.PageDown
	default:
		return name
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
