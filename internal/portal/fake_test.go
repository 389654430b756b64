package portal

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/danpilch/mrtbot/internal/config"
)

const (
	pageCaptcha  = "captcha"
	pageVerified = "verified"
)

// fakeBrowser imitates the arrival portal: a captcha page that turns into the
// station page once the accepted code is submitted.
type fakeBrowser struct {
	mu    sync.Mutex
	sel   config.Selectors
	calls map[string]int

	page         string
	acceptCode   string
	typed        string
	captchaError bool
	options      []string
	selected     string
	tables       map[string]string
	navigateErr  error
	extraTables  bool

	delay       time.Duration
	entered     chan struct{}
	block       chan struct{}
	inFlight    int
	maxInFlight int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		sel:        config.Default().Portal.Selectors,
		calls:      make(map[string]int),
		acceptCode: "4821",
		options: []string{
			"Select a station",
			"Marina Bay (TE20/CE1/NS27)",
			"Bukit Batok (NS2)",
			"Jurong East (NS1/EW24)",
		},
		tables: map[string]string{
			"Jurong East (NS1/EW24)": arrivalTable("1 min", "5 min", "Marina South Pier") +
				arrivalTable("2 min", "8 min", "Jurong East") +
				arrivalTable("3 min", "6 min", "Pasir Ris") +
				arrivalTable("4 min", "9 min", "Tuas Link"),
			"Bukit Batok (NS2)": arrivalTable("2 min", "7 min", "Jurong East"),
		},
	}
}

func arrivalTable(next, subsequent, dest string) string {
	return fmt.Sprintf(`<table id="gvTime"><tr><th>Next Train</th><th>Subsequent Train</th></tr>`+
		`<tr><td>%s</td><td>%s</td></tr><tr><td>%s</td><td>%s</td></tr></table>`, next, subsequent, dest, dest)
}

func (f *fakeBrowser) enter(name string) func() {
	f.mu.Lock()
	f.calls[name]++
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	delay := f.delay
	f.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	return func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}
}

func (f *fakeBrowser) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBrowser) setPage(page string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.page = page
}

func notFound(selector string) error {
	return fmt.Errorf("%s: %w", selector, ErrElementNotFound)
}

func (f *fakeBrowser) Navigate(ctx context.Context, url string) error {
	defer f.enter("navigate")()
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.block != nil {
		<-f.block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.navigateErr != nil {
		return f.navigateErr
	}
	f.page = pageCaptcha
	f.captchaError = false
	f.selected = ""
	return nil
}

func (f *fakeBrowser) Screenshot(ctx context.Context, selector string) ([]byte, error) {
	defer f.enter("screenshot")()
	f.mu.Lock()
	defer f.mu.Unlock()
	if selector != f.sel.CaptchaImage || f.page != pageCaptcha {
		return nil, notFound(selector)
	}
	return []byte("\x89PNG fake"), nil
}

func (f *fakeBrowser) Input(ctx context.Context, selector, text string) error {
	defer f.enter("input")()
	f.mu.Lock()
	defer f.mu.Unlock()
	if selector != f.sel.CodeInput || f.page != pageCaptcha {
		return notFound(selector)
	}
	f.typed = text
	return nil
}

func (f *fakeBrowser) Click(ctx context.Context, selector string) error {
	defer f.enter("click:" + selector)()
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case selector == f.sel.Submit && f.page == pageCaptcha:
		if f.typed == f.acceptCode {
			f.page = pageVerified
			f.captchaError = false
		} else {
			f.captchaError = true
		}
		return nil
	case selector == f.sel.Refresh && f.page == pageVerified:
		return nil
	}
	return notFound(selector)
}

func (f *fakeBrowser) Has(ctx context.Context, selector string) (bool, error) {
	defer f.enter("has")()
	f.mu.Lock()
	defer f.mu.Unlock()
	switch selector {
	case f.sel.CaptchaError:
		return f.captchaError, nil
	case f.sel.CaptchaImage:
		return f.page == pageCaptcha, nil
	}
	return false, nil
}

func (f *fakeBrowser) Options(ctx context.Context, selector string) ([]string, error) {
	defer f.enter("options")()
	f.mu.Lock()
	defer f.mu.Unlock()
	if selector != f.sel.StationSelect || f.page != pageVerified {
		return nil, notFound(selector)
	}
	return append([]string(nil), f.options...), nil
}

func (f *fakeBrowser) Select(ctx context.Context, selector, label string) error {
	defer f.enter("select")()
	f.mu.Lock()
	defer f.mu.Unlock()
	if selector != f.sel.StationSelect || f.page != pageVerified {
		return notFound(selector)
	}
	f.selected = label
	return nil
}

func (f *fakeBrowser) HTML(ctx context.Context) (string, error) {
	defer f.enter("html")()
	f.mu.Lock()
	defer f.mu.Unlock()

	var b strings.Builder
	b.WriteString("<html><body>")
	if f.page == pageCaptcha {
		b.WriteString(`<img id="imgCaptcha" src="captcha.ashx"><input id="txtCodeNumber">`)
	} else {
		b.WriteString(`<select id="ddlStation">`)
		for _, o := range f.options {
			fmt.Fprintf(&b, "<option>%s</option>", o)
		}
		b.WriteString("</select>")
		b.WriteString(f.tables[f.selected])
		if f.extraTables {
			b.WriteString(strings.Repeat(arrivalTable("1 min", "2 min", "Nowhere"), 6))
		}
	}
	b.WriteString("</body></html>")
	return b.String(), nil
}

func (f *fakeBrowser) Close() error {
	return nil
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestSession(t *testing.T, browser *fakeBrowser) *Session {
	t.Helper()
	s, err := NewSession(browser, Options{
		URL:        "https://portal.test/",
		Selectors:  config.Default().Portal.Selectors,
		CaptchaDir: t.TempDir(),
	}, testLogger())
	require.NoError(t, err)
	return s
}

func verifiedSession(t *testing.T, browser *fakeBrowser) *Session {
	t.Helper()
	s := newTestSession(t, browser)
	_, err := s.FetchChallenge(context.Background())
	require.NoError(t, err)
	ok, err := s.SubmitCode(context.Background(), browser.acceptCode)
	require.NoError(t, err)
	require.True(t, ok)
	return s
}
