// Package portal drives the captcha gated train arrival web portal through a
// single shared browser session.
package portal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/danpilch/mrtbot/internal/config"
	"github.com/danpilch/mrtbot/internal/metrics"
	"github.com/danpilch/mrtbot/internal/report"
)

// Challenge is a captcha image issued to chats.
type Challenge struct {
	ID        int
	ImagePath string
}

// Status is a snapshot of the session state.
type Status struct {
	Verified        bool     `json:"verified"`
	ChallengeID     int      `json:"challenge_id"`
	SelectedStation string   `json:"selected_station,omitempty"`
	SelectedCodes   []string `json:"selected_codes,omitempty"`
}

type Options struct {
	URL         string
	Selectors   config.Selectors
	CaptchaDir  string
	SettleDelay time.Duration
}

// Session owns the browser. At most one operation drives the browser at a
// time; callers queue on the semaphore. Work that has started is not
// cancelled when the caller's context is.
type Session struct {
	browser    Browser
	url        string
	sel        config.Selectors
	captchaDir string
	settle     time.Duration
	logger     *logrus.Logger

	sem *semaphore.Weighted

	mu            sync.RWMutex
	verified      bool
	extracted     bool
	challengeID   int
	imagePath     string
	selectedCodes []string
	selectedLabel string
}

func NewSession(browser Browser, opts Options, logger *logrus.Logger) (*Session, error) {
	if err := os.MkdirAll(opts.CaptchaDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating captcha directory: %w", err)
	}
	return &Session{
		browser:    browser,
		url:        opts.URL,
		sel:        opts.Selectors,
		captchaDir: opts.CaptchaDir,
		settle:     opts.SettleDelay,
		logger:     logger,
		sem:        semaphore.NewWeighted(1),
	}, nil
}

// Verified reports whether the portal accepted a captcha code.
func (s *Session) Verified() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verified
}

// CurrentChallenge returns the id of the most recently issued captcha.
func (s *Session) CurrentChallenge() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.challengeID
}

// CurrentImage returns the path of the most recently captured captcha image.
func (s *Session) CurrentImage() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.imagePath
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Status{
		Verified:        s.verified,
		ChallengeID:     s.challengeID,
		SelectedStation: s.selectedLabel,
		SelectedCodes:   append([]string(nil), s.selectedCodes...),
	}
}

func (s *Session) Close() error {
	return s.browser.Close()
}

// acquire waits for the session. The returned context is detached from the
// caller's cancellation and is what browser calls must use.
func (s *Session) acquire(ctx context.Context, op string) (context.Context, func(), error) {
	start := time.Now()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, nil, fmt.Errorf("waiting for portal session: %w", err)
	}
	release := func() {
		s.sem.Release(1)
		metrics.PortalDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
	return context.WithoutCancel(ctx), release, nil
}

func (s *Session) fault(op string, err error) error {
	metrics.SessionFaults.WithLabelValues(op).Inc()
	return &SessionFaultError{Op: op, Err: err}
}

func (s *Session) wait() {
	if s.settle > 0 {
		time.Sleep(s.settle)
	}
}

func (s *Session) invalidate() {
	s.mu.Lock()
	s.verified = false
	s.extracted = false
	s.selectedCodes = nil
	s.selectedLabel = ""
	s.mu.Unlock()
	s.logger.Warn("portal dropped verification, captcha required")
}

// classify turns a missing element into ErrNotVerified when the portal is
// showing the captcha page again, and into a session fault otherwise.
func (s *Session) classify(ctx context.Context, op string, err error) error {
	if errors.Is(err, ErrElementNotFound) {
		if onCaptcha, hasErr := s.browser.Has(ctx, s.sel.CaptchaImage); hasErr == nil && onCaptcha {
			s.invalidate()
			return ErrNotVerified
		}
	}
	return s.fault(op, err)
}

// FetchChallenge returns the current captcha while it is unconsumed, and
// otherwise loads the portal and captures a new one. It returns
// ErrAlreadyVerified when the session is past the captcha.
func (s *Session) FetchChallenge(ctx context.Context) (Challenge, error) {
	const op = "fetch_challenge"
	work, release, err := s.acquire(ctx, op)
	if err != nil {
		return Challenge{}, err
	}
	defer release()

	s.mu.Lock()
	if s.verified {
		s.mu.Unlock()
		s.logger.Debug("portal already verified, no captcha needed")
		return Challenge{}, ErrAlreadyVerified
	}
	if s.extracted {
		c := Challenge{ID: s.challengeID, ImagePath: s.imagePath}
		s.mu.Unlock()
		s.logger.WithField("challenge_id", c.ID).Debug("captcha already extracted, reusing")
		return c, nil
	}
	s.verified = false
	s.selectedCodes = nil
	s.selectedLabel = ""
	s.mu.Unlock()

	if err := s.browser.Navigate(work, s.url); err != nil {
		return Challenge{}, s.fault(op, err)
	}
	img, err := s.browser.Screenshot(work, s.sel.CaptchaImage)
	if err != nil {
		return Challenge{}, s.fault(op, err)
	}

	path := filepath.Join(s.captchaDir, uuid.NewString()+".png")
	if err := os.WriteFile(path, img, 0o644); err != nil {
		return Challenge{}, fmt.Errorf("writing captcha image: %w", err)
	}

	s.mu.Lock()
	s.challengeID++
	s.imagePath = path
	s.extracted = true
	c := Challenge{ID: s.challengeID, ImagePath: path}
	s.mu.Unlock()

	metrics.ChallengesIssued.Inc()
	s.logger.WithFields(logrus.Fields{
		"challenge_id": c.ID,
		"image":        path,
	}).Info("captcha extracted")

	return c, nil
}

// SubmitCode enters a captcha code and reports whether the portal accepted it.
// Either way the current captcha is consumed.
func (s *Session) SubmitCode(ctx context.Context, code string) (bool, error) {
	const op = "submit_code"
	work, release, err := s.acquire(ctx, op)
	if err != nil {
		return false, err
	}
	defer release()

	return s.submitLocked(work, op, code)
}

// SubmitChallenge submits code only if challengeID is still the unconsumed
// current captcha, and returns ErrStaleChallenge otherwise.
func (s *Session) SubmitChallenge(ctx context.Context, challengeID int, code string) (bool, error) {
	const op = "submit_code"
	work, release, err := s.acquire(ctx, op)
	if err != nil {
		return false, err
	}
	defer release()

	s.mu.RLock()
	current := s.extracted && s.challengeID == challengeID
	s.mu.RUnlock()
	if !current {
		return false, ErrStaleChallenge
	}
	return s.submitLocked(work, op, code)
}

// SelectStation picks the first dropdown option naming one of codes and
// returns its label.
func (s *Session) SelectStation(ctx context.Context, codes []string) (string, error) {
	const op = "select_station"
	work, release, err := s.acquire(ctx, op)
	if err != nil {
		return "", err
	}
	defer release()

	return s.selectLocked(work, op, codes)
}

// GetArrivals reads the arrival tables for the selected option label.
func (s *Session) GetArrivals(ctx context.Context, label string) (report.Report, error) {
	const op = "get_arrivals"
	work, release, err := s.acquire(ctx, op)
	if err != nil {
		return report.Report{}, err
	}
	defer release()

	if !s.Verified() {
		return report.Report{}, ErrNotVerified
	}
	return s.readLocked(work, op, label)
}

// StationArrivals selects the station and reads its arrivals without letting
// another operation in between.
func (s *Session) StationArrivals(ctx context.Context, codes []string) (report.Report, error) {
	const op = "station_arrivals"
	work, release, err := s.acquire(ctx, op)
	if err != nil {
		return report.Report{}, err
	}
	defer release()

	label, err := s.selectLocked(work, op, codes)
	if err != nil {
		return report.Report{}, err
	}
	return s.readLocked(work, op, label)
}

// Refresh rereads arrivals for codes. When codes are already selected it only
// presses the portal's refresh control.
func (s *Session) Refresh(ctx context.Context, codes []string) (report.Report, error) {
	const op = "refresh"
	work, release, err := s.acquire(ctx, op)
	if err != nil {
		return report.Report{}, err
	}
	defer release()

	s.mu.RLock()
	current, label := s.selectedCodes, s.selectedLabel
	s.mu.RUnlock()

	if label == "" || !sameCodes(current, codes) {
		s.logger.WithField("codes", codes).Debug("refresh for a different station, reselecting")
		label, err := s.selectLocked(work, op, codes)
		if err != nil {
			return report.Report{}, err
		}
		return s.readLocked(work, op, label)
	}

	if !s.Verified() {
		return report.Report{}, ErrNotVerified
	}
	if err := s.browser.Click(work, s.sel.Refresh); err != nil {
		return report.Report{}, s.classify(work, op, err)
	}
	s.wait()

	return s.readLocked(work, op, label)
}

func (s *Session) submitLocked(ctx context.Context, op string, code string) (bool, error) {
	s.mu.Lock()
	s.extracted = false
	s.mu.Unlock()

	if err := s.browser.Input(ctx, s.sel.CodeInput, strings.TrimSpace(code)); err != nil {
		return false, s.fault(op, err)
	}
	if err := s.browser.Click(ctx, s.sel.Submit); err != nil {
		return false, s.fault(op, err)
	}
	s.wait()

	rejected, err := s.browser.Has(ctx, s.sel.CaptchaError)
	if err != nil {
		return false, s.fault(op, err)
	}

	s.mu.Lock()
	s.verified = !rejected
	s.mu.Unlock()

	s.logger.WithField("accepted", !rejected).Info("captcha code submitted")
	return !rejected, nil
}

func (s *Session) selectLocked(ctx context.Context, op string, codes []string) (string, error) {
	if !s.Verified() {
		return "", ErrNotVerified
	}

	labels, err := s.browser.Options(ctx, s.sel.StationSelect)
	if err != nil {
		return "", s.classify(ctx, op, err)
	}

	label, ok := MatchOption(labels, codes)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrStationNotFound, strings.Join(codes, "/"))
	}

	if err := s.browser.Select(ctx, s.sel.StationSelect, label); err != nil {
		return "", s.classify(ctx, op, err)
	}
	s.wait()

	s.mu.Lock()
	s.selectedCodes = append([]string(nil), codes...)
	s.selectedLabel = label
	s.mu.Unlock()

	s.logger.WithFields(logrus.Fields{
		"codes":  codes,
		"option": label,
	}).Debug("station selected")

	return label, nil
}

func (s *Session) readLocked(ctx context.Context, op string, label string) (report.Report, error) {
	lines, err := ParseLines(label)
	if err != nil {
		return report.Report{}, s.fault(op, err)
	}

	html, err := s.browser.HTML(ctx)
	if err != nil {
		return report.Report{}, s.fault(op, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return report.Report{}, s.fault(op, fmt.Errorf("parsing page html: %w", err))
	}

	if doc.Find(s.sel.StationSelect).Length() == 0 {
		if doc.Find(s.sel.CaptchaImage).Length() > 0 {
			s.invalidate()
			return report.Report{}, ErrNotVerified
		}
		return report.Report{}, s.fault(op, fmt.Errorf("%s: %w", s.sel.StationSelect, ErrElementNotFound))
	}

	r, err := parseArrivals(doc, s.sel.ResultTable, lines)
	if err != nil {
		return report.Report{}, s.fault(op, err)
	}
	return r, nil
}
