// Package conversation keeps per-chat state and decides how each chat event is
// answered against the shared portal session.
package conversation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/danpilch/mrtbot/internal/catalog"
	"github.com/danpilch/mrtbot/internal/metrics"
	"github.com/danpilch/mrtbot/internal/portal"
	"github.com/danpilch/mrtbot/internal/report"
)

const (
	msgCaptcha        = "Help me read the captcha!"
	msgPrompt         = "Enter the command for a station."
	msgOutdated       = "Captcha is outdated."
	msgIncorrect      = "Incorrect captcha code"
	msgVerified       = "Yay! Enter a station."
	msgInvalidStation = "Invalid station"
	msgMap            = "Here is the system map!"
	msgWait           = "Please wait a moment before refreshing again."
	msgFailure        = "Sorry, I could not reach the train arrival portal. Please try again later."
)

// ErrInvalidCode means the portal rejected a captcha code.
var ErrInvalidCode = errors.New("captcha code rejected")

// Portal is the shared browser session.
type Portal interface {
	Verified() bool
	FetchChallenge(ctx context.Context) (portal.Challenge, error)
	SubmitChallenge(ctx context.Context, challengeID int, code string) (bool, error)
	StationArrivals(ctx context.Context, codes []string) (report.Report, error)
	Refresh(ctx context.Context, codes []string) (report.Report, error)
}

type Stations interface {
	Lookup(token string) (catalog.Station, bool)
}

// Replier delivers answers to a chat.
type Replier interface {
	SendText(chatID int64, text string) error
	SendPhoto(chatID int64, path, caption string) error
	// SendReport sends an arrival report with a refresh control attached.
	SendReport(chatID int64, text string) error
	// EditReport replaces the text of a previously sent report.
	EditReport(chatID int64, messageID int, text string) error
	// AnswerRefresh acknowledges a refresh press, optionally with a toast.
	AnswerRefresh(callbackID, text string) error
}

type Alerter interface {
	SendSessionFault(op string, cause error) error
}

type Options struct {
	MapImage        string
	RefreshInterval time.Duration
	Location        *time.Location
}

type chatState struct {
	mu          sync.Mutex
	mode        State
	challengeID int
	codes       []string
	limiter     *rate.Limiter
	// lastSeen is guarded by Machine.mu
	lastSeen time.Time
}

// Machine handles chat events. Events of one chat are handled in order;
// different chats are handled concurrently.
type Machine struct {
	portal   Portal
	stations Stations
	replier  Replier
	alerter  Alerter
	opts     Options
	logger   *logrus.Logger
	now      func() time.Time

	mu    sync.Mutex
	chats map[int64]*chatState
}

func New(p Portal, stations Stations, replier Replier, alerter Alerter, opts Options, logger *logrus.Logger) *Machine {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &Machine{
		portal:   p,
		stations: stations,
		replier:  replier,
		alerter:  alerter,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		chats:    make(map[int64]*chatState),
	}
}

func (m *Machine) chat(chatID int64) *chatState {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.chats[chatID]
	if !ok {
		limit := rate.Inf
		if m.opts.RefreshInterval > 0 {
			limit = rate.Every(m.opts.RefreshInterval)
		}
		c = &chatState{
			mode:    Normal,
			limiter: rate.NewLimiter(limit, 1),
		}
		if !m.portal.Verified() {
			c.mode = AwaitingCaptcha
		}
		m.chats[chatID] = c
		metrics.TrackedChats.Set(float64(len(m.chats)))
	}
	c.lastSeen = m.now()
	return c
}

// Handle answers one chat event. Failures are reported to the chat and
// logged; they never leak into other chats.
func (m *Machine) Handle(ctx context.Context, ev Event) {
	c := m.chat(ev.ChatID)
	c.mu.Lock()
	defer c.mu.Unlock()

	verified := m.portal.Verified()
	action := Decide(c.mode, verified, ev.Kind)

	m.logger.WithFields(logrus.Fields{
		"chat_id":  ev.ChatID,
		"sender":   ev.Sender,
		"event":    ev.Kind.String(),
		"state":    c.mode.String(),
		"verified": verified,
		"action":   action.String(),
	}).Info("chat event")

	if ev.Kind == Refresh && action != RefreshReport {
		m.answer(ev.CallbackID, "")
	}

	err := m.dispatch(ctx, c, ev, action)
	if errors.Is(err, portal.ErrNotVerified) {
		// another chat's failed attempt or the portal itself dropped verification
		err = m.issue(ctx, c, ev.ChatID)
	}
	if err != nil {
		m.fail(ev, err)
	}
}

func (m *Machine) dispatch(ctx context.Context, c *chatState, ev Event, action Action) error {
	switch action {
	case IssueChallenge:
		return m.issue(ctx, c, ev.ChatID)
	case PromptStation:
		c.mode = Normal
		return m.replier.SendText(ev.ChatID, msgPrompt)
	case SendMap:
		return m.replier.SendPhoto(ev.ChatID, m.opts.MapImage, msgMap)
	case VerifyCode:
		return m.verify(ctx, c, ev)
	case ServeStation:
		return m.serve(ctx, c, ev)
	case InvalidStation:
		return m.invalidStation(ev.ChatID)
	case RefreshReport:
		return m.refresh(ctx, c, ev)
	}
	return nil
}

func (m *Machine) issue(ctx context.Context, c *chatState, chatID int64) error {
	challenge, err := m.portal.FetchChallenge(ctx)
	if errors.Is(err, portal.ErrAlreadyVerified) {
		// another chat got through the captcha first
		c.mode = Normal
		return m.replier.SendText(chatID, msgPrompt)
	}
	if err != nil {
		return err
	}
	c.challengeID = challenge.ID
	c.mode = AwaitingCaptcha
	return m.replier.SendPhoto(chatID, challenge.ImagePath, msgCaptcha)
}

func (m *Machine) verify(ctx context.Context, c *chatState, ev Event) error {
	if c.challengeID == 0 {
		return m.issue(ctx, c, ev.ChatID)
	}

	err := m.submit(ctx, c.challengeID, ev.Text)
	switch {
	case errors.Is(err, portal.ErrStaleChallenge):
		metrics.Verifications.WithLabelValues("stale").Inc()
		if err := m.replier.SendText(ev.ChatID, msgOutdated); err != nil {
			return err
		}
		return m.issue(ctx, c, ev.ChatID)
	case errors.Is(err, ErrInvalidCode):
		metrics.Verifications.WithLabelValues("rejected").Inc()
		if err := m.replier.SendText(ev.ChatID, msgIncorrect); err != nil {
			return err
		}
		return m.issue(ctx, c, ev.ChatID)
	case err != nil:
		return err
	}

	metrics.Verifications.WithLabelValues("accepted").Inc()
	c.mode = Normal
	return m.replier.SendText(ev.ChatID, msgVerified)
}

func (m *Machine) submit(ctx context.Context, challengeID int, code string) error {
	ok, err := m.portal.SubmitChallenge(ctx, challengeID, code)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCode
	}
	return nil
}

func (m *Machine) serve(ctx context.Context, c *chatState, ev Event) error {
	station, ok := m.stations.Lookup(ev.Token)
	if !ok {
		return m.invalidStation(ev.ChatID)
	}

	r, err := m.portal.StationArrivals(ctx, station.Codes)
	if errors.Is(err, portal.ErrStationNotFound) {
		m.logger.WithFields(logrus.Fields{
			"station": station.Name,
			"codes":   station.Codes,
		}).Warn("station missing from portal dropdown")
		return m.invalidStation(ev.ChatID)
	}
	if err != nil {
		return err
	}

	c.codes = station.Codes
	c.mode = Normal
	metrics.ReportsServed.WithLabelValues("query").Inc()
	return m.replier.SendReport(ev.ChatID, report.Format(r, m.now().In(m.opts.Location)))
}

func (m *Machine) refresh(ctx context.Context, c *chatState, ev Event) error {
	if !c.limiter.AllowN(m.now(), 1) {
		m.answer(ev.CallbackID, msgWait)
		return nil
	}
	m.answer(ev.CallbackID, "")

	if len(c.codes) == 0 {
		return m.replier.SendText(ev.ChatID, msgPrompt)
	}

	r, err := m.portal.Refresh(ctx, c.codes)
	if errors.Is(err, portal.ErrStationNotFound) {
		m.logger.WithField("codes", c.codes).Warn("station missing from portal dropdown on refresh")
		c.codes = nil
		return m.invalidStation(ev.ChatID)
	}
	if err != nil {
		return err
	}

	metrics.ReportsServed.WithLabelValues("refresh").Inc()
	return m.replier.EditReport(ev.ChatID, ev.MessageID, report.Format(r, m.now().In(m.opts.Location)))
}

func (m *Machine) invalidStation(chatID int64) error {
	if err := m.replier.SendText(chatID, msgInvalidStation); err != nil {
		return err
	}
	return m.replier.SendText(chatID, msgPrompt)
}

func (m *Machine) answer(callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := m.replier.AnswerRefresh(callbackID, text); err != nil {
		m.logger.WithField("error", err).Warn("failed to answer refresh callback")
	}
}

func (m *Machine) fail(ev Event, err error) {
	entry := m.logger.WithFields(logrus.Fields{
		"chat_id": ev.ChatID,
		"event":   ev.Kind.String(),
		"error":   err,
	})

	var fault *portal.SessionFaultError
	if errors.As(err, &fault) {
		entry.Error("portal session fault")
		if m.alerter != nil {
			if aerr := m.alerter.SendSessionFault(fault.Op, fault.Err); aerr != nil {
				m.logger.WithField("error", aerr).Warn("failed to send operator alert")
			}
		}
	} else {
		entry.Error("failed to handle chat event")
	}

	if serr := m.replier.SendText(ev.ChatID, msgFailure); serr != nil {
		m.logger.WithFields(logrus.Fields{
			"chat_id": ev.ChatID,
			"error":   serr,
		}).Warn("failed to send failure notice")
	}
}

// Forget drops the state of a chat.
func (m *Machine) Forget(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.chats, chatID)
	metrics.TrackedChats.Set(float64(len(m.chats)))
}

// EvictIdle drops chats that have not sent an event within ttl. Chats with an
// event in progress are kept.
func (m *Machine) EvictIdle(ttl time.Duration) int {
	cutoff := m.now().Add(-ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	evicted := 0
	for id, c := range m.chats {
		if !c.lastSeen.Before(cutoff) {
			continue
		}
		if !c.mu.TryLock() {
			continue
		}
		delete(m.chats, id)
		c.mu.Unlock()
		evicted++
	}
	metrics.TrackedChats.Set(float64(len(m.chats)))
	return evicted
}

// Chats returns the number of chats with state held in memory.
func (m *Machine) Chats() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chats)
}

// ChatState returns the state of a chat, if it is known.
func (m *Machine) ChatState(chatID int64) (State, bool) {
	m.mu.Lock()
	c, ok := m.chats[chatID]
	m.mu.Unlock()
	if !ok {
		return Normal, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode, true
}
