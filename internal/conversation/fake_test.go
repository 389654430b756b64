package conversation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/danpilch/mrtbot/internal/api/stations"
	"github.com/danpilch/mrtbot/internal/catalog"
	"github.com/danpilch/mrtbot/internal/portal"
	"github.com/danpilch/mrtbot/internal/report"
)

// fakePortal follows the session rules of portal.Session without a browser.
type fakePortal struct {
	mu          sync.Mutex
	verified    bool
	extracted   bool
	challengeID int
	acceptCode  string
	selected    []string
	served      int
	calls       map[string]int

	stationErr error
	refreshErr error
	// beforeFetch runs ahead of FetchChallenge, standing in for another
	// chat whose submit lands first.
	beforeFetch func()
}

func newFakePortal() *fakePortal {
	return &fakePortal{acceptCode: "4821", calls: make(map[string]int)}
}

func (p *fakePortal) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *fakePortal) setVerified(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.verified = v
}

func (p *fakePortal) Verified() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.verified
}

func (p *fakePortal) FetchChallenge(ctx context.Context) (portal.Challenge, error) {
	if p.beforeFetch != nil {
		p.beforeFetch()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["fetch"]++
	if p.verified {
		return portal.Challenge{}, portal.ErrAlreadyVerified
	}
	if !p.extracted {
		p.challengeID++
		p.extracted = true
		p.verified = false
	}
	return portal.Challenge{ID: p.challengeID, ImagePath: fmt.Sprintf("captchas/%d.png", p.challengeID)}, nil
}

func (p *fakePortal) SubmitChallenge(ctx context.Context, challengeID int, code string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["submit"]++
	if !p.extracted || challengeID != p.challengeID {
		return false, portal.ErrStaleChallenge
	}
	p.extracted = false
	p.verified = code == p.acceptCode
	return p.verified, nil
}

func (p *fakePortal) arrivals(codes []string) report.Report {
	p.served++
	var r report.Report
	timing := fmt.Sprintf("%d min", p.served)
	r.Add("North-South Line",
		report.Arrival{Timing: timing, Destination: "Marina South Pier"},
		report.Arrival{Timing: "9 min", Destination: "Marina South Pier"},
	)
	return r
}

func (p *fakePortal) StationArrivals(ctx context.Context, codes []string) (report.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["station"]++
	if p.stationErr != nil {
		if errors.Is(p.stationErr, portal.ErrNotVerified) {
			p.verified = false
		}
		return report.Report{}, p.stationErr
	}
	if !p.verified {
		return report.Report{}, portal.ErrNotVerified
	}
	p.selected = codes
	return p.arrivals(codes), nil
}

func (p *fakePortal) Refresh(ctx context.Context, codes []string) (report.Report, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["refresh"]++
	if p.refreshErr != nil {
		if errors.Is(p.refreshErr, portal.ErrNotVerified) {
			p.verified = false
		}
		return report.Report{}, p.refreshErr
	}
	if !p.verified {
		return report.Report{}, portal.ErrNotVerified
	}
	p.selected = codes
	return p.arrivals(codes), nil
}

type reply struct {
	Kind      string
	ChatID    int64
	MessageID int
	Text      string
	Path      string
}

type fakeReplier struct {
	mu      sync.Mutex
	replies []reply
	answers []string
}

func (r *fakeReplier) add(rp reply) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.replies = append(r.replies, rp)
	return nil
}

func (r *fakeReplier) SendText(chatID int64, text string) error {
	return r.add(reply{Kind: "text", ChatID: chatID, Text: text})
}

func (r *fakeReplier) SendPhoto(chatID int64, path, caption string) error {
	return r.add(reply{Kind: "photo", ChatID: chatID, Text: caption, Path: path})
}

func (r *fakeReplier) SendReport(chatID int64, text string) error {
	return r.add(reply{Kind: "report", ChatID: chatID, Text: text})
}

func (r *fakeReplier) EditReport(chatID int64, messageID int, text string) error {
	return r.add(reply{Kind: "edit", ChatID: chatID, MessageID: messageID, Text: text})
}

func (r *fakeReplier) AnswerRefresh(callbackID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.answers = append(r.answers, text)
	return nil
}

// take returns the replies received since the last call.
func (r *fakeReplier) take() []reply {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.replies
	r.replies = nil
	return out
}

type fakeAlerter struct {
	ops []string
}

func (a *fakeAlerter) SendSessionFault(op string, cause error) error {
	a.ops = append(a.ops, op)
	return nil
}

type harness struct {
	portal  *fakePortal
	replier *fakeReplier
	alerter *fakeAlerter
	machine *Machine
	clock   time.Time
}

func (h *harness) advance(d time.Duration) {
	h.clock = h.clock.Add(d)
}

func testCatalog() *catalog.Catalog {
	return catalog.Build([]stations.Station{
		{Name: "Jurong East", Line: "NS,EW", Code: "NS1,EW24"},
		{Name: "Bukit Batok", Line: "NS", Code: "NS2"},
	}, catalog.Filter{SupportedLines: []string{"NS", "EW"}}, nil)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		portal:  newFakePortal(),
		replier: &fakeReplier{},
		alerter: &fakeAlerter{},
		clock:   time.Date(2026, 10, 16, 8, 30, 0, 0, time.UTC),
	}
	h.machine = New(h.portal, testCatalog(), h.replier, h.alerter, Options{
		MapImage:        "network_map.jpg",
		RefreshInterval: 3 * time.Second,
		Location:        time.UTC,
	}, logger)
	h.machine.now = func() time.Time { return h.clock }
	return h
}

func (h *harness) send(ev Event) []reply {
	h.machine.Handle(context.Background(), ev)
	return h.replier.take()
}
