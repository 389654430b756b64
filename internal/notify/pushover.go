package notify

import (
	"fmt"
	"sync"
	"time"

	"github.com/gregdel/pushover"
	"github.com/sirupsen/logrus"
)

const PriorityHigh = 1

// Notifier sends operator alerts through Pushover. A nil *Notifier is valid
// and drops every alert.
type Notifier struct {
	send     func(msg *pushover.Message) (*pushover.Response, error)
	logger   *logrus.Logger
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewNotifier(token, userKey string, cooldown time.Duration, logger *logrus.Logger) *Notifier {
	app := pushover.New(token)
	recipient := pushover.NewRecipient(userKey)
	return newNotifier(func(msg *pushover.Message) (*pushover.Response, error) {
		return app.SendMessage(msg, recipient)
	}, cooldown, logger)
}

func newNotifier(send func(*pushover.Message) (*pushover.Response, error), cooldown time.Duration, logger *logrus.Logger) *Notifier {
	return &Notifier{
		send:     send,
		logger:   logger,
		cooldown: cooldown,
		now:      time.Now,
		lastSent: make(map[string]time.Time),
	}
}

func (n *Notifier) SendWithPriority(title, message string, priority int) error {
	if n == nil {
		return nil
	}

	msg := pushover.NewMessageWithTitle(message, title)
	msg.Priority = priority

	resp, err := n.send(msg)
	if err != nil {
		return fmt.Errorf("sending pushover notification: %w", err)
	}

	n.logger.WithFields(logrus.Fields{
		"title":      title,
		"status":     resp.Status,
		"request_id": resp.ID,
	}).Debug("notification sent")

	return nil
}

// SendSessionFault alerts about a failing portal operation, at most once per
// operation per cooldown.
func (n *Notifier) SendSessionFault(op string, cause error) error {
	if n == nil {
		return nil
	}

	now := n.now()
	n.mu.Lock()
	last, seen := n.lastSent[op]
	shouldNotify := !seen || now.Sub(last) >= n.cooldown
	if shouldNotify {
		n.lastSent[op] = now
	}
	n.mu.Unlock()

	if !shouldNotify {
		n.logger.WithField("op", op).Debug("session fault already alerted")
		return nil
	}

	title := "Arrival Portal Fault"
	body := fmt.Sprintf("Portal operation %s failed: %v", op, cause)
	return n.SendWithPriority(title, body, PriorityHigh)
}
