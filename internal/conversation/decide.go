package conversation

// State is where a chat is in the captcha handshake.
type State int

const (
	Normal State = iota
	AwaitingCaptcha
)

func (s State) String() string {
	switch s {
	case Normal:
		return "normal"
	case AwaitingCaptcha:
		return "awaiting_captcha"
	}
	return "unknown"
}

// EventKind is the type of an incoming chat event.
type EventKind int

const (
	Start EventKind = iota
	Station
	ShowMap
	Text
	Refresh
)

func (k EventKind) String() string {
	switch k {
	case Start:
		return "start"
	case Station:
		return "station"
	case ShowMap:
		return "show_map"
	case Text:
		return "text"
	case Refresh:
		return "refresh"
	}
	return "unknown"
}

// Event is a chat event handed over by the messaging transport.
type Event struct {
	Kind   EventKind
	ChatID int64
	Sender string
	// Text is the raw message text. A captcha code arrives here.
	Text string
	// Token is the station token of a Station event.
	Token string
	// MessageID and CallbackID identify the report message and the button
	// press of a Refresh event.
	MessageID  int
	CallbackID string
}

// Action is what the machine does in response to an event.
type Action int

const (
	IssueChallenge Action = iota
	PromptStation
	SendMap
	VerifyCode
	ServeStation
	InvalidStation
	RefreshReport
)

func (a Action) String() string {
	switch a {
	case IssueChallenge:
		return "issue_challenge"
	case PromptStation:
		return "prompt_station"
	case SendMap:
		return "send_map"
	case VerifyCode:
		return "verify_code"
	case ServeStation:
		return "serve_station"
	case InvalidStation:
		return "invalid_station"
	case RefreshReport:
		return "refresh_report"
	}
	return "unknown"
}

// Decide is the transition table. verified is the portal's verification
// status at the time of the event, never a value remembered by the chat.
func Decide(state State, verified bool, kind EventKind) Action {
	switch kind {
	case Start:
		if verified {
			return PromptStation
		}
		return IssueChallenge
	case ShowMap:
		return SendMap
	case Refresh:
		if verified {
			return RefreshReport
		}
		return IssueChallenge
	}

	// Station and Text
	if state == AwaitingCaptcha {
		switch {
		case verified:
			return PromptStation
		case kind == Station:
			// a station command is not a captcha code
			return IssueChallenge
		}
		return VerifyCode
	}
	if !verified {
		return IssueChallenge
	}
	if kind == Station {
		return ServeStation
	}
	return InvalidStation
}
