package telegram

import (
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/danpilch/mrtbot/internal/catalog"
	"github.com/danpilch/mrtbot/internal/conversation"
)

const (
	refreshData = "refresh"

	// Telegram rejects setMyCommands with more than this many entries.
	maxCommands = 100
)

// toEvent maps an update onto a conversation event. Updates the bot does not
// act on are reported as not ok.
func toEvent(update tgbotapi.Update) (conversation.Event, bool) {
	if q := update.CallbackQuery; q != nil {
		if q.Data != refreshData || q.Message == nil || q.Message.Chat == nil {
			return conversation.Event{}, false
		}
		return conversation.Event{
			Kind:       conversation.Refresh,
			ChatID:     q.Message.Chat.ID,
			Sender:     sender(q.From),
			MessageID:  q.Message.MessageID,
			CallbackID: q.ID,
		}, true
	}

	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return conversation.Event{}, false
	}

	ev := conversation.Event{
		Kind:      conversation.Text,
		ChatID:    msg.Chat.ID,
		Sender:    sender(msg.From),
		Text:      msg.Text,
		MessageID: msg.MessageID,
	}
	if !msg.IsCommand() {
		return ev, true
	}

	switch cmd := strings.ToLower(msg.Command()); {
	case cmd == "start":
		ev.Kind = conversation.Start
	case cmd == "showmap":
		ev.Kind = conversation.ShowMap
	case strings.HasPrefix(cmd, "get") && len(cmd) > len("get"):
		ev.Kind = conversation.Station
		ev.Token = strings.TrimPrefix(cmd, "get")
	}
	return ev, true
}

// chatEnded reports the chat of an update that removes the bot from it: the
// user blocked the bot or a group kicked it.
func chatEnded(update tgbotapi.Update) (int64, bool) {
	m := update.MyChatMember
	if m == nil {
		return 0, false
	}
	switch m.NewChatMember.Status {
	case "kicked", "left":
		return m.Chat.ID, true
	}
	return 0, false
}

func sender(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	return u.String()
}

// commandList builds the bot menu: start, showmap and one entry per station,
// truncated to what Telegram accepts. The second value is the number of
// stations left out.
func commandList(stations []catalog.Station) ([]tgbotapi.BotCommand, int) {
	commands := []tgbotapi.BotCommand{
		{Command: "start", Description: "Start the bot"},
		{Command: "showmap", Description: "Get the system map"},
	}

	dropped := 0
	for _, s := range stations {
		cmd := s.Command()
		if !validCommand(cmd) || len(commands) == maxCommands {
			dropped++
			continue
		}
		commands = append(commands, tgbotapi.BotCommand{
			Command:     cmd,
			Description: "Get arrival time for " + s.Name,
		})
	}
	return commands, dropped
}

// validCommand reports whether Telegram accepts cmd as a bot command: 1-32
// lowercase letters, digits or underscores.
func validCommand(cmd string) bool {
	if cmd == "" || len(cmd) > 32 {
		return false
	}
	for _, r := range cmd {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') && r != '_' {
			return false
		}
	}
	return true
}
