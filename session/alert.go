package session

import "time"

type (
	// Alert is a message meant to be shown to the user for a while. Alerts
	// with a Name replace previous alerts of the same name.
	Alert struct {
		Name     string
		Priority AlertPriority
		Message  string
		Duration time.Duration
	}

	AlertPriority int
)

const (
	None AlertPriority = iota
	Info
	Warning
	Error
)

func (p AlertPriority) String() string {
	switch p {
	case Info:
		return "info"
	case Warning:
		return "warning"
	case Error:
		return "error"
	}
	return "none"
}

func (s *Session) alert(priority AlertPriority, name, message string) {
	s.broker.Publish(Alert{Name: name, Priority: priority, Message: message, Duration: 3 * time.Second})
}
