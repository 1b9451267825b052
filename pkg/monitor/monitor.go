package monitor

import "time"

// MonitorMessage is one observed conversation event.
type MonitorMessage struct {
	Timestamp   time.Time
	MessageType string // "USER" or "ASSISTANT"
	ChannelID   string
	Username    string
	Content     string
}

// Monitor mirrors the conversation flow of all channels to an operator
// surface. The gateway broadcasts every inbound question and outbound
// answer to the configured monitor.
type Monitor interface {
	Start() error
	Stop() error

	// OnMessage receives one conversation event. Must not block: the
	// gateway calls it on the message path.
	OnMessage(msg MonitorMessage)
}
