package gateway

import (
	"scholar/pkg/api"
)

// Aliases for the contract types defined in the api package, so gateway
// internals and channel implementations share one vocabulary.
type Channel = api.Channel
type SignalingChannel = api.SignalingChannel
type MessageResponder = api.MessageResponder
type ChannelContext = api.ChannelContext
type UnifiedMessage = api.UnifiedMessage
type FileAttachment = api.FileAttachment
type SessionContext = api.SessionContext
type MessageHandler = api.MessageHandler
