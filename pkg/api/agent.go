package api

// AgentEngine defines the interface for the core research engine: it
// consumes unified messages, drives the tool-calling rounds, and replies
// through the injected responder.
type AgentEngine interface {
	MessageProcessor
	ResponderAware

	// RegisterTool adds capabilities to the engine's registry. Duplicate
	// names or invalid schemas are registration errors.
	RegisterTool(tools ...Tool) error
}
