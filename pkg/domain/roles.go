package domain

// Role defines the sender of a transcript entry.
type Role string

const (
	// RoleUser indicates a message from the user.
	RoleUser Role = "user"
	// RoleAssistant indicates the agent's final response for a query.
	RoleAssistant Role = "assistant"
	// RoleSystem indicates a system-level notice (e.g. dataset replaced).
	RoleSystem Role = "system"
)
