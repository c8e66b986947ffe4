// Package session derives internal routing keys from backend session keys and
// keeps per-session accounting.
package session

import "strings"

// Key kinds.
const (
	KindDirect = "direct"
	KindMain   = "main"
)

// KeyInfo contains parsed information from a session key.
type KeyInfo struct {
	Raw     string // Original key
	AgentID string // Agent ID if agent-scoped
	Kind    string // "direct", "main" or empty
	Rest    string // Remaining key parts (the backend key for direct sessions)
}

// DeriveSessionKey builds agent:{agentId}:direct:{backendKey}, lower-cased.
// The result only round-trips through RecoverBackendSessionKey when the agent
// id contains no ':'.
func DeriveSessionKey(agentID, backendKey string) string {
	return strings.ToLower("agent:" + agentID + ":" + KindDirect + ":" + backendKey)
}

// MainSessionKey builds agent:{agentId}:main, the anchor for last-route data.
func MainSessionKey(agentID string) string {
	return strings.ToLower("agent:" + agentID + ":" + KindMain)
}

// RecoverBackendSessionKey returns everything after the third ':' of a derived
// key. Keys with fewer than four segments come back unchanged.
func RecoverBackendSessionKey(key string) string {
	parts := strings.Split(key, ":")
	if len(parts) < 4 {
		return key
	}
	return strings.Join(parts[3:], ":")
}

// ParseSessionKey parses an agent-scoped key.
// Key formats:
//   - "agent:<agentId>:direct:<backendKey>"
//   - "agent:<agentId>:main"
//   - anything else is returned with only Raw set
func ParseSessionKey(key string) *KeyInfo {
	info := &KeyInfo{Raw: key}

	parts := strings.Split(key, ":")
	if len(parts) < 2 || parts[0] != "agent" {
		return info
	}

	info.AgentID = parts[1]
	if len(parts) > 2 {
		info.Kind = parts[2]
	}
	if len(parts) > 3 {
		info.Rest = strings.Join(parts[3:], ":")
	}
	return info
}

// IsAgentKey returns true if the key is agent-scoped
func IsAgentKey(key string) bool {
	return strings.HasPrefix(key, "agent:")
}

// ExtractAgentID extracts the agent ID from an agent-scoped session key
func ExtractAgentID(key string) string {
	return ParseSessionKey(key).AgentID
}

// RoundTrips reports whether RecoverBackendSessionKey(DeriveSessionKey(agentID,
// backendKey)) gives backendKey back. It fails when the agent id contains ':'
// (the split shifts) or when either part has upper-case letters.
func RoundTrips(agentID, backendKey string) bool {
	return RecoverBackendSessionKey(DeriveSessionKey(agentID, backendKey)) == backendKey
}
