package protocol

import (
	"errors"
	"sort"
	"strings"
)

// Payload markers
const (
	AuthSuccess = "SUCCESS"
	AuthFail    = "FAIL"

	FileAccept = "YES"
	FileReject = "NO"

	// ForcedDisconnectNotice is sent by the relay before closing a session
	// replaced by a newer login for the same user
	ForcedDisconnectNotice = "You have been disconnected because your account logged in from another location."

	forcedDisconnectMarker = "logged in from another location"
)

var ErrMalformedPayload = errors.New("malformed payload")

// ValidUsername rejects names that would break the colon, pipe or comma
// delimited payloads, and the name reserved for relay notices
func ValidUsername(name string) bool {
	if name == "" || len(name) > 64 || strings.ContainsAny(name, ":|,\n") {
		return false
	}
	return !strings.EqualFold(name, SystemSender)
}

// FormatLogin builds a LOGIN payload. The password must already be hashed.
func FormatLogin(username, hashedPassword string) []byte {
	return []byte(username + ":" + hashedPassword)
}

// ParseLogin splits a LOGIN payload into username and hashed password
func ParseLogin(payload []byte) (string, string, error) {
	parts := strings.SplitN(string(payload), ":", 2)
	if len(parts) < 2 || parts[0] == "" {
		return "", "", ErrMalformedPayload
	}
	return parts[0], parts[1], nil
}

// AuthResult is the decoded AUTH_RESPONSE payload
type AuthResult struct {
	Success bool
	Message string
}

// FormatAuthResponse builds an AUTH_RESPONSE payload
func FormatAuthResponse(success bool, message string) []byte {
	status := AuthFail
	if success {
		status = AuthSuccess
	}
	return []byte(status + ":" + message)
}

// ParseAuthResponse decodes an AUTH_RESPONSE payload
func ParseAuthResponse(payload []byte) AuthResult {
	s := string(payload)
	status, message, _ := strings.Cut(s, ":")
	return AuthResult{
		Success: status == AuthSuccess,
		Message: message,
	}
}

// UserStatus is one entry of a USER_LIST payload
type UserStatus struct {
	Username string `json:"username"`
	Status   string `json:"status"`
}

// FormatUserList builds a pipe-delimited "user:status" list sorted by name
func FormatUserList(statuses map[string]string) []byte {
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	entries := make([]string, 0, len(names))
	for _, name := range names {
		entries = append(entries, name+":"+statuses[name])
	}
	return []byte(strings.Join(entries, "|"))
}

// ParseUserList decodes a USER_LIST payload. Entries without a status are
// kept with an empty status.
func ParseUserList(payload []byte) []UserStatus {
	if len(payload) == 0 {
		return nil
	}

	var users []UserStatus
	for _, entry := range strings.Split(string(payload), "|") {
		if entry == "" {
			continue
		}
		name, status, _ := strings.Cut(entry, ":")
		users = append(users, UserStatus{Username: name, Status: status})
	}
	return users
}

// FormatNameList builds a comma-delimited list (group names, group members)
func FormatNameList(names []string) []byte {
	return []byte(strings.Join(names, ","))
}

// ParseNameList decodes a comma-delimited list, dropping empty entries
func ParseNameList(payload []byte) []string {
	if len(payload) == 0 {
		return nil
	}

	var names []string
	for _, name := range strings.Split(string(payload), ",") {
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

// IsForcedDisconnect reports whether a DM is the relay's duplicate-login notice
func IsForcedDisconnect(p *Packet) bool {
	return p.Type == TypeDM && p.Sender == SystemSender &&
		strings.Contains(string(p.Payload), forcedDisconnectMarker)
}
