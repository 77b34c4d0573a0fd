package tgui

import "strings"

// Data formats inline callback data as "plugin:action:payload".
// Telegram caps callback data at 64 bytes; payloads here are short tokens.
func Data(plugin, action, payload string) string {
	plugin = strings.TrimSpace(plugin)
	action = strings.TrimSpace(action)
	if payload == "" {
		return plugin + ":" + action
	}
	return plugin + ":" + action + ":" + payload
}

// ParseData splits data produced by Data. ok is false when plugin or action is missing.
func ParseData(data string) (plugin, action, payload string, ok bool) {
	parts := strings.SplitN(strings.TrimSpace(data), ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	if len(parts) == 3 {
		payload = parts[2]
	}
	return parts[0], parts[1], payload, true
}
