package ctl

import (
	"errors"
	"fmt"
	"strings"
)

// Connect asks a client-mode daemon to (re)connect to its consumer. This
// is how a link resumes after the reconnect attempts ran out.
func Connect(baseURL string, jsonOutput bool) error {
	return linkControl(baseURL, "/api/link/connect", "CONNECTING", jsonOutput)
}

// Disconnect closes a client-mode daemon's link and stops reconnecting.
func Disconnect(baseURL string, jsonOutput bool) error {
	return linkControl(baseURL, "/api/link/disconnect", "DISCONNECTED", jsonOutput)
}

func linkControl(baseURL, path, label string, jsonOutput bool) error {
	baseURL = strings.TrimRight(baseURL, "/")

	var result struct {
		OK      bool   `json:"ok"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := postJSON(baseURL, path, nil, &result); err != nil {
		return err
	}

	if jsonOutput {
		return printJSON(result)
	}

	if !result.OK {
		return errors.New(result.Error)
	}
	fmt.Printf("\n  %s  %s\n\n", colorize(green, label), result.Message)
	return nil
}
