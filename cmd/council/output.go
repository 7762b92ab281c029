// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess = 0 // Operation completed successfully
	CLIExitBusy    = 1 // Lock held elsewhere / operation timed out
	CLIExitError   = 2 // Operation failed
)

// CommandResult wraps command output with metadata for scripting.
type CommandResult struct {
	APIVersion string      `json:"api_version"`
	Command    string      `json:"command"`
	Timestamp  time.Time   `json:"timestamp"`
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
}

// OutputJSON writes structured data as indented JSON to stdout.
func OutputJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}

// OutputResult writes a CommandResult for the named command.
func OutputResult(command string, data interface{}) {
	result := CommandResult{
		APIVersion: "1.0",
		Command:    command,
		Timestamp:  time.Now().UTC(),
		Success:    true,
		Data:       data,
	}
	if err := OutputJSON(result); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to encode output: %v\n", err)
	}
}

// OutputError writes an error result and returns the exit code to use.
func OutputError(command, msg string, err error) {
	result := CommandResult{
		APIVersion: "1.0",
		Command:    command,
		Timestamp:  time.Now().UTC(),
		Success:    false,
		Error:      fmt.Sprintf("%s: %v", msg, err),
	}
	if encErr := OutputJSON(result); encErr != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	}
}
