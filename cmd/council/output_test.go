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
	"os"
	"path/filepath"
	"testing"
)

// captureStdout redirects stdout for the duration of fn.
func captureStdout(t *testing.T, fn func()) []byte {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	os.Stdout = w
	defer func() { os.Stdout = old }()

	fn()
	w.Close()

	buf := make([]byte, 64*1024)
	n, _ := r.Read(buf)
	return buf[:n]
}

func TestOutputResult(t *testing.T) {
	out := captureStdout(t, func() {
		OutputResult("status", map[string]bool{"locked": false})
	})

	var result CommandResult
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("Output is not valid JSON: %v\n%s", err, out)
	}
	if !result.Success {
		t.Error("Expected success result")
	}
	if result.Command != "status" {
		t.Errorf("Expected command 'status', got %q", result.Command)
	}
	if result.APIVersion != "1.0" {
		t.Errorf("Expected api version 1.0, got %q", result.APIVersion)
	}
}

func TestOutputError(t *testing.T) {
	out := captureStdout(t, func() {
		OutputError("submit", "Document failed validation", os.ErrNotExist)
	})

	var result CommandResult
	if err := json.Unmarshal(out, &result); err != nil {
		t.Fatalf("Output is not valid JSON: %v\n%s", err, out)
	}
	if result.Success {
		t.Error("Expected failure result")
	}
	if result.Error == "" {
		t.Error("Expected error message")
	}
}

func TestReadDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	if err := os.WriteFile(path, []byte(`{"id":"prop-001"}`), 0644); err != nil {
		t.Fatalf("Failed to write document: %v", err)
	}

	data, err := readDocument(path)
	if err != nil {
		t.Fatalf("readDocument failed: %v", err)
	}
	if string(data) != `{"id":"prop-001"}` {
		t.Errorf("Unexpected document content: %s", data)
	}

	if _, err := readDocument(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("Expected error for missing document")
	}
}
