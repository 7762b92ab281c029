// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validate

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func TestValidator_Proposal(t *testing.T) {
	v := NewValidator(0)

	t.Run("valid proposal", func(t *testing.T) {
		result := v.Validate(mustJSON(t, Proposal{
			ID:      "prop-001",
			AgentID: "agent-a",
			Title:   "Amend canon section 3",
			Content: "Full text of the amendment.",
			Tags:    []string{"canon"},
		}), TypeProposal)

		assert.True(t, result.Valid)
		assert.Equal(t, 1.0, result.Confidence)
		assert.Empty(t, result.Reasons)
	})

	t.Run("missing fields lower confidence", func(t *testing.T) {
		result := v.Validate(mustJSON(t, Proposal{
			ID: "prop-001",
		}), TypeProposal)

		require.False(t, result.Valid)
		assert.Less(t, result.Confidence, 1.0)
		assert.GreaterOrEqual(t, result.Confidence, 0.0)
		assert.Len(t, result.Reasons, 3) // agent_id, title, content
	})

	t.Run("title too short", func(t *testing.T) {
		result := v.Validate(mustJSON(t, Proposal{
			ID:      "prop-001",
			AgentID: "agent-a",
			Title:   "ab",
			Content: "body",
		}), TypeProposal)

		require.False(t, result.Valid)
		require.Len(t, result.Reasons, 1)
		assert.Contains(t, result.Reasons[0], "Title")
	})

	t.Run("unknown fields rejected", func(t *testing.T) {
		result := v.Validate([]byte(`{"id":"prop-001","agent_id":"a","title":"abc","content":"x","sneaky":true}`), TypeProposal)

		assert.False(t, result.Valid)
		assert.Equal(t, 0.0, result.Confidence)
	})
}

func TestValidator_Challenge(t *testing.T) {
	v := NewValidator(0)

	t.Run("valid challenge", func(t *testing.T) {
		result := v.Validate(mustJSON(t, Challenge{
			ID:               "chal-001",
			AgentID:          "agent-b",
			TargetProposalID: "prop-001",
			Reason:           "Conflicts with section 2.",
		}), TypeChallenge)

		assert.True(t, result.Valid)
	})

	t.Run("missing target proposal", func(t *testing.T) {
		result := v.Validate(mustJSON(t, Challenge{
			ID:      "chal-001",
			AgentID: "agent-b",
			Reason:  "Conflicts with section 2.",
		}), TypeChallenge)

		require.False(t, result.Valid)
		require.Len(t, result.Reasons, 1)
		assert.Contains(t, result.Reasons[0], "TargetProposalID")
	})
}

func TestValidator_Decision(t *testing.T) {
	v := NewValidator(0)

	base := Decision{
		ID:         "dec-001",
		AgentID:    "agent-c",
		ProposalID: "prop-001",
		Rationale:  "Quorum reached.",
	}

	t.Run("accepts each verdict", func(t *testing.T) {
		for _, verdict := range []string{"approved", "rejected", "deferred"} {
			d := base
			d.Verdict = verdict
			result := v.Validate(mustJSON(t, d), TypeDecision)
			assert.True(t, result.Valid, "verdict %s", verdict)
		}
	})

	t.Run("rejects unknown verdict", func(t *testing.T) {
		d := base
		d.Verdict = "maybe"
		result := v.Validate(mustJSON(t, d), TypeDecision)

		require.False(t, result.Valid)
		require.Len(t, result.Reasons, 1)
		assert.Contains(t, result.Reasons[0], "oneof")
	})
}

func TestValidator_Snapshot(t *testing.T) {
	v := NewValidator(0)

	t.Run("valid snapshot", func(t *testing.T) {
		result := v.Validate(mustJSON(t, Snapshot{
			ID:    "snap-001",
			Head:  "aaaa111122223333444455556666777788889999",
			Files: []string{"docs/canon.md"},
		}), TypeSnapshot)

		assert.True(t, result.Valid)
	})

	t.Run("requires at least one file", func(t *testing.T) {
		result := v.Validate(mustJSON(t, Snapshot{
			ID:    "snap-001",
			Head:  "aaaa1112222",
			Files: []string{},
		}), TypeSnapshot)

		assert.False(t, result.Valid)
	})
}

func TestValidator_Payloads(t *testing.T) {
	v := NewValidator(64)

	t.Run("empty payload", func(t *testing.T) {
		result := v.Validate(nil, TypeProposal)
		assert.False(t, result.Valid)
		assert.Equal(t, 0.0, result.Confidence)
	})

	t.Run("oversized payload", func(t *testing.T) {
		result := v.Validate([]byte(strings.Repeat("x", 65)), TypeProposal)
		assert.False(t, result.Valid)
		assert.Contains(t, result.Message, "exceeds")
	})

	t.Run("malformed json", func(t *testing.T) {
		result := v.Validate([]byte("{not json"), TypeProposal)
		assert.False(t, result.Valid)
		assert.Equal(t, 0.0, result.Confidence)
		assert.NotEmpty(t, result.Reasons)
	})

	t.Run("unknown document type", func(t *testing.T) {
		result := v.Validate([]byte(`{}`), DocumentType("sonnet"))
		assert.False(t, result.Valid)
		assert.Contains(t, result.Message, "unknown document type")
	})
}
