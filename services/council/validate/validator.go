// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validate checks governance documents against per-type schema
// rules before they reach the commit coordinator. It is a pure
// collaborator: data in, verdict out, no state.
package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// DocumentType selects the schema a payload is validated against.
type DocumentType string

// Supported document types.
const (
	TypeProposal  DocumentType = "proposal"
	TypeChallenge DocumentType = "challenge"
	TypeDecision  DocumentType = "decision"
	TypeSnapshot  DocumentType = "snapshot"
)

// DefaultMaxPayload caps accepted payloads at 1 MiB.
const DefaultMaxPayload = 1 << 20

// Proposal is a new governance item submitted by an agent.
type Proposal struct {
	ID      string   `json:"id" validate:"required,min=3,max=64"`
	AgentID string   `json:"agent_id" validate:"required,min=1,max=128"`
	Title   string   `json:"title" validate:"required,min=3,max=200"`
	Content string   `json:"content" validate:"required,max=65536"`
	Tags    []string `json:"tags,omitempty" validate:"max=16,dive,min=1,max=64"`
}

// Challenge disputes an existing proposal.
type Challenge struct {
	ID               string `json:"id" validate:"required,min=3,max=64"`
	AgentID          string `json:"agent_id" validate:"required,min=1,max=128"`
	TargetProposalID string `json:"target_proposal_id" validate:"required,min=3,max=64"`
	Reason           string `json:"reason" validate:"required,min=3,max=65536"`
}

// Decision records the governance verdict on a proposal.
type Decision struct {
	ID         string `json:"id" validate:"required,min=3,max=64"`
	AgentID    string `json:"agent_id" validate:"required,min=1,max=128"`
	ProposalID string `json:"proposal_id" validate:"required,min=3,max=64"`
	Verdict    string `json:"verdict" validate:"required,oneof=approved rejected deferred"`
	Rationale  string `json:"rationale" validate:"required,min=3,max=65536"`
}

// Snapshot describes a point-in-time capture of the governance state.
type Snapshot struct {
	ID    string   `json:"id" validate:"required,min=3,max=64"`
	Head  string   `json:"head" validate:"required,hexadecimal,min=7,max=40"`
	Files []string `json:"files" validate:"required,min=1,dive,min=1"`
}

// Result is the validation verdict.
//
// Confidence is 1.0 for a fully conforming document, degrades toward 0
// with each failed rule, and is 0 for payloads that cannot be parsed
// at all.
type Result struct {
	Valid      bool     `json:"valid"`
	Message    string   `json:"message"`
	Confidence float64  `json:"confidence"`
	Reasons    []string `json:"reasons,omitempty"`
}

// Validator validates governance document payloads.
//
// # Thread Safety
//
// Safe for concurrent use.
type Validator struct {
	validate   *validator.Validate
	maxPayload int
}

// NewValidator creates a validator. maxPayload <= 0 selects
// DefaultMaxPayload.
func NewValidator(maxPayload int) *Validator {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Validator{
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		maxPayload: maxPayload,
	}
}

// Validate checks a JSON payload against the rules for docType.
//
// # Inputs
//
//   - data: Raw JSON payload.
//   - docType: Which schema to apply.
//
// # Outputs
//
//   - Result: Verdict with per-rule reasons. Never an error: malformed
//     input is an invalid Result, not a failure of the validator.
func (v *Validator) Validate(data []byte, docType DocumentType) Result {
	if len(data) == 0 {
		return Result{Message: "empty payload", Confidence: 0}
	}
	if len(data) > v.maxPayload {
		return Result{
			Message:    fmt.Sprintf("payload exceeds %d bytes", v.maxPayload),
			Confidence: 0,
		}
	}

	doc, fieldCount, err := newDocument(docType)
	if err != nil {
		return Result{Message: err.Error(), Confidence: 0}
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(doc); err != nil {
		return Result{
			Message:    "payload is not a valid " + string(docType) + " document",
			Confidence: 0,
			Reasons:    []string{err.Error()},
		}
	}

	if err := v.validate.Struct(doc); err != nil {
		var verrs validator.ValidationErrors
		reasons := []string{err.Error()}
		failed := 1
		if errors.As(err, &verrs) {
			reasons = reasons[:0]
			for _, fe := range verrs {
				reasons = append(reasons, describeFieldError(fe))
			}
			failed = len(verrs)
		}
		confidence := 1.0 - float64(failed)/float64(fieldCount)
		if confidence < 0 {
			confidence = 0
		}
		return Result{
			Message:    fmt.Sprintf("%s failed %d validation rule(s)", docType, failed),
			Confidence: confidence,
			Reasons:    reasons,
		}
	}

	return Result{
		Valid:      true,
		Message:    string(docType) + " is valid",
		Confidence: 1.0,
	}
}

// newDocument returns an empty document for docType and the number of
// validated fields, used to scale confidence.
func newDocument(docType DocumentType) (any, int, error) {
	switch docType {
	case TypeProposal:
		return &Proposal{}, 5, nil
	case TypeChallenge:
		return &Challenge{}, 4, nil
	case TypeDecision:
		return &Decision{}, 5, nil
	case TypeSnapshot:
		return &Snapshot{}, 3, nil
	default:
		return nil, 0, fmt.Errorf("unknown document type %q", docType)
	}
}

// describeFieldError renders one failed rule without echoing the field
// value, which may be large or sensitive.
func describeFieldError(fe validator.FieldError) string {
	if fe.Param() != "" {
		return fmt.Sprintf("field %s violates rule %s=%s", fe.Field(), fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("field %s violates rule %s", fe.Field(), fe.Tag())
}
