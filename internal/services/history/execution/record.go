// Package execution defines the benchmark execution record exchanged between
// runners, storage and the history views.
package execution

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Record describes one historical benchmark run.
//
// Timestamps are kept exactly as supplied; the history views decide how to
// parse and display them.
type Record struct {
	UUID          string     `json:"uuid"`
	GitRef        string     `json:"git_ref"`
	StartedAt     string     `json:"started_at"`
	FinishedAt    string     `json:"finished_at"`
	TypeOf        string     `json:"type_of"`
	PullNB        PullNumber `json:"pull_nb"`
	GolangVersion string     `json:"golang_version"`
}

// Validate checks the fields required to persist a record.
func (r Record) Validate() error {
	if strings.TrimSpace(r.UUID) == "" {
		return fmt.Errorf("uuid is required")
	}
	if strings.TrimSpace(r.GitRef) == "" {
		return fmt.Errorf("git_ref is required")
	}
	if strings.TrimSpace(r.TypeOf) == "" {
		return fmt.Errorf("type_of is required")
	}
	return nil
}

// PullNumber is a change-request identifier that may arrive as a JSON number
// or a JSON string. It keeps the supplied text verbatim.
type PullNumber string

// String returns the identifier text.
func (p PullNumber) String() string {
	return string(p)
}

// Int64 returns the identifier as an integer when it is numeric.
func (p PullNumber) Int64() (int64, bool) {
	value, err := strconv.ParseInt(string(p), 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

// UnmarshalJSON accepts a number, a string or null.
func (p *PullNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*p = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return fmt.Errorf("pull_nb: %w", err)
		}
		*p = PullNumber(text)
		return nil
	default:
		var number json.Number
		if err := json.Unmarshal(data, &number); err != nil {
			return fmt.Errorf("pull_nb: expected number or string, got %s", data)
		}
		*p = PullNumber(number.String())
		return nil
	}
}

// MarshalJSON writes any JSON number literal as a number and everything else
// as a string, so a number sent as 42.0 or 1e3 comes back as the same number.
// Numeric text that arrived as a JSON string is also written as a number.
func (p PullNumber) MarshalJSON() ([]byte, error) {
	if p.isNumberLiteral() {
		return []byte(string(p)), nil
	}
	return json.Marshal(string(p))
}

func (p PullNumber) isNumberLiteral() bool {
	text := string(p)
	if text == "" || strings.TrimSpace(text) != text {
		return false
	}
	if c := text[0]; c != '-' && (c < '0' || c > '9') {
		return false
	}
	var number json.Number
	return json.Unmarshal([]byte(text), &number) == nil
}
