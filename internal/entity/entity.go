package entity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Kind distinguishes the node variants held in a cache.
type Kind int

const (
	KindAlarm Kind = iota
	KindApplication
)

func (k Kind) String() string {
	switch k {
	case KindApplication:
		return "application"
	default:
		return "alarm"
	}
}

// Node is one flat, immutable tree entry built from a remote record.
type Node interface {
	Kind() Kind
	Key() string
	Label() string
	Description() string
	Tooltip() string
	Status() string
	Warnings() []string
	Errors() []string
	// Detail is the payload handed to the editor and, for applications, the mirror.
	Detail() string
	// Record is the remote record, pretty-printed in its original key order.
	Record() string
}

// ErrHidden marks records that are filtered out on purpose rather than malformed.
var ErrHidden = errors.New("record hidden")

// MappingError reports a record that cannot become a node. Only that record is skipped.
type MappingError struct {
	Index  int
	Reason string
	Err    error
}

func (e *MappingError) Error() string {
	msg := fmt.Sprintf("record %d: %s", e.Index, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MappingError) Unwrap() error { return e.Err }

// flexString accepts JSON strings and numbers; ids arrive as either.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*f = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("id is neither string nor number: %s", trimmed)
	}
	*f = flexString(n.String())
	return nil
}

func (f flexString) String() string {
	return strings.TrimSpace(string(f))
}

// pretty renders raw with four-space indentation, keeping the remote key order.
func pretty(raw json.RawMessage) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "    "); err != nil {
		return string(raw)
	}
	return buf.String()
}

func cloneStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	dup := make([]string, len(values))
	copy(dup, values)
	return dup
}
