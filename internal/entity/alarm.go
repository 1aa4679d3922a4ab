package entity

import (
	"encoding/json"
	"fmt"
	"strings"
)

// AlarmRecord is the subset of a platform alarm that the tree uses.
type AlarmRecord struct {
	ID       flexString `json:"id"`
	Type     string     `json:"type"`
	Text     string     `json:"text"`
	Severity string     `json:"severity"`
	Status   string     `json:"status"`
	Time     string     `json:"time"`
	Count    int        `json:"count"`
	Source   struct {
		ID   flexString `json:"id"`
		Name string     `json:"name"`
	} `json:"source"`
}

// Alarm is a tree node for one platform alarm.
type Alarm struct {
	key      string
	label    string
	id       string
	text     string
	severity string
	status   string
	source   string
	record   string
}

var _ Node = Alarm{}

// MapAlarm builds an alarm node keyed and described by the platform id and
// labelled by the alarm text.
func MapAlarm(rec AlarmRecord, raw json.RawMessage) (Alarm, error) {
	id := rec.ID.String()
	if id == "" {
		return Alarm{}, &MappingError{Reason: "alarm has no id"}
	}
	label := strings.TrimSpace(rec.Text)
	if label == "" {
		label = strings.TrimSpace(rec.Type)
	}
	if label == "" {
		label = id
	}
	return newAlarm(id, label, rec, raw), nil
}

// MapAlarmType builds an alarm node labelled by the alarm type. The platform id
// stays the identity when present; the type string is only a fallback because
// several alarms can share one type.
func MapAlarmType(rec AlarmRecord, raw json.RawMessage) (Alarm, error) {
	typ := strings.TrimSpace(rec.Type)
	id := rec.ID.String()
	if typ == "" && id == "" {
		return Alarm{}, &MappingError{Reason: "alarm has neither id nor type"}
	}
	key := id
	if key == "" {
		key = typ
	}
	label := typ
	if label == "" {
		label = id
	}
	return newAlarm(key, label, rec, raw), nil
}

func newAlarm(key, label string, rec AlarmRecord, raw json.RawMessage) Alarm {
	source := strings.TrimSpace(rec.Source.Name)
	if source == "" {
		source = rec.Source.ID.String()
	}
	return Alarm{
		key:      key,
		label:    label,
		id:       rec.ID.String(),
		text:     rec.Text,
		severity: strings.ToUpper(strings.TrimSpace(rec.Severity)),
		status:   strings.ToUpper(strings.TrimSpace(rec.Status)),
		source:   source,
		record:   pretty(raw),
	}
}

func (a Alarm) Kind() Kind     { return KindAlarm }
func (a Alarm) Key() string    { return a.key }
func (a Alarm) Label() string  { return a.label }
func (a Alarm) Status() string { return a.severity }

// Description is the platform id, or the key when the record had none.
func (a Alarm) Description() string {
	if a.id != "" {
		return a.id
	}
	return a.key
}

// Tooltip renders "SEVERITY: text".
func (a Alarm) Tooltip() string {
	return fmt.Sprintf("%s: %s", a.severity, a.text)
}

// Source names the device that raised the alarm, when known.
func (a Alarm) Source() string { return a.source }

// AlarmStatus is the platform lifecycle status (ACTIVE, ACKNOWLEDGED, CLEARED).
func (a Alarm) AlarmStatus() string { return a.status }

func (a Alarm) Warnings() []string { return nil }
func (a Alarm) Errors() []string   { return nil }
func (a Alarm) Detail() string     { return a.record }
func (a Alarm) Record() string     { return a.record }
