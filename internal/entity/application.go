package entity

import (
	"encoding/json"
	"strconv"
	"strings"
)

// HiddenPrefix marks platform-internal EPL applications (test harness uploads).
const HiddenPrefix = "PYSYS"

// ApplicationRecord is the subset of an EPL file record that the tree uses.
type ApplicationRecord struct {
	ID          flexString `json:"id"`
	Name        string     `json:"name"`
	State       string     `json:"state"`
	Warnings    []string   `json:"warnings"`
	Errors      []string   `json:"errors"`
	Description string     `json:"description"`
	Desc        string     `json:"desc"`
	Contents    string     `json:"contents"`
}

// Application is a tree node for one EPL application.
type Application struct {
	key         string
	label       string
	active      bool
	warnings    []string
	errors      []string
	description string
	contents    string
	record      string
}

var _ Node = Application{}

// MapApplication builds an application node. The name is required because the
// mirror path is derived from it; hidden applications return ErrHidden.
func MapApplication(rec ApplicationRecord, raw json.RawMessage) (Application, error) {
	name := strings.TrimSpace(rec.Name)
	if name == "" {
		return Application{}, &MappingError{Reason: "application has no name"}
	}
	if strings.HasPrefix(name, HiddenPrefix) {
		return Application{}, ErrHidden
	}
	key := rec.ID.String()
	if key == "" {
		key = name
	}
	desc := rec.Description
	if strings.TrimSpace(desc) == "" {
		desc = rec.Desc
	}
	return Application{
		key:         key,
		label:       name,
		active:      strings.EqualFold(strings.TrimSpace(rec.State), "active"),
		warnings:    cloneStrings(rec.Warnings),
		errors:      cloneStrings(rec.Errors),
		description: desc,
		contents:    rec.Contents,
		record:      pretty(raw),
	}, nil
}

func (a Application) Kind() Kind          { return KindApplication }
func (a Application) Key() string         { return a.key }
func (a Application) Label() string       { return a.label }
func (a Application) Description() string { return a.description }
func (a Application) Active() bool        { return a.active }

func (a Application) Status() string {
	if a.active {
		return "active"
	}
	return "inactive"
}

// Tooltip summarizes state and diagnostics counts.
func (a Application) Tooltip() string {
	var b strings.Builder
	b.WriteString(a.Status())
	if n := len(a.errors); n > 0 {
		b.WriteString(", ")
		b.WriteString(plural(n, "error"))
	}
	if n := len(a.warnings); n > 0 {
		b.WriteString(", ")
		b.WriteString(plural(n, "warning"))
	}
	return b.String()
}

func (a Application) Warnings() []string { return cloneStrings(a.warnings) }
func (a Application) Errors() []string   { return cloneStrings(a.errors) }

// Detail is the EPL source text; it is what gets mirrored and edited.
func (a Application) Detail() string { return a.contents }
func (a Application) Record() string { return a.record }

func plural(n int, noun string) string {
	if n == 1 {
		return "1 " + noun
	}
	return strconv.Itoa(n) + " " + noun + "s"
}
