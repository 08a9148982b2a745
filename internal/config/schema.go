package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

//go:embed default_schema.json
var defaultSchemaJSON []byte

// Schema lists the tags and logic parameters the admin API accepts.
// It is read once at startup and shared read-only afterwards.
type Schema struct {
	Protocols       []string `json:"protocols"`
	CallDirections  []string `json:"call_directions"`
	LogicParameters []string `json:"logic_parameters"`
}

// LoadSchema reads the schema file at path, or the embedded default when path is empty.
func LoadSchema(path string) (*Schema, error) {
	data := defaultSchemaJSON
	if trimmed := strings.TrimSpace(path); trimmed != "" {
		raw, errRead := os.ReadFile(trimmed)
		if errRead != nil {
			return nil, fmt.Errorf("config: read schema %s: %w", trimmed, errRead)
		}
		data = raw
	}
	var schema Schema
	if errUnmarshal := json.Unmarshal(data, &schema); errUnmarshal != nil {
		return nil, fmt.Errorf("config: parse schema: %w", errUnmarshal)
	}
	schema.Protocols = normalizeTags(schema.Protocols)
	schema.CallDirections = normalizeTags(schema.CallDirections)
	return &schema, nil
}

// UnknownProtocols returns the tags that the schema does not list.
func (s *Schema) UnknownProtocols(tags []string) []string {
	if s == nil {
		return nil
	}
	return unknownTags(s.Protocols, tags)
}

// UnknownCallDirections returns the tags that the schema does not list.
func (s *Schema) UnknownCallDirections(tags []string) []string {
	if s == nil {
		return nil
	}
	return unknownTags(s.CallDirections, tags)
}

// HasLogicParameter reports whether name is a known logic parameter.
// An empty parameter list accepts everything.
func (s *Schema) HasLogicParameter(name string) bool {
	if s == nil || len(s.LogicParameters) == 0 {
		return true
	}
	for _, p := range s.LogicParameters {
		if p == name {
			return true
		}
	}
	return false
}

func unknownTags(allowed, tags []string) []string {
	if len(allowed) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		set[a] = struct{}{}
	}
	var unknown []string
	for _, tag := range tags {
		if _, ok := set[strings.ToLower(strings.TrimSpace(tag))]; !ok {
			unknown = append(unknown, tag)
		}
	}
	return unknown
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		if trimmed := strings.ToLower(strings.TrimSpace(tag)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
