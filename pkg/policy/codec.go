package policy

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/makr-code/themis-policy/pkg/domain"
)

// LoadFile reads a policy document, picking the format by file extension:
// .yaml/.yml parse as YAML, everything else as JSON. Both formats accept a
// bare sequence of policy objects or a {policies: [...]} wrapper. Malformed
// individual entries are skipped so a partial load succeeds; a structurally
// unrecognized document fails the whole call with
// domain.ErrUnsupportedDocument.
func LoadFile(path string) ([]domain.Policy, error) {
	// #nosec G304 -- policy file path is configured by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policies file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(data)
	default:
		return ParseJSON(data)
	}
}

// SaveFile writes the policies in the JSON array shape with two-space
// indentation, regardless of how they were originally loaded.
func SaveFile(path string, policies []domain.Policy) error {
	out := make([]domain.Policy, len(policies))
	for i, p := range policies {
		c := p.Clone()
		c.Normalize()
		// Emit empty arrays rather than nulls for the fixed fields.
		if c.Subjects == nil {
			c.Subjects = []string{}
		}
		if c.Actions == nil {
			c.Actions = []string{}
		}
		if c.Resources == nil {
			c.Resources = []string{}
		}
		out[i] = c
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode policies: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write policies file: %w", err)
	}
	return nil
}

// ParseJSON decodes a JSON policy document: an array of policy objects or a
// {policies: [...]} wrapper. Entries that fail to decode are dropped.
func ParseJSON(data []byte) ([]domain.Policy, error) {
	var entries []json.RawMessage
	// A JSON null also unmarshals into a nil slice, so nil means the
	// document was not an array.
	if err := json.Unmarshal(data, &entries); err != nil || entries == nil {
		var wrapper struct {
			Policies []json.RawMessage `json:"policies"`
		}
		if err := json.Unmarshal(data, &wrapper); err != nil || wrapper.Policies == nil {
			return nil, fmt.Errorf("%w: expect array or {policies: [...]}", domain.ErrUnsupportedDocument)
		}
		entries = wrapper.Policies
	}

	policies := make([]domain.Policy, 0, len(entries))
	for _, raw := range entries {
		if trimmed := bytes.TrimSpace(raw); len(trimmed) == 0 || trimmed[0] != '{' {
			continue
		}
		var p domain.Policy
		if err := json.Unmarshal(raw, &p); err != nil {
			continue
		}
		p.Normalize()
		policies = append(policies, p)
	}
	return policies, nil
}

// ParseYAML decodes a YAML policy document: a bare sequence of policy
// objects or a {policies: [...]} mapping. Entries that fail to decode are
// dropped.
func ParseYAML(data []byte) ([]domain.Policy, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse YAML policies: %w", err)
	}

	node := &root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}

	var sequence *yaml.Node
	switch node.Kind {
	case yaml.SequenceNode:
		sequence = node
	case yaml.MappingNode:
		// Mapping content alternates key and value nodes.
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "policies" && node.Content[i+1].Kind == yaml.SequenceNode {
				sequence = node.Content[i+1]
				break
			}
		}
	}
	if sequence == nil {
		return nil, fmt.Errorf("%w: expect sequence or {policies: [...]}", domain.ErrUnsupportedDocument)
	}

	policies := make([]domain.Policy, 0, len(sequence.Content))
	for _, item := range sequence.Content {
		if item.Kind != yaml.MappingNode {
			continue
		}
		var p domain.Policy
		if err := item.Decode(&p); err != nil {
			continue
		}
		p.Normalize()
		policies = append(policies, p)
	}
	return policies, nil
}
