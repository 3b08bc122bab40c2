package config

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadAgents reads an agent registry document. ${VAR} references anywhere
// in the document are expanded before decoding, including nested schema
// and metadata values. A missing file yields an empty document.
func LoadAgents(path string) (AgentsDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return AgentsDocument{}, nil
		}
		return AgentsDocument{}, err
	}
	return ParseAgents(data)
}

// ParseAgents decodes an agent registry document from YAML (or JSON) bytes
// and validates each entry.
func ParseAgents(data []byte) (AgentsDocument, error) {
	var doc AgentsDocument
	if len(bytes.TrimSpace(data)) == 0 {
		return doc, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return doc, &ConfigError{Message: "failed to parse agents: " + err.Error()}
	}
	expandNode(&root)

	if err := root.Decode(&doc); err != nil {
		return doc, &ConfigError{Message: "failed to decode agents: " + err.Error()}
	}

	seen := make(map[string]bool, len(doc.Agents))
	for i, a := range doc.Agents {
		if issues := ValidateAgent(fmt.Sprintf("agents[%d]", i), a); len(issues) > 0 {
			return doc, &ConfigError{Message: issues[0].String()}
		}
		if seen[a.AgentID] {
			return doc, &ConfigError{Message: fmt.Sprintf("duplicate agent id %q", a.AgentID)}
		}
		seen[a.AgentID] = true
	}
	return doc, nil
}

// expandNode substitutes ${VAR} references in every scalar of the tree.
// Plain scalars are re-resolved after substitution so that a reference
// expanding to a number still decodes into numeric fields.
func expandNode(n *yaml.Node) {
	if n == nil {
		return
	}
	if n.Kind == yaml.ScalarNode {
		expanded := ExpandEnvVars(n.Value)
		if expanded != n.Value {
			n.Value = expanded
			if n.Style == 0 {
				n.Tag = ""
			}
		}
		return
	}
	for _, child := range n.Content {
		expandNode(child)
	}
}

// MergeAgents combines file-loaded agents with inline config agents.
// Inline entries replace file entries that share an agent id.
func MergeAgents(fromFile, inline []AgentEntry) []AgentEntry {
	out := make([]AgentEntry, 0, len(fromFile)+len(inline))
	index := make(map[string]int, len(fromFile)+len(inline))
	for _, list := range [][]AgentEntry{fromFile, inline} {
		for _, a := range list {
			if i, ok := index[a.AgentID]; ok {
				out[i] = a
				continue
			}
			index[a.AgentID] = len(out)
			out = append(out, a)
		}
	}
	return out
}
