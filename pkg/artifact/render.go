package artifact

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// JSONToYAML renders a JSON document as YAML, keeping object keys in the
// order they appear in the JSON text.
//
// JSON is a subset of YAML, so the document is parsed straight into a
// yaml.Node tree and re-emitted in block style.
func JSONToYAML(data []byte) ([]byte, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse JSON document: %w", err)
	}
	if doc.Kind == 0 {
		return nil, fmt.Errorf("empty document")
	}
	blockStyle(&doc)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode YAML: %w", err)
	}
	return buf.Bytes(), nil
}

// blockStyle clears the flow and quoting styles carried over from JSON.
// The encoder still quotes scalars whose plain form would change type.
func blockStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		blockStyle(c)
	}
}
