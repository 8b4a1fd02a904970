package worker

import (
	"fmt"

	"github.com/osteele/liquid"
)

var liquidEngine = liquid.NewEngine()

// renderTemplate renders a liquid template against the merged
// personalization and metadata bags. Personalization keys win.
func renderTemplate(template string, personalization, metadata map[string]interface{}) (string, error) {
	bindings := make(map[string]interface{}, len(personalization)+len(metadata))
	for k, v := range metadata {
		bindings[k] = v
	}
	for k, v := range personalization {
		bindings[k] = v
	}

	out, err := liquidEngine.ParseAndRenderString(template, bindings)
	if err != nil {
		return "", fmt.Errorf("template render failed: %w", err)
	}
	return out, nil
}
