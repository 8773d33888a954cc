package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// cleanMarkdownWrapper strips markdown code fences that providers sometimes
// wrap around JSON output despite instructions not to.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		if idx := strings.Index(content, "\n"); idx >= 0 {
			content = content[idx+1:]
		} else {
			content = strings.TrimPrefix(content, "```json")
			content = strings.TrimPrefix(content, "```")
		}
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	return strings.TrimSpace(content)
}

// parseBatchContent decodes the message text of a provider reply into a
// BatchResponse. Rows with confidence outside [0,1] are clamped rather
// than rejected; structural problems are errors.
func parseBatchContent(content string) (BatchResponse, error) {
	content = cleanMarkdownWrapper(content)

	var response BatchResponse
	if err := json.Unmarshal([]byte(content), &response); err != nil {
		return BatchResponse{}, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	if len(response.Results) == 0 {
		return BatchResponse{}, fmt.Errorf("no results found in response")
	}

	for i := range response.Results {
		r := &response.Results[i]
		if r.CategoryKey == "" {
			return BatchResponse{}, fmt.Errorf("result %d has no category key", i)
		}
		r.Confidence = clampConfidence(r.Confidence)
		if r.RevisedCategoryKey != "" {
			r.RevisedConfidence = clampConfidence(r.RevisedConfidence)
		}
	}

	return response, nil
}

func clampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
