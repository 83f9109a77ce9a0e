package detection

import "strings"

// DefaultSystemPrompt is sent as the system message to every backend
const DefaultSystemPrompt = "You are a helpful assistant."

// QueryPlaceholder is replaced by the user's query in prompt templates
const QueryPlaceholder = "{query}"

// DefaultPrompt asks the model to answer the query and ground every object it mentions
const DefaultPrompt = `You are an object detection assistant. Look at the image and handle the user's request.

User request: {query}

Return JSON only, wrapped in a ` + "```json" + ` code block:
{
  "answer": "a concise answer to the request, in the user's language",
  "detections": [
    {"bbox_2d": [x1, y1, x2, y2], "label": "short object name"}
  ]
}

RULES
- bbox_2d uses absolute pixel coordinates of the image as you see it: x1,y1 top-left, x2,y2 bottom-right.
- Output one entry per object instance that matches the request.
- If nothing matches, return an empty "detections" list and explain in "answer".
- Labels are short nouns; do not guess real identities.`

// FormatPrompt substitutes the query into a prompt template
func FormatPrompt(template, query string) string {
	if template == "" {
		template = DefaultPrompt
	}
	return strings.ReplaceAll(template, QueryPlaceholder, strings.TrimSpace(query))
}
