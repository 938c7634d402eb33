package ai

import (
	"encoding/json"
	"fmt"
	"strings"
)

// apiResponse covers every response shape the generator understands. Fields that
// vary in type between providers are kept raw and decoded on demand.
type apiResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Content    json.RawMessage `json:"content"`
	OutputText string          `json:"output_text"`
	Response   string          `json:"response"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// extractDescription returns the first non-empty description, checking in order:
// choices[0].message.content, the first text block in content[], output_text and
// response.
func extractDescription(body []byte) (string, error) {
	var resp apiResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if len(resp.Choices) > 0 {
		var s string
		if json.Unmarshal(resp.Choices[0].Message.Content, &s) == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s, nil
			}
		}
	}

	var blocks []contentBlock
	if len(resp.Content) > 0 && json.Unmarshal(resp.Content, &blocks) == nil {
		for _, b := range blocks {
			if b.Type != "text" {
				continue
			}
			if s := strings.TrimSpace(b.Text); s != "" {
				return s, nil
			}
			break
		}
	}

	if s := strings.TrimSpace(resp.OutputText); s != "" {
		return s, nil
	}
	if s := strings.TrimSpace(resp.Response); s != "" {
		return s, nil
	}

	return "", ErrNoDescription
}

// embeddedMessage pulls a human-readable message out of an error body. Both
// {"error":{"message":...}} and {"error":"..."} are recognised, as is a bare
// {"message":...}.
func embeddedMessage(body []byte) string {
	var wrapped struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if json.Unmarshal(body, &wrapped) != nil {
		return ""
	}

	if len(wrapped.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(wrapped.Error, &obj) == nil && obj.Message != "" {
			return obj.Message
		}
		var s string
		if json.Unmarshal(wrapped.Error, &s) == nil && s != "" {
			return s
		}
	}
	return wrapped.Message
}
