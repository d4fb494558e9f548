package llm

import (
	"encoding/json"
	"strings"
)

// ParseOracleResponse extracts the JSON object bounded by the outermost {...}
// from arbitrary model output. When no parseable object is present the raw
// response is returned wrapped with parsed=false.
func ParseOracleResponse(response string) map[string]interface{} {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start >= 0 && end > start {
		candidate := response[start : end+1]
		var parsed map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &parsed); err == nil {
			return parsed
		}
	}
	return map[string]interface{}{
		"raw_response": response,
		"parsed":       false,
	}
}
