package openai

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/skiff-ai/skiff/pkg/errors"
)

const authClaim = "https://api.openai.com/auth"

// extractAccountID pulls the ChatGPT account id out of an OAuth access
// token. The token is a JWT whose payload carries the account id under
// the OpenAI auth claim.
func extractAccountID(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return "", errors.Decoding("auth token is not a JWT")
	}
	payload, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(parts[1], "="))
	if err != nil {
		return "", errors.Decodingf("decode token payload: %v", err)
	}

	var claims map[string]json.RawMessage
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", errors.Decodingf("parse token claims: %v", err)
	}
	raw, ok := claims[authClaim]
	if !ok {
		return "", errors.Decoding("token carries no auth claim")
	}
	var auth struct {
		ChatGPTAccountID string `json:"chatgpt_account_id"`
	}
	if err := json.Unmarshal(raw, &auth); err != nil {
		return "", errors.Decodingf("parse auth claim: %v", err)
	}
	if auth.ChatGPTAccountID == "" {
		return "", errors.Decoding("auth claim carries no account id")
	}
	return auth.ChatGPTAccountID, nil
}
