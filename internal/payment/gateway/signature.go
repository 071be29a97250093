package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"hash"
	"regexp"
	"strings"
)

func hmacHex(newHash func() hash.Hash, secret string, payload []byte) string {
	mac := hmac.New(newHash, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func hmacSHA1Hex(secret string, payload []byte) string {
	return hmacHex(sha1.New, secret, payload)
}

func hmacSHA256Hex(secret string, payload []byte) string {
	return hmacHex(sha256.New, secret, payload)
}

func hmacSHA512Hex(secret string, payload []byte) string {
	return hmacHex(sha512.New, secret, payload)
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// equalHex compares two hex digests in constant time, ignoring case
func equalHex(expected, got string) bool {
	if expected == "" || got == "" {
		return false
	}
	return hmac.Equal([]byte(strings.ToLower(expected)), []byte(strings.ToLower(strings.TrimSpace(got))))
}

// stripJSONField removes one top-level string field from a raw JSON object
// without re-encoding the rest, so digests computed by the sender over the
// remaining bytes still match. It returns the field's raw value.
func stripJSONField(body []byte, field string) ([]byte, string, bool) {
	re := regexp.MustCompile(`"` + regexp.QuoteMeta(field) + `"\s*:\s*"((?:[^"\\]|\\.)*)"`)
	loc := re.FindSubmatchIndex(body)
	if loc == nil {
		return body, "", false
	}
	value := string(body[loc[2]:loc[3]])
	start, end := loc[0], loc[1]

	j := end
	for j < len(body) && isJSONSpace(body[j]) {
		j++
	}
	if j < len(body) && body[j] == ',' {
		end = j + 1
	} else {
		i := start - 1
		for i >= 0 && isJSONSpace(body[i]) {
			i--
		}
		if i >= 0 && body[i] == ',' {
			start = i
		}
	}

	out := make([]byte, 0, len(body)-(end-start))
	out = append(out, body[:start]...)
	out = append(out, body[end:]...)
	return out, value, true
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

// canonicalJSON re-encodes a JSON object with keys sorted at every level,
// numbers kept verbatim and no HTML escaping.
func canonicalJSON(body []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// decodeObject decodes a webhook body into a generic map
func decodeObject(body []byte) (map[string]any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, invalidPayload("empty body")
	}
	var m map[string]any
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, invalidPayload("malformed JSON: %v", err)
	}
	return m, nil
}
