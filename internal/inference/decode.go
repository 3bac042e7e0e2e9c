package inference

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// ParseClarification strictly decodes a clarify payload. Accepted shapes, in
// order: an object with a meaning (or clarification/text) field; a list of
// options, of which the first is used; a string holding JSON of either shape.
// A bare string that is not JSON is rejected with [ErrClarificationParse].
func ParseClarification(raw any) (Clarification, error) {
	return parseClarification(raw, true)
}

func parseClarification(raw any, allowString bool) (Clarification, error) {
	switch v := raw.(type) {
	case map[string]any:
		meaning := firstString(v, "meaning", "clarification", "text")
		if meaning == "" {
			return Clarification{}, fmt.Errorf("%w: object without meaning", ErrClarificationParse)
		}
		c := Clarification{
			Meaning:    meaning,
			Context:    firstString(v, "context"),
			Pragmatics: firstString(v, "pragmatics"),
		}
		if c.Context == "" {
			c.Context = DefaultContext
		}
		return c, nil
	case []any:
		if len(v) == 0 {
			return Clarification{}, fmt.Errorf("%w: empty option list", ErrClarificationParse)
		}
		if s, ok := v[0].(string); ok {
			return Clarification{Meaning: s, Context: DefaultContext}, nil
		}
		return parseClarification(v[0], false)
	case []string:
		if len(v) == 0 {
			return Clarification{}, fmt.Errorf("%w: empty option list", ErrClarificationParse)
		}
		return Clarification{Meaning: v[0], Context: DefaultContext}, nil
	case string:
		if !allowString {
			return Clarification{}, fmt.Errorf("%w: nested string", ErrClarificationParse)
		}
		var inner any
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &inner); err != nil {
			return Clarification{}, fmt.Errorf("%w: %v", ErrClarificationParse, err)
		}
		if s, ok := inner.(string); ok {
			return Clarification{Meaning: s, Context: DefaultContext}, nil
		}
		return parseClarification(inner, false)
	case nil:
		return Clarification{}, fmt.Errorf("%w: empty payload", ErrClarificationParse)
	default:
		return Clarification{}, fmt.Errorf("%w: unexpected %T", ErrClarificationParse, raw)
	}
}

// DecodeClarification decodes a clarify payload and never fails: anything
// [ParseClarification] rejects becomes an opaque meaning with the default
// context and empty pragmatics.
func DecodeClarification(raw any) Clarification {
	c, err := ParseClarification(raw)
	if err == nil {
		return c
	}
	slog.Debug("inference: clarification payload treated as text", "err", err)
	return Clarification{Meaning: opaqueText(raw), Context: DefaultContext}
}

// DecodePrompt decodes a generate_mission payload with the same fallback
// order as [DecodeClarification]. ok is false when the payload held no
// usable text, in which case the caller should use its static fallback.
func DecodePrompt(raw any) (p Prompt, ok bool) {
	switch v := raw.(type) {
	case map[string]any:
		p = Prompt{Text: firstString(v, "text", "mission", "prompt"), Emoji: firstString(v, "emoji")}
	case []any:
		if len(v) > 0 {
			return DecodePrompt(v[0])
		}
	case string:
		var inner any
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &inner); err == nil {
			if _, isString := inner.(string); !isString {
				return DecodePrompt(inner)
			}
			p = Prompt{Text: inner.(string)}
		} else {
			p = Prompt{Text: strings.TrimSpace(v)}
		}
	}
	return p, p.Text != ""
}

// DecodeDialects decodes a get_dialects payload: a list of names, a JSON
// string holding one, or either of those nested one level deep. Blank and
// duplicate names are dropped.
func DecodeDialects(raw any) ([]string, error) {
	switch v := raw.(type) {
	case []string:
		return cleanNames(v), nil
	case []any:
		if len(v) == 1 {
			switch v[0].(type) {
			case []any, []string:
				return DecodeDialects(v[0])
			}
		}
		names := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: dialect entry is %T", ErrRemote, item)
			}
			names = append(names, s)
		}
		return cleanNames(names), nil
	case string:
		var inner any
		if err := json.Unmarshal([]byte(v), &inner); err != nil {
			return nil, fmt.Errorf("%w: dialect list: %v", ErrRemote, err)
		}
		if _, isString := inner.(string); isString {
			return nil, fmt.Errorf("%w: dialect list is a bare string", ErrRemote)
		}
		return DecodeDialects(inner)
	default:
		return nil, fmt.Errorf("%w: dialect list is %T", ErrRemote, raw)
	}
}

// DecodeText decodes a transcribe payload: a string, or an object with a
// text field.
func DecodeText(raw any) (string, error) {
	switch v := raw.(type) {
	case string:
		return strings.TrimSpace(v), nil
	case map[string]any:
		if s := firstString(v, "text", "transcript"); s != "" {
			return strings.TrimSpace(s), nil
		}
	case []any:
		if len(v) > 0 {
			return DecodeText(v[0])
		}
	}
	return "", fmt.Errorf("%w: unexpected payload %T", ErrTranscription, raw)
}

func firstString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func opaqueText(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	}
}

func cleanNames(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
