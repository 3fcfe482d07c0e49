package llm

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

var fencedJSON = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// Object is a decoded JSON object from model output.
type Object map[string]any

// ExtractJSON pulls a JSON object out of free model text. It tries a fenced
// ```json block, then the span from the first '{' to the last '}', then the
// whole text. Every failure falls through to the next strategy.
func ExtractJSON(text string) (Object, bool) {
	if strings.TrimSpace(text) == "" {
		return nil, false
	}
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if obj, ok := decodeObject(m[1]); ok {
			return obj, true
		}
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		if obj, ok := decodeObject(text[start : end+1]); ok {
			return obj, true
		}
	}
	return decodeObject(text)
}

func decodeObject(s string) (Object, bool) {
	var obj Object
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// Text 返回字符串字段；数字按原样格式化，null 与缺失返回 ""
func (o Object) Text(key string) string {
	switch v := o[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	}
	return ""
}

// Float 接受数字或数字字符串
func (o Object) Float(key string) (float64, bool) {
	switch v := o[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(v), "%")), 64)
		return f, err == nil
	}
	return 0, false
}

// Strings 接受字符串数组或单个字符串
func (o Object) Strings(key string) []string {
	switch v := o[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				out = append(out, strings.TrimSpace(s))
			}
		}
		return out
	case string:
		if s := strings.TrimSpace(v); s != "" {
			return []string{s}
		}
	}
	return nil
}

func (o Object) Object(key string) Object {
	if v, ok := o[key].(map[string]any); ok {
		return Object(v)
	}
	return nil
}

func (o Object) Has(key string) bool {
	v, ok := o[key]
	return ok && v != nil
}
