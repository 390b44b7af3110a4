package scenario

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// ExtractError reports a JSONPath that did not match a response body.
type ExtractError struct {
	Var  string
	Path string
}

func (e *ExtractError) Error() string {
	return fmt.Sprintf("extract %s: path %s not found in response", e.Var, e.Path)
}

// Kind classifies the failure for measurements.
func (e *ExtractError) Kind() string { return "extract" }

var (
	varRef  = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)
	varName = regexp.MustCompile(`^\w+$`)
)

// ValidVarName reports whether name can be referenced as {{name}}.
func ValidVarName(name string) bool { return varName.MatchString(name) }

// ExtractJSON reads the value at a JSONPath expression such as
// "$.data.items[0].id". Objects and arrays come back as raw JSON and
// null as "null".
func ExtractJSON(body []byte, path string) (string, bool) {
	res := gjson.GetBytes(body, gjsonPath(path))
	if !res.Exists() {
		return "", false
	}
	if res.Type == gjson.Null {
		return "null", true
	}
	return res.String(), true
}

// gjsonPath converts the dotted and bracketed JSONPath subset to gjson
// syntax: $.a['b'][0] becomes a.b.0.
func gjsonPath(path string) string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "$")
	if path == "" {
		return "@this"
	}

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				b.WriteString(path[i:])
				return strings.TrimPrefix(b.String(), ".")
			}
			key := strings.Trim(path[i+1:i+end], `'"`)
			b.WriteByte('.')
			b.WriteString(key)
			i += end
		default:
			b.WriteByte(c)
		}
	}
	return strings.TrimPrefix(b.String(), ".")
}

// expand replaces {{name}} references with values from vars. Unknown
// names are left as written.
func expand(s string, vars map[string]string) string {
	if len(vars) == 0 || !strings.Contains(s, "{{") {
		return s
	}
	return varRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := varRef.FindStringSubmatch(ref)[1]
		if v, ok := vars[name]; ok {
			return v
		}
		return ref
	})
}
