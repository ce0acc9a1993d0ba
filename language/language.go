// Package language defines the programming languages the playground knows
// about and how their identifiers are parsed and displayed.
package language

import (
	"errors"
	"fmt"
	"strings"
)

// Language identifies a programming language selected in the editor.
type Language string

// Known languages. Only a subset has a runnable backend.
const (
	JavaScript Language = "javascript"
	TypeScript Language = "typescript"
	Python     Language = "python"
	Java       Language = "java"
	CPP        Language = "cpp"
)

// ErrUnknownLanguage is returned by Parse for identifiers it cannot map.
var ErrUnknownLanguage = errors.New("unknown language")

// All lists every known language in editor order.
var All = []Language{JavaScript, TypeScript, Python, Java, CPP}

var aliases = map[string]Language{
	"javascript": JavaScript,
	"js":         JavaScript,
	"node":       JavaScript,
	"nodejs":     JavaScript,
	"typescript": TypeScript,
	"ts":         TypeScript,
	"python":     Python,
	"py":         Python,
	"python3":    Python,
	"java":       Java,
	"cpp":        CPP,
	"c++":        CPP,
	"cxx":        CPP,
}

// Parse maps an identifier, display name or common alias to a Language.
func Parse(s string) (Language, error) {
	if l, ok := aliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return l, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownLanguage, s)
}

// DisplayName returns the name shown to users, e.g. "C++".
func (l Language) DisplayName() string {
	switch l {
	case JavaScript:
		return "JavaScript"
	case TypeScript:
		return "TypeScript"
	case Python:
		return "Python"
	case Java:
		return "Java"
	case CPP:
		return "C++"
	default:
		return string(l)
	}
}

// CommentPrefix returns the line comment marker of the language.
func (l Language) CommentPrefix() string {
	if l == Python {
		return "#"
	}
	return "//"
}

func (l Language) String() string {
	return string(l)
}
