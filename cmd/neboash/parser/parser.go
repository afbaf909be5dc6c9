package parser

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrInvalidJSON is returned for payloads that are not valid JSON.
var ErrInvalidJSON = errors.New("payload must be valid JSON")

type Command struct {
	Name string
	Args []string
	Line string
}

func Parse(line string) (*Command, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil, fmt.Errorf("empty command")
	}

	parts := strings.Fields(line)
	if !strings.HasPrefix(parts[0], ".") {
		return nil, fmt.Errorf("commands must start with '.'")
	}

	return &Command{
		Name: parts[0],
		Args: parts[1:],
		Line: line,
	}, nil
}

// Rest returns the raw text after the command name and the first n
// arguments, so JSON payloads keep their spacing.
func (c *Command) Rest(n int) string {
	rest := c.Line
	for i := 0; i <= n; i++ {
		rest = strings.TrimLeftFunc(rest, unicode.IsSpace)
		end := strings.IndexFunc(rest, unicode.IsSpace)
		if end < 0 {
			return ""
		}
		rest = rest[end:]
	}
	return strings.TrimSpace(rest)
}

func ValidateArgs(cmd *Command, count int) error {
	if len(cmd.Args) < count {
		return fmt.Errorf("expected %d argument(s), got %d", count, len(cmd.Args))
	}
	return nil
}

func ValidateCollection(name string) error {
	if name == "" {
		return fmt.Errorf("no collection selected, use .use <collection>")
	}
	return nil
}
