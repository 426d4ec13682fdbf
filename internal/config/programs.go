package config

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/warden-project/warden/internal/process"
)

// Program is one parsed directive from the program list: a command and the id
// it is managed under. Explicit records whether the id came from an id= prefix
// or was derived from the command hash.
type Program struct {
	ID       string
	Command  string
	Explicit bool
}

// ParseError reports a malformed program list line. The whole load is
// abandoned on the first error; a bad file never partially applies.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("program list line %d: %s", e.Line, e.Msg)
}

// ParsePrograms reads the program list grammar: one directive per non-blank,
// non-comment line; "id=<name> <command...>" assigns an explicit id, otherwise
// the whole line is the command and the id is hashed from it.
func ParsePrograms(r io.Reader) ([]Program, error) {
	var out []Program
	seen := make(map[string]int)
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := parseDirective(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Msg: err.Error()}
		}
		if prev, dup := seen[p.ID]; dup {
			return nil, &ParseError{Line: lineNo, Msg: fmt.Sprintf("duplicate id %q (first declared on line %d)", p.ID, prev)}
		}
		seen[p.ID] = lineNo
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func parseDirective(line string) (Program, error) {
	if strings.HasPrefix(line, "id=") {
		rest := line[len("id="):]
		name, command, _ := strings.Cut(rest, " ")
		command = strings.TrimSpace(command)
		if name == "" {
			return Program{}, fmt.Errorf("empty id")
		}
		if !isSafeID(name) {
			return Program{}, fmt.Errorf("invalid id %q: allowed [A-Za-z0-9._-]", name)
		}
		if command == "" {
			return Program{}, fmt.Errorf("id %q has empty command", name)
		}
		return Program{ID: name, Command: command, Explicit: true}, nil
	}
	return Program{ID: process.DeriveID(line), Command: line}, nil
}

// LoadPrograms parses the program list file at path.
func LoadPrograms(path string) ([]Program, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	return ParsePrograms(f)
}

func isSafeID(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '.' || r == '_' || r == '-':
		default:
			return false
		}
	}
	return true
}
