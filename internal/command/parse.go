package command

import (
	"regexp"
	"strings"
)

// Command is one parsed tool invocation.
type Command struct {
	// Name is the operation name as written in the block.
	Name string
	// Kind is the resolved operation, empty when Name is not
	// registered.
	Kind Kind
	// Path is the declared target, interpreted relative to the
	// sandbox root.
	Path string
	// Content is the literal payload for operations that carry one.
	Content string
}

// blockRe matches one tool block: operation marker, path marker, then
// either a content section or an immediate end marker. Non-greedy so
// multiple blocks in one response match separately.
var blockRe = regexp.MustCompile(`(?s)%%tool\s+(\w+)\s*\n%%path\s+([^\n]+)\n(?:%%content(.*?)%%end|%%end)`)

// escapes undoes literal newline and tab sequences in write payloads.
// Models sometimes emit single-line content with escaped line breaks.
var escapes = strings.NewReplacer(`\n`, "\n", `\t`, "\t")

// Parse scans a model response for tool blocks and returns them in
// order of appearance. A nil result means no commands were found, which
// callers treat as a plain conversational turn.
//
// Write payloads are cleaned for prompt-friendly emission: surrounding
// blank lines are dropped, the common leading indentation is removed so
// the backend can indent code blocks inside its response, and literal
// \n and \t sequences are unescaped. JSON payloads keep their escape
// sequences because the decoder owns those.
func Parse(response string) []Command {
	matches := blockRe.FindAllStringSubmatch(response, -1)
	if len(matches) == 0 {
		return nil
	}

	cmds := make([]Command, 0, len(matches))
	for _, m := range matches {
		name := strings.TrimSpace(m[1])
		kind, _ := KindOf(name)

		cmd := Command{
			Name: name,
			Kind: kind,
			Path: strings.TrimSpace(m[2]),
		}
		if m[3] != "" {
			content := dedent(trimBlankLines(m[3]))
			if kind == KindWriteFile {
				content = escapes.Replace(content)
			}
			cmd.Content = content
		}
		cmds = append(cmds, cmd)
	}
	return cmds
}

// trimBlankLines drops leading and trailing lines that are empty or
// whitespace-only, preserving interior structure and the indentation of
// the first real line.
func trimBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	end := len(lines)
	for end > start && strings.TrimSpace(lines[end-1]) == "" {
		end--
	}
	return strings.Join(lines[start:end], "\n")
}

// dedent removes the common leading whitespace of all non-blank lines.
func dedent(s string) string {
	lines := strings.Split(s, "\n")

	margin := -1
	for _, line := range lines {
		body := strings.TrimLeft(line, " \t")
		if body == "" {
			continue
		}
		if n := len(line) - len(body); margin < 0 || n < margin {
			margin = n
		}
	}
	if margin <= 0 {
		return s
	}

	for i, line := range lines {
		if len(line) >= margin {
			lines[i] = line[margin:]
		}
	}
	return strings.Join(lines, "\n")
}
