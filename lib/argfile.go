package relay

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/sirupsen/logrus"
)

// SpliceArgFiles expands every "@FILE" argument in args into the
// non-blank, non-comment lines of FILE, recursively, before cobra ever
// sees the argument slice (spec.md §6: "Before parsing, splice the
// non-blank, non-#-prefixed lines of FILE into the argument stream at
// this position"). Arguments not starting with "@" pass through
// unchanged.
//
// Each spliced line is additionally evaluated as a text/template
// template, with sprig's function set available and the process
// environment as the dot context, so an argument file can hold the
// destination line "ssh://{{.BACKUP_HOST}}/srv/backups" instead of
// hardcoding a hostname (teacher's lib/options.go evalOptions does the same
// template-over-environment trick for option values).
func SpliceArgFiles(args []string) ([]string, error) {
	return spliceArgFiles(args, nil)
}

func spliceArgFiles(args []string, seen []string) ([]string, error) {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if !strings.HasPrefix(arg, "@") {
			result = append(result, arg)
			continue
		}

		path := arg[1:]
		for _, s := range seen {
			if s == path {
				return nil, fmt.Errorf("argfile: %q splices itself (cycle)", path)
			}
		}

		lines, err := readArgFile(path)
		if err != nil {
			return nil, fmt.Errorf("argfile %q: %w", path, err)
		}

		spliced, err := spliceArgFiles(lines, append(seen, path))
		if err != nil {
			return nil, err
		}
		result = append(result, spliced...)
	}
	return result, nil
}

func readArgFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	env := environMap()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimLeft(scanner.Text(), " \t")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, evalArgLine(path, line, env))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

func evalArgLine(path, line string, env map[string]string) string {
	tpl, err := template.New(path).Funcs(sprig.TxtFuncMap()).Parse(line)
	if err != nil {
		logrus.WithField("argfile", path).Warnf("failed to evaluate line %q: %v", line, err)
		return line
	}

	buf := bytes.NewBuffer(nil)
	if err := tpl.Execute(buf, env); err != nil {
		logrus.WithField("argfile", path).Warnf("failed to evaluate line %q: %v", line, err)
		return line
	}
	return buf.String()
}

func environMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if idx := strings.IndexByte(kv, '='); idx >= 0 {
			env[kv[:idx]] = kv[idx+1:]
		}
	}
	return env
}
