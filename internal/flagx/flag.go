// Package flagx holds helpers for parsing a subset of the process
// command line, so that several configuration layers can each own their
// flags without tripping over the others.
package flagx

import (
	"flag"
	"io"
	"strings"
)

// FilterArgs keeps only the flags named in allowed, together with their
// values. Both "-f value" and "-f=value" forms are understood. A token that
// starts with "-" is never consumed as a value.
func FilterArgs(args []string, allowed []string) []string {
	names := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		names[a] = true
	}

	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if name, _, hasValue := strings.Cut(arg, "="); hasValue && strings.HasPrefix(arg, "-") {
			if names[name] {
				out = append(out, arg)
			}
			continue
		}

		if !names[arg] {
			continue
		}
		out = append(out, arg)
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}
	return out
}

// ConfigPath returns the JSON config file passed with -c or -config, or an
// empty string when neither is present.
func ConfigPath(args []string) string {
	var path string

	fs := flag.NewFlagSet("config", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&path, "config", "", "path to config file")
	fs.StringVar(&path, "c", "", "path to config file (short)")
	_ = fs.Parse(FilterArgs(args, []string{"-c", "-config", "--config"}))

	return path
}
