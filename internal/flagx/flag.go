// Package flagx contains helpers for selective command-line flag parsing.
// Different config layers each parse only the flags they own, so the raw
// argument list must be pre-filtered before handing it to a flag.FlagSet.
package flagx

import (
	"flag"
	"os"
	"strings"
)

// FilterArgs keeps only the flags named in allowedFlags (with their values)
// and drops everything else. Both "-f value" and "--flag=value" forms are
// recognized. Pass os.Args[1:] as args.
func FilterArgs(args []string, allowedFlags []string) []string {
	allowed := make(map[string]struct{}, len(allowedFlags))
	for _, name := range allowedFlags {
		allowed[name] = struct{}{}
	}

	// empty, not nil: callers feed the result straight into FlagSet.Parse
	out := make([]string, 0, len(args))

	for i := 0; i < len(args); i++ {
		arg := args[i]

		if eq := strings.Index(arg, "="); eq > 0 && strings.HasPrefix(arg, "-") {
			if _, ok := allowed[arg[:eq]]; ok {
				out = append(out, arg)
			}
			continue
		}

		if _, ok := allowed[arg]; !ok {
			continue
		}
		out = append(out, arg)
		// a following non-flag argument is this flag's value
		if i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") {
			out = append(out, args[i+1])
			i++
		}
	}

	return out
}

// JsonConfigFlags returns the config file path given via -c or -config,
// or an empty string. Other flags on the command line are left untouched
// for their owners to parse.
func JsonConfigFlags() string {
	var path string

	args := FilterArgs(os.Args[1:], []string{"-c", "-config"})

	fs := flag.NewFlagSet("json", flag.ContinueOnError)
	fs.StringVar(&path, "config", "", "Path to config file")
	fs.StringVar(&path, "c", "", "Path to config file (short)")
	_ = fs.Parse(args)

	return path
}
