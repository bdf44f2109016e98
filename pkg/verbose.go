package pmrecover

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// verbosity carries a recovery run's progress-logging state: a verbose
// level and the named debug toggles the rebuild phases consult
// (segment, tower, reclaim). It is held per Rebuilder and built from
// RecoveryConfig rather than kept in package globals, so two recovery
// runs in one process never share knobs.
type verbosity struct {
	level int
	flags map[string]bool
}

// newVerbosity parses a comma-separated flag string. Each entry is
// either a bare flag name ("segment,reclaim") or name:value
// ("tower:false"); bare names and unknown values mean enabled.
func newVerbosity(level int, flagsStr string) *verbosity {
	v := &verbosity{level: level, flags: make(map[string]bool)}
	for _, flag := range strings.Split(flagsStr, ",") {
		flag = strings.TrimSpace(flag)
		if flag == "" {
			continue
		}
		parts := strings.SplitN(flag, ":", 2)
		name := strings.ToLower(parts[0])
		value := true
		if len(parts) > 1 {
			switch strings.ToLower(parts[1]) {
			case "false", "0", "no", "off":
				value = false
			}
		}
		v.flags[name] = value
	}
	return v
}

// log emits a progress line when the configured level is at or above
// level.
func (v *verbosity) log(level int, format string, args ...interface{}) {
	if v.level < level {
		return
	}
	fmt.Fprintf(os.Stderr, "[VERBOSE-%d] ", level)
	fmt.Fprintf(os.Stderr, format, args...)
	if !strings.HasSuffix(format, "\n") {
		fmt.Fprintln(os.Stderr)
	}
}

// enter logs function entry at level 3+ and returns the matching exit
// logger for defer.
func (v *verbosity) enter() func() {
	if v.level < 3 {
		return func() {}
	}

	pc, _, _, ok := runtime.Caller(1)
	if !ok {
		return func() {}
	}
	funcName := runtime.FuncForPC(pc).Name()
	if idx := strings.LastIndex(funcName, "."); idx != -1 {
		funcName = funcName[idx+1:]
	}

	fmt.Fprintf(os.Stderr, "[TRACE] Entering function: %s\n", funcName)
	return func() {
		fmt.Fprintf(os.Stderr, "[TRACE] Exiting function: %s\n", funcName)
	}
}

// enabled reports whether a named debug toggle is on.
func (v *verbosity) enabled(flag string) bool {
	return v.flags[strings.ToLower(flag)]
}
