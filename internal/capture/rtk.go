package capture

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

var rtkWarnOnce sync.Once

func warnRTKUnsupported(format string, args ...any) {
	rtkWarnOnce.Do(func() {
		fmt.Printf("cx: "+format+"\n", args...)
	})
}

type semver struct{ major, minor, patch uint64 }

func parseSemver(raw string) (semver, bool) {
	var digitsDot strings.Builder
	fields := strings.FieldsFunc(raw, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.'
	})
	for _, f := range fields {
		if strings.Count(f, ".") >= 1 {
			digitsDot.WriteString(f)
			break
		}
	}
	candidate := digitsDot.String()
	if candidate == "" {
		return semver{}, false
	}
	parts := strings.SplitN(candidate, ".", 3)
	v := semver{}
	if len(parts) > 0 {
		v.major, _ = strconv.ParseUint(parts[0], 10, 64)
	}
	if len(parts) > 1 {
		v.minor, _ = strconv.ParseUint(parts[1], 10, 64)
	}
	if len(parts) > 2 {
		v.patch, _ = strconv.ParseUint(parts[2], 10, 64)
	}
	return v, true
}

func semverCompare(a, b semver) int {
	if a.major != b.major {
		if a.major > b.major {
			return 1
		}
		return -1
	}
	if a.minor != b.minor {
		if a.minor > b.minor {
			return 1
		}
		return -1
	}
	if a.patch != b.patch {
		if a.patch > b.patch {
			return 1
		}
		return -1
	}
	return 0
}

// RTKVersionRaw returns the raw `rtk --version` output, or "" if rtk is
// not installed or produced no output.
func RTKVersionRaw(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := exec.CommandContext(ctx, "rtk", "--version").CombinedOutput()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}

// RTKIsUsable reports whether the optional `rtk` reduction tool is
// installed and within the configured supported version range.
func RTKIsUsable(ctx context.Context, minVersion, maxVersion string) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "rtk", "--help").Run(); err != nil {
		return false
	}
	if minVersion == "" {
		minVersion = "0.22.1"
	}
	raw := RTKVersionRaw(context.Background())
	cur, ok := parseSemver(raw)
	if !ok {
		warnRTKUnsupported("unable to parse rtk version; falling back to raw command output.")
		return false
	}
	min, _ := parseSemver(minVersion)
	if semverCompare(cur, min) < 0 {
		warnRTKUnsupported("rtk version %q is below supported minimum %q; falling back to raw command output.", raw, minVersion)
		return false
	}
	if maxVersion != "" {
		max, _ := parseSemver(maxVersion)
		if semverCompare(cur, max) > 0 {
			warnRTKUnsupported("rtk version %q is above supported maximum %q; falling back to raw command output.", raw, maxVersion)
			return false
		}
	}
	return true
}

var rtkSupportedPrefixes = map[string]bool{
	"git": true, "diff": true, "ls": true, "tree": true,
	"grep": true, "test": true, "log": true, "read": true,
}

// ShouldUseRTK decides whether the rtk reduction provider should be
// attempted for argv, given the configured provider mode.
func ShouldUseRTK(argv []string, providerMode string, rtkEnabled, rtkUsable bool) bool {
	supported := len(argv) > 0 && rtkSupportedPrefixes[argv[0]]
	switch providerMode {
	case "rtk":
		return rtkEnabled && supported && rtkUsable
	case "native":
		return false
	default:
		return rtkEnabled && supported && rtkUsable
	}
}
