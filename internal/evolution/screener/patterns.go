package screener

import "regexp"

// pattern is one disallowed construct, matched against each added line.
type pattern struct {
	id     string
	reason string
	re     *regexp.Regexp
}

// defaultPatterns covers the construct families the screen guards
// against: dynamic evaluation, process and filesystem escape, network
// access, and module loading. The organism is a self-contained script;
// none of these have a legitimate use inside it.
var defaultPatterns = []pattern{
	// Dynamic evaluation.
	{"dyn-eval", "dynamic evaluation call (eval)", regexp.MustCompile(`\beval\s*\(`)},
	{"dyn-exec", "dynamic evaluation call (exec)", regexp.MustCompile(`\bexec\s*\(`)},
	{"dyn-compile", "dynamic compilation call (compile)", regexp.MustCompile(`\bcompile\s*\(`)},
	{"dyn-import", "dynamic import (__import__)", regexp.MustCompile(`__import__\s*\(`)},

	// Process escape.
	{"proc-system", "process spawn via os.system", regexp.MustCompile(`os\.system\s*\(`)},
	{"proc-subprocess", "process spawn via subprocess", regexp.MustCompile(`subprocess\.(call|run|Popen)\b`)},
	{"proc-spawn", "process spawn primitive", regexp.MustCompile(`\b(spawnv?|execv[pe]?|fork)\s*\(`)},

	// Filesystem escape.
	{"fs-open", "direct file access (open)", regexp.MustCompile(`\bopen\s*\(`)},
	{"fs-destroy", "destructive filesystem call", regexp.MustCompile(`(shutil\.(rmtree|move)|os\.(remove|unlink|rmdir|rename))\s*\(`)},

	// Network access.
	{"net-socket", "raw socket access", regexp.MustCompile(`\bsocket\.\w+`)},
	{"net-http", "network client call", regexp.MustCompile(`\b(urllib|requests|http\.client)\b`)},

	// Module loading. The organism must stay self-contained: no imports,
	// no Starlark load statements.
	{"mod-import", "import of an external module", regexp.MustCompile(`^\s*(import\s+\w|from\s+\w+\s+import\b)`)},
	{"mod-load", "Starlark load statement", regexp.MustCompile(`\bload\s*\(`)},
}

// deniedCalls are callee names blocked by the structural (parse-tree)
// pass, catching aliased or reformatted spellings the line patterns may
// miss.
var deniedCalls = map[string]string{
	"eval":       "dyn-eval",
	"exec":       "dyn-exec",
	"compile":    "dyn-compile",
	"__import__": "dyn-import",
	"open":       "fs-open",
	"load":       "mod-load",
}

// safetySymbolPrefixes identify organism functions that act as safety
// rails. Deleting their definitions is blocked outright.
var safetySymbolPrefixes = []string{"guard_", "validate_", "sanitize_"}
