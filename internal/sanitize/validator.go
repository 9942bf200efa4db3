package sanitize

import (
	"fmt"
	"regexp"
	"strings"
)

// hardProtected is the non-negotiable protected-file set from §4.3 — these
// names are rejected even if the config-declared .ainprotect list is empty
// or hasn't been loaded yet.
var hardProtected = map[string]bool{
	"main.py":                  true,
	"api/keys.py":              true,
	"api/github.py":            true,
	".ainprotect":              true,
	"docs/hardware-catalog.md": true,
}

// LargeFileWarnLines and LargeFileHardLimit bound file size per §4.3: files
// over the warn threshold are flagged, files over the hard limit are
// rejected outright.
const (
	LargeFileWarnLines = 150
	LargeFileHardLimit = 200
)

// requiredPackages is the requirements.txt whitelist (§4.3 "requirements.txt
// retains a whitelist of required packages"): a proposed requirements.txt
// that drops any of these is rejected outright, since the running engine
// depends on all four at its own call boundary (LLM client, GitHub API,
// HTTP transport, vector store).
var requiredPackages = []string{"google-generativeai", "pygithub", "requests", "surrealdb"}

var invalidFilenameChars = regexp.MustCompile(`[<>|"?*\s]`)

// ValidationError classifies why a proposed update was rejected, matching
// one of the PolicyViolation/SanityFailure/NoChange stageerr kinds (§7).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validator enforces the filename/protection/size/import policy that runs
// after Sanitize (§4.3). protected is the runtime-configurable set loaded
// from .ainprotect, merged with hardProtected on every check.
type Validator struct {
	protected map[string]bool
}

// NewValidator builds a Validator whose protected set is the union of the
// hard-coded names and any additional names loaded from .ainprotect.
func NewValidator(extraProtected []string) *Validator {
	v := &Validator{protected: make(map[string]bool, len(hardProtected)+len(extraProtected))}
	for name := range hardProtected {
		v.protected[name] = true
	}
	for _, name := range extraProtected {
		name = strings.TrimSpace(name)
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		v.protected[name] = true
	}
	return v
}

// Update is one proposed whole-file replacement extracted from the coder's
// response.
type Update struct {
	Filename string
	Content  string
}

// Result is the outcome of validating a single Update against the current
// on-disk content (empty string for a new file).
type Result struct {
	Warnings []string
}

// Validate enforces, in order: simple relative path, not hard-protected or
// configured-protected, not oversize past the hard limit, and not equal
// (whitespace-normalized) to the current on-disk content. It returns a
// *ValidationError for any PolicyViolation/NoChange condition, or a Result
// carrying any non-fatal warnings (oversize-but-under-hard-limit).
func (v *Validator) Validate(u Update, onDisk string) (*Result, error) {
	if err := v.validateFilename(u.Filename); err != nil {
		return nil, err
	}

	lineCount := strings.Count(u.Content, "\n") + 1
	var result Result
	if lineCount > LargeFileHardLimit {
		return nil, &ValidationError{Reason: fmt.Sprintf("file %s has %d lines, exceeding the hard limit of %d", u.Filename, lineCount, LargeFileHardLimit)}
	}
	if lineCount > LargeFileWarnLines {
		result.Warnings = append(result.Warnings, fmt.Sprintf("file %s has %d lines, over the %d-line warning threshold", u.Filename, lineCount, LargeFileWarnLines))
	}

	if normalizeWhitespace(u.Content) == normalizeWhitespace(onDisk) {
		return nil, &ValidationError{Reason: "no change"}
	}

	if strings.HasSuffix(u.Filename, ".py") {
		if err := CheckPythonSyntax(u.Content); err != nil {
			return nil, &ValidationError{Reason: fmt.Sprintf("python syntax check failed for %s: %v", u.Filename, err)}
		}
		if warn, ok := checkRelativeImports(u.Filename, u.Content); !ok {
			result.Warnings = append(result.Warnings, warn)
		}
	}

	if u.Filename == "requirements.txt" {
		if err := checkRequiredPackages(u.Content); err != nil {
			return nil, err
		}
	}

	return &result, nil
}

// checkRequiredPackages rejects a requirements.txt proposal that drops any
// entry in requiredPackages, regardless of what else it adds.
func checkRequiredPackages(content string) error {
	for _, pkg := range requiredPackages {
		if !strings.Contains(content, pkg) {
			return &ValidationError{Reason: fmt.Sprintf("required package %q is missing from requirements.txt", pkg)}
		}
	}
	return nil
}

func (v *Validator) validateFilename(filename string) error {
	if filename == "" {
		return &ValidationError{Reason: "empty filename"}
	}
	if len(filename) > 100 {
		return &ValidationError{Reason: fmt.Sprintf("filename %q exceeds 100 characters", filename)}
	}
	if strings.HasPrefix(filename, "/") || strings.Contains(filename, "..") {
		return &ValidationError{Reason: fmt.Sprintf("filename %q is not a simple relative path", filename)}
	}
	if invalidFilenameChars.MatchString(filename) {
		return &ValidationError{Reason: fmt.Sprintf("filename %q contains disallowed characters", filename)}
	}
	if v.protected[filename] {
		return &ValidationError{Reason: fmt.Sprintf("filename %q is protected", filename)}
	}
	return nil
}

func normalizeWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}

// relativeImportRe matches a Python "from .x import y" / "from . import y"
// statement, the only import form §4.3's best-effort check verifies.
var relativeImportRe = regexp.MustCompile(`(?m)^\s*from\s+(\.+)(\w[\w.]*)?\s+import\s+`)

// checkRelativeImports is a best-effort sibling-file check: it can't run a
// real Python import resolver, so it only flags a relative import whose
// dotted module path has an empty segment (e.g. "from .a..b import c"); a
// bare "from . import" with no name is not checked. A clean result is a
// non-fatal pass-through;
// anything else is surfaced as a warning rather than a hard rejection,
// matching §4.3's "best-effort" framing.
func checkRelativeImports(filename, content string) (string, bool) {
	matches := relativeImportRe.FindAllStringSubmatch(content, -1)
	for _, m := range matches {
		module := m[2]
		if module != "" && strings.Contains(module, "..") {
			return fmt.Sprintf("%s: relative import %q looks malformed", filename, strings.TrimSpace(m[0])), false
		}
	}
	return "", true
}
