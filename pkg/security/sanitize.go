package security

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// IdentifierDisallowed matches characters not allowed in a cloud name or upload preset.
	IdentifierDisallowed = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
	// AssetIDDisallowed also allows slash and dot, since remote IDs may encode folders.
	AssetIDDisallowed = regexp.MustCompile(`[^a-zA-Z0-9_\-./]`)
	// MethodCodeDisallowed matches characters not allowed in a transform code.
	MethodCodeDisallowed = regexp.MustCompile(`[^a-zA-Z0-9_:]`)

	// CloudNameFormat is the post-sanitization gate for cloud names.
	CloudNameFormat = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	// AssetIDFormat accepts slash- or dot-separated segments and nothing else,
	// so "..", empty segments and leading or trailing separators are rejected.
	AssetIDFormat = regexp.MustCompile(`^[a-zA-Z0-9_-]+(?:[./][a-zA-Z0-9_-]+)*$`)

	unsafePathChars = regexp.MustCompile(`[<>:"|?*\x00-\x1f\x7f]`)
)

var doubleQuoteEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	`$`, `\$`,
	"`", "\\`",
)

// EscapeShellArg quotes s as a single POSIX shell word.
// Embedded single quotes become '\'' so the word always evaluates to s.
func EscapeShellArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// EscapeDoubleQuoted escapes s for use inside a double-quoted shell segment.
// Spaces and parentheses are left alone; the caller must place the result
// between double quotes.
func EscapeDoubleQuoted(s string) string {
	return doubleQuoteEscaper.Replace(s)
}

// SanitizePath strips control characters and < > : " | ? * from p and
// normalizes separators. It does not confine the path: ".." survives.
func SanitizePath(p string) string {
	stripped := unsafePathChars.ReplaceAllString(p, "")
	if strings.TrimSpace(stripped) == "" {
		return ""
	}
	return filepath.Clean(filepath.FromSlash(stripped))
}

// SanitizeFilename replaces characters unsafe in a file name with underscores.
func SanitizeFilename(name string) string {
	return unsafePathChars.ReplaceAllString(name, "_")
}

// SanitizeIdentifier trims s and removes every character matched by disallowed.
func SanitizeIdentifier(s string, disallowed *regexp.Regexp) string {
	return disallowed.ReplaceAllString(strings.TrimSpace(s), "")
}

// ValidIdentifier reports whether s matches format. It never mutates s.
func ValidIdentifier(s string, format *regexp.Regexp) bool {
	return format.MatchString(s)
}

// SanitizeCloudName cleans a cloud account name.
func SanitizeCloudName(s string) string {
	return SanitizeIdentifier(s, IdentifierDisallowed)
}

// SanitizeUploadPreset cleans an upload preset name.
func SanitizeUploadPreset(s string) string {
	return SanitizeIdentifier(s, IdentifierDisallowed)
}

// SanitizeAssetID cleans a remote asset identifier.
func SanitizeAssetID(s string) string {
	return SanitizeIdentifier(s, AssetIDDisallowed)
}

// SanitizeMethodCode cleans a transformation code.
func SanitizeMethodCode(s string) string {
	return SanitizeIdentifier(s, MethodCodeDisallowed)
}
