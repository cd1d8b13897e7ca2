package agent

import (
	"regexp"
	"strings"

	"github.com/haasonsaas/nexus/internal/tools/policy"
	"github.com/haasonsaas/nexus/pkg/models"
)

// DefaultMaxToolResultSize is the default maximum size for a single text
// content part within a sanitized tool result (64KB). This bounds memory and
// history storage cost independent of any per-provider limit.
const DefaultMaxToolResultSize = 64 * 1024

// DefaultMaxInlineBinarySize is the largest image/file payload kept inline
// before sanitization replaces it with a blob reference.
const DefaultMaxInlineBinarySize = 256 * 1024

// builtinSecretPatterns contains pre-compiled patterns for detecting common secrets.
// These are always applied when SanitizeSecrets is enabled.
var builtinSecretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*['"]?[\w-]{20,}['"]?`),
	regexp.MustCompile(`(?i)bearer\s+[\w-\.]+`),
	regexp.MustCompile(`(?i)(aws|amazon).*?(key|secret|token)\s*[:=]\s*['"]?[\w/+=]{20,}['"]?`),
	regexp.MustCompile(`(?i)(password|passwd|secret|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`),
	regexp.MustCompile(`-----BEGIN (RSA |EC |DSA |OPENSSH )?PRIVATE KEY-----`),
}

// ToolResultGuard controls how a tool's sanitized result is redacted and
// trimmed before it becomes part of history, matching the sanitization
// contract: oversized inline binaries become blob references, oversized
// text parts are truncated, and secret-shaped substrings are redacted.
type ToolResultGuard struct {
	Enabled            bool
	MaxChars           int
	MaxInlineBinary    int
	Denylist           []string
	RedactPatterns     []string
	RedactionText      string
	TruncateSuffix     string
	SanitizeSecrets    bool
	BlobReferenceStore BlobStore
}

// BlobStore persists an oversized inline binary and returns a reference URL
// for it. A nil store causes oversized binaries to be dropped in place
// (empty Data, URL left blank) rather than panicking.
type BlobStore interface {
	Put(toolCallID string, part models.ContentPart) (url string, err error)
}

func (g ToolResultGuard) active() bool {
	return g.Enabled || g.MaxChars > 0 || g.MaxInlineBinary > 0 || len(g.Denylist) > 0 ||
		len(g.RedactPatterns) > 0 || g.RedactionText != "" || g.TruncateSuffix != "" || g.SanitizeSecrets
}

// Apply sanitizes one SanitizedToolResult in place (returning the sanitized
// copy): denylisted tools are fully redacted, text parts are secret-scrubbed
// and truncated, and oversized image/file parts are replaced with blob
// references.
func (g ToolResultGuard) Apply(toolName string, result models.SanitizedToolResult, resolver *policy.Resolver) models.SanitizedToolResult {
	if !g.active() {
		return result
	}

	redaction := strings.TrimSpace(g.RedactionText)
	if redaction == "" {
		redaction = "[REDACTED]"
	}
	truncateSuffix := strings.TrimSpace(g.TruncateSuffix)
	if truncateSuffix == "" {
		truncateSuffix = "...[truncated]"
	}

	if len(g.Denylist) > 0 && matchesToolPatterns(g.Denylist, toolName, resolver) {
		result.Content = []models.ContentPart{models.TextPart(redaction)}
		return result
	}

	maxChars := g.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultMaxToolResultSize
	}
	maxBinary := g.MaxInlineBinary
	if maxBinary <= 0 {
		maxBinary = DefaultMaxInlineBinarySize
	}

	sanitized := make([]models.ContentPart, len(result.Content))
	for i, part := range result.Content {
		switch part.Type {
		case models.ContentText:
			sanitized[i] = g.sanitizeText(part, redaction, truncateSuffix, maxChars)
		case models.ContentImage, models.ContentFile:
			sanitized[i] = g.sanitizeBinary(part, result.Meta.ToolCallID, maxBinary)
		default:
			sanitized[i] = part
		}
	}
	result.Content = sanitized
	return result
}

func (g ToolResultGuard) sanitizeText(part models.ContentPart, redaction, truncateSuffix string, maxChars int) models.ContentPart {
	content := part.Text

	if g.SanitizeSecrets && content != "" {
		for _, re := range builtinSecretPatterns {
			content = re.ReplaceAllString(content, redaction)
		}
	}

	if len(g.RedactPatterns) > 0 && content != "" {
		for _, pattern := range g.RedactPatterns {
			pattern = strings.TrimSpace(pattern)
			if pattern == "" {
				continue
			}
			re, err := regexp.Compile(pattern)
			if err != nil {
				continue
			}
			content = re.ReplaceAllString(content, redaction)
		}
	}

	if len(content) > maxChars {
		cutoff := maxChars
		if cutoff > len(content) {
			cutoff = len(content)
		}
		content = content[:cutoff] + truncateSuffix
	}

	part.Text = content
	return part
}

func (g ToolResultGuard) sanitizeBinary(part models.ContentPart, toolCallID string, maxBinary int) models.ContentPart {
	if len(part.Data) <= maxBinary {
		return part
	}
	if g.BlobReferenceStore != nil {
		if url, err := g.BlobReferenceStore.Put(toolCallID, part); err == nil {
			part.URL = url
			part.Data = nil
			return part
		}
	}
	part.Data = nil
	if part.URL == "" {
		part.URL = "blob:unavailable"
	}
	return part
}

// DetectSecrets scans content for potential secrets and returns a list of
// matched pattern descriptions, useful for logging or alerting.
func DetectSecrets(content string) []string {
	if content == "" {
		return nil
	}

	patternNames := []string{
		"api_key",
		"bearer_token",
		"aws_key",
		"generic_secret",
		"private_key",
	}

	var matches []string
	for i, re := range builtinSecretPatterns {
		if re.MatchString(content) {
			matches = append(matches, patternNames[i])
		}
	}
	return matches
}

// SanitizeText applies default security sanitization to a plain string:
// truncates past DefaultMaxToolResultSize and redacts detected secrets. This
// is the building block Apply uses per text part, exposed as a convenience
// for callers formatting a raw tool string result before wrapping it in a
// ContentPart.
func SanitizeText(text string) string {
	if len(text) > DefaultMaxToolResultSize {
		text = text[:DefaultMaxToolResultSize] + "\n...[truncated]"
	}
	for _, re := range builtinSecretPatterns {
		text = re.ReplaceAllString(text, "[REDACTED]")
	}
	return text
}
