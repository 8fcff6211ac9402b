// Package replay implements the Conversation Replay Rewriter (C12):
// reconstructing a conversation from a previous_response_id and
// stripping image payloads out of the replayed history before it is
// sent upstream again.
package replay

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/openresponses/orchestrator/internal/chatmodel"
)

// ItemFetcher is the subset of itemstore.Store this package needs.
// Accepting the narrower interface keeps this package's dependency on
// the store to exactly the two read operations it uses.
type ItemFetcher interface {
	GetInputItems(ctx context.Context, id string) ([]chatmodel.InputItem, error)
	GetOutputItems(ctx context.Context, id string) ([]chatmodel.InputItem, error)
}

// imageFormat is the inferred format of a redacted image payload.
type imageFormat string

const (
	formatJPEG imageFormat = "JPEG"
	formatPNG  imageFormat = "PNG"
	formatWebP imageFormat = "WEBP"
	formatGIF  imageFormat = "GIF"

	imageGenerationTool = "image_generation"

	// longTextThreshold is the minimum length a text field must reach
	// before the base64-image heuristic (rule 3) considers it.
	longTextThreshold = 5000
)

// base64Pattern matches the body of a base64 string (§4.11 rule 3).
var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/]*={0,2}$`)

// Rewrite fetches the stored input+output items for previousResponseID,
// appends the current request's input items, and applies the image
// strip, in that order (§4.11). Returns whatever error the fetcher
// surfaces (expected to be orcherrors.ErrPreviousResponseNotFound when
// the id is unknown).
func Rewrite(ctx context.Context, fetcher ItemFetcher, previousResponseID string, currentItems []chatmodel.InputItem) ([]chatmodel.InputItem, error) {
	previousInputs, err := fetcher.GetInputItems(ctx, previousResponseID)
	if err != nil {
		return nil, fmt.Errorf("replay: fetch previous input items: %w", err)
	}
	previousOutputs, err := fetcher.GetOutputItems(ctx, previousResponseID)
	if err != nil {
		return nil, fmt.Errorf("replay: fetch previous output items: %w", err)
	}

	merged := make([]chatmodel.InputItem, 0, len(previousInputs)+len(previousOutputs)+len(currentItems))
	merged = append(merged, previousInputs...)
	merged = append(merged, previousOutputs...)
	merged = append(merged, currentItems...)

	return stripImages(merged), nil
}

// stripImages replaces image payloads in the merged item list with
// short sentinel markers, preserving every other field byte for byte
// (§4.11). It is idempotent: running it again on its own output is a
// no-op, since rules 1 and 2 leave values that are already sentinels
// alone and a sentinel is too short for rule 3's base64 check.
func stripImages(items []chatmodel.InputItem) []chatmodel.InputItem {
	imageCallIDs := make(map[string]bool)
	for _, item := range items {
		if item.Type == chatmodel.InputItemFunctionCall && item.Name == imageGenerationTool {
			imageCallIDs[item.CallID] = true
		}
	}

	out := make([]chatmodel.InputItem, len(items))
	for i, item := range items {
		out[i] = redactItem(item, imageCallIDs)
	}
	return out
}

func redactItem(item chatmodel.InputItem, imageCallIDs map[string]bool) chatmodel.InputItem {
	redacted := item

	// Rule 1: function_call_output paired with an image_generation call.
	// Guarded by isSentinel so re-running the strip on already-redacted
	// output leaves it alone (idempotence).
	if item.Type == chatmodel.InputItemFunctionCallOutput && imageCallIDs[item.CallID] {
		if !isSentinel(item.Output) {
			redacted.Output = sentinel(formatOf(item.Output))
		}
		return redacted
	}

	// Rule 2 + rule 3 over this item's content parts.
	if len(item.Content) > 0 {
		content := make([]chatmodel.ContentPart, len(item.Content))
		for i, part := range item.Content {
			content[i] = redactContentPart(part)
		}
		redacted.Content = content
	}

	// Rule 3 over a plain function_call_output's text, for payloads not
	// tied to an image_generation call_id.
	if item.Type == chatmodel.InputItemFunctionCallOutput {
		if format, ok := detectLongBase64(item.Output); ok {
			redacted.Output = sentinel(format)
		}
	}

	return redacted
}

func redactContentPart(part chatmodel.ContentPart) chatmodel.ContentPart {
	// Rule 2: type metadata says this is already an output image.
	if part.Type == chatmodel.ContentOutputImage {
		if isSentinel(part.Text) {
			return part
		}
		payload := part.Text
		if payload == "" {
			payload = part.ImageData
		}
		return chatmodel.ContentPart{Type: part.Type, Text: sentinel(formatOf(payload))}
	}

	// Rule 3: heuristic detection on long text content.
	if format, ok := detectLongBase64(part.Text); ok {
		return chatmodel.ContentPart{Type: part.Type, Text: sentinel(format)}
	}
	return part
}

// detectLongBase64 applies rule 3: text over the length threshold
// whose extracted payload is valid base64 and matches a known image
// magic signature.
func detectLongBase64(s string) (imageFormat, bool) {
	if len(s) <= longTextThreshold {
		return "", false
	}
	candidate := extractCandidate(s)
	if !base64Pattern.MatchString(candidate) {
		return "", false
	}
	return detectImageFormat(candidate)
}

// formatOf infers an image_generation payload's format regardless of
// length, used for rule 1/2 where the field is already known to carry
// an image.
func formatOf(s string) imageFormat {
	candidate := extractCandidate(s)
	format, _ := detectImageFormat(candidate)
	return format
}

// extractCandidate unwraps a data URI, a "base64:"-prefixed string, or
// a base64 value embedded in a known URL query parameter, falling
// back to the raw string itself.
func extractCandidate(s string) string {
	if strings.HasPrefix(s, "data:") {
		if idx := strings.Index(s, ";base64,"); idx >= 0 {
			return s[idx+len(";base64,"):]
		}
	}
	if rest, ok := strings.CutPrefix(s, "base64:"); ok {
		return rest
	}
	if u, err := url.Parse(s); err == nil && u.RawQuery != "" {
		q := u.Query()
		for _, key := range []string{"data", "image", "content", "base64"} {
			if v := q.Get(key); v != "" {
				return v
			}
		}
	}
	return s
}

// detectImageFormat matches a candidate payload against the known
// magic signatures (§4.11 rule 3), each given in the encoding the
// signature is actually observed in (hex for JPEG/one PNG variant,
// base64 text for the rest).
func detectImageFormat(candidate string) (imageFormat, bool) {
	upper := strings.ToUpper(candidate)
	switch {
	case strings.HasPrefix(upper, "FFD8"):
		return formatJPEG, true
	case strings.HasPrefix(candidate, "iVBORw0KGgo") || strings.Contains(upper, "89504E47"):
		return formatPNG, true
	case strings.HasPrefix(candidate, "UklGR"):
		return formatWebP, true
	case strings.HasPrefix(candidate, "R0lGOD"):
		return formatGIF, true
	default:
		return "", false
	}
}

// sentinel builds the replacement marker for a redacted image
// payload, falling back to a generic marker when the format could not
// be inferred.
func sentinel(format imageFormat) string {
	if format == "" {
		return "<image>..."
	}
	return fmt.Sprintf("<%s>...", format)
}

// isSentinel reports whether s is already one of this package's
// redaction markers, so re-running the strip is a no-op on its own
// output.
func isSentinel(s string) bool {
	return strings.HasPrefix(s, "<") && strings.HasSuffix(s, ">...")
}
