package llm

import (
	"strings"

	"github.com/duplexai/duplex/internal/types"
)

// ContinuationMimeType tags the opaque data part that carries "resume the
// upstream conversation from this point" state between turns.
const ContinuationMimeType = "application/x-continuation-marker"

// continuationSeparator joins model id and upstream turn id in the marker
// payload. The encoding is persisted by hosts across sessions, so it must
// stay bit-compatible.
const continuationSeparator = `\`

// EncodeContinuationMarker builds the marker payload for a completed turn.
func EncodeContinuationMarker(modelID, responseID string) []byte {
	return []byte(modelID + continuationSeparator + responseID)
}

// DecodeContinuationMarker splits a marker payload into its model id and
// upstream turn id. ok is false when the payload is not a marker.
func DecodeContinuationMarker(data []byte) (modelID, responseID string, ok bool) {
	s := string(data)
	i := strings.Index(s, continuationSeparator)
	if i <= 0 || i == len(s)-1 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// findContinuation scans the conversation for the most recent continuation
// marker whose embedded model identity matches modelID. It returns the
// embedded upstream turn id and the messages strictly after the marker
// (the portion of history that still needs resending). Markers for other
// models are ignored. Returns ("", nil) when no usable marker exists.
func findContinuation(modelID string, messages []types.Message) (string, []types.Message) {
	for i := len(messages) - 1; i >= 0; i-- {
		for _, p := range messages[i].Parts {
			if p.Type != types.PartData || p.MimeType != ContinuationMimeType {
				continue
			}
			mid, rid, ok := DecodeContinuationMarker(p.Data)
			if !ok || mid != modelID {
				continue
			}
			return rid, messages[i+1:]
		}
	}
	return "", nil
}
