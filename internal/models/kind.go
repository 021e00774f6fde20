package models

import (
	"path"
	"strings"
)

// videoExtensions is the known video extension set used by the
// extension fallback of ResolveKind.
var videoExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".avi":  {},
	".mkv":  {},
	".webm": {},
	".m4v":  {},
	".3gp":  {},
}

// ResolveKind resolves the content kind of a payload. The precedence is
// authoritative and must not be reordered:
//
//  1. sticker-provider URL → sticker
//  2. inline image data-URI → image
//  3. inline video data-URI → video
//  4. the explicit tag, when present
//  5. filename with a known video extension → video
//  6. text
//
// Steps 1-3 are intrinsic payload evidence and override any tag. The
// extension fallback is weaker and applies only to untagged records: a
// text message that happens to end in ".mp4" stays text.
func ResolveKind(explicit Kind, payload, stickerHost string) Kind {
	if stickerHost != "" && strings.HasPrefix(payload, stickerHost) {
		return KindSticker
	}
	if strings.HasPrefix(payload, "data:image/") {
		return KindImage
	}
	if strings.HasPrefix(payload, "data:video/") {
		return KindVideo
	}
	if explicit != "" {
		return explicit
	}
	ext := strings.ToLower(path.Ext(strings.TrimRight(payload, "/")))
	if _, ok := videoExtensions[ext]; ok {
		return KindVideo
	}
	return KindText
}
