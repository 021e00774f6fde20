package history

import (
	"strings"

	"github.com/MinhQuang2612/chatsync/internal/models"
)

// Normalize resolves a fetched message's kind and rewrites large/binary
// payloads that are local filesystem paths under the configured upload
// root into absolute reachable URLs. Anything else is left untouched.
func (c *Client) Normalize(m models.Message) models.Message {
	m.Kind = models.ResolveKind(m.Kind, m.Payload, c.opts.StickerHost)

	switch m.Kind {
	case models.KindImage, models.KindVideo, models.KindFile:
		if c.opts.UploadRoot != "" && strings.HasPrefix(m.Payload, c.opts.UploadRoot) {
			m.Payload = c.opts.FileBaseURL + strings.TrimPrefix(m.Payload, c.opts.UploadRoot)
		}
	}
	return m
}
