// Package outbound turns a compose action into a message: optimistic
// insert, transmission over the push channel, and reconciliation of the
// optimistic entry with the acknowledgment.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/MinhQuang2612/chatsync/internal/metrics"
	"github.com/MinhQuang2612/chatsync/internal/models"
	"github.com/MinhQuang2612/chatsync/internal/socket"
	"github.com/MinhQuang2612/chatsync/internal/store"
)

// Transport is the slice of the connection manager the pipeline needs.
type Transport interface {
	Emit(event string, payload interface{}, ack socket.AckFunc)
	NextMessageID() string
}

// DurabilityWriter is the out-of-band REST persistence contract.
type DurabilityWriter interface {
	Persist(ctx context.Context, m models.Message) error
}

// BlobEncoder prepares a local media reference into an inline encoded
// payload (data-URI). External collaborator.
type BlobEncoder interface {
	Encode(ctx context.Context, localRef string) (string, error)
}

// FailureFunc surfaces a user-visible send failure after the optimistic
// entry has been rolled back. A retry is always a fresh, explicit user
// action; the pipeline never retries on its own, since a silent retry
// would mint a new ID and defeat dedup.
type FailureFunc func(messageID string, err error)

// Pipeline is the outbound send pipeline for one session.
type Pipeline struct {
	selfID  string
	store   *store.Store
	conn    Transport
	durable DurabilityWriter
	blobs   BlobEncoder
	logger  zerolog.Logger
	onFail  FailureFunc
}

// New creates a pipeline. durable and blobs may be nil in tests.
func New(selfID string, st *store.Store, conn Transport, durable DurabilityWriter, blobs BlobEncoder, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		selfID:  selfID,
		store:   st,
		conn:    conn,
		durable: durable,
		blobs:   blobs,
		logger:  logger,
		onFail:  func(string, error) {},
	}
}

// OnFailure registers the user-visible failure surface.
func (p *Pipeline) OnFailure(fn FailureFunc) {
	if fn != nil {
		p.onFail = fn
	}
}

func (p *Pipeline) compose(ref models.ConversationRef, kind models.Kind, payload string) models.Message {
	m := models.Message{
		ID:        p.conn.NextMessageID(),
		SenderID:  p.selfID,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UnixMilli(),
		Status:    models.StatusPending,
	}
	if ref.Kind == models.ConversationGroup {
		m.GroupID = ref.TargetID
	} else {
		m.ReceiverID = ref.TargetID
	}
	return m
}

// SendText sends an inline text payload: optimistic merge, then
// transmit. Returns the client-generated message ID.
func (p *Pipeline) SendText(ref models.ConversationRef, text string) string {
	m := p.compose(ref, models.KindText, text)
	p.store.Merge(m)
	p.transmit(ref, m)
	return m.ID
}

// SendSticker sends a sticker-provider URL.
func (p *Pipeline) SendSticker(ref models.ConversationRef, url string) string {
	m := p.compose(ref, models.KindSticker, url)
	p.store.Merge(m)
	p.transmit(ref, m)
	return m.ID
}

// SendMedia sends a binary payload. A placeholder entry is merged first
// so the conversation shows an immediate affordance; once the blob is
// encoded the same ID is merged again with the final payload, leaning
// on the merge algorithm's same-ID overwrite. Encoding failure rolls
// the placeholder back before anything is transmitted.
func (p *Pipeline) SendMedia(ctx context.Context, ref models.ConversationRef, kind models.Kind, localRef string) string {
	m := p.compose(ref, kind, models.PendingUpload)
	p.store.Merge(m)

	go func() {
		payload, err := p.encodeBlob(ctx, localRef)
		if err != nil {
			p.store.Remove(ref, m.ID)
			p.logger.Warn().Err(err).Str("id", m.ID).Msg("blob preparation failed, send aborted")
			p.onFail(m.ID, fmt.Errorf("%w: %v", models.ErrBlobPreparation, err))
			return
		}
		final := m
		final.Payload = payload
		p.store.Merge(final)
		p.transmit(ref, final)
	}()
	return m.ID
}

// encodeBlob runs the configured encoder; a session wired without one
// fails every media send through the normal rollback path rather than
// crashing.
func (p *Pipeline) encodeBlob(ctx context.Context, localRef string) (string, error) {
	if p.blobs == nil {
		return "", errors.New("no blob encoder configured")
	}
	return p.blobs.Encode(ctx, localRef)
}

// transmit emits the message with an acknowledgment callback. Anything
// other than the success sentinel (a different response, or a timeout)
// removes the optimistic entry and surfaces the failure.
func (p *Pipeline) transmit(ref models.ConversationRef, m models.Message) {
	event := models.EventSendMessage
	if ref.Kind == models.ConversationGroup {
		event = models.EventSendGroupMessage
	}

	p.conn.Emit(event, m, func(resp string, err error) {
		if err != nil || resp != models.AckSendOK {
			p.rollback(ref, m.ID, err)
			return
		}
		confirmed := m
		confirmed.Status = models.StatusSent
		p.store.Merge(confirmed)
		metrics.Sends.WithLabelValues("acked").Inc()
		go p.persist(confirmed)
	})
}

// rollback removes the optimistic entry and surfaces the failure. When
// the push echo has already confirmed the same ID the entry is no
// longer pending and the late outcome is discarded: the message was
// delivered, whatever the acknowledgment path thinks.
func (p *Pipeline) rollback(ref models.ConversationRef, id string, cause error) {
	if !p.store.Remove(ref, id) {
		p.logger.Debug().Str("id", id).Msg("send outcome ignored, entry already confirmed")
		return
	}
	metrics.Sends.WithLabelValues("rolled_back").Inc()
	if cause == nil {
		cause = models.ErrSendFailure
	} else {
		cause = fmt.Errorf("%w: %v", models.ErrSendFailure, cause)
	}
	p.logger.Warn().Err(cause).Str("id", id).Msg("send rolled back")
	p.onFail(id, cause)
}

// persist runs the best-effort durability write. The push-channel
// acknowledgment is the authoritative success signal; a failure here is
// logged and nothing is rolled back.
func (p *Pipeline) persist(m models.Message) {
	if p.durable == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.durable.Persist(ctx, m); err != nil {
		p.logger.Warn().Err(err).Str("id", m.ID).Msg("durability write failed")
	}
}
