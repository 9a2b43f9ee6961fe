package audit

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lingkarclub/access-engine/internal/domain"
	pkgcontext "github.com/lingkarclub/access-engine/internal/pkg/context"
)

// Logger provides structured audit logging for business events
type Logger struct {
	log zerolog.Logger
}

// New creates a new audit logger
func New(log zerolog.Logger) *Logger {
	return &Logger{
		log: log.With().Bool("audit", true).Logger(),
	}
}

// PassClaimed logs when a user claims a pass for a gathering
func (l *Logger) PassClaimed(ctx context.Context, gatheringID, userID uuid.UUID, status domain.PassStatus, waitlisted bool, idempotencyKey string) {
	l.log.Info().
		Str("action", "pass_claimed").
		Str("gathering_id", gatheringID.String()).
		Str("user_id", userID.String()).
		Str("status", string(status)).
		Bool("waitlisted", waitlisted).
		Str("idempotency_key", idempotencyKey).
		Str("trace_id", getTraceID(ctx)).
		Msg("User claimed a pass")
}

// PassCanceled logs when a user cancels their own pass
func (l *Logger) PassCanceled(ctx context.Context, gatheringID, userID uuid.UUID, idempotencyKey string) {
	l.log.Info().
		Str("action", "pass_canceled").
		Str("gathering_id", gatheringID.String()).
		Str("user_id", userID.String()).
		Str("idempotency_key", idempotencyKey).
		Str("trace_id", getTraceID(ctx)).
		Msg("User canceled their pass")
}

// PassRevoked logs when a host or operator revokes someone's pass
func (l *Logger) PassRevoked(ctx context.Context, gatheringID, targetID, actorID uuid.UUID, reason string) {
	l.log.Warn().
		Str("action", "pass_revoked").
		Str("gathering_id", gatheringID.String()).
		Str("target_user_id", targetID.String()).
		Str("actor_user_id", actorID.String()).
		Str("reason", reason).
		Str("trace_id", getTraceID(ctx)).
		Msg("Pass revoked by moderator")
}

// GatheringCanceled logs when a curation snapshot cancels a gathering
func (l *Logger) GatheringCanceled(ctx context.Context, gatheringID uuid.UUID, reason string) {
	l.log.Warn().
		Str("action", "gathering_canceled").
		Str("gathering_id", gatheringID.String()).
		Str("reason", reason).
		Str("trace_id", getTraceID(ctx)).
		Msg("Gathering canceled, live passes revoked")
}

// OutboxMessageSent logs when an outbox message is successfully published
func (l *Logger) OutboxMessageSent(ctx context.Context, messageID, routingKey string) {
	l.log.Debug().
		Str("action", "outbox_sent").
		Str("message_id", messageID).
		Str("routing_key", routingKey).
		Msg("Outbox message sent")
}

// OutboxMessageDead logs when an outbox message is moved to dead status
func (l *Logger) OutboxMessageDead(ctx context.Context, messageID, routingKey string, retries int) {
	l.log.Error().
		Str("action", "outbox_dead").
		Str("message_id", messageID).
		Str("routing_key", routingKey).
		Int("retries", retries).
		Msg("Outbox message moved to dead status")
}

// getTraceID extracts the request trace ID from context if available
func getTraceID(ctx context.Context) string {
	return pkgcontext.GetRequestID(ctx)
}
