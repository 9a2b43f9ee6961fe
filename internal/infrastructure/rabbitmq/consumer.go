package rabbitmq

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/lingkarclub/access-engine/internal/audit"
	"github.com/lingkarclub/access-engine/internal/contracts/event"
	"github.com/lingkarclub/access-engine/internal/domain"
	"github.com/lingkarclub/access-engine/internal/pkg/logger"
)

const (
	supportedVersion = 1

	rkGatheringPublished = "gathering.published"
	rkGatheringUpdated   = "gathering.updated"
	rkGatheringCanceled  = "gathering.canceled"
	rkDropPublished      = "drop.published"
	rkDropUpdated        = "drop.updated"
	rkAccountUpdated     = "account.updated"
)

// snapshotStore is the Tx-capable slice of the postgres repository the
// consumer needs for atomic "dedupe fence + side effects".
type snapshotStore interface {
	ProcessOnce(ctx context.Context, messageID, handlerName string, fn func(tx pgx.Tx) error) (bool, error)
	UpsertGatheringTx(ctx context.Context, tx pgx.Tx, g domain.Gathering) error
	UpsertDropTx(ctx context.Context, tx pgx.Tx, d domain.Drop) error
	UpsertAccountTx(ctx context.Context, tx pgx.Tx, a domain.Account) error
	CancelGatheringTx(ctx context.Context, tx pgx.Tx, traceID string, gatheringID uuid.UUID, reason string) error
}

// Consumer maintains the local catalog read model from the curation and
// identity feeds.
type Consumer struct {
	rabbitURL string
	exchange  string
	catalog   domain.CatalogRepository
	cache     domain.CacheRepository
	audit     *audit.Logger
}

// NewConsumer wires the snapshot consumer. cache and aud may be nil.
func NewConsumer(rabbitURL, exchange string, catalog domain.CatalogRepository, cache domain.CacheRepository, aud *audit.Logger) *Consumer {
	return &Consumer{
		rabbitURL: strings.TrimSpace(rabbitURL),
		exchange:  strings.TrimSpace(exchange),
		catalog:   catalog,
		cache:     cache,
		audit:     aud,
	}
}

func (c *Consumer) Start(ctx context.Context) error {
	log := logger.Logger.With().Str("component", "rabbitmq_consumer").Logger()

	conn, err := amqp.Dial(c.rabbitURL)
	if err != nil {
		return err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}

	// Ensure exchange exists (idempotent)
	if err := ch.ExchangeDeclare(c.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	q, err := ch.QueueDeclare(
		"access-engine.catalog-snapshots",
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	bindKeys := []string{
		rkGatheringPublished, rkGatheringUpdated, rkGatheringCanceled,
		rkDropPublished, rkDropUpdated,
		rkAccountUpdated,
	}
	for _, rk := range bindKeys {
		if err := ch.QueueBind(q.Name, rk, c.exchange, false, nil); err != nil {
			_ = ch.Close()
			_ = conn.Close()
			return err
		}
	}

	if err := ch.Qos(10, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	deliveries, err := ch.Consume(q.Name, "access-engine", false, false, false, false, nil)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}

	go func() {
		defer func() {
			_ = ch.Close()
			_ = conn.Close()
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}

				if err := c.handleDelivery(ctx, d); err != nil {
					_ = d.Nack(false, true) // transient => requeue
					continue
				}
				_ = d.Ack(false)
			}
		}
	}()

	log.Info().Str("queue", q.Name).Msg("consumer started")
	return nil
}

func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) error {
	baseLog := logger.Logger.With().
		Str("component", "rabbitmq_consumer").
		Str("routing_key", d.RoutingKey).
		Logger()

	var env event.DomainEventEnvelope[json.RawMessage]
	if err := json.Unmarshal(d.Body, &env); err != nil {
		baseLog.Warn().Err(err).Msg("invalid envelope json; dropping")
		return nil // poison => drop
	}

	if env.Version != supportedVersion {
		baseLog.Warn().Int("version", env.Version).Msg("unsupported envelope version; dropping")
		return nil
	}

	// message_id: prefer envelope.message_id, then AMQP MessageId, else hash fallback
	msgID := strings.TrimSpace(env.MessageID)
	if msgID == "" {
		msgID = strings.TrimSpace(d.MessageId)
	}
	if msgID == "" {
		h := sha256.Sum256(append([]byte(d.RoutingKey+"\n"), d.Body...))
		msgID = "hash:" + hex.EncodeToString(h[:])
	}

	traceID := strings.TrimSpace(env.TraceID)
	log := baseLog.With().
		Str("message_id", msgID).
		Str("trace_id", traceID).
		Logger()

	const handlerName = "catalog_snapshots"

	if store, ok := any(c.catalog).(snapshotStore); ok {
		processed, err := store.ProcessOnce(ctx, msgID, handlerName, func(tx pgx.Tx) error {
			return c.applySnapshotTx(ctx, store, tx, d.RoutingKey, env.Payload, traceID, log)
		})
		if err != nil {
			log.Error().Err(err).Msg("processing failed (requeue)")
			return err
		}
		if !processed {
			log.Info().Msg("duplicate delivery ignored")
			return nil
		}
		c.refreshCache(ctx, d.RoutingKey, env.Payload)
		return nil
	}

	// Compatibility path without the Tx fence, for catalogs that cannot
	// expose one. Still better than dropping.
	log.Warn().Msg("catalog does not support transactional dedupe; processing without fence")
	if err := c.applySnapshot(ctx, d.RoutingKey, env.Payload, traceID, log); err != nil {
		return err
	}
	c.refreshCache(ctx, d.RoutingKey, env.Payload)
	return nil
}

// refreshCache pushes the capacity snapshot into the read cache after the
// DB commit. Best effort: a stale cache only costs one extra DB read.
func (c *Consumer) refreshCache(ctx context.Context, routingKey string, raw json.RawMessage) {
	if c.cache == nil {
		return
	}
	switch routingKey {
	case rkGatheringPublished, rkGatheringUpdated:
		var p event.GatheringSnapshotPayload
		if err := json.Unmarshal(raw, &p); err != nil || p.Capacity == nil {
			return
		}
		if gid, err := uuid.Parse(strings.TrimSpace(p.GatheringID)); err == nil {
			_ = c.cache.SetGatheringCapacity(ctx, gid, *p.Capacity)
		}
	case rkGatheringCanceled:
		var p event.GatheringCanceledPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return
		}
		idStr := strings.TrimSpace(p.GatheringID)
		if idStr == "" {
			idStr = strings.TrimSpace(p.ID)
		}
		if gid, err := uuid.Parse(idStr); err == nil {
			_ = c.cache.SetGatheringCapacity(ctx, gid, -1)
		}
	}
}

func (c *Consumer) applySnapshotTx(
	ctx context.Context,
	store snapshotStore,
	tx pgx.Tx,
	routingKey string,
	raw json.RawMessage,
	traceID string,
	log zerolog.Logger,
) error {
	switch routingKey {
	case rkGatheringPublished, rkGatheringUpdated:
		g, ok := parseGatheringSnapshot(raw, log)
		if !ok {
			return nil
		}
		return store.UpsertGatheringTx(ctx, tx, g)

	case rkGatheringCanceled:
		gid, reason, ok := parseGatheringCanceled(raw, log)
		if !ok {
			return nil
		}
		if err := store.CancelGatheringTx(ctx, tx, traceID, gid, reason); err != nil {
			return err
		}
		if c.audit != nil {
			c.audit.GatheringCanceled(ctx, gid, reason)
		}
		return nil

	case rkDropPublished, rkDropUpdated:
		d, ok := parseDropSnapshot(raw, log)
		if !ok {
			return nil
		}
		return store.UpsertDropTx(ctx, tx, d)

	case rkAccountUpdated:
		a, ok := parseAccountSnapshot(raw, log)
		if !ok {
			return nil
		}
		return store.UpsertAccountTx(ctx, tx, a)

	default:
		log.Warn().Msg("unknown routing key; ignoring")
		return nil
	}
}

func (c *Consumer) applySnapshot(ctx context.Context, routingKey string, raw json.RawMessage, traceID string, log zerolog.Logger) error {
	switch routingKey {
	case rkGatheringPublished, rkGatheringUpdated:
		g, ok := parseGatheringSnapshot(raw, log)
		if !ok {
			return nil
		}
		return c.catalog.UpsertGathering(ctx, g)

	case rkGatheringCanceled:
		gid, reason, ok := parseGatheringCanceled(raw, log)
		if !ok {
			return nil
		}
		if err := c.catalog.CancelGathering(ctx, traceID, gid, reason); err != nil {
			return err
		}
		if c.audit != nil {
			c.audit.GatheringCanceled(ctx, gid, reason)
		}
		return nil

	default:
		log.Warn().Msg("routing key unsupported without transactional store; ignoring")
		return nil
	}
}

func parseGatheringSnapshot(raw json.RawMessage, log zerolog.Logger) (domain.Gathering, bool) {
	var p event.GatheringSnapshotPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Msg("invalid payload json; dropping")
		return domain.Gathering{}, false
	}
	if strings.TrimSpace(p.GatheringID) == "" || p.Capacity == nil {
		log.Warn().Msg("missing fields; dropping")
		return domain.Gathering{}, false
	}
	gid, err := uuid.Parse(p.GatheringID)
	if err != nil {
		log.Warn().Err(err).Msg("invalid gathering_id; dropping")
		return domain.Gathering{}, false
	}

	g := domain.Gathering{
		ID:                      gid,
		Title:                   p.Title,
		EventDate:               p.EventDate,
		StartTime:               p.StartTime,
		EndTime:                 p.EndTime,
		TimeRevealLeadHours:     p.TimeRevealLeadHours,
		LocationRevealLeadHours: p.LocationRevealLeadHours,
		MinimumLayer:            domain.Layer(p.MinimumLayer),
		VenueName:               p.VenueName,
		VenueAddress:            p.VenueAddress,
		Area:                    p.Area,
		City:                    p.City,
		Capacity:                *p.Capacity,
	}
	if hostID, err := uuid.Parse(strings.TrimSpace(p.HostID)); err == nil {
		g.HostID = hostID
	}
	return g, true
}

func parseGatheringCanceled(raw json.RawMessage, log zerolog.Logger) (uuid.UUID, string, bool) {
	var p event.GatheringCanceledPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Msg("invalid payload json; dropping")
		return uuid.Nil, "", false
	}

	// tolerate legacy field
	idStr := strings.TrimSpace(p.GatheringID)
	if idStr == "" {
		idStr = strings.TrimSpace(p.ID)
	}
	if idStr == "" {
		log.Warn().Msg("missing gathering_id; dropping")
		return uuid.Nil, "", false
	}
	gid, err := uuid.Parse(idStr)
	if err != nil {
		log.Warn().Err(err).Msg("invalid gathering_id; dropping")
		return uuid.Nil, "", false
	}

	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		reason = "gathering_canceled"
	}
	return gid, reason, true
}

func parseDropSnapshot(raw json.RawMessage, log zerolog.Logger) (domain.Drop, bool) {
	var p event.DropSnapshotPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Msg("invalid payload json; dropping")
		return domain.Drop{}, false
	}
	did, err := uuid.Parse(strings.TrimSpace(p.DropID))
	if err != nil {
		log.Warn().Err(err).Msg("invalid drop_id; dropping")
		return domain.Drop{}, false
	}

	d := domain.Drop{
		GatedContent: domain.GatedContent{
			ID:                 did,
			Title:              p.Title,
			RequiredVisibility: domain.Visibility(p.RequiredVisibility),
			Description:        p.Description,
			PriceIDR:           p.PriceIDR,
			StoryBlurb:         p.StoryBlurb,
			StoryFull:          p.StoryFull,
			LocationDetail:     p.LocationDetail,
			MediaURL:           p.MediaURL,
		},
		RequiredLayer: domain.Layer(p.RequiredLayer),
	}
	if p.AttendanceLockGatheringID != nil {
		if gid, err := uuid.Parse(strings.TrimSpace(*p.AttendanceLockGatheringID)); err == nil {
			d.AttendanceLockGatheringID = &gid
		}
	}
	return d, true
}

func parseAccountSnapshot(raw json.RawMessage, log zerolog.Logger) (domain.Account, bool) {
	var p event.AccountSnapshotPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		log.Warn().Err(err).Msg("invalid payload json; dropping")
		return domain.Account{}, false
	}
	aid, err := uuid.Parse(strings.TrimSpace(p.AccountID))
	if err != nil {
		log.Warn().Err(err).Msg("invalid account_id; dropping")
		return domain.Account{}, false
	}
	return domain.Account{
		ID:     aid,
		Role:   p.Role,
		Status: domain.AccountStatus(p.Status),
	}, true
}
