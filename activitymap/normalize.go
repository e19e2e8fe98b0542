package activitymap

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"strconv"
	"strings"
	"time"

	auth "github.com/goliatone/go-franchise-auth"
)

const (
	// MetadataKeyTenantID stores the tenant the event happened in.
	MetadataKeyTenantID = "tenant_id"
	// MetadataKeyDeviceID stores the device bound to the session, if any.
	MetadataKeyDeviceID = "device_id"
	// MetadataKeyIdentifier is the login identifier, used as actor when the
	// user could not be resolved.
	MetadataKeyIdentifier = "identifier"
)

// Normalized is a transport-agnostic activity shape for downstream systems.
type Normalized struct {
	ActorID    string         `json:"actor_id"`
	Verb       string         `json:"verb"`
	ObjectType string         `json:"object_type,omitempty"`
	ObjectID   string         `json:"object_id,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
}

// Normalizer maps auth activity events to Normalized records.
type Normalizer struct {
	Channel       string
	ObjectType    string
	ActorFallback string
	// ObjectID overrides the default object id, the event user id.
	ObjectID func(auth.ActivityEvent) string
}

// Option customizes a Normalizer.
type Option func(*Normalizer)

// New returns a Normalizer for channel "auth" and object type "user". Events
// with no user and no identifier are attributed to "anonymous".
func New(opts ...Option) Normalizer {
	n := Normalizer{
		Channel:       "auth",
		ObjectType:    "user",
		ActorFallback: "anonymous",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&n)
		}
	}
	return n
}

// Normalize converts event with a Normalizer built from opts.
func Normalize(event auth.ActivityEvent, opts ...Option) Normalized {
	return New(opts...).Normalize(event)
}

// Sink adapts fn into an auth.ActivitySink that receives normalized records.
func Sink(fn func(context.Context, Normalized) error, opts ...Option) auth.ActivitySink {
	return New(opts...).Sink(fn)
}

func (n Normalizer) Normalize(event auth.ActivityEvent) Normalized {
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	objectID := formatID(event.UserID)
	if n.ObjectID != nil {
		objectID = strings.TrimSpace(n.ObjectID(event))
	}

	return Normalized{
		ActorID: cmp.Or(
			formatID(event.UserID),
			metadataString(event.Metadata, MetadataKeyIdentifier),
			n.ActorFallback,
		),
		Verb:       string(event.EventType),
		ObjectType: n.ObjectType,
		ObjectID:   objectID,
		Channel:    n.Channel,
		Metadata:   metadata(event),
		OccurredAt: occurredAt,
	}
}

func (n Normalizer) Sink(fn func(context.Context, Normalized) error) auth.ActivitySink {
	return auth.ActivitySinkFunc(func(ctx context.Context, event auth.ActivityEvent) error {
		if fn == nil {
			return nil
		}
		return fn(ctx, n.Normalize(event))
	})
}

func WithDefaultChannel(channel string) Option {
	return func(n *Normalizer) { n.Channel = strings.TrimSpace(channel) }
}

func WithDefaultObjectType(objectType string) Option {
	return func(n *Normalizer) { n.ObjectType = strings.TrimSpace(objectType) }
}

func WithObjectIDResolver(resolver func(auth.ActivityEvent) string) Option {
	return func(n *Normalizer) { n.ObjectID = resolver }
}

func WithActorFallback(actorID string) Option {
	return func(n *Normalizer) { n.ActorFallback = strings.TrimSpace(actorID) }
}

// metadata copies the event metadata and adds tenant and device. The source
// map is never mutated.
func metadata(event auth.ActivityEvent) map[string]any {
	var out map[string]any
	if len(event.Metadata) > 0 {
		out = maps.Clone(event.Metadata)
	}

	set := func(key string, value any) {
		if out == nil {
			out = map[string]any{}
		}
		out[key] = value
	}

	if event.TenantID != 0 {
		set(MetadataKeyTenantID, event.TenantID)
	}
	if deviceID := strings.TrimSpace(event.DeviceID); deviceID != "" {
		set(MetadataKeyDeviceID, deviceID)
	}

	return out
}

func formatID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}

func metadataString(md map[string]any, key string) string {
	value, ok := md[key]
	if !ok || value == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(value))
}
