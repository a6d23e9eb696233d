// Package events forwards applied workflow transitions to a watermill
// publisher so that other processes can follow sample lifecycles.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"limscore/internal/workflow"
	"limscore/pkg/domain"
)

// TopicTransitioned carries one message per applied transition.
const TopicTransitioned = "workflow.transitioned"

// Metadata keys set on every message.
const (
	MetadataUID        = "uid"
	MetadataPortalType = "portal_type"
	MetadataTransition = "transition"
)

// Transitioned is the JSON payload of a transition message.
type Transitioned struct {
	UID           string               `json:"uid"`
	PortalType    string               `json:"portal_type"`
	Workflow      string               `json:"workflow"`
	Transition    string               `json:"transition"`
	StateVariable domain.StateVariable `json:"state_variable"`
	OldState      string               `json:"old_state"`
	NewState      string               `json:"new_state"`
	Actor         string               `json:"actor,omitempty"`
	OccurredAt    time.Time            `json:"occurred_at"`
}

// Publisher implements workflow.Publisher on a watermill message.Publisher.
type Publisher struct {
	pub   message.Publisher
	topic string
	now   func() time.Time
}

var _ workflow.Publisher = (*Publisher)(nil)

// NewPublisher wraps pub. An empty topic selects TopicTransitioned.
func NewPublisher(pub message.Publisher, topic string) *Publisher {
	if topic == "" {
		topic = TopicTransitioned
	}
	return &Publisher{pub: pub, topic: topic, now: func() time.Time { return time.Now().UTC() }}
}

// Topic returns the topic messages are published to.
func (p *Publisher) Topic() string { return p.topic }

// PublishTransition encodes ev and publishes it.
func (p *Publisher) PublishTransition(ctx context.Context, ev workflow.Event) error {
	body := Transitioned{
		UID:           ev.Object.UID,
		PortalType:    ev.Object.PortalType,
		Workflow:      ev.Workflow,
		Transition:    ev.Transition,
		StateVariable: ev.StateVariable,
		OldState:      ev.OldState,
		NewState:      ev.NewState,
		OccurredAt:    p.now(),
	}
	if ev.Request != nil {
		body.Actor = ev.Request.Actor
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.SetContext(ctx)
	msg.Metadata.Set(MetadataUID, body.UID)
	msg.Metadata.Set(MetadataPortalType, body.PortalType)
	msg.Metadata.Set(MetadataTransition, body.Transition)
	return p.pub.Publish(p.topic, msg)
}

// Decode parses a transition message payload.
func Decode(msg *message.Message) (Transitioned, error) {
	var t Transitioned
	err := json.Unmarshal(msg.Payload, &t)
	return t, err
}

// NewInProcess returns an in-memory pub/sub for single-process deployments
// and tests. It implements both message.Publisher and message.Subscriber.
func NewInProcess(logger *slog.Logger) *gochannel.GoChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 256,
	}, watermill.NewSlogLogger(logger.With("module", "events")))
}
