package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nerrad567/gray-audio-core/internal/command"
	"github.com/nerrad567/gray-audio-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-audio-core/internal/reconcile"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// commandTimeout bounds a single inbound command dispatch.
const commandTimeout = 10 * time.Second

// Dispatcher issues commands parsed from inbound MQTT traffic.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) command.Result
}

// Broker is the subset of the MQTT client the bridge uses.
// Satisfied by *mqtt.Client.
type Broker interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	PublishRetained(topic string, payload []byte) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
}

// Logger defines the logging interface used by the Bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Bridge connects the topology to an MQTT broker in both directions.
//
// Outbound, it is a notification publisher: every field change becomes
// one retained message on its own state topic, so subscribers track
// exactly the fields they care about and late joiners see full state.
//
// Inbound, it subscribes to the command topics and feeds parsed
// commands into the pipeline. Malformed topics and payloads are logged
// and dropped; a broken publisher must not take the core down.
type Bridge struct {
	client     Broker
	dispatcher Dispatcher
	logger     Logger
	topics     mqtt.Topics
}

// New creates an MQTT bridge over an already connected client.
func New(client Broker, dispatcher Dispatcher) *Bridge {
	return &Bridge{
		client:     client,
		dispatcher: dispatcher,
		logger:     noopLogger{},
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.logger = logger
}

// Start subscribes to the inbound command topics.
func (b *Bridge) Start() error {
	for _, pattern := range []string{b.topics.AllZoneCommands(), b.topics.AllClientCommands()} {
		if err := b.client.Subscribe(pattern, 1, b.handleCommand); err != nil {
			return fmt.Errorf("subscribing to %s: %w", pattern, err)
		}
	}
	return nil
}

// Publish implements notify.Publisher. One changed field becomes one
// retained state message.
func (b *Bridge) Publish(n topology.Notification) {
	var topic string
	switch n.Kind {
	case topology.KindZone:
		topic = b.topics.ZoneState(n.Index, n.Field)
	case topology.KindClient:
		topic = b.topics.ClientState(n.Index, n.Field)
	default:
		return
	}

	payload, err := json.Marshal(statePayload{
		Value:     n.New,
		Timestamp: n.Timestamp,
	})
	if err != nil {
		b.logger.Error("encoding state payload", "topic", topic, "error", err)
		return
	}

	if err := b.client.PublishRetained(topic, payload); err != nil {
		b.logger.Warn("publishing state", "topic", topic, "error", err)
	}
}

// RecordReconcilePass implements reconcile.StatsRecorder: each pass
// summary is published non-retained for dashboards that watch
// convergence.
func (b *Bridge) RecordReconcilePass(report reconcile.Report) {
	payload, err := json.Marshal(report)
	if err != nil {
		b.logger.Error("encoding reconcile report", "error", err)
		return
	}
	if err := b.client.Publish(b.topics.SystemReconcile(), payload, 0, false); err != nil {
		b.logger.Warn("publishing reconcile report", "error", err)
	}
}

// statePayload is the wire shape of one retained state message.
type statePayload struct {
	Value     any       `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// handleCommand parses one inbound command message and dispatches it.
func (b *Bridge) handleCommand(topic string, payload []byte) error {
	parsed, err := mqtt.ParseCommandTopic(topic)
	if err != nil {
		return err
	}

	cmdPayload := make(map[string]any)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &cmdPayload); err != nil {
			return fmt.Errorf("decoding command payload on %s: %w", topic, err)
		}
	}

	kind := command.TargetZone
	if parsed.Target == "client" {
		kind = command.TargetClient
	}
	cmd := command.New(kind, parsed.Index, parsed.Operation, cmdPayload, command.SourceMQTT)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	result := b.dispatcher.Dispatch(ctx, cmd)
	if !result.OK {
		b.logger.Warn("mqtt command rejected",
			"topic", topic,
			"failure", result.Kind,
			"error", result.Err,
		)
		return nil
	}

	b.logger.Debug("mqtt command applied",
		"topic", topic,
		"correlation_id", cmd.CorrelationID,
	)
	return nil
}
