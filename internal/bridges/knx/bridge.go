package knx

import (
	"context"
	"math"
	"time"

	"github.com/nerrad567/gray-audio-core/internal/command"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

// commandTimeout bounds a single inbound command dispatch.
const commandTimeout = 10 * time.Second

// sendTimeout bounds one outbound status telegram.
const sendTimeout = 5 * time.Second

// Dispatcher issues commands decoded from inbound group telegrams.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) command.Result
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// commandBinding resolves one command group address to a pipeline target.
type commandBinding struct {
	kind     command.TargetKind
	index    int
	function string
}

// statusKey identifies one outbound field binding.
type statusKey struct {
	kind  topology.EntityKind
	index int
	field string
}

// Bridge connects the topology to the KNX bus in both directions.
//
// Inbound, group writes on mapped command addresses become pipeline
// commands: a wall switch dimming the kitchen writes a DPT 5.001
// percentage, the bridge dispatches set_volume. Telegrams on unmapped
// addresses are ignored; the bus carries plenty of unrelated traffic.
//
// Outbound, it is a notification publisher: mapped field changes are
// written to their status addresses so panels track actual state,
// whatever source caused the change.
type Bridge struct {
	conn       Connector
	dispatcher Dispatcher
	logger     Logger

	commands map[uint16]commandBinding
	status   map[statusKey]GroupAddress
}

// NewBridge builds a bridge over a connected knxd client and a
// validated mapping config.
func NewBridge(conn Connector, dispatcher Dispatcher, mappings *MappingConfig) *Bridge {
	b := &Bridge{
		conn:       conn,
		dispatcher: dispatcher,
		logger:     noopLogger{},
		commands:   make(map[uint16]commandBinding),
		status:     make(map[statusKey]GroupAddress),
	}

	for _, zm := range mappings.Zones {
		for name, ac := range zm.Functions {
			b.bind(command.TargetZone, topology.KindZone, zm.Zone, name, ac)
		}
	}
	for _, cm := range mappings.Clients {
		for name, ac := range cm.Functions {
			b.bind(command.TargetClient, topology.KindClient, cm.Client, name, ac)
		}
	}

	return b
}

// bind indexes one function's command and status addresses.
// Addresses were validated by LoadMappings; parse errors cannot occur here.
func (b *Bridge) bind(cmdKind command.TargetKind, entKind topology.EntityKind, index int, function string, ac AddressConfig) {
	if ac.GA != "" {
		if ga, err := ParseGroupAddress(ac.GA); err == nil {
			b.commands[ga.ToUint16()] = commandBinding{kind: cmdKind, index: index, function: function}
		}
	}
	if ac.StatusGA != "" {
		if ga, err := ParseGroupAddress(ac.StatusGA); err == nil {
			b.status[statusKey{kind: entKind, index: index, field: functionField(function)}] = ga
		}
	}
}

// functionField maps a mapping function name to its topology field.
func functionField(function string) string {
	switch function {
	case FuncVolume:
		return topology.FieldVolume
	case FuncMute:
		return topology.FieldMuted
	case FuncPlay:
		return topology.FieldPlaying
	case FuncConnected:
		return topology.FieldConnected
	default:
		return ""
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	if logger != nil {
		b.logger = logger
	}
}

// Start registers the inbound telegram handler. Call after the
// dispatcher is wired.
func (b *Bridge) Start() {
	b.conn.SetOnTelegram(b.handleTelegram)
	b.logger.Info("knx bridge started",
		"command_addresses", len(b.commands),
		"status_addresses", len(b.status))
}

// handleTelegram decodes a group write into a command and dispatches it.
// Reads, responses, and unmapped addresses are ignored.
func (b *Bridge) handleTelegram(t Telegram) {
	if !t.IsWrite() {
		return
	}

	binding, ok := b.commands[t.Destination.ToUint16()]
	if !ok {
		return
	}

	operation, payload, err := decodeCommand(binding.function, t.Data)
	if err != nil {
		b.logger.Warn("undecodable group write",
			"ga", t.Destination.String(), "source", t.Source, "error", err)
		return
	}

	cmd := command.New(binding.kind, binding.index, operation, payload, command.SourceKNX)

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	result := b.dispatcher.Dispatch(ctx, cmd)
	if !result.OK {
		b.logger.Warn("knx command rejected",
			"ga", t.Destination.String(),
			"operation", operation,
			"target", string(binding.kind),
			"index", binding.index,
			"kind", string(result.Kind),
			"error", result.Message)
		return
	}

	b.logger.Debug("knx command dispatched",
		"ga", t.Destination.String(), "operation", operation, "index", binding.index)
}

// decodeCommand turns a function name and raw telegram data into an
// operation and payload.
func decodeCommand(function string, data []byte) (string, map[string]any, error) {
	switch function {
	case FuncVolume:
		percent, err := DecodeDPT5(data)
		if err != nil {
			return "", nil, err
		}
		return command.OpSetVolume, map[string]any{"volume": int(math.Round(percent))}, nil
	case FuncMute:
		muted, err := DecodeDPT1(data)
		if err != nil {
			return "", nil, err
		}
		return command.OpSetMute, map[string]any{"muted": muted}, nil
	case FuncPlay:
		playing, err := DecodeDPT1(data)
		if err != nil {
			return "", nil, err
		}
		return command.OpSetPlaying, map[string]any{"playing": playing}, nil
	default:
		return "", nil, ErrInvalidMapping
	}
}

// Publish writes a field change to its status group address, if one is
// mapped. Implements the notification publisher contract; it must not
// block, and a disconnected bus only costs a log line.
func (b *Bridge) Publish(n topology.Notification) {
	ga, ok := b.status[statusKey{kind: n.Kind, index: n.Index, field: n.Field}]
	if !ok {
		return
	}

	data, ok := encodeStatus(n.Field, n.New)
	if !ok {
		b.logger.Warn("unencodable status value",
			"ga", ga.String(), "field", n.Field)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	if err := b.conn.Send(ctx, ga, data); err != nil {
		b.logger.Warn("status telegram failed",
			"ga", ga.String(), "field", n.Field, "error", err)
	}
}

// encodeStatus encodes a field value for the bus.
func encodeStatus(field string, value any) ([]byte, bool) {
	switch field {
	case topology.FieldVolume:
		switch v := value.(type) {
		case int:
			return EncodeDPT5(float64(v)), true
		case float64:
			return EncodeDPT5(v), true
		}
	case topology.FieldMuted, topology.FieldPlaying, topology.FieldConnected:
		if v, ok := value.(bool); ok {
			return EncodeDPT1(v), true
		}
	}
	return nil, false
}
