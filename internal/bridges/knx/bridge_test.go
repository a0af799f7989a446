package knx

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/gray-audio-core/internal/command"
	"github.com/nerrad567/gray-audio-core/internal/topology"
)

type sentTelegram struct {
	ga   GroupAddress
	data []byte
}

type fakeConnector struct {
	callback func(Telegram)
	sent     []sentTelegram
	sendErr  error
}

func (f *fakeConnector) Send(_ context.Context, ga GroupAddress, data []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentTelegram{ga: ga, data: data})
	return nil
}

func (f *fakeConnector) SendRead(context.Context, GroupAddress) error { return nil }
func (f *fakeConnector) SetOnTelegram(cb func(Telegram))              { f.callback = cb }
func (f *fakeConnector) IsConnected() bool                            { return true }
func (f *fakeConnector) Stats() KNXDStats                             { return KNXDStats{Connected: true} }
func (f *fakeConnector) Close() error                                 { return nil }

// inject simulates a group write arriving from the bus.
func (f *fakeConnector) inject(ga string, data []byte) {
	addr, _ := ParseGroupAddress(ga)
	f.callback(Telegram{
		Source:      "1.1.5",
		Destination: addr,
		APCI:        APCIWrite,
		Data:        data,
		Timestamp:   time.Now(),
	})
}

type stubDispatcher struct {
	commands []command.Command
	result   command.Result
}

func (s *stubDispatcher) Dispatch(_ context.Context, cmd command.Command) command.Result {
	s.commands = append(s.commands, cmd)
	return s.result
}

func testMappings(t *testing.T) *MappingConfig {
	t.Helper()
	cfg := &MappingConfig{
		Zones: []ZoneMapping{
			{Zone: 1, Functions: map[string]AddressConfig{
				FuncVolume: {GA: "2/1/1", StatusGA: "2/1/2", DPT: "5.001"},
				FuncPlay:   {GA: "2/1/3", StatusGA: "2/1/4", DPT: "1.001"},
			}},
		},
		Clients: []ClientMapping{
			{Client: 2, Functions: map[string]AddressConfig{
				FuncMute:      {GA: "2/2/1", DPT: "1.001"},
				FuncConnected: {StatusGA: "2/2/2", DPT: "1.001"},
			}},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test mappings invalid: %v", err)
	}
	return cfg
}

func TestBridgeInboundVolume(t *testing.T) {
	conn := &fakeConnector{}
	disp := &stubDispatcher{result: command.Success(nil)}
	bridge := NewBridge(conn, disp, testMappings(t))
	bridge.Start()

	conn.inject("2/1/1", EncodeDPT5(70))

	if len(disp.commands) != 1 {
		t.Fatalf("dispatched = %d, want 1", len(disp.commands))
	}
	cmd := disp.commands[0]
	if cmd.TargetKind != command.TargetZone || cmd.TargetIndex != 1 {
		t.Errorf("target = %s/%d, want zone/1", cmd.TargetKind, cmd.TargetIndex)
	}
	if cmd.Operation != command.OpSetVolume {
		t.Errorf("operation = %q, want set_volume", cmd.Operation)
	}
	if cmd.Source != command.SourceKNX {
		t.Errorf("source = %q, want knx", cmd.Source)
	}
	if got := cmd.Payload["volume"]; got != 70 {
		t.Errorf("volume = %v, want 70", got)
	}
}

func TestBridgeInboundPlayAndMute(t *testing.T) {
	conn := &fakeConnector{}
	disp := &stubDispatcher{result: command.Success(nil)}
	bridge := NewBridge(conn, disp, testMappings(t))
	bridge.Start()

	conn.inject("2/1/3", EncodeDPT1(true)) // zone play
	conn.inject("2/2/1", EncodeDPT1(true)) // client mute

	if len(disp.commands) != 2 {
		t.Fatalf("dispatched = %d, want 2", len(disp.commands))
	}
	if disp.commands[0].Operation != command.OpSetPlaying || disp.commands[0].Payload["playing"] != true {
		t.Errorf("first = %+v", disp.commands[0])
	}
	if disp.commands[1].TargetKind != command.TargetClient || disp.commands[1].TargetIndex != 2 {
		t.Errorf("second target = %s/%d", disp.commands[1].TargetKind, disp.commands[1].TargetIndex)
	}
	if disp.commands[1].Operation != command.OpSetMute {
		t.Errorf("second op = %q", disp.commands[1].Operation)
	}
}

func TestBridgeIgnoresUnmappedAndNonWrites(t *testing.T) {
	conn := &fakeConnector{}
	disp := &stubDispatcher{result: command.Success(nil)}
	bridge := NewBridge(conn, disp, testMappings(t))
	bridge.Start()

	// Unmapped address.
	conn.inject("5/5/5", EncodeDPT1(true))

	// Read request on a mapped address.
	addr, _ := ParseGroupAddress("2/1/1")
	conn.callback(Telegram{Destination: addr, APCI: APCIRead})

	// Status address is not a command address.
	conn.inject("2/1/2", EncodeDPT5(50))

	if len(disp.commands) != 0 {
		t.Fatalf("dispatched = %d, want 0", len(disp.commands))
	}
}

func TestBridgeOutboundStatus(t *testing.T) {
	conn := &fakeConnector{}
	disp := &stubDispatcher{result: command.Success(nil)}
	bridge := NewBridge(conn, disp, testMappings(t))
	bridge.Start()

	bridge.Publish(topology.Notification{
		Kind:  topology.KindZone,
		Index: 1,
		Field: topology.FieldVolume,
		New:   55,
	})
	bridge.Publish(topology.Notification{
		Kind:  topology.KindClient,
		Index: 2,
		Field: topology.FieldConnected,
		New:   true,
	})

	if len(conn.sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(conn.sent))
	}
	if conn.sent[0].ga.String() != "2/1/2" {
		t.Errorf("volume status ga = %s, want 2/1/2", conn.sent[0].ga)
	}
	decoded, err := DecodeDPT5(conn.sent[0].data)
	if err != nil || int(decoded+0.5) != 55 {
		t.Errorf("volume payload = %X (%g)", conn.sent[0].data, decoded)
	}
	if conn.sent[1].ga.String() != "2/2/2" {
		t.Errorf("connected status ga = %s, want 2/2/2", conn.sent[1].ga)
	}
}

func TestBridgeOutboundUnmappedField(t *testing.T) {
	conn := &fakeConnector{}
	disp := &stubDispatcher{result: command.Success(nil)}
	bridge := NewBridge(conn, disp, testMappings(t))
	bridge.Start()

	// Mute has no status GA for zone 1; stream changes are never mapped.
	bridge.Publish(topology.Notification{
		Kind: topology.KindZone, Index: 1, Field: topology.FieldMuted, New: true,
	})
	bridge.Publish(topology.Notification{
		Kind: topology.KindZone, Index: 1, Field: topology.FieldStreamID, New: "radio",
	})

	if len(conn.sent) != 0 {
		t.Fatalf("sent = %d, want 0", len(conn.sent))
	}
}

func TestBridgeUndecodablePayload(t *testing.T) {
	conn := &fakeConnector{}
	disp := &stubDispatcher{result: command.Success(nil)}
	bridge := NewBridge(conn, disp, testMappings(t))
	bridge.Start()

	conn.inject("2/1/1", nil) // volume write with no data

	if len(disp.commands) != 0 {
		t.Fatalf("dispatched = %d, want 0", len(disp.commands))
	}
}
