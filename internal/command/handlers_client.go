package command

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-audio-core/internal/topology"
)

func (p *Pipeline) registerClientHandlers() {
	p.registry.register(TargetClient, OpSetVolume, p.handleClientSetVolume)
	p.registry.register(TargetClient, OpSetMute, p.handleClientSetMute)
	p.registry.register(TargetClient, OpSetLatency, p.handleClientSetLatency)
	p.registry.register(TargetClient, OpSetName, p.handleClientSetName)
	p.registry.register(TargetClient, OpSetConnected, p.handleClientSetConnected)
}

func (p *Pipeline) handleClientSetVolume(ctx context.Context, cmd Command) (any, error) {
	volume, err := intParam(cmd.Payload, "volume")
	if err != nil {
		return nil, err
	}
	if volume < topology.MinVolume || volume > topology.MaxVolume {
		return nil, fmt.Errorf("%w: volume %d outside [%d,%d]",
			ErrParameterRange, volume, topology.MinVolume, topology.MaxVolume)
	}

	client, err := p.store.GetClient(cmd.TargetIndex)
	if err != nil {
		return nil, err
	}
	if client.Volume == volume {
		return volume, nil
	}

	client.Volume = volume
	if err := p.store.SetClientState(cmd.TargetIndex, client); err != nil {
		return nil, err
	}
	if p.audio != nil && client.SnapcastID != "" {
		if err := p.audio.SetClientVolume(ctx, client.SnapcastID, volume, client.Muted); err != nil {
			return nil, fmt.Errorf("push volume to client %d: %w", cmd.TargetIndex, err)
		}
	}
	return volume, nil
}

func (p *Pipeline) handleClientSetMute(ctx context.Context, cmd Command) (any, error) {
	muted, err := boolParam(cmd.Payload, "muted")
	if err != nil {
		return nil, err
	}

	client, err := p.store.GetClient(cmd.TargetIndex)
	if err != nil {
		return nil, err
	}
	if client.Muted == muted {
		return muted, nil
	}

	client.Muted = muted
	if err := p.store.SetClientState(cmd.TargetIndex, client); err != nil {
		return nil, err
	}
	if p.audio != nil && client.SnapcastID != "" {
		if err := p.audio.SetClientVolume(ctx, client.SnapcastID, client.Volume, muted); err != nil {
			return nil, fmt.Errorf("push mute to client %d: %w", cmd.TargetIndex, err)
		}
	}
	return muted, nil
}

func (p *Pipeline) handleClientSetLatency(ctx context.Context, cmd Command) (any, error) {
	latency, err := intParam(cmd.Payload, "latency_ms")
	if err != nil {
		return nil, err
	}
	if latency < 0 {
		return nil, fmt.Errorf("%w: latency_ms %d is negative", ErrParameterRange, latency)
	}

	client, err := p.store.GetClient(cmd.TargetIndex)
	if err != nil {
		return nil, err
	}
	if client.LatencyMS == latency {
		return latency, nil
	}

	client.LatencyMS = latency
	if err := p.store.SetClientState(cmd.TargetIndex, client); err != nil {
		return nil, err
	}
	if p.audio != nil && client.SnapcastID != "" {
		if err := p.audio.SetClientLatency(ctx, client.SnapcastID, latency); err != nil {
			return nil, fmt.Errorf("push latency to client %d: %w", cmd.TargetIndex, err)
		}
	}
	return latency, nil
}

func (p *Pipeline) handleClientSetName(ctx context.Context, cmd Command) (any, error) {
	name, err := stringParam(cmd.Payload, "name")
	if err != nil {
		return nil, err
	}
	if name == "" {
		return nil, fmt.Errorf("%w: name is empty", ErrParameterRange)
	}

	client, err := p.store.GetClient(cmd.TargetIndex)
	if err != nil {
		return nil, err
	}
	if client.Name == name {
		return name, nil
	}

	client.Name = name
	if err := p.store.SetClientState(cmd.TargetIndex, client); err != nil {
		return nil, err
	}
	if p.audio != nil && client.SnapcastID != "" {
		if err := p.audio.SetClientName(ctx, client.SnapcastID, name); err != nil {
			return nil, fmt.Errorf("push name to client %d: %w", cmd.TargetIndex, err)
		}
	}
	return name, nil
}

// handleClientSetConnected records connectivity observed from the audio
// server. Only the snapcast event feed issues it.
func (p *Pipeline) handleClientSetConnected(_ context.Context, cmd Command) (any, error) {
	if cmd.Source != SourceInternal {
		return nil, fmt.Errorf("%w: %s from source %q", ErrSourceNotAllowed, OpSetConnected, cmd.Source)
	}
	connected, err := boolParam(cmd.Payload, "connected")
	if err != nil {
		return nil, err
	}

	client, err := p.store.GetClient(cmd.TargetIndex)
	if err != nil {
		return nil, err
	}
	client.Connected = connected
	if err := p.store.SetClientState(cmd.TargetIndex, client); err != nil {
		return nil, err
	}
	return connected, nil
}
