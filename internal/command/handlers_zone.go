package command

import (
	"context"
	"fmt"

	"github.com/nerrad567/gray-audio-core/internal/topology"
)

func (p *Pipeline) registerZoneHandlers() {
	p.registry.register(TargetZone, OpSetVolume, p.handleZoneSetVolume)
	p.registry.register(TargetZone, OpSetMute, p.handleZoneSetMute)
	p.registry.register(TargetZone, OpSetPlaying, p.handleZoneSetPlaying)
	p.registry.register(TargetZone, OpSetTrackRepeat, p.handleZoneSetTrackRepeat)
	p.registry.register(TargetZone, OpSetPlaylistRepeat, p.handleZoneSetPlaylistRepeat)
	p.registry.register(TargetZone, OpSetPlaylistShuffle, p.handleZoneSetPlaylistShuffle)
	p.registry.register(TargetZone, OpSetStream, p.handleZoneSetStream)
	p.registry.register(TargetZone, OpSetPlaylist, p.handleZoneSetPlaylist)
	p.registry.register(TargetZone, OpSetTrack, p.handleZoneSetTrack)
	p.registry.register(TargetZone, OpAssignClient, p.handleZoneAssignClient)
	p.registry.register(TargetZone, OpSetGroupID, p.handleZoneSetGroupID)
}

// handleZoneSetVolume sets a zone's volume and applies it uniformly to
// every member client, pushing each client level to the audio server.
func (p *Pipeline) handleZoneSetVolume(ctx context.Context, cmd Command) (any, error) {
	volume, err := intParam(cmd.Payload, "volume")
	if err != nil {
		return nil, err
	}
	if volume < topology.MinVolume || volume > topology.MaxVolume {
		return nil, fmt.Errorf("%w: volume %d outside [%d,%d]",
			ErrParameterRange, volume, topology.MinVolume, topology.MaxVolume)
	}

	zone, err := p.store.GetZone(cmd.TargetIndex)
	if err != nil {
		return nil, err
	}
	if zone.Volume == volume {
		return volume, nil
	}

	zone.Volume = volume
	if err := p.store.SetZoneState(cmd.TargetIndex, zone); err != nil {
		return nil, err
	}

	for _, memberIndex := range zone.Members {
		client, err := p.store.GetClient(memberIndex)
		if err != nil {
			continue
		}
		client.Volume = volume
		if err := p.store.SetClientState(memberIndex, client); err != nil {
			return nil, err
		}
		if p.audio != nil && client.SnapcastID != "" {
			if err := p.audio.SetClientVolume(ctx, client.SnapcastID, volume, client.Muted); err != nil {
				return nil, fmt.Errorf("push volume to client %d: %w", memberIndex, err)
			}
		}
	}
	return volume, nil
}

func (p *Pipeline) handleZoneSetMute(ctx context.Context, cmd Command) (any, error) {
	muted, err := boolParam(cmd.Payload, "muted")
	if err != nil {
		return nil, err
	}

	zone, err := p.store.GetZone(cmd.TargetIndex)
	if err != nil {
		return nil, err
	}
	if zone.Muted == muted {
		return muted, nil
	}

	zone.Muted = muted
	if err := p.store.SetZoneState(cmd.TargetIndex, zone); err != nil {
		return nil, err
	}
	if p.audio != nil && zone.GroupID != "" {
		if err := p.audio.SetGroupMute(ctx, zone.GroupID, muted); err != nil {
			return nil, fmt.Errorf("push mute to group %s: %w", zone.GroupID, err)
		}
	}
	return muted, nil
}

// handleZoneSetPlaying records desired transport state. The media
// backend observes the state change through its bridge; no direct push
// happens here.
func (p *Pipeline) handleZoneSetPlaying(_ context.Context, cmd Command) (any, error) {
	playing, err := boolParam(cmd.Payload, "playing")
	if err != nil {
		return nil, err
	}
	return playing, p.updateZone(cmd.TargetIndex, func(z *topology.Zone) {
		z.Playing = playing
	})
}

func (p *Pipeline) handleZoneSetTrackRepeat(_ context.Context, cmd Command) (any, error) {
	repeat, err := boolParam(cmd.Payload, "repeat")
	if err != nil {
		return nil, err
	}
	return repeat, p.updateZone(cmd.TargetIndex, func(z *topology.Zone) {
		z.TrackRepeat = repeat
	})
}

func (p *Pipeline) handleZoneSetPlaylistRepeat(_ context.Context, cmd Command) (any, error) {
	repeat, err := boolParam(cmd.Payload, "repeat")
	if err != nil {
		return nil, err
	}
	return repeat, p.updateZone(cmd.TargetIndex, func(z *topology.Zone) {
		z.PlaylistRepeat = repeat
	})
}

func (p *Pipeline) handleZoneSetPlaylistShuffle(_ context.Context, cmd Command) (any, error) {
	shuffle, err := boolParam(cmd.Payload, "shuffle")
	if err != nil {
		return nil, err
	}
	return shuffle, p.updateZone(cmd.TargetIndex, func(z *topology.Zone) {
		z.PlaylistShuffle = shuffle
	})
}

func (p *Pipeline) handleZoneSetStream(ctx context.Context, cmd Command) (any, error) {
	streamID, err := stringParam(cmd.Payload, "stream_id")
	if err != nil {
		return nil, err
	}

	zone, err := p.store.GetZone(cmd.TargetIndex)
	if err != nil {
		return nil, err
	}
	if zone.StreamID == streamID {
		return streamID, nil
	}

	zone.StreamID = streamID
	if err := p.store.SetZoneState(cmd.TargetIndex, zone); err != nil {
		return nil, err
	}
	if p.audio != nil && zone.GroupID != "" {
		if err := p.audio.SetGroupStream(ctx, zone.GroupID, streamID); err != nil {
			return nil, fmt.Errorf("push stream to group %s: %w", zone.GroupID, err)
		}
	}
	return streamID, nil
}

func (p *Pipeline) handleZoneSetPlaylist(_ context.Context, cmd Command) (any, error) {
	id, err := stringParam(cmd.Payload, "id")
	if err != nil {
		return nil, err
	}
	name, _ := stringParam(cmd.Payload, "name")
	return id, p.updateZone(cmd.TargetIndex, func(z *topology.Zone) {
		z.Playlist = &topology.PlaylistRef{ID: id, Name: name}
	})
}

func (p *Pipeline) handleZoneSetTrack(_ context.Context, cmd Command) (any, error) {
	id, err := stringParam(cmd.Payload, "id")
	if err != nil {
		return nil, err
	}
	title, _ := stringParam(cmd.Payload, "title")
	artist, _ := stringParam(cmd.Payload, "artist")
	duration, _ := intParam(cmd.Payload, "duration_sec")
	return id, p.updateZone(cmd.TargetIndex, func(z *topology.Zone) {
		z.Track = &topology.TrackRef{ID: id, Title: title, Artist: artist, DurationSec: duration}
	})
}

// handleZoneSetGroupID records the actual grouping-server group this
// zone is bound to. Only the reconcile engine issues it.
func (p *Pipeline) handleZoneSetGroupID(_ context.Context, cmd Command) (any, error) {
	if cmd.Source != SourceInternal {
		return nil, fmt.Errorf("%w: %s from source %q", ErrSourceNotAllowed, OpSetGroupID, cmd.Source)
	}
	groupID, err := stringParam(cmd.Payload, "group_id")
	if err != nil {
		return nil, err
	}
	return groupID, p.updateZone(cmd.TargetIndex, func(z *topology.Zone) {
		z.GroupID = groupID
	})
}

// handleZoneAssignClient moves a client into the target zone. The
// removal from its current zone and the addition to the target apply as
// one logical operation under the membership lock, then a grouping sync
// for the target zone is kicked asynchronously.
func (p *Pipeline) handleZoneAssignClient(_ context.Context, cmd Command) (any, error) {
	clientIndex, err := intParam(cmd.Payload, "client")
	if err != nil {
		return nil, err
	}

	client, err := p.store.GetClient(clientIndex)
	if err != nil {
		return nil, fmt.Errorf("%w: client %d", ErrUnknownTarget, clientIndex)
	}

	target, err := p.store.GetZone(cmd.TargetIndex)
	if err != nil {
		return nil, err
	}
	if target.HasMember(clientIndex) {
		return clientIndex, nil
	}

	if sourceIndex := p.store.ZoneOfClient(clientIndex); sourceIndex != 0 {
		source, err := p.store.GetZone(sourceIndex)
		if err != nil {
			return nil, err
		}
		members := make([]int, 0, len(source.Members))
		for _, m := range source.Members {
			if m != clientIndex {
				members = append(members, m)
			}
		}
		source.Members = members
		if err := p.store.SetZoneState(sourceIndex, source); err != nil {
			return nil, err
		}
	}

	target.Members = append(target.Members, clientIndex)
	if err := p.store.SetZoneState(cmd.TargetIndex, target); err != nil {
		return nil, err
	}

	client.ZoneIndex = cmd.TargetIndex
	if err := p.store.SetClientState(clientIndex, client); err != nil {
		return nil, err
	}

	if p.sync != nil {
		p.sync.TriggerZoneSync(cmd.TargetIndex)
	}
	return clientIndex, nil
}

// updateZone applies a read-modify-write against the store. The store
// diffs the result, so unchanged fields emit nothing.
func (p *Pipeline) updateZone(index int, mutate func(*topology.Zone)) error {
	zone, err := p.store.GetZone(index)
	if err != nil {
		return err
	}
	mutate(zone)
	return p.store.SetZoneState(index, zone)
}
