package snapcast

import (
	"context"
	"encoding/json"
	"fmt"
)

// ServerStatus fetches the full server state (groups, clients, streams).
func (c *Conn) ServerStatus(ctx context.Context) (*ServerStatus, error) {
	raw, err := c.call(ctx, "Server.GetStatus", nil)
	if err != nil {
		return nil, err
	}

	var status ServerStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("decoding server status: %w", err)
	}
	return &status, nil
}

// GroupSnapshot returns the observed grouping: one (groupID, members)
// pair per group on the server. This is the reconciler's view of actual
// state; it is read fresh on every pass and never cached.
func (c *Conn) GroupSnapshot(ctx context.Context) ([]GroupMembership, error) {
	status, err := c.ServerStatus(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := make([]GroupMembership, 0, len(status.Server.Groups))
	for _, group := range status.Server.Groups {
		members := make([]string, 0, len(group.Clients))
		for _, client := range group.Clients {
			members = append(members, client.ID)
		}
		snapshot = append(snapshot, GroupMembership{
			GroupID:   group.ID,
			StreamID:  group.StreamID,
			ClientIDs: members,
		})
	}
	return snapshot, nil
}

// MoveClientToGroup moves one client into the target group.
//
// Snapcast has no single-client move; the primitive is Group.SetClients
// with the group's full member list. The call reads current membership,
// recognises the already-a-member case as a no-op before touching the
// server, and otherwise sets the union. Safe to call concurrently for
// different groups.
func (c *Conn) MoveClientToGroup(ctx context.Context, clientID, groupID string) error {
	status, err := c.ServerStatus(ctx)
	if err != nil {
		return err
	}

	var target *Group
	clientExists := false
	for i := range status.Server.Groups {
		group := &status.Server.Groups[i]
		for _, member := range group.Clients {
			if member.ID == clientID {
				clientExists = true
				if group.ID == groupID {
					// Already in the target group.
					return nil
				}
			}
		}
		if group.ID == groupID {
			target = group
		}
	}

	if target == nil {
		return fmt.Errorf("%w: %q", ErrGroupNotFound, groupID)
	}
	if !clientExists {
		return fmt.Errorf("%w: %q", ErrClientNotFound, clientID)
	}

	members := make([]string, 0, len(target.Clients)+1)
	for _, member := range target.Clients {
		members = append(members, member.ID)
	}
	members = append(members, clientID)

	_, err = c.call(ctx, "Group.SetClients", map[string]any{
		"id":      groupID,
		"clients": members,
	})
	return err
}

// SetClientVolume sets a client's volume percent and mute flag.
func (c *Conn) SetClientVolume(ctx context.Context, clientID string, percent int, muted bool) error {
	_, err := c.call(ctx, "Client.SetVolume", map[string]any{
		"id": clientID,
		"volume": map[string]any{
			"percent": percent,
			"muted":   muted,
		},
	})
	return err
}

// SetClientLatency sets a client's latency correction in milliseconds.
func (c *Conn) SetClientLatency(ctx context.Context, clientID string, latencyMS int) error {
	_, err := c.call(ctx, "Client.SetLatency", map[string]any{
		"id":      clientID,
		"latency": latencyMS,
	})
	return err
}

// SetClientName sets a client's display name on the server.
func (c *Conn) SetClientName(ctx context.Context, clientID, name string) error {
	_, err := c.call(ctx, "Client.SetName", map[string]any{
		"id":   clientID,
		"name": name,
	})
	return err
}

// SetGroupMute mutes or unmutes an entire group.
func (c *Conn) SetGroupMute(ctx context.Context, groupID string, muted bool) error {
	_, err := c.call(ctx, "Group.SetMute", map[string]any{
		"id":   groupID,
		"mute": muted,
	})
	return err
}

// SetGroupStream switches the stream a group plays.
func (c *Conn) SetGroupStream(ctx context.Context, groupID, streamID string) error {
	_, err := c.call(ctx, "Group.SetStream", map[string]any{
		"id":        groupID,
		"stream_id": streamID,
	})
	return err
}
