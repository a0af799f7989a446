package topology

import "fmt"

// ValidateZone checks a zone value for structural errors before it is
// stored. Cross-zone invariants (a client in at most one zone) are
// enforced by the command pipeline, which owns multi-zone writes.
func ValidateZone(zone *Zone) error {
	if zone == nil {
		return fmt.Errorf("%w: nil zone", ErrInvalidZone)
	}
	if zone.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidZone)
	}
	if zone.Volume < MinVolume || zone.Volume > MaxVolume {
		return fmt.Errorf("%w: zone %q volume %d", ErrInvalidVolume, zone.Name, zone.Volume)
	}

	seen := make(map[int]struct{}, len(zone.Members))
	for _, m := range zone.Members {
		if m < 1 {
			return fmt.Errorf("%w: member index %d must be positive", ErrInvalidZone, m)
		}
		if _, dup := seen[m]; dup {
			return fmt.Errorf("%w: client %d listed twice in zone %q", ErrDuplicateMember, m, zone.Name)
		}
		seen[m] = struct{}{}
	}

	return nil
}

// ValidateClient checks a client value for structural errors.
func ValidateClient(client *Client) error {
	if client == nil {
		return fmt.Errorf("%w: nil client", ErrInvalidClient)
	}
	if client.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidClient)
	}
	if client.Volume < MinVolume || client.Volume > MaxVolume {
		return fmt.Errorf("%w: client %q volume %d", ErrInvalidVolume, client.Name, client.Volume)
	}
	if client.LatencyMS < 0 {
		return fmt.Errorf("%w: client %q latency %d must not be negative", ErrInvalidClient, client.Name, client.LatencyMS)
	}
	if client.ZoneIndex < 0 {
		return fmt.Errorf("%w: client %q zone index %d", ErrInvalidClient, client.Name, client.ZoneIndex)
	}
	return nil
}
