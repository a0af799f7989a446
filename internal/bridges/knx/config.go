package knx

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Function names a group address can be mapped to. Each function binds
// to one command operation and one state field.
const (
	// FuncVolume maps a DPT 5.001 percentage to zone or client volume.
	FuncVolume = "volume"

	// FuncMute maps a DPT 1.001 switch to zone or client mute.
	FuncMute = "mute"

	// FuncPlay maps a DPT 1.001 switch to zone playback. Zones only.
	FuncPlay = "play"

	// FuncConnected exposes client connectivity as a DPT 1.001 status.
	// Status-only: the bus cannot command a client online.
	FuncConnected = "connected"
)

var zoneFunctions = map[string]DPT{
	FuncVolume: DPTPercentage,
	FuncMute:   DPTSwitch,
	FuncPlay:   DPTSwitch,
}

var clientFunctions = map[string]DPT{
	FuncVolume:    DPTPercentage,
	FuncMute:      DPTSwitch,
	FuncConnected: DPTSwitch,
}

// AddressConfig binds one function to up to two group addresses.
//
// GA is the command address: group writes received on it become
// commands. StatusGA is the state address: field changes are written
// to it so wall panels and visualisations track actual state. Either
// may be omitted; at least one must be set.
type AddressConfig struct {
	GA       string `yaml:"ga"`
	StatusGA string `yaml:"status_ga"`
	DPT      string `yaml:"dpt"`
}

// ZoneMapping declares the group addresses for one zone.
type ZoneMapping struct {
	Zone      int                      `yaml:"zone"`
	Functions map[string]AddressConfig `yaml:"functions"`
}

// ClientMapping declares the group addresses for one client.
type ClientMapping struct {
	Client    int                      `yaml:"client"`
	Functions map[string]AddressConfig `yaml:"functions"`
}

// MappingConfig is the root of the group address mapping file.
//
// Example:
//
//	zones:
//	  - zone: 1
//	    functions:
//	      volume: {ga: "2/1/1", status_ga: "2/1/2", dpt: "5.001"}
//	      play:   {ga: "2/1/3", status_ga: "2/1/4", dpt: "1.001"}
//	clients:
//	  - client: 1
//	    functions:
//	      mute: {ga: "2/2/1", dpt: "1.001"}
type MappingConfig struct {
	Zones   []ZoneMapping   `yaml:"zones"`
	Clients []ClientMapping `yaml:"clients"`
}

// LoadMappings reads and validates a group address mapping file.
func LoadMappings(path string) (*MappingConfig, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator config
	if err != nil {
		return nil, fmt.Errorf("reading mapping file: %w", err)
	}

	var cfg MappingConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing mapping file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks every mapping entry and rejects duplicate command
// addresses: a group write can only ever mean one thing.
func (c *MappingConfig) Validate() error {
	var errs []string
	seenCommand := map[string]string{} // GA string → owner description

	for _, zm := range c.Zones {
		owner := fmt.Sprintf("zone %d", zm.Zone)
		if zm.Zone < 1 {
			errs = append(errs, owner+": zone index must be >= 1")
		}
		errs = append(errs, validateFunctions(owner, zm.Functions, zoneFunctions, seenCommand)...)
	}

	for _, cm := range c.Clients {
		owner := fmt.Sprintf("client %d", cm.Client)
		if cm.Client < 1 {
			errs = append(errs, owner+": client index must be >= 1")
		}
		errs = append(errs, validateFunctions(owner, cm.Functions, clientFunctions, seenCommand)...)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidMapping, strings.Join(errs, "; "))
	}
	return nil
}

func validateFunctions(owner string, funcs map[string]AddressConfig, allowed map[string]DPT, seenCommand map[string]string) []string {
	var errs []string

	for name, ac := range funcs {
		wantDPT, ok := allowed[name]
		if !ok {
			errs = append(errs, fmt.Sprintf("%s: unknown function %q", owner, name))
			continue
		}

		if ac.GA == "" && ac.StatusGA == "" {
			errs = append(errs, fmt.Sprintf("%s/%s: need ga or status_ga", owner, name))
		}

		if ac.DPT != string(wantDPT) {
			errs = append(errs, fmt.Sprintf("%s/%s: dpt must be %q, got %q", owner, name, wantDPT, ac.DPT))
		}

		if name == FuncConnected && ac.GA != "" {
			errs = append(errs, fmt.Sprintf("%s/%s: connected is status-only, remove ga", owner, name))
		}

		for _, gaStr := range []string{ac.GA, ac.StatusGA} {
			if gaStr == "" {
				continue
			}
			if _, err := ParseGroupAddress(gaStr); err != nil {
				errs = append(errs, fmt.Sprintf("%s/%s: %v", owner, name, err))
			}
		}

		if ac.GA != "" {
			if prev, dup := seenCommand[ac.GA]; dup {
				errs = append(errs, fmt.Sprintf("%s/%s: command ga %s already mapped to %s", owner, name, ac.GA, prev))
			} else {
				seenCommand[ac.GA] = owner + "/" + name
			}
		}
	}

	return errs
}
