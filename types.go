// Package landrun holds the shared vocabulary for the landrun game server:
// identifier types, game modes, superpowers, and the rules constants used
// across the claim, trail, and conquest subsystems.
package landrun

import (
	"bytes"
	"fmt"
)

// PlayerID is the stable identifier assigned to a player by the identity layer.
type PlayerID string

// ClanID identifies a clan.
type ClanID string

// QuestID identifies an admin- or sponsor-created quest.
type QuestID string

// ZoneID identifies a geofence zone.
type ZoneID string

// ChestID identifies a superpower chest.
type ChestID string

// Mode is the play mode a session is bound to.
type Mode uint8

const (
	ModeUnknown Mode = iota
	ModeSolo
	ModeClan
	ModeSpectator
)

var modes = map[Mode]string{
	ModeSolo:      "solo",
	ModeClan:      "clan",
	ModeSpectator: "spectator",
}

func (m Mode) String() string { return modes[m] }

// IsPlaying reports whether the mode may draw trails and claim territory.
func (m Mode) IsPlaying() bool { return m == ModeSolo || m == ModeClan }

func (m *Mode) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, "\"")
	for mode, s := range modes {
		if bytes.Equal(data, []byte(s)) {
			*m = mode
			return nil
		}
	}
	return fmt.Errorf("mode.UnmarshalJSON: invalid value '%s' for mode", data)
}

func (m Mode) MarshalJSON() ([]byte, error) {
	return []byte("\"" + m.String() + "\""), nil
}

// Power is a purchasable superpower.
type Power uint8

const (
	PowerUnknown Power = iota
	LastStand
	Infiltrator
	GhostRunner
	TrailDefense
)

var powers = map[Power]string{
	LastStand:    "lastStand",
	Infiltrator:  "infiltrator",
	GhostRunner:  "ghostRunner",
	TrailDefense: "trailDefense",
}

func (p Power) String() string { return powers[p] }

func (p *Power) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, "\"")
	for power, s := range powers {
		if bytes.Equal(data, []byte(s)) {
			*p = power
			return nil
		}
	}
	return fmt.Errorf("power.UnmarshalJSON: invalid value '%s' for power", data)
}

func (p Power) MarshalJSON() ([]byte, error) {
	return []byte("\"" + p.String() + "\""), nil
}

// ParsePower converts a wire or stored name to a Power.
func ParsePower(s string) (Power, error) {
	for power, name := range powers {
		if name == s {
			return power, nil
		}
	}
	return PowerUnknown, fmt.Errorf("landrun.ParsePower: unknown power %q", s)
}

// AllPowers lists every known power in a stable order.
func AllPowers() []Power {
	return []Power{LastStand, Infiltrator, GhostRunner, TrailDefense}
}

// QuestKind classifies what a quest counts.
type QuestKind uint8

const (
	QuestUnknown QuestKind = iota
	QuestCoverArea
	QuestRunTrail
	QuestTrailCut
	QuestSponsorCheckin
)

var questKinds = map[QuestKind]string{
	QuestCoverArea:      "cover_area",
	QuestRunTrail:       "run_trail",
	QuestTrailCut:       "trail_cut",
	QuestSponsorCheckin: "sponsor_checkin",
}

func (k QuestKind) String() string { return questKinds[k] }

func (k *QuestKind) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, "\"")
	for kind, s := range questKinds {
		if bytes.Equal(data, []byte(s)) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("questkind.UnmarshalJSON: invalid value '%s' for quest kind", data)
}

func (k QuestKind) MarshalJSON() ([]byte, error) {
	return []byte("\"" + k.String() + "\""), nil
}

// ParseQuestKind converts a stored name to a QuestKind.
func ParseQuestKind(s string) (QuestKind, error) {
	for kind, name := range questKinds {
		if name == s {
			return kind, nil
		}
	}
	return QuestUnknown, fmt.Errorf("landrun.ParseQuestKind: unknown quest kind %q", s)
}

// ZoneKind marks a geofence zone as permitting or forbidding play.
type ZoneKind uint8

const (
	ZoneAllowed ZoneKind = iota + 1
	ZoneBlocked
)

var zoneKinds = map[ZoneKind]string{
	ZoneAllowed: "allowed",
	ZoneBlocked: "blocked",
}

func (k ZoneKind) String() string { return zoneKinds[k] }

func (k *ZoneKind) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, "\"")
	for kind, s := range zoneKinds {
		if bytes.Equal(data, []byte(s)) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("zonekind.UnmarshalJSON: invalid value '%s' for zone kind", data)
}

func (k ZoneKind) MarshalJSON() ([]byte, error) {
	return []byte("\"" + k.String() + "\""), nil
}

// ParseZoneKind converts a stored name to a ZoneKind.
func ParseZoneKind(s string) (ZoneKind, error) {
	for kind, name := range zoneKinds {
		if name == s {
			return kind, nil
		}
	}
	return 0, fmt.Errorf("landrun.ParseZoneKind: unknown zone kind %q", s)
}
