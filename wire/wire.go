// Package wire defines the event envelope spoken over the player stream.
// Inbound frames decode through Raw and a name-keyed dispatch table into
// typed events; outbound events are typed structs flattened into a single
// JSON object with an "event" discriminator.
package wire

import (
	"encoding/json"
	"time"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/geo"
)

// Kind names an event on the wire.
type Kind string

// Inbound events.
const (
	PlayerJoinedKind      Kind = "playerJoined"
	LocationUpdateKind    Kind = "locationUpdate"
	StartDrawingTrailKind Kind = "startDrawingTrail"
	StopDrawingTrailKind  Kind = "stopDrawingTrail"
	ClaimTerritoryKind    Kind = "claimTerritory"
	ActivateLastStand     Kind = "activateLastStand"
	ActivateGhostRunner   Kind = "activateGhostRunner"
	ActivateInfiltrator   Kind = "activateInfiltrator"
	ActivateTrailDefense  Kind = "activateTrailDefense"
	CreateArenaKind       Kind = "createArena"
	StartConquestKind     Kind = "startConquest"
	RecordLapKind         Kind = "recordLap"
)

// Outbound events.
const (
	ExistingTerritoriesKind      Kind = "existingTerritories"
	BatchTerritoryUpdateKind     Kind = "batchTerritoryUpdate"
	ClaimSuccessfulKind          Kind = "claimSuccessful"
	ClaimRejectedKind            Kind = "claimRejected"
	TrailStartedKind             Kind = "trailStarted"
	TrailPointAddedKind          Kind = "trailPointAdded"
	TrailClearedKind             Kind = "trailCleared"
	RunTerminatedKind            Kind = "runTerminated"
	ShieldBrokenKind             Kind = "shieldBroken"
	ShieldExpiredKind            Kind = "shieldExpired"
	ArenaCreatedKind             Kind = "arenaCreated"
	ArenaEnteredKind             Kind = "arenaEntered"
	ArenaTimeoutKind             Kind = "arenaTimeout"
	ConquestStartedKind          Kind = "conquestStarted"
	ConquestProgressKind         Kind = "conquestProgress"
	ConquerAttemptSuccessfulKind Kind = "conquerAttemptSuccessful"
	ConquestFailedKind           Kind = "conquestFailed"
	QuestProgressUpdateKind      Kind = "questProgressUpdate"
	QuestCompletedKind           Kind = "questCompleted"
	SuperpowersGrantedKind       Kind = "superpowersGranted"
	SuperpowerAcknowledgedKind   Kind = "superpowerAcknowledged"
	GeofenceUpdateKind           Kind = "geofenceUpdate"
	ChestSpawnedKind             Kind = "chestSpawned"
	ChestClaimedKind             Kind = "chestClaimed"
	AccountBannedKind            Kind = "accountBanned"
	PlayerPositionsKind          Kind = "playerPositions"
)

// Typer is implemented by every event that travels the stream.
type Typer interface {
	Type() Kind
}

// BaseClaim is the circular first-claim payload. Radius 0 means the
// server default.
type BaseClaim struct {
	Lng    float64 `json:"lng"`
	Lat    float64 `json:"lat"`
	Radius float64 `json:"radius,omitempty"`
}

// Raw is the superset of all inbound frame fields. Decode a frame into
// Raw, then call Event to get the typed form.
type Raw struct {
	EventName Kind             `json:"event"`
	ID        landrun.PlayerID `json:"id"`
	Name      string           `json:"name"`
	Mode      landrun.Mode     `json:"mode"`
	Lat       float64          `json:"lat"`
	Lng       float64          `json:"lng"`
	Trail     []geo.Point      `json:"trail"`
	Base      *BaseClaim       `json:"baseClaim"`
	Target    landrun.PlayerID `json:"target"`
	Path      []geo.Point      `json:"path"`
}

var handlers = map[Kind]func(Raw) Typer{
	PlayerJoinedKind: func(r Raw) Typer {
		return PlayerJoined{ID: r.ID, Name: r.Name, Mode: r.Mode}
	},
	LocationUpdateKind: func(r Raw) Typer {
		return LocationUpdate{Point: geo.Point{Lng: r.Lng, Lat: r.Lat}}
	},
	StartDrawingTrailKind: func(Raw) Typer { return StartDrawingTrail{} },
	StopDrawingTrailKind:  func(Raw) Typer { return StopDrawingTrail{} },
	ClaimTerritoryKind: func(r Raw) Typer {
		return ClaimTerritory{Mode: r.Mode, Trail: geo.Path(r.Trail), Base: r.Base}
	},
	ActivateLastStand: func(Raw) Typer {
		return ActivatePower{Power: landrun.LastStand}
	},
	ActivateGhostRunner: func(Raw) Typer {
		return ActivatePower{Power: landrun.GhostRunner}
	},
	ActivateInfiltrator: func(Raw) Typer {
		return ActivatePower{Power: landrun.Infiltrator}
	},
	ActivateTrailDefense: func(Raw) Typer {
		return ActivatePower{Power: landrun.TrailDefense}
	},
	CreateArenaKind: func(r Raw) Typer {
		return CreateArena{Target: r.Target}
	},
	StartConquestKind: func(Raw) Typer { return StartConquest{} },
	RecordLapKind: func(r Raw) Typer {
		return RecordLap{Path: geo.Path(r.Path)}
	},
}

// Event returns the typed form of the frame, or nil for an unknown name.
func (r Raw) Event() Typer {
	h, ok := handlers[r.EventName]
	if !ok {
		return nil
	}
	return h(r)
}

type PlayerJoined struct {
	ID   landrun.PlayerID `json:"id"`
	Name string           `json:"name"`
	Mode landrun.Mode     `json:"mode"`
}

func (PlayerJoined) Type() Kind { return PlayerJoinedKind }

type LocationUpdate struct {
	Point geo.Point `json:"point"`
}

func (LocationUpdate) Type() Kind { return LocationUpdateKind }

type StartDrawingTrail struct{}

func (StartDrawingTrail) Type() Kind { return StartDrawingTrailKind }

type StopDrawingTrail struct{}

func (StopDrawingTrail) Type() Kind { return StopDrawingTrailKind }

type ClaimTerritory struct {
	Mode  landrun.Mode `json:"mode"`
	Trail geo.Path     `json:"trail,omitempty"`
	Base  *BaseClaim   `json:"baseClaim,omitempty"`
}

func (ClaimTerritory) Type() Kind { return ClaimTerritoryKind }

type ActivatePower struct {
	Power landrun.Power `json:"power"`
}

func (a ActivatePower) Type() Kind {
	switch a.Power {
	case landrun.GhostRunner:
		return ActivateGhostRunner
	case landrun.Infiltrator:
		return ActivateInfiltrator
	case landrun.TrailDefense:
		return ActivateTrailDefense
	default:
		return ActivateLastStand
	}
}

type CreateArena struct {
	Target landrun.PlayerID `json:"target"`
}

func (CreateArena) Type() Kind { return CreateArenaKind }

type StartConquest struct{}

func (StartConquest) Type() Kind { return StartConquestKind }

type RecordLap struct {
	Path geo.Path `json:"path"`
}

func (RecordLap) Type() Kind { return RecordLapKind }

// Territory is one owner's holdings as rendered to clients.
type Territory struct {
	Owner    string  `json:"owner"`
	IsClan   bool    `json:"isClan,omitempty"`
	Name     string  `json:"name"`
	Geometry string  `json:"geometry"`
	Area     float64 `json:"area"`
	Color    string  `json:"color,omitempty"`
}

type ExistingTerritories struct {
	Territories []Territory `json:"territories"`
}

func (ExistingTerritories) Type() Kind { return ExistingTerritoriesKind }

// TerritoryUpdate is one owner's post-claim geometry. An empty geometry
// with area 0 means the owner was wiped out.
type TerritoryUpdate struct {
	Owner    string  `json:"owner"`
	IsClan   bool    `json:"isClan,omitempty"`
	Geometry string  `json:"geometry"`
	Area     float64 `json:"area"`
}

type BatchTerritoryUpdate struct {
	Updates []TerritoryUpdate `json:"updates"`
}

func (BatchTerritoryUpdate) Type() Kind { return BatchTerritoryUpdateKind }

type ClaimSuccessful struct {
	AreaClaimed float64 `json:"areaClaimed"`
	TotalArea   float64 `json:"totalArea"`
}

func (ClaimSuccessful) Type() Kind { return ClaimSuccessfulKind }

type ClaimRejected struct {
	Reason string `json:"reason"`
}

func (ClaimRejected) Type() Kind { return ClaimRejectedKind }

type TrailStarted struct {
	Player landrun.PlayerID `json:"player"`
}

func (TrailStarted) Type() Kind { return TrailStartedKind }

type TrailPointAdded struct {
	Player landrun.PlayerID `json:"player"`
	Point  geo.Point        `json:"point"`
}

func (TrailPointAdded) Type() Kind { return TrailPointAddedKind }

type TrailCleared struct {
	Player landrun.PlayerID `json:"player"`
}

func (TrailCleared) Type() Kind { return TrailClearedKind }

type RunTerminated struct {
	Player landrun.PlayerID `json:"player"`
	Reason string           `json:"reason"`
}

func (RunTerminated) Type() Kind { return RunTerminatedKind }

type ShieldBroken struct {
	Owner  string `json:"owner"`
	IsClan bool   `json:"isClan,omitempty"`
}

func (ShieldBroken) Type() Kind { return ShieldBrokenKind }

type ShieldExpired struct {
	Player landrun.PlayerID `json:"player"`
}

func (ShieldExpired) Type() Kind { return ShieldExpiredKind }

type ArenaCreated struct {
	Target landrun.PlayerID `json:"target"`
	Center geo.Point        `json:"center"`
	Radius float64          `json:"radius"`
}

func (ArenaCreated) Type() Kind { return ArenaCreatedKind }

type ArenaEntered struct{}

func (ArenaEntered) Type() Kind { return ArenaEnteredKind }

type ArenaTimeout struct{}

func (ArenaTimeout) Type() Kind { return ArenaTimeoutKind }

type ConquestStarted struct {
	LapsRequired int `json:"lapsRequired"`
}

func (ConquestStarted) Type() Kind { return ConquestStartedKind }

type ConquestProgress struct {
	Lap          int `json:"lap"`
	LapsRequired int `json:"lapsRequired"`
}

func (ConquestProgress) Type() Kind { return ConquestProgressKind }

type ConquerAttemptSuccessful struct {
	Target landrun.PlayerID `json:"target"`
	Area   float64          `json:"area"`
}

func (ConquerAttemptSuccessful) Type() Kind { return ConquerAttemptSuccessfulKind }

type ConquestFailed struct {
	Reason string `json:"reason"`
}

func (ConquestFailed) Type() Kind { return ConquestFailedKind }

type QuestProgressUpdate struct {
	Quest   landrun.QuestID `json:"quest"`
	Current float64         `json:"current"`
	Target  float64         `json:"target"`
}

func (QuestProgressUpdate) Type() Kind { return QuestProgressUpdateKind }

type QuestCompleted struct {
	Quest  landrun.QuestID  `json:"quest"`
	Winner landrun.PlayerID `json:"winner"`
}

func (QuestCompleted) Type() Kind { return QuestCompletedKind }

type SuperpowersGranted struct {
	Powers []landrun.Power `json:"powers"`
}

func (SuperpowersGranted) Type() Kind { return SuperpowersGrantedKind }

type SuperpowerAcknowledged struct {
	Power        landrun.Power `json:"power"`
	ShieldRaised bool          `json:"shieldRaised,omitempty"`
}

func (SuperpowerAcknowledged) Type() Kind { return SuperpowerAcknowledgedKind }

// Zone is a geofence polygon as shipped to clients.
type Zone struct {
	ID      landrun.ZoneID   `json:"id"`
	Kind    landrun.ZoneKind `json:"kind"`
	Polygon string           `json:"polygon"`
}

type GeofenceUpdate struct {
	Zones []Zone `json:"zones"`
}

func (GeofenceUpdate) Type() Kind { return GeofenceUpdateKind }

type ChestSpawned struct {
	ID landrun.ChestID `json:"id"`
	At geo.Point       `json:"at"`
}

func (ChestSpawned) Type() Kind { return ChestSpawnedKind }

type ChestClaimed struct {
	ID landrun.ChestID  `json:"id"`
	By landrun.PlayerID `json:"by"`
}

func (ChestClaimed) Type() Kind { return ChestClaimedKind }

type AccountBanned struct {
	Until time.Time `json:"until"`
}

func (AccountBanned) Type() Kind { return AccountBannedKind }

// PlayerPosition is one entry of the periodic position snapshot.
type PlayerPosition struct {
	Player landrun.PlayerID `json:"player"`
	Point  geo.Point        `json:"point"`
	Mode   landrun.Mode     `json:"mode"`
}

type PlayerPositions struct {
	Positions []PlayerPosition `json:"positions"`
}

func (PlayerPositions) Type() Kind { return PlayerPositionsKind }

// Marshal flattens an event into a single JSON object with an "event"
// discriminator ahead of the payload fields.
func Marshal(t Typer) ([]byte, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	head := []byte(`{"event":"` + string(t.Type()) + `"`)
	if len(body) > 2 {
		head = append(head, ',')
	}
	head = append(head, body[1:]...)
	return head, nil
}
