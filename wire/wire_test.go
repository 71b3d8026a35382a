package wire_test

import (
	"encoding/json"
	"testing"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/wire"
)

func decode(t *testing.T, frame string) wire.Typer {
	t.Helper()
	var raw wire.Raw
	if err := json.Unmarshal([]byte(frame), &raw); err != nil {
		t.Fatalf("unmarshal %s: %v", frame, err)
	}
	return raw.Event()
}

func TestDecodeInbound(t *testing.T) {
	ev := decode(t, `{"event":"playerJoined","id":"p1","name":"Ada","mode":"solo"}`)
	pj, ok := ev.(wire.PlayerJoined)
	if !ok {
		t.Fatalf("event type = %T", ev)
	}
	if pj.ID != "p1" || pj.Name != "Ada" || pj.Mode != landrun.ModeSolo {
		t.Errorf("decoded %+v", pj)
	}

	ev = decode(t, `{"event":"locationUpdate","lat":52.1,"lng":4.3}`)
	lu, ok := ev.(wire.LocationUpdate)
	if !ok || lu.Point.Lat != 52.1 || lu.Point.Lng != 4.3 {
		t.Errorf("locationUpdate = %+v (%T)", ev, ev)
	}

	ev = decode(t, `{"event":"claimTerritory","mode":"solo","baseClaim":{"lng":4.3,"lat":52.1}}`)
	ct, ok := ev.(wire.ClaimTerritory)
	if !ok || ct.Base == nil || ct.Base.Radius != 0 || ct.Base.Lat != 52.1 {
		t.Errorf("claimTerritory = %+v (%T)", ev, ev)
	}

	ev = decode(t, `{"event":"activateGhostRunner"}`)
	ap, ok := ev.(wire.ActivatePower)
	if !ok || ap.Power != landrun.GhostRunner {
		t.Errorf("activate = %+v (%T)", ev, ev)
	}
	if ap.Type() != wire.ActivateGhostRunner {
		t.Errorf("round-trip kind = %s", ap.Type())
	}

	ev = decode(t, `{"event":"recordLap","path":[{"lng":0,"lat":0},{"lng":1,"lat":1}]}`)
	rl, ok := ev.(wire.RecordLap)
	if !ok || len(rl.Path) != 2 {
		t.Errorf("recordLap = %+v (%T)", ev, ev)
	}
}

func TestDecodeUnknownEvent(t *testing.T) {
	if ev := decode(t, `{"event":"selfDestruct"}`); ev != nil {
		t.Errorf("unknown event decoded to %T", ev)
	}
}

func TestMarshalEnvelope(t *testing.T) {
	b, err := wire.Marshal(wire.ClaimRejected{Reason: "trail too short"})
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("marshaled frame is not an object: %v\n%s", err, b)
	}
	if m["event"] != "claimRejected" || m["reason"] != "trail too short" {
		t.Errorf("frame = %s", b)
	}
}

func TestMarshalEmptyPayload(t *testing.T) {
	b, err := wire.Marshal(wire.ArenaEntered{})
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"event":"arenaEntered"}` {
		t.Errorf("frame = %s", b)
	}
}
