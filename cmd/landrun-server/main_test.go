package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/store"
)

type fakeClanStore struct {
	clans   map[landrun.ClanID][]landrun.PlayerID
	colors  map[landrun.PlayerID]string
	players map[landrun.PlayerID]bool
}

func newFakeClanStore(players ...landrun.PlayerID) *fakeClanStore {
	f := &fakeClanStore{
		clans:   map[landrun.ClanID][]landrun.PlayerID{},
		colors:  map[landrun.PlayerID]string{},
		players: map[landrun.PlayerID]bool{},
	}
	for _, p := range players {
		f.players[p] = true
	}
	return f
}

func (f *fakeClanStore) CreateClan(_ context.Context, name, tag string, leader landrun.PlayerID) (landrun.ClanID, error) {
	id := landrun.ClanID("clan-" + name)
	f.clans[id] = []landrun.PlayerID{leader}
	return id, nil
}

func (f *fakeClanStore) AddMember(_ context.Context, clan landrun.ClanID, player landrun.PlayerID) error {
	members, ok := f.clans[clan]
	if !ok {
		return store.ErrNotFound
	}
	f.clans[clan] = append(members, player)
	return nil
}

func (f *fakeClanStore) ClanMembers(_ context.Context, clan landrun.ClanID) ([]landrun.PlayerID, error) {
	return f.clans[clan], nil
}

func (f *fakeClanStore) SetIdentityColor(_ context.Context, id landrun.PlayerID, color string) error {
	if !f.players[id] {
		return store.ErrNotFound
	}
	f.colors[id] = color
	return nil
}

func newClanServer(t *testing.T, f *fakeClanStore) *httptest.Server {
	t.Helper()
	api := &clanAPI{store: f, log: slog.Default()}
	r := mux.NewRouter()
	api.register(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestClanLifecycle(t *testing.T) {
	f := newFakeClanStore("leader", "m1")
	srv := newClanServer(t, f)

	resp := post(t, srv.URL+"/clans?name=runners&tag=RUN&leader=leader")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	id := strings.TrimSpace(string(body))
	if id == "" {
		t.Fatal("create returned no clan id")
	}

	if resp := post(t, srv.URL+"/clans/"+id+"/members?player=m1"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("join status = %d", resp.StatusCode)
	}

	listResp, err := http.Get(srv.URL + "/clans/" + id + "/members")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var members []landrun.PlayerID
	if err := json.NewDecoder(listResp.Body).Decode(&members); err != nil {
		t.Fatal(err)
	}
	if len(members) != 2 || members[0] != "leader" || members[1] != "m1" {
		t.Errorf("members = %v", members)
	}
}

func TestClanCreateValidation(t *testing.T) {
	srv := newClanServer(t, newFakeClanStore())
	if resp := post(t, srv.URL+"/clans?tag=RUN&leader=leader"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing name status = %d", resp.StatusCode)
	}
	if resp := post(t, srv.URL+"/clans?name=runners"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing leader status = %d", resp.StatusCode)
	}
}

func TestJoinUnknownClan(t *testing.T) {
	srv := newClanServer(t, newFakeClanStore("m1"))
	if resp := post(t, srv.URL+"/clans/nope/members?player=m1"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestSetIdentityColor(t *testing.T) {
	f := newFakeClanStore("a")
	srv := newClanServer(t, f)

	if resp := post(t, srv.URL+"/players/a/color?color=%23004b80"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if f.colors["a"] != "#004b80" {
		t.Errorf("stored color = %q", f.colors["a"])
	}

	if resp := post(t, srv.URL+"/players/a/color?color=blue"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad color status = %d", resp.StatusCode)
	}
	if resp := post(t, srv.URL+"/players/ghost/color?color=%23004b80"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown player status = %d", resp.StatusCode)
	}
}
