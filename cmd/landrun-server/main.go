// landrun-server is the authoritative game server: websocket sessions,
// claim resolution against PostGIS, conquest arenas, and the admin
// side-channel for zones, chests, quests, and map snapshots.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/landrun/landrun"
	"github.com/landrun/landrun/claim"
	"github.com/landrun/landrun/conquest"
	"github.com/landrun/landrun/geo"
	"github.com/landrun/landrun/geofence"
	"github.com/landrun/landrun/power"
	"github.com/landrun/landrun/quest"
	"github.com/landrun/landrun/render"
	"github.com/landrun/landrun/session"
	"github.com/landrun/landrun/store"
	"github.com/landrun/landrun/trail"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "landrun-server",
	Short:         "Run the landrun game server",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := store.Connect(cmd.Context(), viper.GetString("database_url"))
		if err != nil {
			return err
		}
		defer st.Close()
		return st.Migrate(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().String("database-url", "postgres://localhost/landrun", "PostGIS connection string")
	rootCmd.Flags().String("listen", ":8080", "HTTP listen address")
	rootCmd.Flags().Duration("tick", 2*time.Second, "position snapshot interval")
	rootCmd.AddCommand(migrateCmd)

	viper.BindPFlag("database_url", rootCmd.PersistentFlags().Lookup("database-url"))
	viper.BindPFlag("listen_addr", rootCmd.Flags().Lookup("listen"))
	viper.BindPFlag("tick_interval", rootCmd.Flags().Lookup("tick"))
	viper.SetEnvPrefix("landrun")
	viper.AutomaticEnv()
}

func serve(ctx context.Context) error {
	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Connect(ctx, viper.GetString("database_url"))
	if err != nil {
		return err
	}
	defer st.Close()

	fence := geofence.NewService(st, log)
	if err := fence.Load(ctx); err != nil {
		return err
	}

	tracker := quest.NewTracker(st, log)
	resolver := claim.NewResolver(st, tracker, log)
	powers := power.NewService(st, log)

	hub := session.NewHub(st, resolver, powers, fence, tracker, log)
	manager := conquest.New(st, hub, log)
	hub.SetConquests(manager)

	engine := trail.NewEngine(hub, powers.PickupChest, hub, log)
	hub.SetTrails(engine)
	if err := seedChests(ctx, st, engine); err != nil {
		return err
	}

	go manager.Run(ctx)
	go hub.RunTicker(ctx, viper.GetDuration("tick_interval"), 0)

	r := mux.NewRouter()
	r.HandleFunc("/ws", hub.ServeWS)
	clans := &clanAPI{store: st, log: log}
	clans.register(r)
	admin := &adminAPI{store: st, fence: fence, hub: hub, log: log}
	r.HandleFunc("/admin/zones", admin.uploadZones).Methods(http.MethodPost)
	r.HandleFunc("/admin/zones/{id}", admin.deleteZone).Methods(http.MethodDelete)
	r.HandleFunc("/admin/chests", admin.spawnChest).Methods(http.MethodPost)
	r.HandleFunc("/admin/quests", admin.createQuest).Methods(http.MethodPost)
	r.HandleFunc("/admin/checkins", admin.sponsorCheckin).Methods(http.MethodPost)
	r.HandleFunc("/admin/ban/{id}", admin.banPlayer).Methods(http.MethodPost)
	r.HandleFunc("/admin/snapshot.png", admin.snapshot).Methods(http.MethodGet)

	srv := &http.Server{Addr: viper.GetString("listen_addr"), Handler: r}
	errc := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func seedChests(ctx context.Context, st *store.Store, engine *trail.Engine) error {
	chests, err := st.ActiveChests(ctx)
	if err != nil {
		return err
	}
	index := make(map[landrun.ChestID]geo.Point, len(chests))
	for _, c := range chests {
		index[c.ID] = c.Location
	}
	engine.SetChests(index)
	return nil
}

// clanStore is the slice of the store the clan endpoints need.
type clanStore interface {
	CreateClan(ctx context.Context, name, tag string, leader landrun.PlayerID) (landrun.ClanID, error)
	AddMember(ctx context.Context, clan landrun.ClanID, player landrun.PlayerID) error
	ClanMembers(ctx context.Context, clan landrun.ClanID) ([]landrun.PlayerID, error)
	SetIdentityColor(ctx context.Context, id landrun.PlayerID, color string) error
}

// clanAPI is the clan lifecycle side-channel: clans are formed and joined
// over HTTP, then play through the websocket in clan mode.
type clanAPI struct {
	store clanStore
	log   *slog.Logger
}

func (a *clanAPI) register(r *mux.Router) {
	r.HandleFunc("/clans", a.createClan).Methods(http.MethodPost)
	r.HandleFunc("/clans/{id}/members", a.addMember).Methods(http.MethodPost)
	r.HandleFunc("/clans/{id}/members", a.listMembers).Methods(http.MethodGet)
	r.HandleFunc("/players/{id}/color", a.setColor).Methods(http.MethodPost)
}

func (a *clanAPI) createClan(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	tag := r.URL.Query().Get("tag")
	leader := landrun.PlayerID(r.URL.Query().Get("leader"))
	if name == "" || leader == "" {
		http.Error(w, "name and leader are required", http.StatusBadRequest)
		return
	}
	id, err := a.store.CreateClan(r.Context(), name, tag, leader)
	if err != nil {
		a.log.Error("create clan", "name", name, "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	fmt.Fprintln(w, id)
}

func (a *clanAPI) addMember(w http.ResponseWriter, r *http.Request) {
	clan := landrun.ClanID(mux.Vars(r)["id"])
	player := landrun.PlayerID(r.URL.Query().Get("player"))
	if player == "" {
		http.Error(w, "player is required", http.StatusBadRequest)
		return
	}
	if err := a.store.AddMember(r.Context(), clan, player); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		a.log.Error("add clan member", "clan", clan, "player", player, "error", err)
		http.Error(w, "join failed", status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *clanAPI) listMembers(w http.ResponseWriter, r *http.Request) {
	clan := landrun.ClanID(mux.Vars(r)["id"])
	members, err := a.store.ClanMembers(r.Context(), clan)
	if err != nil {
		a.log.Error("list clan members", "clan", clan, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(members)
}

func (a *clanAPI) setColor(w http.ResponseWriter, r *http.Request) {
	player := landrun.PlayerID(mux.Vars(r)["id"])
	c := r.URL.Query().Get("color")
	if !validHexColor(c) {
		http.Error(w, "color must be #rrggbb", http.StatusBadRequest)
		return
	}
	if err := a.store.SetIdentityColor(r.Context(), player, c); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validHexColor(s string) bool {
	if len(s) != 7 || s[0] != '#' {
		return false
	}
	_, err := strconv.ParseUint(s[1:], 16, 32)
	return err == nil
}

type adminAPI struct {
	store *store.Store
	fence *geofence.Service
	hub   *session.Hub
	log   *slog.Logger
}

// uploadZones ingests a KML document as allowed or blocked zones and pushes
// the new zone list to every session.
func (a *adminAPI) uploadZones(w http.ResponseWriter, r *http.Request) {
	kind := landrun.ZoneAllowed
	if r.URL.Query().Get("kind") == landrun.ZoneBlocked.String() {
		kind = landrun.ZoneBlocked
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 4<<20))
	if err != nil {
		http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
		return
	}
	ids, err := a.fence.AddFromKML(r.Context(), kind, body)
	if err != nil {
		a.log.Error("zone upload", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	a.hub.BroadcastZones()
	fmt.Fprintf(w, "created %d zones\n", len(ids))
}

func (a *adminAPI) deleteZone(w http.ResponseWriter, r *http.Request) {
	id := landrun.ZoneID(mux.Vars(r)["id"])
	if err := a.fence.Remove(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	a.hub.BroadcastZones()
	w.WriteHeader(http.StatusNoContent)
}

func (a *adminAPI) spawnChest(w http.ResponseWriter, r *http.Request) {
	lng, err1 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	lat, err2 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	if err1 != nil || err2 != nil {
		http.Error(w, "lng and lat are required", http.StatusBadRequest)
		return
	}
	at := geo.Point{Lng: lng, Lat: lat}
	id, err := a.store.SpawnChest(r.Context(), at)
	if err != nil {
		a.log.Error("spawn chest", "error", err)
		http.Error(w, "spawn failed", http.StatusInternalServerError)
		return
	}
	a.hub.AnnounceChest(id, at)
	fmt.Fprintln(w, id)
}

func (a *adminAPI) createQuest(w http.ResponseWriter, r *http.Request) {
	kind, err := landrun.ParseQuestKind(r.URL.Query().Get("kind"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	target, err := strconv.ParseFloat(r.URL.Query().Get("target"), 64)
	if err != nil || target <= 0 {
		http.Error(w, "target must be a positive number", http.StatusBadRequest)
		return
	}
	hours, err := strconv.Atoi(r.URL.Query().Get("hours"))
	if err != nil || hours <= 0 {
		hours = 24 * 7
	}
	id, err := a.store.CreateQuest(r.Context(), kind, target, time.Now().Add(time.Duration(hours)*time.Hour))
	if err != nil {
		a.log.Error("create quest", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}
	fmt.Fprintln(w, id)
}

// sponsorCheckin is the sponsor portal's callback for a verified store
// visit; it advances the player's sponsor_checkin quests.
func (a *adminAPI) sponsorCheckin(w http.ResponseWriter, r *http.Request) {
	player := landrun.PlayerID(r.URL.Query().Get("player"))
	if player == "" {
		http.Error(w, "player is required", http.StatusBadRequest)
		return
	}
	if err := a.hub.SponsorCheckin(r.Context(), player); err != nil {
		a.log.Error("sponsor checkin", "player", player, "error", err)
		http.Error(w, "checkin failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *adminAPI) banPlayer(w http.ResponseWriter, r *http.Request) {
	id := landrun.PlayerID(mux.Vars(r)["id"])
	hours, err := strconv.Atoi(r.URL.Query().Get("hours"))
	if err != nil || hours <= 0 {
		http.Error(w, "hours must be a positive integer", http.StatusBadRequest)
		return
	}
	until := time.Now().Add(time.Duration(hours) * time.Hour)
	if err := a.store.SetBanned(r.Context(), id, &until); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}
	a.hub.Kick(id, until)
	w.WriteHeader(http.StatusNoContent)
}

// snapshot renders the current territory map for the requested bounding
// box: ?bbox=minLng,minLat,maxLng,maxLat&size=512&thumb=64
func (a *adminAPI) snapshot(w http.ResponseWriter, r *http.Request) {
	box, err := parseBBox(r.URL.Query().Get("bbox"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	size := 512
	if s := r.URL.Query().Get("size"); s != "" {
		if size, err = strconv.Atoi(s); err != nil || size <= 0 || size > 4096 {
			http.Error(w, "size must be between 1 and 4096", http.StatusBadRequest)
			return
		}
	}

	rows, err := a.store.AllTerritories(r.Context())
	if err != nil {
		a.log.Error("snapshot territories", "error", err)
		http.Error(w, "territory load failed", http.StatusInternalServerError)
		return
	}
	territories := make([]render.Territory, 0, len(rows))
	for _, row := range rows {
		territories = append(territories, render.Territory{Name: row.Name, Color: row.Color, Geom: row.Geom})
	}

	img, err := render.Snapshot(territories, box, size)
	if err != nil {
		a.log.Error("snapshot render", "error", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	var out image.Image = img
	if t := r.URL.Query().Get("thumb"); t != "" {
		px, err := strconv.Atoi(t)
		if err != nil || px <= 0 || px > size {
			http.Error(w, "bad thumb size", http.StatusBadRequest)
			return
		}
		out = render.Thumbnail(img, px)
	}
	w.Header().Set("Content-Type", "image/png")
	if err := png.Encode(w, out); err != nil {
		a.log.Error("snapshot encode", "error", err)
	}
}

func parseBBox(s string) (render.Box, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return render.Box{}, errors.New("bbox must be minLng,minLat,maxLng,maxLat")
	}
	var vals [4]float64
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return render.Box{}, fmt.Errorf("bad bbox component %q", p)
		}
		vals[i] = v
	}
	return render.Box{MinLng: vals[0], MinLat: vals[1], MaxLng: vals[2], MaxLat: vals[3]}, nil
}
