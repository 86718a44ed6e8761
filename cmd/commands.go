package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/ponytojas/sensormap/config"
	"github.com/ponytojas/sensormap/internal/database"
	"github.com/ponytojas/sensormap/internal/geo"
	"github.com/ponytojas/sensormap/internal/influx"
	"github.com/ponytojas/sensormap/internal/location"
	"github.com/ponytojas/sensormap/internal/models"
	"github.com/ponytojas/sensormap/internal/nearest"
	"github.com/ponytojas/sensormap/internal/session"
	"github.com/ponytojas/sensormap/internal/status"
	"github.com/ponytojas/sensormap/internal/tracker"
)

func cmdLogin(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("login")
	username := fs.StringP("username", "u", "", "user name")
	password := fs.StringP("password", "p", "", "password")

	a, err := setup(fs, args)
	if err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return errors.New("username and password are required")
	}

	tok, err := a.anonymousClient().ObtainToken(ctx, models.Credentials{Username: *username, Password: *password})
	if err != nil {
		return fmt.Errorf("login failed: %w", explain(err))
	}

	if err := session.New(a.cfg.API.BaseURL, *username, tok).Save(a.sessionPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "Logged in as %s\n", *username)
	return nil
}

func cmdLogout(args []string, out io.Writer) error {
	a, err := setup(newFlagSet("logout"), args)
	if err != nil {
		return err
	}
	if err := session.Clear(a.sessionPath); err != nil {
		return err
	}
	fmt.Fprintln(out, "Logged out")
	return nil
}

func cmdRegisterUser(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("register-user")
	username := fs.StringP("username", "u", "", "new user name")
	password := fs.StringP("password", "p", "", "new user password")

	a, err := setup(fs, args)
	if err != nil {
		return err
	}
	if *username == "" || *password == "" {
		return errors.New("username and password are required")
	}

	client, err := a.authedClient()
	if err != nil {
		return err
	}
	if err := client.CreateUser(ctx, models.Credentials{Username: *username, Password: *password}); err != nil {
		return fmt.Errorf("failed to create user: %w", explain(err))
	}
	fmt.Fprintf(out, "User %s created\n", *username)
	return nil
}

func cmdSensors(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("missing subcommand: list, get or create")
	}

	switch args[0] {
	case "list":
		return cmdSensorsList(ctx, args[1:], out)
	case "get":
		return cmdSensorsGet(ctx, args[1:], out)
	case "create":
		return cmdSensorsCreate(ctx, args[1:], out)
	default:
		return fmt.Errorf("unknown sensors subcommand %q", args[0])
	}
}

func cmdSensorsList(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("sensors list")
	asJSON := fs.Bool("json", false, "print JSON")

	a, err := setup(fs, args)
	if err != nil {
		return err
	}
	client, err := a.authedClient()
	if err != nil {
		return err
	}

	sensors, err := client.ListSensors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sensors: %w", explain(err))
	}
	if *asJSON {
		return writeJSON(out, sensors)
	}
	if len(sensors) == 0 {
		fmt.Fprintln(out, tracker.MsgNoSensors)
		return nil
	}
	printSensors(out, sensors)
	return nil
}

func cmdSensorsGet(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("sensors get")
	asJSON := fs.Bool("json", false, "print JSON")

	a, err := setup(fs, args)
	if err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: sensors get ID")
	}
	id, err := strconv.Atoi(fs.Arg(0))
	if err != nil {
		return fmt.Errorf("invalid sensor id %q", fs.Arg(0))
	}

	client, err := a.authedClient()
	if err != nil {
		return err
	}
	sensor, err := client.GetSensor(ctx, id)
	if err != nil {
		return explain(err)
	}
	if *asJSON {
		return writeJSON(out, sensor)
	}
	printSensors(out, []models.Sensor{sensor})
	return nil
}

func cmdSensorsCreate(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("sensors create")
	sensorType := fs.String("type", "", "sensor type (Temperatura, Contador, Umidade, Luminosidade)")
	lat := fs.String("lat", "", "latitude in degrees")
	lon := fs.String("lon", "", "longitude in degrees")
	mac := fs.String("mac", "", "MAC address")
	place := fs.String("location", "", "where the sensor is installed")
	responsible := fs.String("responsible", "", "person responsible")
	unit := fs.String("unit", "", "unit of measure")
	operational := fs.Bool("operational", true, "whether the sensor is operational")
	observation := fs.String("observation", "", "free text notes")

	a, err := setup(fs, args)
	if err != nil {
		return err
	}

	coord, err := parseCoordinate(*lat, *lon)
	if err != nil {
		return err
	}
	if *sensorType == "" {
		return errors.New("--type is required")
	}

	sensor := models.Sensor{
		Type:        models.SensorType(*sensorType),
		Latitude:    coord.Latitude,
		Longitude:   coord.Longitude,
		Location:    *place,
		Responsible: *responsible,
		Unit:        *unit,
		Operational: *operational,
		Observation: *observation,
	}
	if !sensor.Type.Known() {
		log.Printf("[CLI] Sensor type %q is not one of the standard types", *sensorType)
	}
	if *mac != "" {
		sensor.MACAddress = mac
	}

	client, err := a.authedClient()
	if err != nil {
		return err
	}
	created, err := client.CreateSensor(ctx, sensor)
	if err != nil {
		return fmt.Errorf("failed to create sensor: %w", explain(err))
	}
	fmt.Fprintf(out, "Sensor created with id %d\n", created.ID)
	return nil
}

func cmdNearest(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("nearest")
	lat := fs.String("lat", "", "latitude in degrees (default location.static_latitude)")
	lon := fs.String("lon", "", "longitude in degrees (default location.static_longitude)")
	all := fs.Bool("all", false, "list every sensor by distance")

	a, err := setup(fs, args)
	if err != nil {
		return err
	}

	pos := geo.Coordinate{Latitude: a.cfg.Location.StaticLatitude, Longitude: a.cfg.Location.StaticLongitude}
	if *lat != "" || *lon != "" {
		if pos, err = parseCoordinate(*lat, *lon); err != nil {
			return err
		}
	}

	client, err := a.authedClient()
	if err != nil {
		return err
	}
	sensors, err := client.ListSensors(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sensors: %w", explain(err))
	}

	if *all {
		ranked := nearest.Rank(sensors, pos)
		if len(ranked) == 0 {
			fmt.Fprintln(out, tracker.MsgNoSensors)
			return nil
		}
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tTYPE\tLOCATION\tDISTANCE")
		for _, r := range ranked {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Sensor.ID, r.Sensor.Type, r.Sensor.Location, formatDistance(r.DistanceMeters))
		}
		return w.Flush()
	}

	best, ok := nearest.Select(sensors, pos)
	if !ok {
		fmt.Fprintln(out, tracker.MsgNoSensors)
		return nil
	}
	fmt.Fprintf(out, "Nearest sensor: #%d %s at %s, %s away\n",
		best.Sensor.ID, best.Sensor.Type, describeLocation(best.Sensor), formatDistance(best.DistanceMeters))
	return nil
}

func cmdWatch(ctx context.Context, args []string, out io.Writer) error {
	defaults := config.GetDefaultConfig()
	fs := newFlagSet("watch")
	fs.String("location.source", defaults.Location.Source, "position source: mqtt or static")
	fs.String("mqtt.topic", defaults.MQTT.Topic, "MQTT topic carrying positions")
	fs.String("refresh.mode", defaults.Refresh.Mode, "sensor list refresh: poll or once")
	fs.Duration("refresh.interval", defaults.Refresh.Interval, "sensor list refresh interval")
	fs.String("history.driver", defaults.History.Driver, "record results to: none, postgres or influx")
	fs.String("status.listen_addr", defaults.Status.ListenAddr, "serve status over HTTP on this address")

	a, err := setup(fs, args)
	if err != nil {
		return err
	}
	cfg := a.cfg

	client, err := a.authedClient()
	if err != nil {
		return err
	}

	sinks, closeSinks, err := openHistory(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeSinks()

	opts := tracker.OptionsFromConfig(cfg)
	opts.Sinks = sinks
	opts.OnResult = func(r models.NearestResult) {
		fmt.Fprintf(out, "%s  nearest #%d %s at %s, %s away\n",
			r.ComputedAt.Format(time.RFC3339), r.Sensor.ID, r.Sensor.Type, describeLocation(r.Sensor), formatDistance(r.DistanceMeters))
	}
	tr := tracker.New(client, newWatcher(cfg), opts)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	serverDone := make(chan struct{})
	if cfg.Status.ListenAddr != "" {
		srv := status.New(cfg.Status.ListenAddr, tr)
		go func() {
			defer close(serverDone)
			log.Printf("[STATUS] Listening on %s", cfg.Status.ListenAddr)
			if err := srv.Run(ctx); err != nil {
				log.Printf("[STATUS] Server error: %v", err)
			}
		}()
	} else {
		close(serverDone)
	}

	log.Printf("[WATCH] Tracking nearest sensor from %s (source %s, refresh %s)",
		cfg.API.BaseURL, cfg.Location.Source, cfg.Refresh.Mode)
	err = tr.Run(ctx)

	cancel()
	<-serverDone
	log.Println("[WATCH] Shutting down...")
	return err
}

func cmdHistory(ctx context.Context, args []string, out io.Writer) error {
	fs := newFlagSet("history")
	limit := fs.Int("limit", 20, "number of results to show")

	a, err := setup(fs, args)
	if err != nil {
		return err
	}

	db, err := database.NewTimescaleDB(ctx, a.cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	entries, err := db.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No results recorded")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tSENSOR\tLOCATION\tDISTANCE\tPOSITION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%.6f,%.6f\n",
			e.Time.Format(time.RFC3339), e.SensorID, e.SensorLocation, formatDistance(e.DistanceMeters), e.Latitude, e.Longitude)
	}
	return w.Flush()
}

// newWatcher returns the configured position source.
func newWatcher(cfg *config.Config) location.Watcher {
	if cfg.Location.Source == config.SourceMQTT {
		return location.NewMQTTWatcher(cfg)
	}
	return location.NewStaticWatcher(cfg.Location.StaticLatitude, cfg.Location.StaticLongitude)
}

// openHistory connects the configured result history backend.
func openHistory(ctx context.Context, cfg *config.Config) ([]tracker.ResultSink, func(), error) {
	switch cfg.History.Driver {
	case config.HistoryPostgres:
		log.Println("[WATCH] Connecting to TimescaleDB...")
		db, err := database.NewTimescaleDB(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		if err := db.InitializeTable(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to initialize table: %w", err)
		}
		return []tracker.ResultSink{db}, func() { db.Close() }, nil

	case config.HistoryInflux:
		log.Printf("[WATCH] Recording results to InfluxDB at %s", cfg.Influx.URL)
		sink := influx.NewSink(cfg)
		return []tracker.ResultSink{sink}, sink.Close, nil

	default:
		return nil, func() {}, nil
	}
}

// parseCoordinate validates user-entered degrees.
func parseCoordinate(lat, lon string) (geo.Coordinate, error) {
	var c geo.Coordinate
	var err error
	if c.Latitude, err = strconv.ParseFloat(strings.TrimSpace(lat), 64); err != nil {
		return c, fmt.Errorf("latitude must be a number, got %q", lat)
	}
	if c.Longitude, err = strconv.ParseFloat(strings.TrimSpace(lon), 64); err != nil {
		return c, fmt.Errorf("longitude must be a number, got %q", lon)
	}
	return c, nil
}

func printSensors(out io.Writer, sensors []models.Sensor) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tLATITUDE\tLONGITUDE\tLOCATION\tRESPONSIBLE\tUNIT\tOPERATIONAL\tMAC")
	for _, s := range sensors {
		mac := "-"
		if s.MACAddress != nil && *s.MACAddress != "" {
			mac = *s.MACAddress
		}
		fmt.Fprintf(w, "%d\t%s\t%.6f\t%.6f\t%s\t%s\t%s\t%t\t%s\n",
			s.ID, s.Type, s.Latitude, s.Longitude, s.Location, s.Responsible, s.Unit, s.Operational, mac)
	}
	w.Flush()
}

func describeLocation(s models.Sensor) string {
	if s.Location == "" {
		return fmt.Sprintf("%.6f,%.6f", s.Latitude, s.Longitude)
	}
	return s.Location
}

func formatDistance(m float64) string {
	if m >= 1000 {
		return fmt.Sprintf("%.2f km", m/1000)
	}
	return fmt.Sprintf("%.1f m", m)
}

func writeJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
