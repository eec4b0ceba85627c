package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"ldnlink/internal/backend"
	"ldnlink/internal/config"
	"ldnlink/internal/hostap"
	"ldnlink/internal/inet"
	"ldnlink/internal/ldnerr"
	"ldnlink/internal/model"
	"ldnlink/internal/radio"
	"ldnlink/internal/roomdir"
	"ldnlink/internal/session"
	"ldnlink/internal/store"
)

const usage = `ldnlink - local-network session emulation over internet or radio

Usage:
  ldnlink room serve --config <path> [--listen :8433] [--data-dir <dir>]
  ldnlink room status --config <path>
  ldnlink host --config <path> --name <net> --app-id <id> [--backend inet|radio]
               [--passphrase <pw>] [--channel 6] [--max-nodes 8] [--advertise <hex>]
  ldnlink join --config <path> --name <net> [--backend inet|radio]
               [--app-id <id>] [--passphrase <pw>]
  ldnlink scan --config <path> [--app-id <id>] [--name <net>] [--channel <n>]
               [--backend inet|radio] [--save <path>]
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "-h", "--help", "help":
		fmt.Print(usage)
	case "room":
		handleRoom(os.Args[2:])
	case "host":
		handleHost(os.Args[2:])
	case "join":
		handleJoin(os.Args[2:])
	case "scan":
		handleScan(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", os.Args[1])
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func handleRoom(args []string) {
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, "room subcommand required\n")
		os.Exit(2)
	}
	switch args[0] {
	case "serve":
		roomServe(args[1:])
	case "status":
		roomStatus(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown room subcommand %q\n", args[0])
		os.Exit(2)
	}
}

func roomServe(args []string) {
	fs := flag.NewFlagSet("room serve", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	listen := fs.String("listen", "", "listen address")
	dataDir := fs.String("data-dir", "", "data directory")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Room == nil {
		cfg.Room = &config.RoomConfig{}
	}
	if *listen != "" {
		cfg.Room.Listen = *listen
	}
	if *dataDir != "" {
		cfg.Room.DataDir = *dataDir
	}
	config.ApplyDefaults(&cfg)
	if err := config.Validate(cfg); err != nil {
		fatal(err)
	}

	srv, err := roomdir.NewServer(roomdir.Config{
		Listen:     cfg.Room.Listen,
		DataDir:    cfg.Room.DataDir,
		AuthToken:  cfg.Room.AuthToken,
		SessionTTL: time.Duration(cfg.Room.SessionTTLSec) * time.Second,
		RelayURL:   cfg.Room.RelayURL,
	})
	if err != nil {
		fatal(err)
	}
	fatal(srv.ListenAndServe())
}

func roomStatus(args []string) {
	fs := flag.NewFlagSet("room status", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal(err)
	}
	if cfg.Room == nil || cfg.Room.DataDir == "" {
		fatal(errors.New("room.data_dir is required"))
	}

	reg, err := store.LoadRegistry(filepath.Join(cfg.Room.DataDir, "registry.yaml"))
	if err != nil {
		fatal(err)
	}
	if reg == nil || len(reg.Sessions) == 0 {
		fmt.Fprintln(os.Stdout, "no registered sessions")
		return
	}

	fmt.Fprintf(os.Stdout, "%-36s  %-18s  %-16s  %-4s  %-5s  %-10s  %-20s\n",
		"HANDLE", "APP_ID", "NAME", "CH", "NODES", "NAT", "LAST_SEEN")
	for _, s := range reg.Sessions {
		lastSeen := ""
		if !s.LastSeenAt.IsZero() {
			lastSeen = s.LastSeenAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(os.Stdout, "%-36s  %-18s  %-16s  %-4d  %d/%-3d  %-10s  %-20s\n",
			s.Handle, fmt.Sprintf("%#x", s.AppID), s.Name, s.Channel, s.NodeCount, s.NodeCountMax, s.NATType, lastSeen)
	}
}

func handleHost(args []string) {
	fs := flag.NewFlagSet("host", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	backendKind := fs.String("backend", "inet", "transport backend: inet|radio")
	iface := fs.String("iface", "", "wireless interface (radio backend)")
	name := fs.String("name", "", "network name")
	appID := fs.String("app-id", "", "application id (hex or decimal)")
	sceneID := fs.Uint("scene-id", 0, "scene id")
	passphrase := fs.String("passphrase", "", "network passphrase")
	channel := fs.Uint("channel", 6, "radio channel")
	maxNodes := fs.Uint("max-nodes", uint(model.NodeCountLimit), "maximum node count")
	advertise := fs.String("advertise", "", "advertise data (hex)")
	_ = fs.Parse(args)

	cfg, clientCfg := mustClientConfig(*configPath)
	id := mustAppID(*appID)
	advertiseData := mustHex(*advertise)

	sess := mustSession(*backendKind, *iface, cfg, clientCfg)
	ctx, cancel := signalContext()
	defer cancel()
	defer sess.Finalize(context.Background())

	if err := sess.Initialize(); err != nil {
		fatal(err)
	}
	if err := sess.OpenAccessPoint(ctx); err != nil {
		fatal(err)
	}
	err := sess.CreateNetwork(ctx, backend.CreateConfig{
		Name:          *name,
		AppID:         id,
		SceneID:       uint16(*sceneID),
		Channel:       uint16(*channel),
		NodeCountMax:  uint8(*maxNodes),
		Security:      securityFor(*passphrase),
		Passphrase:    []byte(*passphrase),
		AdvertiseData: advertiseData,
		NodeName:      clientCfg.NodeName,
	})
	if err != nil {
		fatal(err)
	}

	fmt.Fprintf(os.Stdout, "hosting %q app_id=%#x channel=%d\n", *name, id, *channel)
	pumpPackets(ctx, sess)
}

func handleJoin(args []string) {
	fs := flag.NewFlagSet("join", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	backendKind := fs.String("backend", "inet", "transport backend: inet|radio")
	iface := fs.String("iface", "", "wireless interface (radio backend)")
	name := fs.String("name", "", "network name")
	appID := fs.String("app-id", "", "application id (hex or decimal)")
	passphrase := fs.String("passphrase", "", "network passphrase")
	_ = fs.Parse(args)

	cfg, clientCfg := mustClientConfig(*configPath)
	var id uint64
	if *appID != "" {
		id = mustAppID(*appID)
	}

	sess := mustSession(*backendKind, *iface, cfg, clientCfg)
	ctx, cancel := signalContext()
	defer cancel()
	defer sess.Finalize(context.Background())

	if err := sess.Initialize(); err != nil {
		fatal(err)
	}
	if err := sess.OpenStation(ctx); err != nil {
		fatal(err)
	}

	results, err := sess.Scan(ctx, backend.ScanFilter{AppID: id, Name: *name})
	if err != nil {
		fatal(err)
	}
	if len(results) == 0 {
		fatal(fmt.Errorf("no network named %q found", *name))
	}

	target := results[0]
	err = sess.Connect(ctx, backend.JoinParams{
		NodeName:   clientCfg.NodeName,
		Passphrase: []byte(*passphrase),
	}, target)
	if err != nil {
		fatal(err)
	}

	info, err := sess.GetNetworkInfo()
	if err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stdout, "connected to %q nodes=%d/%d link=%s\n",
		info.Name, info.NodeCount, info.NodeCountMax, info.LinkLevel)
	pumpPackets(ctx, sess)
}

// pumpPackets prints received datagrams and forwards stdin lines until
// the context is cancelled.
func pumpPackets(ctx context.Context, sess *session.Session) {
	go func() {
		for ctx.Err() == nil {
			data, ch, err := sess.ReceivePacket(ctx)
			if err != nil {
				if ldnerr.KindOf(err) == ldnerr.KindTimeout {
					continue
				}
				return
			}
			fmt.Fprintf(os.Stdout, "[ch %d] %s\n", ch, data)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := sess.SendPacket(ctx, []byte(line), 1); err != nil {
			fmt.Fprintf(os.Stderr, "send: %v\n", err)
		}
	}
	<-ctx.Done()
}

func handleScan(args []string) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	configPath := fs.String("config", "", "path to YAML config")
	backendKind := fs.String("backend", "inet", "transport backend: inet|radio")
	iface := fs.String("iface", "", "wireless interface (radio backend)")
	appID := fs.String("app-id", "", "application id filter")
	name := fs.String("name", "", "network name filter")
	channel := fs.Uint("channel", 0, "channel filter")
	save := fs.String("save", "", "write results to a registry file")
	_ = fs.Parse(args)

	cfg, clientCfg := mustClientConfig(*configPath)
	var id uint64
	if *appID != "" {
		id = mustAppID(*appID)
	}

	sess := mustSession(*backendKind, *iface, cfg, clientCfg)
	ctx, cancel := signalContext()
	defer cancel()
	defer sess.Finalize(context.Background())

	if err := sess.Initialize(); err != nil {
		fatal(err)
	}
	if err := sess.OpenStation(ctx); err != nil {
		fatal(err)
	}

	results, err := sess.Scan(ctx, backend.ScanFilter{AppID: id, Name: *name, Channel: uint16(*channel)})
	if err != nil {
		fatal(err)
	}
	if len(results) == 0 {
		fmt.Fprintln(os.Stdout, "no networks found")
		return
	}

	fmt.Fprintf(os.Stdout, "%-18s  %-16s  %-4s  %-5s  %-9s  %-5s\n",
		"APP_ID", "NAME", "CH", "NODES", "LINK", "RSSI")
	for _, r := range results {
		fmt.Fprintf(os.Stdout, "%-18s  %-16s  %-4d  %d/%-3d  %-9s  %-5d\n",
			fmt.Sprintf("%#x", r.Network.AppID), r.Network.Name, r.Network.Channel,
			r.Network.NodeCount, r.Network.NodeCountMax, r.Network.LinkLevel, r.RSSI)
	}

	if *save != "" {
		if err := saveScan(*save, results); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to save results: %v\n", err)
		}
	}
}

func saveScan(path string, results []model.ScanResult) error {
	reg := &store.Registry{}
	for _, r := range results {
		reg.Sessions = append(reg.Sessions, store.SessionInfo{
			AppID:         r.Network.AppID,
			Name:          r.Network.Name,
			Channel:       r.Network.Channel,
			NodeCount:     r.Network.NodeCount,
			NodeCountMax:  r.Network.NodeCountMax,
			HasPassword:   r.Network.HasPassword,
			AdvertiseData: r.Network.AdvertiseData,
			LastSeenAt:    r.CapturedAt,
		})
	}
	return store.SaveRegistry(path, reg)
}

func mustClientConfig(path string) (config.Config, *config.ClientConfig) {
	cfg, err := loadConfig(path)
	if err != nil {
		fatal(err)
	}
	if cfg.Client == nil {
		cfg.Client = &config.ClientConfig{}
	}
	config.ApplyDefaults(&cfg)
	return cfg, cfg.Client
}

func mustSession(kind, iface string, cfg config.Config, clientCfg *config.ClientConfig) *session.Session {
	var be backend.Backend
	switch kind {
	case "inet":
		if err := config.Validate(cfg); err != nil {
			fatal(err)
		}
		be = inet.New(inet.Options{Config: clientCfg})
	case "radio":
		be = radio.New(radio.Options{Platform: hostap.New(nil, iface, "")})
	default:
		fatal(fmt.Errorf("unknown backend %q", kind))
	}
	return session.New(be, clientCfg.ReconnectPolicy())
}

func securityFor(passphrase string) model.SecurityMode {
	if passphrase == "" {
		return model.SecurityOpen
	}
	return model.SecurityRestricted
}

func mustAppID(v string) uint64 {
	s := strings.ToLower(strings.TrimSpace(v))
	if s == "" {
		fatal(errors.New("app-id is required"))
	}
	base := 10
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		s, base = rest, 16
	}
	id, err := strconv.ParseUint(s, base, 64)
	if err != nil || id == 0 {
		fatal(fmt.Errorf("invalid app-id %q", v))
	}
	return id
}

func mustHex(v string) []byte {
	if v == "" {
		return nil
	}
	data, err := hex.DecodeString(v)
	if err != nil {
		fatal(fmt.Errorf("invalid hex %q", v))
	}
	return data
}

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Config{}, nil
	}
	return config.Load(path)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func fatal(err error) {
	if err == nil {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
