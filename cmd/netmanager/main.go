// netmanager watches the host's network interfaces, classifies them as LAN
// or WAN and answers which address to advertise to a given peer.
package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"

	"github.com/strazto/jellyfin/internal/config"
	"github.com/strazto/jellyfin/internal/logger"
	"github.com/strazto/jellyfin/internal/netmon"
	"github.com/strazto/jellyfin/internal/network"
	"github.com/strazto/jellyfin/internal/server"
	"github.com/strazto/jellyfin/internal/shutdown"
	"github.com/strazto/jellyfin/internal/storage"
	"github.com/strazto/jellyfin/internal/version"
)

type globals struct {
	Config         string `help:"Path to the configuration file." short:"c" type:"path" env:"NETMANAGER_CONFIG"`
	MockInterfaces string `help:"Replace the interface scan with \"addr/len,index,name|...\"." env:"NETMANAGER_MOCK_INTERFACES"`
}

type cli struct {
	globals

	Serve      serveCmd      `cmd:"" default:"1" help:"Run the network manager and its diagnostics API."`
	Resolve    resolveCmd    `cmd:"" help:"Print the address advertised to a peer."`
	Interfaces interfacesCmd `cmd:"" help:"List discovered and bindable interfaces."`
	Migrate    migrateCmd    `cmd:"" help:"Convert a legacy flat configuration file."`
	Version    versionCmd    `cmd:"" help:"Show version information."`
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("netmanager"),
		kong.Description("Host network topology manager."),
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&c.globals))
}

func (g *globals) configManager() *config.Manager {
	if g.Config != "" {
		return config.NewManagerWithPath(g.Config)
	}
	return config.NewManager()
}

// load migrates a legacy file in place and loads the configuration
func (g *globals) load(verbose bool) (*config.Manager, *config.Config, error) {
	mgr := g.configManager()
	if _, err := config.NewMigrator(verbose).AutoMigrate(mgr.GetConfigPath()); err != nil {
		return nil, nil, fmt.Errorf("failed to migrate %s: %w", mgr.GetConfigPath(), err)
	}
	cfg, err := mgr.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load %s: %w", mgr.GetConfigPath(), err)
	}
	return mgr, cfg, nil
}

// engine builds a one-shot network manager for the query commands
func (g *globals) engine() (*network.Manager, error) {
	logger.SetLogger(logger.NewLoggerWithWriter(os.Stderr, "warn", false))

	cfgMgr, _, err := g.load(false)
	if err != nil {
		return nil, err
	}
	return network.NewManager(cfgMgr, network.Options{MockInterfaces: g.MockInterfaces}), nil
}

type serveCmd struct {
	PollInterval time.Duration `help:"Interface poll interval when OS notifications are unavailable." default:"5s"`
	NoJournal    bool          `help:"Do not journal network snapshots."`
}

func (s *serveCmd) Run(g *globals) error {
	cfgMgr, cfg, err := g.load(true)
	if err != nil {
		return err
	}

	if err := logger.InitLogger(&cfg.Log, "netmanager"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: cannot initialize logging: %v\n", err)
	}
	logger.Infof("netmanager %s starting", version.GetVersionInfo())
	logger.Infof("Configuration: %s", cfgMgr.GetConfigPath())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfgMgr.Watch(ctx, func(err error) {
		logger.WithError(err).Warn("Configuration reload failed, keeping previous configuration")
	}); err != nil {
		logger.WithError(err).Warn("Configuration file will not be watched")
	}
	unsubLog := cfgMgr.Subscribe(config.SectionLog, func(string) {
		level := cfgMgr.Get().Log.Level
		logger.GetLogger().SetLevel(level)
		logger.Infof("Log level changed to %s", level)
	})
	defer unsubLog()

	netMgr := network.NewManager(cfgMgr, network.Options{MockInterfaces: g.MockInterfaces})

	mon := netmon.New(&netmon.Config{PollInterval: s.PollInterval})
	if err := mon.Start(ctx); err != nil {
		logger.WithError(err).Warn("Network change monitor unavailable")
	}
	netMgr.Watch(cfgMgr, mon)

	var (
		store   *storage.Manager
		journal *server.Journal
	)
	if !s.NoJournal {
		store, err = storage.NewManager(&cfg.Storage)
		if err != nil {
			return fmt.Errorf("failed to open snapshot journal: %w", err)
		}
		journal = server.NewJournal(store)
		if err := journal.Record(ctx, netMgr.Snapshot(), "startup", true); err != nil {
			logger.WithError(err).Warn("Failed to journal startup snapshot")
		}
	}

	journalDone := make(chan struct{})
	unsubJournal := func() {}
	if journal != nil {
		var events <-chan network.ChangeEvent
		events, unsubJournal = netMgr.Subscribe()
		go func() {
			defer close(journalDone)
			journal.Follow(ctx, events)
		}()
	} else {
		close(journalDone)
	}

	var srv *server.Server
	if cfg.Server.Enabled {
		srv, err = server.NewServer(&server.Config{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		}, netMgr, journal)
		if err != nil {
			return err
		}
		if err := srv.Start(); err != nil {
			return err
		}
	}

	shutdownMgr := shutdown.NewManager(10 * time.Second)
	if srv != nil {
		shutdownMgr.Register("http-server", srv.Shutdown, shutdown.PriorityCritical)
	}
	shutdownMgr.Register("network-monitor", func(ctx context.Context) error {
		return mon.Stop()
	}, shutdown.PriorityHigh)
	shutdownMgr.Register("network-manager", func(ctx context.Context) error {
		return netMgr.Close()
	}, shutdown.PriorityHigh)
	shutdownMgr.Register("journal", func(ctx context.Context) error {
		unsubJournal()
		select {
		case <-journalDone:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}, shutdown.PriorityHigh)
	shutdownMgr.Register("config-watcher", func(ctx context.Context) error {
		cancel()
		return nil
	}, shutdown.PriorityNormal)
	if store != nil {
		shutdownMgr.Register("storage", func(ctx context.Context) error {
			return store.Close()
		}, shutdown.PriorityNormal)
	}
	shutdownMgr.Register("logger", func(ctx context.Context) error {
		logger.Info("Logger closing")
		return logger.GetLogger().Close()
	}, shutdown.PriorityLow)

	shutdownMgr.Start()
	<-shutdownMgr.Done()
	return shutdownMgr.Wait()
}

type resolveCmd struct {
	Peer          string `arg:"" optional:"" help:"Peer address or host name; empty for no specific peer."`
	SkipOverrides bool   `help:"Ignore published server overrides."`
}

func (r *resolveCmd) Run(g *globals) error {
	mgr, err := g.engine()
	if err != nil {
		return err
	}
	defer mgr.Close()

	var (
		address string
		port    *int
	)
	if addr, err := netip.ParseAddr(r.Peer); err == nil || r.Peer == "" {
		address, port = mgr.ResolveBindAddress(addr, r.SkipOverrides)
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		address, port = mgr.ResolveBindAddressString(ctx, r.Peer)
	}

	if port != nil {
		fmt.Printf("%s:%d\n", address, *port)
	} else {
		fmt.Println(address)
	}
	return nil
}

type interfacesCmd struct {
	Raw bool `help:"Show the raw scan instead of the bind set."`
}

func (i *interfacesCmd) Run(g *globals) error {
	mgr, err := g.engine()
	if err != nil {
		return err
	}
	defer mgr.Close()

	snap := mgr.Snapshot()
	list := snap.BindInterfaces
	if i.Raw {
		list = snap.Interfaces
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ADAPTER\tINDEX\tADDRESS\tSUBNET\tLAN")
	for _, iface := range list {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%t\n",
			iface.AdapterName, iface.AdapterIndex, iface.Address, iface.Subnet, snap.IsLocal(iface.Address))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nLAN subnets: %s\n", joinOrNone(snap.LANSubnets))
	if len(snap.ExcludedSubnets) > 0 {
		fmt.Printf("Excluded: %s\n", joinOrNone(snap.ExcludedSubnets))
	}
	return nil
}

func joinOrNone(list []netip.Prefix) string {
	if len(list) == 0 {
		return "none"
	}
	parts := make([]string, len(list))
	for i, p := range list {
		parts[i] = p.String()
	}
	return strings.Join(parts, ", ")
}

type migrateCmd struct{}

func (m *migrateCmd) Run(g *globals) error {
	path := g.configManager().GetConfigPath()
	migrated, err := config.NewMigrator(true).AutoMigrate(path)
	if err != nil {
		return err
	}
	if !migrated {
		fmt.Printf("%s is already in the current format\n", path)
		return nil
	}
	fmt.Printf("%s migrated\n", path)
	return nil
}

type versionCmd struct{}

func (v *versionCmd) Run() error {
	fmt.Println(version.GetVersionInfo().FullString())
	return nil
}
