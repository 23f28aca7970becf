package config

import (
	"flag"
	"fmt"
	"os"
	"strings"
)

// Flags holds parsed command-line flags.
type Flags struct {
	Help    bool
	Version bool

	DataDir string
	Config  string

	P2PPort  int
	Seeds    string
	MaxPeers int

	NoMDNS bool
	NoDHT  bool
	NoNAT  bool

	LogLevel string
	LogFile  string
	LogJSON  bool
}

// Parse parses os.Args[1:] into a Flags struct.
func Parse(args []string) (*Flags, error) {
	fs := flag.NewFlagSet("meshnetd", flag.ContinueOnError)
	f := &Flags{}

	fs.BoolVar(&f.Help, "help", false, "show help")
	fs.BoolVar(&f.Version, "version", false, "show version")
	fs.StringVar(&f.DataDir, "datadir", "", "data directory")
	fs.StringVar(&f.Config, "config", "", "path to config file")
	fs.IntVar(&f.P2PPort, "port", 0, "listen port")
	fs.StringVar(&f.Seeds, "seeds", "", "comma-separated bootstrap multiaddrs")
	fs.IntVar(&f.MaxPeers, "maxpeers", 0, "maximum peer connections")
	fs.BoolVar(&f.NoMDNS, "no-mdns", false, "disable mDNS discovery")
	fs.BoolVar(&f.NoDHT, "no-dht", false, "disable DHT discovery")
	fs.BoolVar(&f.NoNAT, "no-natmap", false, "disable NAT port mapping")
	fs.StringVar(&f.LogLevel, "loglevel", "", "log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "logfile", "", "log file path")
	fs.BoolVar(&f.LogJSON, "logjson", false, "emit JSON logs")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// Apply overlays parsed flags on top of a Config.
func Apply(cfg *Config, f *Flags) {
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}
	if f.P2PPort != 0 {
		cfg.P2P.Port = f.P2PPort
	}
	if f.Seeds != "" {
		cfg.P2P.Seeds = splitCSV(f.Seeds)
	}
	if f.MaxPeers != 0 {
		cfg.P2P.MaxPeers = f.MaxPeers
	}
	if f.NoMDNS {
		cfg.Discovery.EnableMDNS = false
	}
	if f.NoDHT {
		cfg.Discovery.EnableDHT = false
	}
	if f.NoNAT {
		cfg.NATMap.EnableUPnP = false
		cfg.NATMap.EnableNATPMP = false
		cfg.NATMap.EnablePCP = false
	}
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.LogJSON {
		cfg.Log.JSON = true
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Usage prints flag usage to stderr.
func Usage() {
	fmt.Fprintln(os.Stderr, "meshnetd — GossipSub/AutoNAT/Discovery mesh daemon")
	fmt.Fprintln(os.Stderr, "usage: meshnetd [flags]")
}
