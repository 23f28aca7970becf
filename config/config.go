// Package config handles application configuration for the meshnet daemon.
package config

import (
	"os"
	"path/filepath"
	"runtime"
)

// Config holds node-specific runtime configuration.
type Config struct {
	DataDir string `conf:"datadir"`

	P2P       P2PConfig
	GossipSub GossipSubConfig
	AutoNAT   AutoNATConfig
	Discovery DiscoveryConfig
	NATMap    NATMapConfig
	Log       LogConfig
}

// P2PConfig holds host/transport level settings.
type P2PConfig struct {
	ListenAddr string   `conf:"p2p.listen"`
	Port       int      `conf:"p2p.port"`
	Seeds      []string `conf:"p2p.seeds"`
	MaxPeers   int      `conf:"p2p.maxpeers"`
}

// GossipSubConfig holds mesh router tuning parameters.
type GossipSubConfig struct {
	MeshDegree                  int      `conf:"gossipsub.d"`
	MeshDegreeLow                int      `conf:"gossipsub.dlo"`
	MeshDegreeHigh                int      `conf:"gossipsub.dhi"`
	MeshDegreeScore             int      `conf:"gossipsub.dscore"`
	MeshDegreeOut                int      `conf:"gossipsub.dout"`
	GossipFactor                 float64  `conf:"gossipsub.gossipfactor"`
	HeartbeatInterval             string   `conf:"gossipsub.heartbeat"`
	FanoutTTL                    string   `conf:"gossipsub.fanoutttl"`
	PruneBackoff                  string   `conf:"gossipsub.prunebackoff"`
	OpportunisticGraftTicks       int      `conf:"gossipsub.opportunisticgraftticks"`
	OpportunisticGraftPeers      int      `conf:"gossipsub.opportunisticgraftpeers"`
	// DirectPeers pins a peer to a specific topic: each entry has the
	// form "topic=/ip4/.../p2p/<id>", since direct-peer status is a
	// per-topic grant, not a router-wide one.
	DirectPeers                   []string `conf:"gossipsub.directpeers"`
	FloodPublish                  bool     `conf:"gossipsub.floodpublish"`
	MaxIHaveLength                 int      `conf:"gossipsub.maxihavelength"`
	MaxIHaveMessages               int      `conf:"gossipsub.maxihavemessages"`
	GossipRetransmission           int      `conf:"gossipsub.gossipretransmission"`
}

// AutoNATConfig holds reachability-probing settings.
type AutoNATConfig struct {
	EnableV1            bool   `conf:"autonat.v1"`
	EnableV2            bool   `conf:"autonat.v2"`
	ThrottlePeerMax      int    `conf:"autonat.throttlepeermax"`
	ThrottleGlobalMax    int    `conf:"autonat.throttleglobalmax"`
	ThrottleInterval     string `conf:"autonat.throttleinterval"`
	ConfidenceThreshold  int    `conf:"autonat.confidencethreshold"`
}

// DiscoveryConfig holds peer discovery substrate settings.
type DiscoveryConfig struct {
	EnableMDNS     bool     `conf:"discovery.mdns"`
	EnableDHT      bool     `conf:"discovery.dht"`
	DHTServerMode  bool     `conf:"discovery.dhtserver"`
	Bootstrap      []string `conf:"discovery.bootstrap"`
	BootstrapFanout int     `conf:"discovery.bootstrapfanout"`
}

// NATMapConfig holds NAT port-mapping settings.
type NATMapConfig struct {
	EnableUPnP   bool   `conf:"natmap.upnp"`
	EnableNATPMP bool   `conf:"natmap.natpmp"`
	EnablePCP    bool   `conf:"natmap.pcp"`
	LeaseTTL     string `conf:"natmap.leasettl"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".meshnet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "meshnet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "meshnet")
		}
		return filepath.Join(home, "AppData", "Roaming", "meshnet")
	default:
		return filepath.Join(home, ".meshnet")
	}
}

// KeystoreDir returns the identity keystore directory.
func (c *Config) KeystoreDir() string {
	return filepath.Join(c.DataDir, "keystore")
}

// PeerstoreDir returns the persisted peer/address-book directory.
func (c *Config) PeerstoreDir() string {
	return filepath.Join(c.DataDir, "peerstore")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "meshnet.conf")
}
