package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// LoadFile loads node configuration from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}
		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	case "datadir":
		cfg.DataDir = value

	// P2P
	case "p2p.listen":
		cfg.P2P.ListenAddr = value
	case "p2p.port":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.P2P.Port = n
	case "p2p.seeds":
		cfg.P2P.Seeds = parseStringList(value)
	case "p2p.maxpeers":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.P2P.MaxPeers = n

	// GossipSub
	case "gossipsub.d":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.GossipSub.MeshDegree = n
	case "gossipsub.dlo":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.GossipSub.MeshDegreeLow = n
	case "gossipsub.dhi":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.GossipSub.MeshDegreeHigh = n
	case "gossipsub.dscore":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.GossipSub.MeshDegreeScore = n
	case "gossipsub.dout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.GossipSub.MeshDegreeOut = n
	case "gossipsub.heartbeat":
		cfg.GossipSub.HeartbeatInterval = value
	case "gossipsub.fanoutttl":
		cfg.GossipSub.FanoutTTL = value
	case "gossipsub.prunebackoff":
		cfg.GossipSub.PruneBackoff = value
	case "gossipsub.directpeers":
		cfg.GossipSub.DirectPeers = parseStringList(value)
	case "gossipsub.floodpublish":
		cfg.GossipSub.FloodPublish = parseBool(value)

	// AutoNAT
	case "autonat.v1":
		cfg.AutoNAT.EnableV1 = parseBool(value)
	case "autonat.v2":
		cfg.AutoNAT.EnableV2 = parseBool(value)
	case "autonat.throttlepeermax":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.AutoNAT.ThrottlePeerMax = n
	case "autonat.throttleglobalmax":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.AutoNAT.ThrottleGlobalMax = n
	case "autonat.throttleinterval":
		cfg.AutoNAT.ThrottleInterval = value
	case "autonat.confidencethreshold":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.AutoNAT.ConfidenceThreshold = n

	// Discovery
	case "discovery.mdns":
		cfg.Discovery.EnableMDNS = parseBool(value)
	case "discovery.dht":
		cfg.Discovery.EnableDHT = parseBool(value)
	case "discovery.dhtserver":
		cfg.Discovery.DHTServerMode = parseBool(value)
	case "discovery.bootstrap":
		cfg.Discovery.Bootstrap = parseStringList(value)
	case "discovery.bootstrapfanout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.Discovery.BootstrapFanout = n

	// NAT mapping
	case "natmap.upnp":
		cfg.NATMap.EnableUPnP = parseBool(value)
	case "natmap.natpmp":
		cfg.NATMap.EnableNATPMP = parseBool(value)
	case "natmap.pcp":
		cfg.NATMap.EnablePCP = parseBool(value)
	case "natmap.leasettl":
		cfg.NATMap.LeaseTTL = value

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored.
	}
	return nil
}

func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default node configuration file.
func WriteDefaultConfig(path string) error {
	content := `# meshnet node configuration
#
# p2p.listen = 0.0.0.0
# p2p.port = 4001
# p2p.seeds = /ip4/203.0.113.1/tcp/4001/p2p/12D3KooW...

datadir = ` + DefaultDataDir() + `
p2p.listen = 0.0.0.0
p2p.port = 4001
p2p.maxpeers = 200

gossipsub.d = 6
gossipsub.dlo = 5
gossipsub.dhi = 12
gossipsub.heartbeat = 1s

autonat.v1 = true
autonat.v2 = true

discovery.mdns = true
discovery.dht = true

natmap.upnp = true
natmap.natpmp = true
natmap.pcp = true

log.level = info
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
