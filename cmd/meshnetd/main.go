// Meshnet daemon.
//
// Usage:
//
//	meshnetd [flags]    run the node
//	meshnetd --help     show help
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/meshnet-go/meshnet/config"
	"github.com/meshnet-go/meshnet/internal/autonat/v1"
	"github.com/meshnet-go/meshnet/internal/autonat/v2"
	"github.com/meshnet-go/meshnet/internal/discovery"
	"github.com/meshnet-go/meshnet/internal/discovery/dhtdisc"
	"github.com/meshnet-go/meshnet/internal/discovery/mdnsdisc"
	klog "github.com/meshnet-go/meshnet/internal/log"
	"github.com/meshnet-go/meshnet/internal/metrics"
	"github.com/meshnet-go/meshnet/internal/natmap"
	"github.com/meshnet-go/meshnet/internal/node"
	"github.com/meshnet-go/meshnet/internal/pubsub"
	"github.com/meshnet-go/meshnet/internal/storage"
	"github.com/meshnet-go/meshnet/p2ptypes"
)

// heartbeatTopic is joined unconditionally so a freshly started node
// always has at least one live mesh to watch peer churn on.
const heartbeatTopic pubsub.Topic = "meshnet/heartbeat/1.0.0"

// meshNamespace is the rendezvous namespace this node advertises
// itself under and searches for peers within, via whichever discovery
// services (DHT, mDNS) are enabled.
const meshNamespace = "meshnet/rendezvous/1.0.0"

func main() {
	// ── 1. Load config (defaults → data dirs → file → flags) ────────────
	cfg, _, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ────────────────────────────────────────────────
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = cfg.LogsDir() + "/meshnet.log"
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := klog.WithComponent("node")
	logger.Info().Str("datadir", cfg.DataDir).Msg("starting meshnet node")

	// ── 3. Metrics ──────────────────────────────────────────────────────
	m := metrics.New()
	if err := m.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Warn().Err(err).Msg("metrics registration failed")
	}

	// ── 4. Reputation store (persisted peer scores) ──────────────────
	scoreDB, err := storage.NewBadger(cfg.DataDir + "/discovery")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open discovery store")
	}
	defer scoreDB.Close()
	scores := discovery.NewScoreStore(scoreDB)

	// ── 5. Build the libp2p host and attach the GossipSub router ───────
	h, err := node.NewHost(node.Config{
		ListenAddr: cfg.P2P.ListenAddr,
		Port:       cfg.P2P.Port,
		DataDir:    cfg.DataDir,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build libp2p host")
	}
	defer h.Close()

	priv := h.Peerstore().PrivKey(h.ID())
	routerCfg := routerConfigFrom(cfg.GossipSub)
	direct, err := parseDirectPeers(cfg.GossipSub.DirectPeers)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid gossipsub.directpeers")
	}
	router := pubsub.NewRouter(routerCfg, h.ID(), priv, direct, m, pubsub.NoopTracer{})
	n := node.Attach(h, router)

	logger.Info().Str("peer_id", h.ID().String()).Msg("host listening")
	for _, a := range h.Addrs() {
		logger.Info().Str("addr", a.String()+"/p2p/"+h.ID().String()).Msg("listen address")
	}

	// ── 6. AutoNAT v1/v2 client + server ────────────────────────────────
	var v1Client *v1.Client
	if cfg.AutoNAT.EnableV1 {
		v1Client = v1.NewClient(v1.DefaultClientConfig(), n.StreamOpener(), m, v1.NoopTracer{})
		v1Server := v1.NewServer(v1.DefaultServerConfig(), n.StreamOpener(), node.AutoNATv1Dialer(h), m, v1.NoopTracer{})
		v1Server.Register()
		defer v1Server.Unregister()
	}
	if cfg.AutoNAT.EnableV2 {
		v2Client := v2.NewClient(v2.DefaultClientConfig(), n.StreamOpener(), m, v2.NoopTracer{})
		defer v2Client.Close()
		v2Server := v2.NewServer(v2.DefaultServerConfig(), n.StreamOpener(), node.AutoNATv2Dialer(h), m, v2.NoopTracer{})
		v2Server.Register()
	}

	// ── 7. Peer store + address book ────────────────────────────────────
	store := discovery.NewMemoryPeerStore(discovery.DefaultPeerStoreConfig())
	defer store.Close()
	book := discovery.NewAddressBook(store, discovery.DefaultAddressBookConfig())

	fileStore := discovery.NewFilePeerStore(discovery.FilePeerStoreConfig{
		Directory:     cfg.PeerstoreDir(),
		FlushInterval: time.Minute,
	}, store)
	if err := fileStore.Start(); err != nil {
		logger.Warn().Err(err).Msg("loading persisted peerstore failed")
	}
	defer fileStore.Stop()

	// ── 8. Discovery substrate: plumtree, DHT, mDNS, composite ──────────
	plumtree := discovery.NewPlumtreeDiscovery(n.StreamOpener(), store)
	defer plumtree.Stop()

	var services []discovery.WeightedService

	if cfg.Discovery.EnableDHT {
		mode := dht.ModeAuto
		if cfg.Discovery.DHTServerMode {
			mode = dht.ModeServer
		}
		kad, err := dht.New(context.Background(), h, dht.Mode(mode))
		if err != nil {
			logger.Error().Err(err).Msg("failed to start DHT")
		} else {
			defer kad.Close()
			services = append(services, discovery.WeightedService{
				Service: dhtdisc.New(kad), Weight: 1.0, Name: "dht",
			})
		}
	}
	if cfg.Discovery.EnableMDNS {
		mdns := mdnsdisc.New(mdnsdisc.Config{
			PeerID:       h.ID(),
			PublicKey:    priv.GetPublic(),
			AgentVersion: "meshnet/0.1.0",
			Port:         cfg.P2P.Port,
		})
		services = append(services, discovery.WeightedService{
			Service: mdns, Weight: 1.0, Name: "mdns",
		})
	}

	composite := discovery.NewCompositeDiscovery(services)
	rootCtx, cancel := context.WithCancel(context.Background())
	composite.Start(rootCtx)
	defer composite.Stop()

	// ── 9. Bootstrap against configured seeds ───────────────────────────
	seeds, err := parseSeeds(cfg.P2P.Seeds)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid p2p.seeds")
	}
	bootstrapCfg := discovery.DefaultBootstrapConfig()
	bootstrapCfg.Seeds = seeds
	bootstrapCfg.MinPeers = minInt(bootstrapCfg.MinPeers, cfg.P2P.MaxPeers)
	bootstrap := discovery.NewBootstrap(bootstrapCfg, n, store, n, m)
	go bootstrap.Run(rootCtx)
	go recordBootstrapOutcomes(rootCtx, bootstrap, scores, logger)

	if len(services) > 0 {
		go runDiscoveryLoop(rootCtx, composite, store, book, n, cfg.P2P.MaxPeers, logger)
	}

	// ── 10. NAT port mapping ─────────────────────────────────────────────
	if cfg.NATMap.EnableUPnP || cfg.NATMap.EnableNATPMP || cfg.NATMap.EnablePCP {
		mapper := natmap.NewMapper(m)
		leaseTTL, err := time.ParseDuration(cfg.NATMap.LeaseTTL)
		if err != nil {
			leaseTTL = 10 * time.Minute
		}
		go maintainPortMapping(rootCtx, mapper, cfg.P2P.Port, leaseTTL, logger)
	}

	// ── 11. Join the heartbeat mesh and periodically announce via plumtree
	if err := n.Subscribe(heartbeatTopic); err != nil {
		logger.Error().Err(err).Msg("failed to join heartbeat topic")
	}
	go runAnnounceLoop(rootCtx, n, plumtree)
	go runHeartbeat(rootCtx, n, logger)
	if v1Client != nil {
		go runAutoNATProbeLoop(rootCtx, n, v1Client, logger)
	}

	// ── 12. Startup banner ───────────────────────────────────────────────
	logger.Info().Int("seeds", len(seeds)).Msg("meshnet node started successfully")

	// ── 13. Wait for shutdown ────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	cancel()
	logger.Info().Msg("goodbye")
}

// runAnnounceLoop periodically replays this node's known addresses to
// every connected peer over the plumtree protocol, the same way a
// freshly connected peer gets one immediately from the gossip side.
func runAnnounceLoop(ctx context.Context, n *node.Node, pt *discovery.PlumtreeDiscovery) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers := n.Host().Network().Peers()
			if len(peers) == 0 {
				continue
			}
			pt.Announce(ctx, peers, n.Addrs())
		}
	}
}

// runHeartbeat publishes a small liveness message on heartbeatTopic
// every interval, giving operators a visible signal the mesh is
// actually forwarding traffic.
func runHeartbeat(ctx context.Context, n *node.Node, logger zerolog.Logger) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			payload := []byte(t.UTC().Format(time.RFC3339))
			if err := n.Publish(heartbeatTopic, payload); err != nil {
				logger.Debug().Err(err).Msg("heartbeat publish failed")
			}
		}
	}
}

// runAutoNATProbeLoop periodically asks a handful of connected peers to
// dial this node back, logging the reachability verdict whenever it
// changes. Probing connected peers (rather than dedicated AutoNAT
// servers) mirrors how a small mesh has no separate server role.
func runAutoNATProbeLoop(ctx context.Context, n *node.Node, client *v1.Client, logger zerolog.Logger) {
	const maxCandidates = 3
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	var lastReachability v1.Reachability
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			peers := n.Host().Network().Peers()
			if len(peers) > maxCandidates {
				peers = peers[:maxCandidates]
			}
			if len(peers) == 0 {
				continue
			}
			if _, err := client.Probe(ctx, peers); err != nil {
				logger.Debug().Err(err).Msg("autonat v1 probe failed")
				continue
			}
			if r, confidence := client.Tracker().Status(); r != lastReachability {
				lastReachability = r
				logger.Info().Int("reachability", int(r)).Int("confidence", confidence).Msg("autonat reachability changed")
			}
		}
	}
}

// recordBootstrapOutcomes persists each bootstrap attempt's pass/fail
// into the reputation store so later dials can prefer addresses with a
// track record over untested ones.
func recordBootstrapOutcomes(ctx context.Context, bootstrap *discovery.Bootstrap, scores *discovery.ScoreStore, logger zerolog.Logger) {
	results, unsubscribe := bootstrap.Events()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-results:
			if !ok {
				return
			}
			for _, p := range res.Connected {
				rec, _, _ := scores.Load(p)
				rec.FailureCount = 0
				rec.LastScore = 1.0
				if err := scores.Save(p, rec); err != nil {
					logger.Debug().Err(err).Msg("score save failed")
				}
			}
			for p := range res.Failed {
				rec, _, _ := scores.Load(p)
				rec.FailureCount++
				if err := scores.Save(p, rec); err != nil {
					logger.Debug().Err(err).Msg("score save failed")
				}
			}
		}
	}
}

// runDiscoveryLoop periodically advertises this node under meshNamespace
// and dials whatever peers the discovery substrate returns, preferring
// each peer's address-book-scored best address once it has a track
// record. maxPeers bounds how many additional connections it will open.
func runDiscoveryLoop(ctx context.Context, composite *discovery.CompositeDiscovery, store *discovery.MemoryPeerStore, book *discovery.AddressBook, n *node.Node, maxPeers int, logger zerolog.Logger) {
	ticker := time.NewTicker(2 * time.Minute)
	defer ticker.Stop()

	round := func() {
		if _, err := composite.Advertise(ctx, meshNamespace); err != nil {
			logger.Debug().Err(err).Msg("discovery advertise failed")
		}
		found, err := composite.FindPeers(ctx, meshNamespace)
		if err != nil {
			logger.Debug().Err(err).Msg("discovery find failed")
			return
		}
		for info := range found {
			if info.ID == n.ID() {
				continue
			}
			if len(info.Addrs) > 0 {
				store.AddAddresses(info.ID, info.Addrs, 0, false)
			}
			if maxPeers > 0 && n.ConnectedPeerCount() >= maxPeers {
				continue
			}
			if n.IsConnected(info.ID) {
				continue
			}
			dial := info
			if best, ok := book.Best(info.ID); ok {
				dial = p2ptypes.AddrInfo{ID: info.ID, Addrs: []p2ptypes.Multiaddr{best}}
			}
			if err := n.Connect(ctx, dial); err != nil {
				logger.Debug().Str("peer", info.ID.String()).Err(err).Msg("discovery dial failed")
			}
		}
	}

	round()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			round()
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// routerConfigFrom overlays operator-tunable GossipSub knobs on top of
// the router's own defaults. FloodPublish and GossipRetransmission are
// config surface with no corresponding RouterConfig field yet — the
// router always gossips retransmission via its fixed GossipLength and
// never flood-publishes; a future router change would need to plumb
// both through before these config keys take effect.
func routerConfigFrom(g config.GossipSubConfig) pubsub.RouterConfig {
	cfg := pubsub.DefaultRouterConfig()
	if g.MeshDegree > 0 {
		cfg.MeshDegree = g.MeshDegree
	}
	if g.MeshDegreeLow > 0 {
		cfg.MeshDegreeLow = g.MeshDegreeLow
	}
	if g.MeshDegreeHigh > 0 {
		cfg.MeshDegreeHigh = g.MeshDegreeHigh
	}
	if g.MeshDegreeScore > 0 {
		cfg.MeshDegreeScore = g.MeshDegreeScore
	}
	if g.MeshDegreeOut > 0 {
		cfg.MeshOutboundMin = g.MeshDegreeOut
	}
	if g.GossipFactor > 0 {
		cfg.GossipFactor = g.GossipFactor
	}
	if d, err := time.ParseDuration(g.HeartbeatInterval); err == nil && d > 0 {
		cfg.HeartbeatInterval = d
	}
	if d, err := time.ParseDuration(g.FanoutTTL); err == nil && d > 0 {
		cfg.FanoutTTL = d
	}
	if d, err := time.ParseDuration(g.PruneBackoff); err == nil && d > 0 {
		cfg.PruneBackoff = d
	}
	if g.OpportunisticGraftTicks > 0 {
		cfg.OpportunisticGraftTicks = g.OpportunisticGraftTicks
	}
	if g.OpportunisticGraftPeers > 0 {
		cfg.OpportunisticGraftPeers = g.OpportunisticGraftPeers
	}
	if g.MaxIHaveLength > 0 {
		cfg.MaxIHaveLength = g.MaxIHaveLength
	}
	if g.MaxIHaveMessages > 0 {
		cfg.MaxIHaveMessages = g.MaxIHaveMessages
	}
	return cfg
}

// parseDirectPeers parses gossipsub.directpeers entries of the form
// "topic=/ip4/.../p2p/<id>" into a per-topic peer set, since direct-peer
// status is granted per topic rather than router-wide.
func parseDirectPeers(entries []string) (map[pubsub.Topic][]p2ptypes.PeerID, error) {
	out := make(map[pubsub.Topic][]p2ptypes.PeerID, len(entries))
	for _, e := range entries {
		topic, addr, ok := strings.Cut(e, "=")
		if !ok || topic == "" {
			return nil, fmt.Errorf("direct peer %q: expected topic=addr", e)
		}
		info, err := peer.AddrInfoFromString(addr)
		if err != nil {
			return nil, fmt.Errorf("parse direct peer %q: %w", e, err)
		}
		out[pubsub.Topic(topic)] = append(out[pubsub.Topic(topic)], info.ID)
	}
	return out, nil
}

func parseSeeds(addrs []string) ([]p2ptypes.AddrInfo, error) {
	out := make([]p2ptypes.AddrInfo, 0, len(addrs))
	for _, s := range addrs {
		info, err := peer.AddrInfoFromString(s)
		if err != nil {
			return nil, fmt.Errorf("parse seed %q: %w", s, err)
		}
		out = append(out, *info)
	}
	return out, nil
}

// maintainPortMapping requests a TCP port mapping for the listen port
// and renews it at half the lease TTL for as long as ctx lives.
func maintainPortMapping(ctx context.Context, mapper *natmap.Mapper, port int, leaseTTL time.Duration, logger zerolog.Logger) {
	renew := leaseTTL / 2
	if renew <= 0 {
		renew = 5 * time.Minute
	}
	ticker := time.NewTicker(renew)
	defer ticker.Stop()

	request := func() {
		mapping, err := mapper.RequestMapping(ctx, natmap.TCP, port, port, leaseTTL)
		if err != nil {
			logger.Debug().Err(err).Msg("nat port mapping request failed")
			return
		}
		logger.Info().
			Str("external_ip", mapping.ExternalIP.String()).
			Int("external_port", mapping.ExternalPort).
			Msg("nat port mapping active")
	}

	request()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			request()
		}
	}
}
