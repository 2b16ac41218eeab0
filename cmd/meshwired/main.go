// Command meshwired runs a meshwire node: it listens for inbound peers,
// bootstraps the peer directory from the configured seeds and keeps the
// outbound channel and sync processes running.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/meshwire/meshwire/meshwire"
	"github.com/meshwire/meshwire/meshwire/bootstrap"
	"github.com/meshwire/meshwire/meshwire/config"
	"github.com/meshwire/meshwire/meshwire/identity"
)

func main() {
	configPath := flag.String("config", "meshwire.yaml", "path to the node config file")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalw("load config", "path", *configPath, "err", err)
	}

	kp, err := loadOrCreateKey(cfg.KeyFile)
	if err != nil {
		log.Fatalw("node identity", "path", cfg.KeyFile, "err", err)
	}
	log.Infow("node identity", "key", kp.NodeKey().String())

	node, err := meshwire.New(cfg, kp, meshwire.WithLogger(log))
	if err != nil {
		log.Fatalw("assemble node", "err", err)
	}
	defer node.Close()

	if err := node.Listen(); err != nil {
		log.Fatalw("listen", "addr", cfg.ListenAddr, "err", err)
	}

	// Discovery first; channels and the initial sync only make sense once
	// the directory holds someone to talk to.
	node.StartDiscovery(func(r bootstrap.Report) {
		log.Infow("discovery finished", "result", r.Result.String(), "err", r.Err)
		if r.Result != bootstrap.LoopTargetReached {
			return
		}
		node.StartChannelBuilding(func(r bootstrap.Report) {
			log.Infow("channel building finished", "result", r.Result.String(), "err", r.Err)
		})
		node.StartSync(func(r bootstrap.Report) {
			log.Infow("sync bootstrap finished", "result", r.Result.String(), "err", r.Err)
		})
	})

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Infow("shutting down")
}

func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

// loadOrCreateKey reads a hex-encoded Ed25519 seed from path, generating
// and persisting one on first start.
func loadOrCreateKey(path string) (identity.KeyPair, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		seed, err := hex.DecodeString(string(data))
		if err != nil {
			return identity.KeyPair{}, fmt.Errorf("decode key file: %w", err)
		}
		return identity.KeyPairFromSeed(seed)
	}
	if !os.IsNotExist(err) {
		return identity.KeyPair{}, err
	}

	kp, err := identity.GenerateKeyPair()
	if err != nil {
		return identity.KeyPair{}, err
	}
	seed := kp.PrivateKey.Seed()
	if err := os.WriteFile(path, []byte(hex.EncodeToString(seed)), 0o600); err != nil {
		return identity.KeyPair{}, err
	}
	return kp, nil
}
