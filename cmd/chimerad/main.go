// Package main provides the chimerad daemon - the CHIMERA hybrid swap service.
package main

import (
	"encoding/hex"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/chimera-swap/chimerad/internal/config"
	"github.com/chimera-swap/chimerad/internal/program"
	"github.com/chimera-swap/chimerad/internal/rpc"
	"github.com/chimera-swap/chimerad/internal/signer"
	"github.com/chimera-swap/chimerad/internal/storage"
	"github.com/chimera-swap/chimerad/pkg/helpers"
	"github.com/chimera-swap/chimerad/pkg/logging"
)

var (
	version = "0.1.0-dev"
	commit  = "unknown"
)

func main() {
	// Parse flags
	var (
		dataDir        = flag.String("data-dir", "~/.chimera", "Data directory")
		configFile     = flag.String("config", "", "Config file path (default: <data-dir>/config.yaml)")
		apiAddr        = flag.String("api", "", "JSON-RPC API address, overrides config")
		authorityKey   = flag.String("authority", "", "Authority pubkey (hex, compressed), overrides config")
		signerEndpoint = flag.String("signer", "", "Signing service endpoint, overrides config")
		testnet        = flag.Bool("testnet", false, "Run on testnet (separate data directory)")
		logLevel       = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		showVersion    = flag.Bool("version", false, "Show version and exit")
	)
	flag.Parse()

	// Set up logging (initial, may be overridden by config)
	log := logging.New(&logging.Config{
		Level:      *logLevel,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	if *showVersion {
		log.Infof("chimerad %s (commit: %s)", version, commit)
		os.Exit(0)
	}

	// Determine data directory (testnet uses subdirectory)
	effectiveDataDir := *dataDir
	if *testnet {
		effectiveDataDir = filepath.Join(*dataDir, "testnet")
	}

	// Load or create config file. An explicit -config names the exact file;
	// otherwise the default location in the data directory is used and
	// created on first run.
	var cfg *config.Config
	var err error
	configSource := config.ConfigPath(effectiveDataDir)

	if *configFile != "" {
		configSource = *configFile
		cfg, err = config.LoadFile(*configFile)
	} else {
		cfg, err = config.LoadConfig(effectiveDataDir)
	}
	if err != nil {
		log.Fatal("Failed to load config", "error", err)
	}

	// Flags explicitly set on the command line take precedence over the
	// config file; unset flags must not clobber configured values.
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })

	applyOverrides(cfg, setFlags, overrides{
		apiAddr:        *apiAddr,
		authorityKey:   *authorityKey,
		signerEndpoint: *signerEndpoint,
		logLevel:       *logLevel,
		testnet:        *testnet,
	})
	cfg.Storage.DataDir = effectiveDataDir

	// Update logging with config level
	log = logging.New(&logging.Config{
		Level:      cfg.Logging.Level,
		TimeFormat: time.TimeOnly,
	})
	logging.SetDefault(log)

	log.Info("Config loaded", "path", configSource)

	// The authority key is mandatory: every custodial input designation
	// names it, and the signing service checks signatures against it.
	authority, err := parseAuthority(cfg.Authority.PubKey)
	if err != nil {
		log.Fatal("Invalid authority pubkey", "error", err)
	}

	// Initialize storage
	dataPath := expandPath(cfg.Storage.DataDir)
	store, err := storage.New(&storage.Config{
		DataDir: dataPath,
	})
	if err != nil {
		log.Fatal("Failed to initialize storage", "error", err)
	}
	defer store.Close()
	log.Info("Storage initialized", "path", dataPath)

	// Signing service client (optional)
	signerClient := signer.NewClient(cfg.Signer.Endpoint, cfg.Signer.Timeout)
	if signerClient != nil {
		log.Info("Signing service configured", "endpoint", cfg.Signer.Endpoint)
	} else {
		log.Info("No signing service configured, assembled transactions will not be submitted")
	}

	// Start RPC server
	rpcServer := rpc.NewServer(store, program.New(), signerClient, authority, string(cfg.NetworkType))
	if err := rpcServer.Start(cfg.API.Addr); err != nil {
		log.Fatal("Failed to start RPC server", "error", err)
	}

	printBanner(log, cfg, authority)

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	<-sigCh
	log.Info("Shutting down...")

	if err := rpcServer.Stop(); err != nil {
		log.Error("Error stopping RPC server", "error", err)
	}

	log.Info("Goodbye!")
}

// overrides carries the CLI flag values layered over the loaded config.
type overrides struct {
	apiAddr        string
	authorityKey   string
	signerEndpoint string
	logLevel       string
	testnet        bool
}

// applyOverrides applies CLI flags to the loaded config. Value flags
// override when non-empty; the log level only when the flag was explicitly
// set, since it always carries a default.
func applyOverrides(cfg *config.Config, setFlags map[string]bool, o overrides) {
	if o.apiAddr != "" {
		cfg.API.Addr = o.apiAddr
	}
	if o.authorityKey != "" {
		cfg.Authority.PubKey = o.authorityKey
	}
	if o.signerEndpoint != "" {
		cfg.Signer.Endpoint = o.signerEndpoint
	}
	if setFlags["log-level"] {
		cfg.Logging.Level = o.logLevel
	}
	if o.testnet {
		cfg.NetworkType = config.NetworkTestnet
	} else {
		cfg.NetworkType = config.NetworkMainnet
	}
}

// parseAuthority decodes a hex-encoded compressed secp256k1 public key.
func parseAuthority(pubKeyHex string) (*btcec.PublicKey, error) {
	raw, err := helpers.HexToBytes(pubKeyHex)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(raw)
}

// expandPath expands ~ to home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

func printBanner(log *logging.Logger, cfg *config.Config, authority *btcec.PublicKey) {
	networkLabel := "mainnet"
	if cfg.IsTestnet() {
		networkLabel = "TESTNET"
	}

	log.Info("")
	log.Info("=================================================")
	log.Infof("  CHIMERA Hybrid Swap Daemon (%s)", networkLabel)
	log.Infof("  Version: %s", version)
	log.Info("=================================================")
	log.Info("")
	log.Infof("  Authority: %s", hex.EncodeToString(authority.SerializeCompressed()))
	log.Info("")
	log.Infof("  API: http://%s", cfg.API.Addr)
	log.Infof("  WS:  ws://%s/ws", cfg.API.Addr)
	log.Info("")
	if cfg.Signer.Endpoint != "" {
		log.Infof("  Signer: %s", cfg.Signer.Endpoint)
	}
	log.Infof("  Network: %s", networkLabel)
	log.Infof("  Data dir: %s", expandPath(cfg.Storage.DataDir))
	log.Info("")
	log.Info("=================================================")
	log.Info("")
}
