// Command dispersy-node runs one Dispersy community member: it opens
// (or creates) a community identified by a master public key, joins
// the network at the given address, and drives the Iterate loop until
// interrupted.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	dispersy "github.com/opd-ai/dispersy-go"
	"github.com/opd-ai/dispersy-go/crypto"
	"github.com/opd-ai/dispersy-go/endpoint"
)

// cliConfig holds command-line configuration.
type cliConfig struct {
	ip           string
	port         uint
	workingDir   string
	databaseFile string
	community    string
	bootstrap    string
	simulate     bool
	logLevel     string
	kargs        string
	strict       bool
}

func parseCLIFlags() *cliConfig {
	cfg := &cliConfig{}
	flag.StringVar(&cfg.ip, "ip", "0.0.0.0", "local address to listen on")
	flag.UintVar(&cfg.port, "port", 0, "local UDP port to listen on (0 picks any free port)")
	flag.StringVar(&cfg.workingDir, "workingdir", "./dispersy-data", "directory holding the database file")
	flag.StringVar(&cfg.databaseFile, "databasefile", "dispersy.db", "sqlite database file name within workingdir")
	flag.StringVar(&cfg.community, "community", "", "hex-encoded master public key; empty generates a new community")
	flag.StringVar(&cfg.bootstrap, "bootstrap", "", "ip:port of a peer to send an introduction request to on startup")
	flag.BoolVar(&cfg.simulate, "simulate", false, "use an in-memory simulated endpoint instead of a real UDP socket")
	flag.StringVar(&cfg.logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flag.StringVar(&cfg.kargs, "kargs", "", "comma-separated key=value arguments passed to the community's classification, e.g. 'x=1,y=2'")
	flag.BoolVar(&cfg.strict, "strict", false, "exit immediately on any error instead of logging and continuing")
	flag.Parse()
	return cfg
}

// parseKargs turns a "key=value,key=value" string into a map, matching
// the --kargs wire format: malformed pairs (no '=') are skipped rather
// than rejected outright, since they carry opaque classification
// arguments this binary does not itself interpret.
func parseKargs(raw string) map[string]string {
	out := map[string]string{}
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return out
}

func main() {
	os.Exit(run(parseCLIFlags()))
}

func run(cfg *cliConfig) int {
	level, err := logrus.ParseLevel(cfg.logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %q: %v\n", cfg.logLevel, err)
		return 1
	}
	logrus.SetLevel(level)
	log := logrus.WithFields(logrus.Fields{"context": "dispersy-node"})

	opts := dispersy.DefaultOptions(cfg.workingDir)
	opts.DatabaseFile = cfg.databaseFile
	opts.Endpoint.UseSimulation = cfg.simulate
	opts.Endpoint.ListenAddr = fmt.Sprintf("%s:%d", cfg.ip, cfg.port)
	opts.Strict = cfg.strict

	ctx, err := dispersy.New(opts)
	if err != nil {
		log.WithError(err).Error("failed to start context")
		return 1
	}
	defer ctx.Kill()

	kargs := parseKargs(cfg.kargs)
	masterKey, myKeyPair, err := resolveIdentity(cfg, log)
	if err != nil {
		log.WithError(err).Error("failed to resolve community identity")
		return 1
	}
	classification := "dispersy-node"
	if v, ok := kargs["classification"]; ok && v != "" {
		classification = v
	}
	log.WithFields(logrus.Fields{
		"master_public_key": hex.EncodeToString(masterKey[:]),
		"local_public_key":  hex.EncodeToString(myKeyPair.Public[:]),
		"classification":    classification,
		"kargs":             kargs,
		"strict":            cfg.strict,
	}).Info("joining community")

	community, err := ctx.CreateCommunity(masterKey, myKeyPair, classification)
	if err != nil {
		log.WithError(err).Error("failed to create community")
		return 1
	}
	ctx.DefineAutoLoad(classification, myKeyPair)

	if cfg.bootstrap != "" {
		cand, err := parseCandidate(cfg.bootstrap)
		if err != nil {
			log.WithError(err).Error("invalid bootstrap address")
			return 1
		}
		if err := community.SendIntroductionRequest(cand, 0, 1, 0); err != nil {
			log.WithError(err).Warn("failed to send initial introduction request")
		}
	}

	runLoop(ctx, log)
	return 0
}

// runLoop drives ctx.Iterate until an interrupt signal arrives,
// matching the teacher's own for-IsRunning-Iterate-sleep event loop.
func runLoop(ctx *dispersy.Context, log *logrus.Entry) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	stop, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig.String()).Info("shutting down")
		cancel()
	}()

	for ctx.IsRunning() {
		select {
		case <-stop.Done():
			return
		default:
		}
		ctx.Iterate()
		time.Sleep(ctx.IterationInterval())
	}
}

// resolveIdentity builds this node's own key pair and the community's
// master public key: if cfg.community is empty, a fresh community is
// created with this node as its own master member. The local key pair
// itself comes from loadOrCreateIdentity, not a fresh in-memory
// generation, so restarting the binary against the same workingdir
// rejoins as the same member instead of a new one every time.
func resolveIdentity(cfg *cliConfig, log *logrus.Entry) (masterKey [32]byte, myKeyPair *crypto.KeyPair, err error) {
	myKeyPair, err = loadOrCreateIdentity(cfg, log)
	if err != nil {
		return masterKey, nil, err
	}

	if cfg.community == "" {
		return myKeyPair.Public, myKeyPair, nil
	}

	raw, err := hex.DecodeString(cfg.community)
	if err != nil || len(raw) != 32 {
		return masterKey, nil, fmt.Errorf("community must be a 64-character hex public key")
	}
	copy(masterKey[:], raw)
	return masterKey, myKeyPair, nil
}

// identityKeyFile is the filename WriteEncrypted/ReadEncrypted use
// within the identity keystore directory.
const identityKeyFile = "member.key"

// loadOrCreateIdentity resolves this node's own key pair from an
// AES-GCM-encrypted on-disk keystore under workingdir/identity
// (crypto.EncryptedKeyStore), generating and persisting a new key pair
// on first run.
func loadOrCreateIdentity(cfg *cliConfig, log *logrus.Entry) (*crypto.KeyPair, error) {
	ks, err := crypto.NewEncryptedKeyStore(filepath.Join(cfg.workingDir, "identity"), identityPassword())
	if err != nil {
		return nil, fmt.Errorf("open identity keystore: %w", err)
	}
	defer ks.Close()

	if seed, readErr := ks.ReadEncrypted(identityKeyFile); readErr == nil {
		var secret [32]byte
		copy(secret[:], seed)
		crypto.ZeroBytes(seed)
		kp, err := crypto.FromSecretKey(crypto.LevelMedium, secret)
		if err != nil {
			return nil, fmt.Errorf("reconstruct persisted identity: %w", err)
		}
		log.Debug("loaded persisted local identity")
		return kp, nil
	}

	kp, err := crypto.GenerateKeyPair(crypto.LevelMedium)
	if err != nil {
		return nil, fmt.Errorf("generate local key pair: %w", err)
	}
	if err := ks.WriteEncrypted(identityKeyFile, kp.Private[:]); err != nil {
		return nil, fmt.Errorf("persist local identity: %w", err)
	}
	log.Info("generated and persisted new local identity")
	return kp, nil
}

// identityPassword resolves the passphrase protecting the local
// identity keystore. DISPERSY_IDENTITY_PASSWORD lets an operator supply
// one; --simulate/local development runs fall back to a fixed
// passphrase so no setup is required.
func identityPassword() []byte {
	if p := os.Getenv("DISPERSY_IDENTITY_PASSWORD"); p != "" {
		return []byte(p)
	}
	return []byte("dispersy-node-development-passphrase")
}

func parseCandidate(addr string) (endpoint.Candidate, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return endpoint.Candidate{}, err
	}
	var port uint
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return endpoint.Candidate{}, fmt.Errorf("invalid port %q", portStr)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return endpoint.Candidate{}, fmt.Errorf("invalid ip %q", host)
	}
	return endpoint.Candidate{IP: ip, Port: uint16(port)}, nil
}
