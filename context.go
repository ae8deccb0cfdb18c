package dispersy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dispersy-go/crypto"
	"github.com/opd-ai/dispersy-go/endpoint"
	"github.com/opd-ai/dispersy-go/store"
)

// Options configures a Context. A nil *Options passed to New is
// equivalent to DefaultOptions("").
type Options struct {
	// WorkingDir holds the on-disk database file. Created if missing.
	WorkingDir string
	// DatabaseFile names the sqlite file within WorkingDir. ":memory:"
	// opens an ephemeral, non-persisted store and ignores WorkingDir.
	DatabaseFile string
	// Endpoint controls the transport a Context's communities share.
	// Nil uses endpoint.DefaultConfig (a real UDP socket).
	Endpoint *endpoint.Config
	// IterationInterval is the recommended sleep between Iterate calls.
	IterationInterval time.Duration
	// Strict makes Iterate treat a community flush failure as fatal
	// instead of logging and continuing, matching the launcher's
	// --strict flag (spec.md §6's unhandled_error_observer).
	Strict bool
}

// DefaultOptions returns sane defaults: a real sqlite file under dir
// (created if missing) and a real UDP endpoint on an OS-assigned port.
func DefaultOptions(dir string) *Options {
	return &Options{
		WorkingDir:        dir,
		DatabaseFile:      "dispersy.db",
		Endpoint:          endpoint.DefaultConfig(),
		IterationInterval: 50 * time.Millisecond,
	}
}

// Context is the top-level handle: one shared Store and Endpoint,
// one or more Community overlays, and the single-threaded callback
// queue every inbound packet and timer tick is dispatched through
// (spec.md §5). Its lifecycle mirrors the teacher's own Tox instance:
// New/Iterate/IterationInterval/IsRunning/Kill.
type Context struct {
	mu          sync.RWMutex
	opts        *Options
	store       *store.Store
	endpoint    endpoint.Endpoint
	queue       *CallbackQueue
	cancel      context.CancelFunc
	communities map[string]*Community
	autoLoaders map[string]*crypto.KeyPair

	running bool

	log *logrus.Entry
}

// New opens a Context from opts. A nil opts uses DefaultOptions("").
func New(opts *Options) (*Context, error) {
	if opts == nil {
		opts = DefaultOptions("")
	}

	dbPath := opts.DatabaseFile
	if dbPath != ":memory:" {
		if opts.WorkingDir != "" {
			if err := os.MkdirAll(opts.WorkingDir, 0o700); err != nil {
				return nil, fmt.Errorf("dispersy: create working dir: %w", err)
			}
			dbPath = filepath.Join(opts.WorkingDir, opts.DatabaseFile)
		}
	}

	s, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("dispersy: open store: %w", err)
	}

	ep, err := endpoint.NewEndpoint(opts.Endpoint)
	if err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("dispersy: open endpoint: %w", err)
	}

	_, cancel := context.WithCancel(context.Background())

	c := &Context{
		opts:        opts,
		store:       s,
		endpoint:    ep,
		queue:       NewCallbackQueue(),
		cancel:      cancel,
		communities: make(map[string]*Community),
		autoLoaders: make(map[string]*crypto.KeyPair),
		running:     true,
		log:         logrus.WithFields(logrus.Fields{"function": "New", "package": "dispersy"}),
	}
	return c, nil
}

// CreateCommunity opens (or resumes) a community identified by
// masterPublicKey, registers it on this Context's shared Store and
// Endpoint, and routes its packet handling through the callback queue
// so inbound packets never touch Community state concurrently with an
// Iterate tick.
func (c *Context) CreateCommunity(masterPublicKey [32]byte, myKeyPair *crypto.KeyPair, classification string) (*Community, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	community, err := NewCommunity(c.store, nil, masterPublicKey, myKeyPair, classification)
	if err != nil {
		return nil, err
	}
	community.endpoint = c.endpoint
	prefix := string(community.Prefix[:])
	c.communities[prefix] = community

	c.endpoint.RegisterHandler(func(raw []byte, from endpoint.Candidate) {
		c.mu.RLock()
		target, ok := c.routeToCommunity(raw)
		c.mu.RUnlock()
		if !ok {
			return
		}
		c.queue.Enqueue(func() { target.onPacket(raw, from) })
	})

	return community, nil
}

// DefineAutoLoad registers classification so a later call to AutoLoad
// resumes any on-disk community of that classification using
// myKeyPair as the local identity (spec.md §6's define_auto_load).
func (c *Context) DefineAutoLoad(classification string, myKeyPair *crypto.KeyPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autoLoaders[classification] = myKeyPair
}

// UndefineAutoLoad reverses DefineAutoLoad (spec.md §6's
// undefine_auto_load): classification is no longer resumed by a
// subsequent AutoLoad call.
func (c *Context) UndefineAutoLoad(classification string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.autoLoaders, classification)
}

// AutoLoad resumes every stored community whose classification was
// registered via DefineAutoLoad and whose auto_load flag is set,
// recovering the master's public key from the member table since cid
// itself is a one-way hash of it (spec.md §3, §6). Communities already
// loaded in this Context are left untouched.
func (c *Context) AutoLoad() error {
	c.mu.Lock()
	loaders := make(map[string]*crypto.KeyPair, len(c.autoLoaders))
	for classification, kp := range c.autoLoaders {
		loaders[classification] = kp
	}
	c.mu.Unlock()

	for classification, myKeyPair := range loaders {
		records, err := c.store.CommunitiesByClassification(classification)
		if err != nil {
			return fmt.Errorf("dispersy: auto_load %s: %w", classification, err)
		}
		for _, rec := range records {
			c.mu.RLock()
			_, loaded := c.communities[string(rec.CID)]
			c.mu.RUnlock()
			if loaded {
				continue
			}
			master, err := c.store.GetMember(rec.MasterMember)
			if err != nil {
				c.log.WithError(err).WithField("classification", classification).Warn("auto_load: master member missing")
				continue
			}
			var masterKey [32]byte
			copy(masterKey[:], master.PublicKey)
			if _, err := c.CreateCommunity(masterKey, myKeyPair, classification); err != nil {
				return fmt.Errorf("dispersy: auto_load %s: %w", classification, err)
			}
		}
	}
	return nil
}

// routeToCommunity finds the community a raw packet's leading prefix
// addresses. Must be called with c.mu held for reading.
func (c *Context) routeToCommunity(raw []byte) (*Community, bool) {
	const prefixSize = 20
	if len(raw) < prefixSize {
		return nil, false
	}
	community, ok := c.communities[string(raw[:prefixSize])]
	return community, ok
}

// Iterate runs one tick: drains the callback queue (processing any
// packets that arrived since the last tick), then flushes every
// community's due batches. Call in a loop with IterationInterval
// between calls, same shape as the teacher's own event loop.
func (c *Context) Iterate() {
	c.queue.RunPending()

	c.mu.RLock()
	communities := make([]*Community, 0, len(c.communities))
	for _, community := range c.communities {
		communities = append(communities, community)
	}
	c.mu.RUnlock()

	now := time.Now()
	for _, community := range communities {
		if err := community.flushDue(now); err != nil {
			if c.opts.Strict {
				c.log.WithError(err).Fatal("flush failed (strict mode)")
			}
			c.log.WithError(err).Warn("flush failed")
		}
	}
}

// IterationInterval returns the recommended sleep between Iterate
// calls.
func (c *Context) IterationInterval() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.opts.IterationInterval
}

// IsRunning reports whether Kill has been called yet.
func (c *Context) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// Kill stops the Context and releases its endpoint and store.
func (c *Context) Kill() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.running = false
	c.cancel()
	if err := c.endpoint.Close(); err != nil {
		c.log.WithError(err).Debug("endpoint close failed")
	}
	if err := c.store.Close(); err != nil {
		c.log.WithError(err).Debug("store close failed")
	}
	c.communities = nil
}
