package dispersy

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/dispersy-go/antientropy"
	"github.com/opd-ai/dispersy-go/batch"
	"github.com/opd-ai/dispersy-go/crypto"
	"github.com/opd-ai/dispersy-go/endpoint"
	"github.com/opd-ai/dispersy-go/member"
	"github.com/opd-ai/dispersy-go/policy"
	"github.com/opd-ai/dispersy-go/store"
	"github.com/opd-ai/dispersy-go/timeline"
	"github.com/opd-ai/dispersy-go/undo"
	"github.com/opd-ai/dispersy-go/wire"
)

const (
	defaultSyncResponseLimit  = 32
	defaultSyncResponseWindow = time.Second
)

// Community is one Dispersy overlay: a shared Store and Timeline, a
// fixed set of meta-messages, reachable over one Endpoint (spec.md §3).
// All mutation goes through the owning Context's callback queue
// (spec.md §5), so Community itself only guards its meta-message
// registry, which Post and onPacket both read concurrently
// with DefineMeta.
type Community struct {
	mu sync.RWMutex

	Prefix     [wire.CommunityPrefixSize]byte
	MasterKey  [32]byte
	MyKeyPair  *crypto.KeyPair
	MyMemberID int64

	// Classification identifies which community implementation cid was
	// registered under (spec.md §3); AutoLoad mirrors the community
	// table's auto_load flag (spec.md §6's dispersy_auto_load).
	Classification string
	AutoLoad       bool

	store      *store.Store
	timeline   *timeline.Timeline
	accum      *batch.Accumulator
	undoEngine *undo.Engine
	endpoint   endpoint.Endpoint
	limiter    *antientropy.ResponseLimiter
	candidates *CandidateList

	metas      map[string]*MetaMessage
	metaByID   map[uint16]string
	idByMeta   map[string]uint16
	nextMetaID uint16

	globalTime uint64

	log *logrus.Entry
}

// NewCommunity opens a community identified by masterPublicKey's
// derived member id (community prefix = member.DeriveMID(master),
// spec.md §3's 20-byte cid) over s and ep. myKeyPair is the local
// peer's own identity within the community; it is registered as a
// member immediately so locally authored messages have a row id to
// sign against. classification records which community implementation
// this cid belongs to (spec.md §3's community.classification); it is
// persisted with auto_load enabled by default and left untouched on a
// subsequent re-open of the same cid, matching reclassify_community
// being the only sanctioned way to change it afterward.
func NewCommunity(s *store.Store, ep endpoint.Endpoint, masterPublicKey [32]byte, myKeyPair *crypto.KeyPair, classification string) (*Community, error) {
	masterID, err := s.UpsertMember(masterPublicKey[:])
	if err != nil {
		return nil, fmt.Errorf("dispersy: register master member: %w", err)
	}
	myID, err := s.UpsertMember(myKeyPair.Public[:])
	if err != nil {
		return nil, fmt.Errorf("dispersy: register local member: %w", err)
	}

	prefix := [wire.CommunityPrefixSize]byte(member.DeriveMID(masterPublicKey[:]))
	if err := s.RegisterCommunity(prefix[:], masterID, myID, classification); err != nil {
		return nil, fmt.Errorf("dispersy: register community: %w", err)
	}
	rec, err := s.GetCommunity(prefix[:])
	if err != nil {
		return nil, fmt.Errorf("dispersy: load community record: %w", err)
	}

	c := &Community{
		Prefix:         prefix,
		MasterKey:      masterPublicKey,
		MyKeyPair:      myKeyPair,
		MyMemberID:     myID,
		Classification: rec.Classification,
		AutoLoad:       rec.AutoLoad,
		store:          s,
		timeline:       timeline.New(masterID),
		endpoint:       ep,
		limiter:        antientropy.NewResponseLimiter(defaultSyncResponseLimit, defaultSyncResponseWindow),
		candidates:     NewCandidateList(),
		metas:          make(map[string]*MetaMessage),
		metaByID:       make(map[uint16]string),
		idByMeta:       make(map[string]uint16),
		nextMetaID:     metaIDFirstUserDefined,
		globalTime:     rec.GlobalTime,
		log: logrus.WithFields(logrus.Fields{
			"function": "NewCommunity", "package": "dispersy", "classification": rec.Classification,
		}),
	}
	c.undoEngine = undo.New(s, c.timeline)
	c.accum = batch.NewAccumulator(c.packetExists, c.verifyPacket, c.checkTimeline)
	if ep != nil {
		ep.RegisterHandler(c.onPacket)
	}
	return c, nil
}

// Reclassify overwrites this community's stored classification (spec.md
// §6's reclassify_community). The cid is unaffected; only the
// classification column and the in-memory label change, so a later
// auto-load pass groups this community under the new type.
func (c *Community) Reclassify(classification string) error {
	if err := c.store.ReclassifyCommunity(c.Prefix[:], classification); err != nil {
		return fmt.Errorf("dispersy: reclassify community: %w", err)
	}
	c.mu.Lock()
	c.Classification = classification
	c.mu.Unlock()
	return nil
}

// SetAutoLoad toggles whether this community is resumed automatically
// by Context.AutoLoad on a future restart (spec.md §6's per-instance
// dispersy_auto_load).
func (c *Community) SetAutoLoad(autoLoad bool) error {
	if err := c.store.SetCommunityAutoLoad(c.Prefix[:], autoLoad); err != nil {
		return fmt.Errorf("dispersy: set community auto_load: %w", err)
	}
	c.mu.Lock()
	c.AutoLoad = autoLoad
	c.mu.Unlock()
	return nil
}

// DefineMeta registers a meta-message definition and configures its
// batch window. Must be called before packets of that meta-message
// arrive; re-registering an existing name replaces its definition.
func (c *Community) DefineMeta(meta MetaMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	stored := meta
	c.metas[meta.Name] = &stored
	c.accum.Configure(meta.Name, meta.Batch)
	if meta.Undo != nil {
		c.undoEngine.SetCallback(meta.Name, meta.Undo)
	}
	if _, assigned := c.idByMeta[meta.Name]; !assigned {
		id := c.nextMetaID
		c.nextMetaID++
		c.idByMeta[meta.Name] = id
		c.metaByID[id] = meta.Name
	}
}

// metaNameByID resolves a wire MetaMessageID to its registered name,
// checking the reserved control ids first.
func (c *Community) metaNameByID(id uint16) string {
	if name := controlMetaName(id); name != "" {
		return name
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metaByID[id]
}

// metaID resolves a registered meta-message name to its wire id, or 0
// if name was never registered via DefineMeta.
func (c *Community) metaID(name string) uint16 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.idByMeta[name]
}

func (c *Community) lookupMeta(name string) *MetaMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.metas[name]
}

// advanceGlobalTime implements spec.md §4.6's "all policies advance
// community.global_time ← max(community.global_time, msg.global_time)
// on acceptance."
func (c *Community) advanceGlobalTime(t uint64) {
	c.mu.Lock()
	advanced := t > c.globalTime
	if advanced {
		c.globalTime = t
	}
	current := c.globalTime
	c.mu.Unlock()
	if advanced {
		if err := c.store.UpdateCommunityGlobalTime(c.Prefix[:], current); err != nil {
			c.log.WithError(err).Debug("failed to persist community global_time")
		}
	}
}

// NextGlobalTime returns a global_time strictly greater than any this
// community has observed, for locally authored messages.
func (c *Community) NextGlobalTime() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.globalTime++
	return c.globalTime
}

// packetExists is batch.ExistsFunc: the pre-verification dedup check
// (spec.md §4.5 step 2), keyed by member-combination for LastN
// double-member meta-messages and by first-signer otherwise.
func (c *Community) packetExists(p *batch.IncomingPacket) bool {
	meta := c.lookupMeta(p.Meta)
	if meta != nil && meta.Distribution == DistributionLastNDouble {
		_, err := c.store.FetchByCombination(p.Community, p.Meta, p.MemberID, p.MemberBID)
		return err == nil
	}
	_, err := c.store.Fetch(p.Community, p.MemberID, p.GlobalTime)
	return err == nil
}

// verifyPacket is batch.VerifyFunc: re-decodes the raw packet and
// checks its signature(s) against the claimed member public key(s)
// (spec.md §4.5 step 3).
func (c *Community) verifyPacket(p *batch.IncomingPacket) error {
	pkt, err := wire.Decode(p.Raw, crypto.SignatureSize)
	if err != nil {
		return err
	}
	return verifyPacketSignature(pkt, p.Raw, crypto.SignatureSize)
}

func verifyPacketSignature(pkt *wire.Packet, raw []byte, sigLen int) error {
	switch pkt.AuthType {
	case wire.NoAuthentication:
		return nil
	case wire.MemberAuthentication:
		var pub [32]byte
		copy(pub[:], pkt.MemberA)
		var sig crypto.Signature
		copy(sig[:], pkt.SigA)
		ok, err := crypto.Verify(wire.SignedRegionSingle(raw, sigLen), sig, pub)
		if err != nil {
			return err
		}
		if !ok {
			return crypto.ErrInvalidSignature
		}
		return nil
	case wire.DoubleMemberAuthentication:
		var pubA, pubB [32]byte
		copy(pubA[:], pkt.MemberA)
		copy(pubB[:], pkt.MemberB)
		var sigA, sigB crypto.Signature
		copy(sigA[:], pkt.SigA)
		copy(sigB[:], pkt.SigB)
		okB, err := crypto.Verify(wire.SignedRegionSigB(raw, sigLen), sigB, pubB)
		if err != nil {
			return err
		}
		if !okB {
			return crypto.ErrInvalidSignature
		}
		okA, err := crypto.Verify(wire.SignedRegionSigA(raw, sigLen), sigA, pubA)
		if err != nil {
			return err
		}
		if !okA {
			return crypto.ErrInvalidSignature
		}
		return nil
	default:
		return wire.ErrUnknownAuthType
	}
}

// checkTimeline is batch.CheckFunc (spec.md §4.5 step 4).
func (c *Community) checkTimeline(memberID int64, meta string, action timeline.Action, globalTime uint64) (timeline.Decision, *timeline.ProofRequest) {
	return c.timeline.Check(memberID, meta, action, globalTime)
}

// flushDue runs every due batch's Flush and applies the resulting
// distribution policy to each accepted packet. Called from the owning
// Context's Iterate tick.
func (c *Community) flushDue(now time.Time) error {
	for _, meta := range c.accum.Due(now) {
		result, err := c.accum.Flush(meta)
		if err != nil {
			return fmt.Errorf("dispersy: flush %s: %w", meta, err)
		}
		for _, p := range result.Accepted {
			if err := c.applyAccepted(p); err != nil {
				c.log.WithFields(logrus.Fields{"meta": meta, "error": err}).Warn("failed to apply accepted packet")
			}
		}
		for _, d := range result.Dropped {
			c.log.WithFields(logrus.Fields{"meta": meta, "reason": d.Reason.String()}).Debug("dropped packet during flush")
		}
		for _, proof := range result.Delayed {
			c.sendMissingProof(proof)
		}
	}
	return nil
}

// applyAccepted stores one batch-accepted packet under its
// meta-message's distribution policy, advances the community clock,
// and invokes the meta-message's Handler if set.
func (c *Community) applyAccepted(p *batch.IncomingPacket) error {
	metaDef := c.lookupMeta(p.Meta)
	if metaDef == nil {
		return batch.ErrUnknownMeta
	}
	row := &store.Row{
		Community:   p.Community,
		Member:      p.MemberID,
		MetaMessage: p.Meta,
		GlobalTime:  p.GlobalTime,
		Packet:      p.Raw,
	}

	switch metaDef.Distribution {
	case DistributionFullSync:
		if _, err := (policy.FullSync{}).Apply(c.store, row); err != nil {
			return err
		}
	case DistributionLastNSingle:
		if _, err := (&policy.LastNSingle{N: metaDef.LastN}).Apply(c.store, row); err != nil {
			return err
		}
	case DistributionLastNDouble:
		if _, err := (&policy.LastNDouble{N: metaDef.LastN}).Apply(c.store, row, p.MemberID, p.MemberBID); err != nil {
			return err
		}
	case DistributionSequence:
		decoded, err := wire.Decode(p.Raw, crypto.SignatureSize)
		if err != nil {
			return err
		}
		if _, err := (policy.Sequence{}).Apply(c.store, row, decoded.Sequence); err != nil {
			return err
		}
	default:
		return fmt.Errorf("dispersy: unknown distribution kind for %s", p.Meta)
	}

	c.advanceGlobalTime(p.GlobalTime)

	if metaDef.Handler != nil {
		pkt, err := wire.Decode(p.Raw, crypto.SignatureSize)
		if err != nil {
			return err
		}
		metaDef.Handler(&Message{
			Meta:       p.Meta,
			Community:  p.Community,
			MemberID:   p.MemberID,
			GlobalTime: p.GlobalTime,
			Sequence:   row.Sequence,
			Payload:    pkt.Payload,
			Packet:     p.Raw,
			Arrived:    p.Arrived,
		})
	}
	return nil
}

// sendMissingProof records a message the timeline check delayed for a
// missing proof by logging the proof request at debug level. No
// dispersy-missing-proof packet is sent to the message's sender, and the
// delayed message itself is not buffered for a later re-check.
func (c *Community) sendMissingProof(proof *timeline.ProofRequest) {
	c.log.WithFields(logrus.Fields{
		"member": proof.Member, "meta": proof.Meta, "global_time": proof.GlobalTime,
	}).Debug("message delayed pending proof")
}
