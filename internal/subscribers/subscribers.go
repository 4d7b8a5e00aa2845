package subscribers

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind distinguishes direct-message recipients from group chats.
type Kind string

const (
	KindUser  Kind = "user"
	KindGroup Kind = "group"
)

// LifetimeExpiry marks an entitlement that never lapses.
const LifetimeExpiry int64 = 0

// Subscriber is the canonical recipient record. Floor and Ceiling are
// nil when the recipient inherits the global defaults.
type Subscriber struct {
	Kind    Kind     `json:"kind"`
	Expiry  int64    `json:"expiry"`
	Floor   *float64 `json:"floor"`
	Ceiling *float64 `json:"ceiling"`
}

// Thresholds is an effective floor/ceiling pair in MP/s.
type Thresholds struct {
	Floor   float64
	Ceiling float64
}

// Options parameterise the registry.
type Options struct {
	Path     string
	Defaults Thresholds
	Now      func() time.Time
}

// Registry is the durable recipient store. All operations are safe for
// concurrent use; every mutation persists the whole document before
// returning, and a failed write keeps the in-memory state authoritative.
type Registry struct {
	path     string
	defaults Thresholds
	now      func() time.Time
	logger   zerolog.Logger

	mu   sync.Mutex
	subs map[int64]*Subscriber
}

// NewRegistry loads the store at opts.Path, absorbing any legacy layout
// it finds there. A file in a legacy shape is rewritten canonically
// right away so later loads only ever see the canonical document.
func NewRegistry(opts Options, logger zerolog.Logger) (*Registry, error) {
	if opts.Path == "" {
		return nil, errors.New("subscribers path required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	r := &Registry{
		path:     opts.Path,
		defaults: opts.Defaults,
		now:      now,
		logger:   logger.With().Str("component", "subscribers").Logger(),
		subs:     make(map[int64]*Subscriber),
	}

	migrated, err := r.load()
	if err != nil {
		return nil, err
	}
	if migrated {
		r.mu.Lock()
		r.saveLocked()
		r.mu.Unlock()
	}
	return r, nil
}

// document covers every on-disk layout ever written: the canonical
// subscribers map plus the two flat ID lists from early deployments.
type document struct {
	Subscribers map[string]json.RawMessage `json:"subscribers"`
	ChatIDs     []int64                    `json:"chat_ids"`
	GroupIDs    []int64                    `json:"group_ids"`
}

// record tolerates both the canonical field name and the older "type"
// spelling; missing fields default rather than fail.
type record struct {
	Kind    *string  `json:"kind"`
	Type    *string  `json:"type"`
	Expiry  *int64   `json:"expiry"`
	Floor   *float64 `json:"floor"`
	Ceiling *float64 `json:"ceiling"`
}

func (r *Registry) load() (bool, error) {
	raw, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read subscribers: %w", err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		// An unreadable store is treated as empty rather than fatal;
		// the next mutation rewrites it in canonical form.
		r.logger.Error().Err(err).Str("path", r.path).Msg("subscribers file unreadable, starting empty")
		return false, nil
	}

	migrated := false

	// Flat ID lists predate per-recipient records: each entry is a
	// lifetime subscriber of the matching kind.
	for _, id := range doc.ChatIDs {
		r.subs[id] = &Subscriber{Kind: KindUser, Expiry: LifetimeExpiry}
		migrated = true
	}
	for _, id := range doc.GroupIDs {
		r.subs[id] = &Subscriber{Kind: KindGroup, Expiry: LifetimeExpiry}
		migrated = true
	}

	// Canonical records overwrite anything the legacy lists claimed.
	for key, rawRec := range doc.Subscribers {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			r.logger.Warn().Str("key", key).Msg("skipping subscriber with non-numeric id")
			continue
		}

		sub, legacy, err := decodeRecord(rawRec)
		if err != nil {
			r.logger.Warn().Err(err).Int64("id", id).Msg("skipping unreadable subscriber record")
			continue
		}
		if legacy {
			migrated = true
		}
		r.subs[id] = sub
	}

	return migrated, nil
}

func decodeRecord(raw json.RawMessage) (*Subscriber, bool, error) {
	// Oldest record shape: a bare expiry integer.
	var expiry int64
	if err := json.Unmarshal(raw, &expiry); err == nil {
		return &Subscriber{Kind: KindUser, Expiry: expiry}, true, nil
	}

	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, err
	}

	sub := &Subscriber{Kind: KindUser}
	legacy := false
	switch {
	case rec.Kind != nil:
		sub.Kind = Kind(*rec.Kind)
	case rec.Type != nil:
		sub.Kind = Kind(*rec.Type)
		legacy = true
	}
	if sub.Kind != KindUser && sub.Kind != KindGroup {
		sub.Kind = KindUser
	}
	if rec.Expiry != nil {
		sub.Expiry = *rec.Expiry
	}
	sub.Floor = rec.Floor
	sub.Ceiling = rec.Ceiling
	return sub, legacy, nil
}

// saveLocked writes the canonical document via a temp file rename. The
// caller holds r.mu. Persistence failures are logged and swallowed: the
// in-memory state stays authoritative for the rest of the process.
func (r *Registry) saveLocked() {
	recs := make(map[string]*Subscriber, len(r.subs))
	for id, sub := range r.subs {
		recs[strconv.FormatInt(id, 10)] = sub
	}

	payload, err := json.MarshalIndent(struct {
		Subscribers map[string]*Subscriber `json:"subscribers"`
	}{recs}, "", "  ")
	if err != nil {
		r.logger.Error().Err(err).Msg("encode subscribers document")
		return
	}

	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		r.logger.Error().Err(err).Str("path", tmp).Msg("write subscribers")
		return
	}
	if err := os.Rename(tmp, r.path); err != nil {
		r.logger.Error().Err(err).Str("path", r.path).Msg("replace subscribers")
	}
}

// IsActive reports whether the recipient may receive alerts right now.
func (r *Registry) IsActive(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isActiveLocked(id)
}

func (r *Registry) isActiveLocked(id int64) bool {
	sub, ok := r.subs[id]
	if !ok {
		return false
	}
	if sub.Expiry == LifetimeExpiry {
		return true
	}
	return sub.Expiry > r.now().Unix()
}

// Get returns a copy of the recipient record.
func (r *Registry) Get(id int64) (Subscriber, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if !ok {
		return Subscriber{}, false
	}
	return *sub, true
}

// Thresholds resolves the effective floor/ceiling for a recipient:
// custom values where set, global defaults otherwise. Unknown IDs get
// the defaults.
func (r *Registry) Thresholds(id int64) Thresholds {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := r.defaults
	sub, ok := r.subs[id]
	if !ok {
		return out
	}
	if sub.Floor != nil {
		out.Floor = *sub.Floor
	}
	if sub.Ceiling != nil {
		out.Ceiling = *sub.Ceiling
	}
	return out
}

// Defaults returns the global threshold pair.
func (r *Registry) Defaults() Thresholds {
	return r.defaults
}

// SetThresholds updates a recipient's custom thresholds. Nil leaves a
// side untouched. Unknown recipients are a silent no-op. An update whose
// effective pair would invert (floor >= ceiling) is rejected with the
// prior values intact.
func (r *Registry) SetThresholds(id int64, floor, ceiling *float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return nil
	}

	if floor != nil && *floor < 0 {
		return fmt.Errorf("floor cannot be negative: %v", *floor)
	}
	if ceiling != nil && *ceiling < 0 {
		return fmt.Errorf("ceiling cannot be negative: %v", *ceiling)
	}

	effFloor := r.defaults.Floor
	if floor != nil {
		effFloor = *floor
	} else if sub.Floor != nil {
		effFloor = *sub.Floor
	}
	effCeiling := r.defaults.Ceiling
	if ceiling != nil {
		effCeiling = *ceiling
	} else if sub.Ceiling != nil {
		effCeiling = *sub.Ceiling
	}
	if effFloor >= effCeiling {
		return fmt.Errorf("floor %v must be less than ceiling %v", effFloor, effCeiling)
	}

	if floor != nil {
		sub.Floor = floor
	}
	if ceiling != nil {
		sub.Ceiling = ceiling
	}
	r.saveLocked()
	return nil
}

// ResetThresholds drops any custom thresholds, reverting the recipient
// to the global defaults.
func (r *Registry) ResetThresholds(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		return
	}
	sub.Floor = nil
	sub.Ceiling = nil
	r.saveLocked()
}

// Activate grants or extends an entitlement by the given number of days,
// creating the record if needed. An active subscription extends from its
// current expiry; a lapsed or new one starts from now. Returns the new
// expiry timestamp.
func (r *Registry) Activate(id int64, days int) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[id]
	if !ok {
		sub = &Subscriber{Kind: KindUser}
		r.subs[id] = sub
	}

	base := sub.Expiry
	if now := r.now().Unix(); now > base {
		base = now
	}
	sub.Expiry = base + int64(days)*86400
	r.saveLocked()
	return sub.Expiry
}

// AddGroup registers a group chat as a lifetime recipient. Returns false
// when the group was already registered.
func (r *Registry) AddGroup(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sub, ok := r.subs[id]; ok && sub.Kind == KindGroup {
		return false
	}
	r.subs[id] = &Subscriber{Kind: KindGroup, Expiry: LifetimeExpiry}
	r.saveLocked()
	return true
}

// Remove deletes a recipient. Returns false when it did not exist.
func (r *Registry) Remove(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.subs[id]; !ok {
		return false
	}
	delete(r.subs, id)
	r.saveLocked()
	return true
}

// All returns a copy of every record keyed by recipient ID.
func (r *Registry) All() map[int64]Subscriber {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[int64]Subscriber, len(r.subs))
	for id, sub := range r.subs {
		out[id] = *sub
	}
	return out
}

// Groups lists the IDs of every registered group chat.
func (r *Registry) Groups() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id, sub := range r.subs {
		if sub.Kind == KindGroup {
			ids = append(ids, id)
		}
	}
	return ids
}

// Tally summarises the registry by entitlement class. Timed counts only
// subscriptions that have not lapsed.
type Tally struct {
	Lifetime int
	Timed    int
	Groups   int
}

// Counts tallies recipients for status reporting.
func (r *Registry) Counts() Tally {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().Unix()
	var t Tally
	for _, sub := range r.subs {
		switch {
		case sub.Kind == KindGroup:
			t.Groups++
		case sub.Expiry == LifetimeExpiry:
			t.Lifetime++
		case sub.Expiry > now:
			t.Timed++
		}
	}
	return t
}
