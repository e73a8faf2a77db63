// Package sloghooks reports viewcache hook events through log/slog, with
// sampling for the noisy ones and redaction of storage keys.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/viewcache"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SupersededEvery uint64
	SelfHealEvery   uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	supersededCtr atomic.Uint64
	selfHealCtr   atomic.Uint64
}

var _ viewcache.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) FetchSuperseded(key string, epoch uint64) {
	if h.l == nil || !sample(h.opts.SupersededEvery, &h.supersededCtr) {
		return
	}
	h.l.Debug("viewcache.fetch_superseded",
		"key", h.redact(key),
		"epoch", epoch)
}

func (h *Hooks) FetchFailed(key string, hadData bool, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("viewcache.fetch_failed",
		"key", h.redact(key),
		"had_data", hadData,
		"err", err)
}

func (h *Hooks) MutationRolledBack(entityID string, keys int, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("viewcache.mutation_rolled_back",
		"entity", entityID,
		"keys", keys,
		"err", err)
}

func (h *Hooks) ReconcileFailed(key string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("viewcache.reconcile_failed",
		"key", h.redact(key),
		"err", err)
}

func (h *Hooks) SelfHealParked(storageKey, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("viewcache.self_heal_parked",
		"key", h.redact(storageKey),
		"reason", reason)
}

func (h *Hooks) ProviderSetRejected(storageKey string) {
	if h.l == nil {
		return
	}
	h.l.Warn("viewcache.provider_set_rejected",
		"key", h.redact(storageKey))
}
