// Copyright (c) 2018 Haivision Systems Inc.
// See LICENSE for copying information.

package srtcore

import (
	"github.com/go-logr/logr"
)

// Negotiator derives connection configurations across the handshake. On
// the connect path it finalizes the caller's config and encodes its
// negotiable options into extension blocks; on the accept path it builds
// an accepted socket's config from the listener's config plus
// peer-supplied blocks.
//
// The negotiator never aliases a listener's store: accept works on a deep
// copy, and the copy is private until the accept completes, so a
// half-inherited config is never observable.
type Negotiator struct {
	log logr.Logger
}

// NewNegotiator returns a Negotiator logging through log.
func NewNegotiator(log logr.Logger) *Negotiator {
	return &Negotiator{log: log}
}

// FinalizeCaller locks the caller's config for the handshake (phase
// advances to pre-connect; pre-bind options are frozen) and returns the
// extension blocks to carry in the outgoing conclusion. Only negotiable
// options with a non-empty value occupy a block; an option left empty is
// simply not sent, and reports zero length on both sides afterward.
func (n *Negotiator) FinalizeCaller(cfg *Config) ([]ExtensionBlock, error) {
	cfg.EnterPhase(PhasePreConnect)
	var blocks []ExtensionBlock
	for _, d := range optionTable {
		if !d.Negotiable {
			continue
		}
		v := cfg.Value(d.Opt)
		if v.Len() == 0 {
			continue
		}
		block, err := EncodeExtensionValue(d.Opt, v)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// Accept produces the config for a newly accepted connection. Every entry
// of the listener's config is inherited by deep copy; values the peer
// carried in extension blocks then override the inherited value for those
// specific options. Options restricted to pre-bind, and read-only
// options, are never overridden regardless of what the wire carries.
//
// A peer value that fails validation rejects the whole accept; the
// listener's config is untouched and the listener keeps accepting others.
func (n *Negotiator) Accept(listener *Config, peer []ExtensionBlock) (*Config, error) {
	if listener.Role() != RoleListener {
		return nil, errInvParam("accept from a %s config", listener.Role())
	}
	cfg := listener.Clone(RoleAccepted)
	for _, block := range peer {
		d := describeExt(block.Type)
		if d == nil {
			// Unknown extensions from newer peers are skipped, not fatal.
			n.log.V(1).Info("ignoring unknown handshake extension", "type", block.Type)
			continue
		}
		if d.Restrict == RestrictPreBind || d.Restrict == RestrictNone {
			n.log.V(1).Info("peer attempted to override protected option", "option", d.Name)
			continue
		}
		_, v, err := DecodeExtensionValue(block)
		if err != nil {
			return nil, errConnRej("peer %s rejected: %v", d.Name, err)
		}
		if err := cfg.applyPeer(d, v); err != nil {
			return nil, errConnRej("peer %s rejected: %v", d.Name, err)
		}
		n.log.V(1).Info("peer option applied", "option", d.Name, "len", v.Len())
	}
	return cfg, nil
}

// Established advances a config to the connected phase once the handshake
// has completed.
func (n *Negotiator) Established(cfg *Config) {
	cfg.EnterPhase(PhaseConnected)
}
