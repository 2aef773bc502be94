// Package subs defines the subscription defer/flush contract spec.md
// §4.8 says the hierarchy calls into but treats as an external
// collaborator ("the implementation behind them is out of core scope").
//
// Hierarchy, object, and update code call through Hooks at every point
// spec.md names, so the contract is genuinely exercised even though no
// delivery/fan-out logic is specified. NoOp is the default
// implementation hierarchy.New installs when Options.Subs is nil.
package subs

// TriggerKind is one of the node lifecycle events spec.md §4.8 lists.
type TriggerKind int

const (
	TriggerCreated TriggerKind = iota
	TriggerUpdated
	TriggerDeleted
)

// Hooks is the set of callbacks the hierarchy and object stores invoke.
// All calls happen on the reactor goroutine (SPEC_FULL.md §5) so an
// implementation never needs its own locking for calls arriving via this
// interface alone.
type Hooks interface {
	// DeferFieldChange is called when an object field mutates.
	DeferFieldChange(nodeID []byte, field string)
	// DeferHierarchyEvent is called when parent/child relations mutate.
	DeferHierarchyEvent(nodeID []byte)
	// DeferTrigger is called on node lifecycle transitions.
	DeferTrigger(kind TriggerKind, nodeID []byte)
	// DeferMissing records a failed alias or id lookup; no core code
	// calls it.
	DeferMissing(key string)
	// Flush emits collected events to subscribers; no core code calls
	// it.
	Flush()
	// InheritParent / InheritChild propagate markers along a newly
	// created edge.
	InheritParent(nodeID, parentID []byte)
	InheritChild(nodeID, childID []byte)
	// ClearAllMarkers is called before restructuring operations (e.g.
	// compress); the caller is responsible for snapshotting and
	// reinstalling markers if it needs them preserved.
	ClearAllMarkers(nodeID []byte)
}

// NoOp implements Hooks as a set of no-ops, the default wiring when no
// subscription backend is configured (spec.md §4.8 names the contract;
// nothing downstream of it is in scope).
type NoOp struct{}

func (NoOp) DeferFieldChange(nodeID []byte, field string) {}
func (NoOp) DeferHierarchyEvent(nodeID []byte)             {}
func (NoOp) DeferTrigger(kind TriggerKind, nodeID []byte)  {}
func (NoOp) DeferMissing(key string)                       {}
func (NoOp) Flush()                                        {}
func (NoOp) InheritParent(nodeID, parentID []byte)         {}
func (NoOp) InheritChild(nodeID, childID []byte)           {}
func (NoOp) ClearAllMarkers(nodeID []byte)                 {}
