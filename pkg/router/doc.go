/*
Package router implements nexus's direction-based fan-out over the agent
hierarchy (spec §4.4, component C4).

# Direction semantics

DOWN emits onto the current agent's own stream, so its children (already
subscribed there) receive the envelope, then recurses into each child as
the new "current" agent — this is what makes a hop-limited broadcast
reach multiple hierarchy levels from a single Route call. UP emits onto
the parent's own stream, so the parent and its other children (the
originator's siblings) receive it, then continues bubbling upward while
hop budget remains. BOTH runs DOWN then UP, reusing the same envelope id;
receiver-side deduplication (pkg/agent) absorbs the echo this can create
for agents reachable both ways. UNSPECIFIED normalizes to DOWN.

# Guards

Before emitting to a given target (a child for DOWN, the parent for UP),
the router checks, in order: the stop-propagation flag, the hop-count
bound, and whether the target's id is already in the envelope's publisher
chain (loop prevention). A missing parent or an empty child set ends that
branch of the traversal silently — never an error, per §7's HOP_EXCEEDED /
LOOP_DETECTED / STOP_PROPAGATION "not errors" classification. Router.OnDrop,
when set, is invoked once per declined target so pkg/metrics can count
drops without this package depending on it.

Hierarchy relationships are resolved by id through the Hierarchy
interface on every call, never via a shared, cached pointer — per the
design note on cyclic agent references, the Runtime Manager is the single
source of truth for parent/child structure.
*/
package router
