// Package audit contains the internal audit event model, sink contracts,
// and the asynchronous dispatcher used by the engine. Root-level types
// alias these so integrators never import internal packages directly.
package audit
