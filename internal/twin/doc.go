// Package twin groups dispenser replicas into named twins and runs the
// twin's services against them.
//
// The Registry owns twin persistence and the cache of live service
// instances per twin. A Runtime is the view of one twin (or of a single
// replica that belongs to no twin) used by the ingestion router, the
// scheduler and the HTTP API to classify, persist and notify.
//
// A (replicaType, replicaId) pair is linked to at most one
// twin. Moves remove the pair from every other twin before inserting it
// into the target, so re-running an interrupted move converges.
package twin
