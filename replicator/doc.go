// Package replicator sequences replication status and document outcome
// notifications.
//
// The engine reports raw status events and per-document results from its
// own threads. A Coordinator turns them into listener notifications with
// two guarantees: each listener sees events in the order they were
// produced, and a status that arrives while a pulled conflict is being
// resolved is not delivered until every pending resolution has finished,
// after the resolved documents themselves.
//
// A Replicator ties a Coordinator to an engine replicator and to the
// owner's set of active replicators.
package replicator
