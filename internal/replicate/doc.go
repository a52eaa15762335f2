// Package replicate implements pull-based replication between
// regions. Each node periodically asks every peer for the changes it
// originated past a per-peer cursor and feeds them through idempotent
// ingestion, so updates spread without consensus or a leader.
package replicate
