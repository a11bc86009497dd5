// Package journal implements the append-only, per-job event log.
//
// Each job owns one file, <root>/<job_id>/journal.jsonl, holding one JSON
// object per line. Two event kinds exist: [StateChange] and
// [EmergencyShutdown]. A journal is the single source of truth for crash
// recovery, so reads fail closed: any malformed line makes the whole journal
// unreadable and is reported as a [*CorruptionError].
package journal
