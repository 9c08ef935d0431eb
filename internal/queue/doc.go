// Package queue persists merge tasks in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, schema initialization, the atomic
// queued-to-processing claim that guarantees at most one worker per task id,
// TTL expiry of terminal records, and the stuck-task sweep that recovers from
// crashed workers. Progress projections live in a separate table so
// high-frequency progress writes do not contend with task-state updates.
//
// The database is transient storage for in-flight and recently finished
// tasks, not a long-term archive. Schema changes bump the version in
// schema.go; users clear the database to adopt the new schema.
package queue
