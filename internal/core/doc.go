// Package core provides the business logic for board spreadsheet import and
// export.
//
// The package holds all domain logic independent of the HTTP layer. Stores,
// permission checks, sanitization and event fan-out arrive through
// [Deps], so the same [Service] runs against Postgres in production and the
// in-memory store in tests.
//
// # Import
//
// An import is accepted synchronously and processed in the background:
//
//  1. Client calls [Service.StartImport] with the upload body and a mode
//  2. The actor must be an editor; the body is spooled to a temp file and
//     checked for the xlsx signature
//  3. A job is registered as PENDING and a goroutine takes an import slot
//  4. Rows are counted, then persisted in chunks of [Options.ChunkSize], one
//     transaction per chunk
//  5. Every snapshot change is published on the job's topic; board events
//     follow each committed chunk
//
// Rows that fail validation or resolution are reported in the job's error
// list and do not abort the chunk. A failing transaction fails the job, and
// earlier chunks stay committed.
//
// # Modes
//
//   - MERGE updates cards matched by title within their column and creates the rest
//   - OVERWRITE archives every live card on the board first, then creates
//
// # Export
//
// [Service.ExportBoard] renders the board in the import layout, so an export
// can be edited and imported back.
//
// # Error Handling
//
// Technical errors are mapped to user-friendly messages using [MapError].
// Each error category has a unique code for support reference:
//
//   - AUTH001-AUTH002: Authentication and permission errors
//   - BRD001-BRD002: Unknown boards and jobs
//   - FILE001-FILE004: Upload errors (empty, size, format)
//   - IMP001-IMP004: Import errors (mode, capacity, processing)
//   - DB001-DB005: Database errors (duplicates, constraints, connections)
//   - RATE001-RATE002: Rate limits
package core
