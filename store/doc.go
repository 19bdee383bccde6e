// Package store defines the durable records of the authentication subsystem
// and the interfaces storage adapters implement.
//
// Filtering is expressed as a list of typed [Predicate] values collected in a
// [Query]; adapters translate that list into their own query language and
// reject fields they do not support with [ErrUnsupportedQuery].
//
// # Adapters
//
//   - store/postgres: PostgreSQL through the pgx stdlib driver, schema managed
//     by embedded goose migrations.
//   - store/memory: mutex-guarded maps with the same atomicity guarantees,
//     used by tests and development mode.
//
// # What this package must NOT do
//
//   - Cache records across calls. Every check re-reads the store.
//   - Import engine packages.
package store
