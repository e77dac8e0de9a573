// Package stores provides the launch ledger: a SQLite database that records
// every evaluator's lifecycle state, the one launch descriptor each evaluator
// was dispatched with, and an append-only event log. The schema ships as
// embedded golang-migrate migrations.
package stores
