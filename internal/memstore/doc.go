// Package memstore provides an in-process [shopauth.UserRepository] for the
// productsapi server and tests.
//
// Records live for the lifetime of the process. Save is last-writer-wins.
package memstore
