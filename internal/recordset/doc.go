// Package recordset persists small collections of JSON records as a unit.
//
// A Set rewrites its whole key prefix in one atomic Pebble batch on every
// mutation and serializes writers, so a read-modify-write through Update can
// never interleave with another writer.
//
//	subs := recordset.New(db, "subs", func(s Subscription) string { return s.Endpoint })
//	err := subs.Update(ctx, func(cur []Subscription) ([]Subscription, error) {
//	    return append(cur, sub), nil
//	})
package recordset
