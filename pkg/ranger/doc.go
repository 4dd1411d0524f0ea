// Package ranger talks to an Apache Ranger-compatible policy authority: it
// fetches service policies over HTTPS, converts between the authority's
// nested item schema and the internal policy representation (both
// directions), and drives periodic full-replace synchronization into the
// policy store.
//
// A sync is always a full authoritative replace. There is no merging with
// locally edited policies and no delta protocol; whatever the authority
// returns becomes the entire active list.
package ranger
