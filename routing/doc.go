/*
Package routing keeps the routing groups and the request timeouts of the
proxy.

A routing group maps a public application name to a set of versioned
applications with weights. The locator publishes each group as a continuum,
a ring of boundaries in [0, 2^32] each owned by a version. A request seed
selects the first boundary greater than the seed, wrapping around to the
first one, so a version receives the share of seeds proportional to its
weight.

The Resolver subscribes to the routing updates of the locator and keeps the
latest table. When a group changes, the cached connections of the group are
invalidated, see Invalidator. When the subscription fails, the resolver
resubscribes with an exponential backoff, keeping the last known table in
the meantime.
*/
package routing
