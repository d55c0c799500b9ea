/*
Package servicecache maintains a bounded pool of connections per
application.

For each application name, at most int(1.5 * CacheCount) connections are
kept active. While the pool is below this size, every request creates a new
connection, which is added to the pool when connecting succeeds. Once the
pool is full, requests pick a random connection from it.

Every connection is refreshed periodically, after a random delay between
one and two refresh periods. When the pool is full, a replacement is
connected first, and the old connection is retired only when the
replacement is ready. When the pool is not full, the old connection is
retired right away, and new requests will connect again.

Retired connections are not closed immediately: they are kept draining for
three times the timeout of the application, so that the requests still
using them can finish, and only then disconnected.
*/
package servicecache
