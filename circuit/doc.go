/*
Package circuit implements circuit breaking for the connections of the
applications.

When connecting to an instance of an application fails a configured number
of times in a row, the breaker of the application opens and further
connection attempts fail fast until the timeout expires. After the timeout,
a limited number of attempts are let through in the half-open state, and
when they succeed, the breaker closes again.

Breakers are created on demand by the Registry, one per application name,
and breakers not used for the idle TTL are dropped.
*/
package circuit
