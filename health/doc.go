// Package health reports whether the stores, the token registry and the
// write-behind queue of a tokencache deployment are usable.
//
// Checkers report Healthy, Degraded or Unhealthy. An Aggregator runs them
// in parallel under one timeout, and the HTTP handlers expose the result as
// liveness (/healthz), readiness (/readyz) and detail (/health) endpoints.
package health
