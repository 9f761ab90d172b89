// Package api exposes the REST surface for registering yield strategies,
// submitting execution triggers, and inspecting execution records. It also
// serves the Prometheus metrics endpoint.
package api
