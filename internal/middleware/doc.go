// Package middleware provides the HTTP middleware of the status server:
// access logging in W3C Extended Log Format and Prometheus request metrics.
package middleware
