// Package testutil provides test fixtures and a controllable clock for the
// authorization server's tests.
package testutil
