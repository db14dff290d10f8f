// Package util holds small helpers shared by the server, storage and HTTP
// layers: log-safe truncation of credentials, URL normalization for
// resource comparison and loopback host detection for redirect URIs.
package util
