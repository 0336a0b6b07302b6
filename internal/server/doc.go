// Package server hosts the Fiber HTTP application shell: panic recovery, CORS,
// request ID propagation, JSON error rendering and the shared upstream HTTP
// client. Endpoint handlers live in the routes subpackage and are attached by
// the binary after the media and search services are constructed, so this
// package stays free of domain dependencies.
package server
