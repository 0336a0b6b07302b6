// Package routes attaches the public endpoints (/play, /play/status, /search
// and /uptime) to a Fiber app built by the server package.
package routes
