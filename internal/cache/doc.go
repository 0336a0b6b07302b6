// Package cache defines the directory-backed artifact store that maps a media
// identifier to <CacheDir>/<id>.mp3. The directory listing is the only source
// of truth: there is no index file. Writes are delegated to an external
// producer that fills a dot-prefixed temporary path; the store verifies the
// result and renames it into place so readers and eviction sweeps never see a
// partial artifact. Modification time doubles as last-access time and drives
// age-based eviction.
package cache
