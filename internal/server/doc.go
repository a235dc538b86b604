// Package server hosts the Fiber HTTP service that exposes the tile cache to
// local map viewers. It wires the request-id middleware, resolves :source
// path segments against the configured source catalog and serves tile reads,
// writes and store clears. Tiles are never fetched from upstream servers here;
// a miss is reported to the client, which is expected to fetch and PUT the
// tile itself. Diagnostics under /-/ live in the routes subpackage.
package server
