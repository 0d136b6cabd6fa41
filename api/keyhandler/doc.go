// Package keyhandler implements the bulk key endpoint and its client.
//
// GET /key/{count} answers with count chunks of 16 KiB random bytes as a
// single application/octet-stream body. The chunk count and size are
// announced in X-Chunk-Count and X-Chunk-Size. The package also provides the
// CORS middleware and 404 handler shared by every route of the service, and
// the plain text /health endpoint.
//
// Key components:
//   - Handler: serves /key/{count} and /health
//   - CORS, HandleNotFound: router level helpers
//   - KeyProvider: client fetching bulk keys into memory or any io.Writer
package keyhandler
