// Package main (cmd/keyserver) runs the key delivery service.
//
// Every flag can also be set through a KEYSTREAM_* environment variable, for
// example KEYSTREAM_ATTACHMENT_STORE=file:///var/lib/keystream.
//
// Example usage:
//
//	keyserver --listen-addr 0.0.0.0:8080 --metrics-addr 127.0.0.1:8090 \
//	  --attachment-store s3://keystream-sessions/prod?region=eu-west-1 \
//	  --attachment-ttl 12h --log-json
//
// The server shuts down gracefully on SIGINT and SIGTERM, suspending open
// websocket sessions so clients can resume them.
package main
