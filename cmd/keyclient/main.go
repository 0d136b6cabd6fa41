package main

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/ruteri/keystream/api/keyhandler"
	"github.com/ruteri/keystream/api/streamhandler"
	"github.com/ruteri/keystream/cmd/flags"
	"github.com/ruteri/keystream/interfaces"
	"github.com/urfave/cli/v2"
)

var countFlag = &cli.Int64Flag{
	Name:     "count",
	Required: true,
	Usage:    "number of 16 KiB chunks to fetch",
}

var outFlag = &cli.StringFlag{
	Name:  "out",
	Value: "keystream.key",
	Usage: "file to write the key to ('-' for stdout, use with care: logs go to stdout too)",
}

var sessionFlag = &cli.StringFlag{
	Name:  "session",
	Usage: "session id to open or resume; without it a stateless stream is used",
}

var roleFlag = &cli.StringFlag{
	Name:  "role",
	Usage: "role for a new session: sender or receiver",
}

var keepOpenFlag = &cli.BoolFlag{
	Name:  "keep-session",
	Usage: "do not send end_session, leaving the session resumable",
}

func openOutput(path string) (io.WriteCloser, error) {
	if path == "-" {
		return nopCloser{os.Stdout}, nil
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func main() {
	app := &cli.App{
		Name:  "keyclient",
		Usage: "Fetch one-time-pad key material from a keyserver",
		Flags: append([]cli.Flag{flags.ServerURLFlag, flags.LogServiceFlagFn("keyclient")}, flags.CommonFlags...),
		Commands: []*cli.Command{
			{
				Name:  "bulk",
				Usage: "fetch a key with a single GET /key/{count}",
				Flags: []cli.Flag{countFlag, outFlag},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					out, err := openOutput(cCtx.String(outFlag.Name))
					if err != nil {
						return err
					}
					defer out.Close()

					start := time.Now()
					count, size, err := keyhandler.DefaultKeyProvider.KeyTo(cCtx.Context, cCtx.String(flags.ServerURLFlag.Name), cCtx.Int64(countFlag.Name), out)
					if err != nil {
						return err
					}

					logger.Info("Fetched key",
						"chunks", count,
						"size", humanize.IBytes(uint64(count*size)),
						"duration", time.Since(start))
					return nil
				},
			},
			{
				Name:  "stream",
				Usage: "fetch a key over a websocket",
				Flags: []cli.Flag{countFlag, outFlag, sessionFlag, roleFlag, keepOpenFlag},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)
					serverURL := cCtx.String(flags.ServerURLFlag.Name)

					var client *streamhandler.StreamClient
					var err error
					if id := cCtx.String(sessionFlag.Name); id != "" {
						client, err = streamhandler.DialSession(cCtx.Context, serverURL, id, interfaces.Role(cCtx.String(roleFlag.Name)))
						if err == nil {
							logger = logger.With("sessionID", client.SessionID, "role", client.Role)
						}
					} else {
						client, err = streamhandler.DialStream(cCtx.Context, serverURL)
					}
					if err != nil {
						return err
					}
					defer client.Close()

					out, err := openOutput(cCtx.String(outFlag.Name))
					if err != nil {
						return err
					}
					defer out.Close()

					start := time.Now()
					total, err := client.RequestKey(cCtx.Int64(countFlag.Name), out, func(current, total int64) {
						logger.Debug("Progress", "current", current, "total", total)
					})
					if err != nil {
						if errors.Is(err, streamhandler.ErrServerError) {
							logger.Error("Key service reported an error", "err", err)
						}
						return err
					}
					logger.Info("Fetched key", "chunks", total, "duration", time.Since(start))

					if cCtx.String(sessionFlag.Name) != "" && !cCtx.Bool(keepOpenFlag.Name) {
						return client.End()
					}
					return nil
				},
			},
			{
				Name:  "health",
				Usage: "check that the keyserver is up",
				Action: func(cCtx *cli.Context) error {
					if err := keyhandler.DefaultKeyProvider.Health(cCtx.Context, cCtx.String(flags.ServerURLFlag.Name)); err != nil {
						return err
					}
					fmt.Println("OK")
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
