package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/keystream/cmd/flags"
	"github.com/ruteri/keystream/httpserver"
	"github.com/ruteri/keystream/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "keyserver",
		Usage: "Serve one-time-pad key material over HTTP and websockets",
		Flags: append(append([]cli.Flag{flags.LogServiceFlagFn("keyserver")}, flags.CommonFlags...), flags.ServerFlags...),
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)
			cfg := flags.ConfigureServer(cCtx, logger)
			keyCfg := flags.ConfigureKeyService(cCtx)

			storeFactory := storage.NewAttachmentStoreFactory(logger)
			store, err := storeFactory.AttachmentStoreFor(keyCfg.AttachmentStoreURI)
			if err != nil {
				logger.Error("Failed to create attachment store", "err", err)
				return err
			}
			if !store.Available(cCtx.Context) {
				logger.Warn("Attachment store not reachable, sessions will not be resumable until it is", "store", store.Name())
			}

			server, err := httpserver.New(cfg, keyCfg, store)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			server.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Server is running, press Ctrl+C to stop")
			<-exit
			logger.Info("Shutdown signal received")

			server.Shutdown()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
