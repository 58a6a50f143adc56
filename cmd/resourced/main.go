package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ruteri/resource-store/cache"
	"github.com/ruteri/resource-store/cmd/flags"
	"github.com/ruteri/resource-store/config"
	"github.com/ruteri/resource-store/httpserver"
	"github.com/ruteri/resource-store/interfaces"
	"github.com/urfave/cli/v2"
)

var flagGCInterval = &cli.DurationFlag{
	Name:  "cache-gc-interval",
	Value: 5 * time.Minute,
	Usage: "how often expired cache entries are purged, 0 disables",
}

var flagCache = &cli.StringFlag{
	Name:  "cache",
	Usage: "cache to flush, all caches if empty",
}

var flagTag = &cli.StringFlag{
	Name:  "tag",
	Usage: "only flush entries carrying this tag",
}

func main() {
	app := &cli.App{
		Name:  "resourced",
		Usage: "Content-addressed resource store with publication targets and a tag-indexed cache",
		Flags: flags.CommonFlags,
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "serve the resource API",
				Flags:  append([]cli.Flag{flagGCInterval}, flags.ServerFlags...),
				Action: runServe,
			},
			{
				Name:      "import",
				Usage:     "import files or URLs into a collection and publish them",
				ArgsUsage: "<source> [source...]",
				Flags:     []cli.Flag{flags.CollectionFlag},
				Action:    runImport,
			},
			{
				Name:      "publish",
				Usage:     "publish collections to their targets, all collections if none is given",
				ArgsUsage: "[collection...]",
				Action:    runPublish,
			},
			{
				Name:      "delete",
				Usage:     "unpublish and delete resources by content hash",
				ArgsUsage: "<sha1> [sha1...]",
				Action:    runDelete,
			},
			{
				Name:   "objects",
				Usage:  "list the objects of a collection",
				Flags:  []cli.Flag{flags.CollectionFlag},
				Action: runObjects,
			},
			{
				Name:   "flush-cache",
				Usage:  "flush caches",
				Flags:  []cli.Flag{flagCache, flagTag},
				Action: runFlushCache,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runServe(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	rt, err := flags.LoadRuntime(cCtx, logger)
	if err != nil {
		logger.Error("Failed to configure resource store", "err", err)
		return err
	}
	defer rt.Close()

	objects, _ := rt.Cache(config.ObjectsCache)
	caches := make(map[string]*cache.StringFrontend)
	for _, name := range rt.Caches() {
		caches[name], _ = rt.Cache(name)
	}

	handler := httpserver.NewHandler(rt.Manager, objects, caches, logger)
	server, err := httpserver.New(flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name)), handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}
	server.RunInBackground()

	done := make(chan struct{})
	if interval := cCtx.Duration(flagGCInterval.Name); interval > 0 {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					for _, c := range caches {
						c.CollectGarbage()
					}
				}
			}
		}()
	}

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")
	close(done)

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

func runImport(cCtx *cli.Context) error {
	if cCtx.NArg() == 0 {
		return errors.New("at least one source is required")
	}
	logger := flags.SetupLogger(cCtx)
	rt, err := flags.LoadRuntime(cCtx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	collectionName := cCtx.String(flags.CollectionFlag.Name)
	collection, ok := rt.Manager.Collection(collectionName)
	if !ok {
		return fmt.Errorf("unknown collection %q", collectionName)
	}

	for _, source := range cCtx.Args().Slice() {
		res, err := rt.Manager.ImportResource(cCtx.Context, source, collectionName)
		if err != nil {
			return fmt.Errorf("%s: %w", source, err)
		}
		if err := rt.Manager.CommitResource(cCtx.Context, res); err != nil {
			return fmt.Errorf("%s: %w", source, err)
		}
		fmt.Printf("%s\t%s\t%s\n", res.Sha1(), res.Filename(), collection.Target().PublicResourceURI(res))
	}
	return nil
}

func runPublish(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	rt, err := flags.LoadRuntime(cCtx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	if cCtx.NArg() == 0 {
		return rt.Manager.PublishCollections(cCtx.Context)
	}
	for _, name := range cCtx.Args().Slice() {
		collection, ok := rt.Manager.Collection(name)
		if !ok {
			return fmt.Errorf("unknown collection %q", name)
		}
		if err := collection.Publish(cCtx.Context); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		logger.Info("Published collection", "collection", name, "target", collection.Target().Name())
	}
	return nil
}

func runDelete(cCtx *cli.Context) error {
	if cCtx.NArg() == 0 {
		return errors.New("at least one content hash is required")
	}
	logger := flags.SetupLogger(cCtx)
	rt, err := flags.LoadRuntime(cCtx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	for _, arg := range cCtx.Args().Slice() {
		sha1, err := interfaces.NewContentHashFromHex(arg)
		if err != nil {
			return err
		}
		res, ok := rt.Manager.GetResourceBySha1(sha1)
		if !ok {
			return fmt.Errorf("%s: %w", arg, interfaces.ErrContentNotFound)
		}
		if err := rt.Manager.DeleteResource(cCtx.Context, res); err != nil {
			return fmt.Errorf("%s: %w", arg, err)
		}
		fmt.Printf("%s\t%s\tdeleted\n", res.Sha1(), res.Filename())
	}
	return nil
}

func runObjects(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	rt, err := flags.LoadRuntime(cCtx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	collectionName := cCtx.String(flags.CollectionFlag.Name)
	collection, ok := rt.Manager.Collection(collectionName)
	if !ok {
		return fmt.Errorf("unknown collection %q", collectionName)
	}
	objects, err := collection.GetObjects(cCtx.Context)
	if err != nil {
		return err
	}
	for _, o := range objects {
		fmt.Printf("%s\t%d\t%s%s\n", o.Sha1, o.FileSize, o.RelativePublicationPath, o.Filename)
	}
	return nil
}

func runFlushCache(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	rt, err := flags.LoadRuntime(cCtx, logger)
	if err != nil {
		return err
	}
	defer rt.Close()

	names := rt.Caches()
	if name := cCtx.String(flagCache.Name); name != "" {
		if _, ok := rt.Cache(name); !ok {
			return fmt.Errorf("unknown cache %q", name)
		}
		names = []string{name}
	}

	tag := cCtx.String(flagTag.Name)
	for _, name := range names {
		c, _ := rt.Cache(name)
		if tag == "" {
			if err := c.Flush(); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			logger.Info("Flushed cache", "cache", name)
			continue
		}
		removed, err := c.FlushByTag(tag)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		logger.Info("Flushed cache tag", "cache", name, "tag", tag, "removed", removed)
	}
	return nil
}
