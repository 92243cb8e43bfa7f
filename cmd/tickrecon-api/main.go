package main

import (
	"flag"
	"log"

	"github.com/quantops/tickrecon/params"
	"github.com/quantops/tickrecon/pkg/api"
	"github.com/quantops/tickrecon/pkg/storage"
	"github.com/quantops/tickrecon/pkg/util"
)

func main() {
	var (
		configPath = flag.String("config", "", "yaml config file (optional)")
		storePath  = flag.String("store", "", "result store path")
		addr       = flag.String("addr", ":8080", "listen address")
	)
	flag.Parse()

	cfg, err := params.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if *storePath != "" {
		cfg.Paths.Store = *storePath
	}

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	store, err := storage.OpenReadOnly(cfg.Paths.Store)
	if err != nil {
		sugar.Fatalw("store_open_failed", "path", cfg.Paths.Store, "err", err)
	}
	defer store.Close()

	srv := api.NewServer(store, sugar)
	if err := srv.Start(*addr); err != nil {
		sugar.Fatalw("server_stopped", "err", err)
	}
}
