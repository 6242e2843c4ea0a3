package main

import (
	"flag"
	"log"

	"github.com/psionic-labs/psionic/internal/app"
	"github.com/psionic-labs/psionic/internal/config"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the server config file")
	jobsPath := flag.String("jobs", "jobs.json", "path to the jobs config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load %s: %v", *configPath, err)
	}

	jobsCfg, err := config.LoadJobs(*jobsPath)
	if err != nil {
		log.Fatalf("failed to load %s: %v", *jobsPath, err)
	}

	application, err := app.New(cfg, jobsCfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
