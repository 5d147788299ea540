package main

import (
	"log"
	"net/http"

	"catflow/internal/api"
	"catflow/internal/config"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load(".env")
	cfg := config.Load()
	h := api.NewServer(cfg)
	log.Printf("catflow api listening on %s classifier_providers=%q embed_providers=%q", cfg.APIAddr, cfg.ClassifierProviders, cfg.EmbedProviders)
	if err := http.ListenAndServe(cfg.APIAddr, h.Routes()); err != nil {
		log.Fatal(err)
	}
}
