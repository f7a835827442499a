package main

import (
	"flag"
	"log"

	"github.com/danmuck/edgepipe/internal/config"
)

func main() {
	kind := flag.String("kind", "listen", "config kind: listen|dial")
	output := flag.String("output", "cmd/pipectl/config.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "cmd/pipectl/config.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		cfg, err := config.LoadPipeConfig(*input)
		if err != nil {
			log.Fatal(err)
		}
		role := "dial"
		if cfg.IsListener() {
			role = "listen"
		}
		log.Printf("Validated %s config %q (%s -> %s) at %s", role, cfg.Name, cfg.Local, cfg.Target, *input)
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
