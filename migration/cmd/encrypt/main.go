package main

import (
	"flag"
	"log"

	migrations "github.com/opd-ai/pippin/migration"
)

func main() {
	keyPath := flag.String("key", "./keys/store.key", "Path to encryption key file")
	base := flag.String("base", "./pippindata", "Base directory for wallet data")
	flag.Parse()

	if err := migrations.EncryptExisting(*keyPath, *base); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}
}
