package main

import (
	"log"

	"github.com/voltbay/powerbank/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
