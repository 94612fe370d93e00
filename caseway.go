package main

import (
	"github.com/caseway/caseway/cmd"
	"github.com/caseway/caseway/pkg/log"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal("caseway failure", "error", err)
	}
}
