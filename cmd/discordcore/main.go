package main

import (
	"fmt"
	"os"

	"github.com/ln64-git/arcados-bot-sub003/pkg/app"
)

func main() {
	if err := app.Run("arcados-bot", "ARCADOS_BOT_TOKEN"); err != nil {
		fmt.Fprintf(os.Stderr, "arcados-bot: %v\n", err)
		os.Exit(1)
	}
}
