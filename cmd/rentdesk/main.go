// cmd/rentdesk/main.go
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dalemusser/rentdesk/internal/app/bootstrap"
	"github.com/dalemusser/waffle/app"
)

func main() {
	if err := app.Run(context.Background(), bootstrap.Hooks); err != nil {
		fmt.Fprintln(os.Stderr, "rentdesk:", err)
		os.Exit(1)
	}
}
