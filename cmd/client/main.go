package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"sqrl_server/internal/service/app"
	"sqrl_server/internal/utils/log"
)

// Mock SQRL client: hand it the sqrl:// URL from /loginUrl and it performs
// a full query/ident conversation against the server.
func main() {
	if len(os.Args) < 3 {
		log.Fatal("usage: client <http-base> <sqrl-url>",
			zap.String("example", "client http://localhost:9090 'sqrl://localhost:9090/sqrl?nut=...'"))
	}

	httpBase := os.Args[1]
	sqrlURL := os.Args[2]

	c, err := app.NewApp(httpBase)
	if err != nil {
		log.Fatal("cannot init client", zap.Error(err))
	}

	if err := c.Run(context.Background(), sqrlURL); err != nil {
		log.Fatal("conversation failed", zap.Error(err))
	}

	log.Info("login complete")
}
