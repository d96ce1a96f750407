// Command rutas はルート管理ダッシュボードのAPIサーバーとバックグラウンドジョブを起動する。
//
//	rutas [serve|worker|migrate|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/rutas/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rutas: %v\n", err)
		os.Exit(1)
	}
}
