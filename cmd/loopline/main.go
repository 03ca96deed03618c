package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "loopline",
		Short: "Omnichannel messaging pipeline",
	}

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, webhook boundary, and schedulers",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Run the queue workers",
		Run: func(cmd *cobra.Command, args []string) {
			runWorker()
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "sweep",
		Short: "Run the no-show sweep once and exit",
		Run: func(cmd *cobra.Command, args []string) {
			runSweep()
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		Run: func(cmd *cobra.Command, args []string) {
			runMigrate()
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
