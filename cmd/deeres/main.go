package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:          "deeres",
		Short:        "Deep research report generator",
		SilenceUsage: true,
	}
	root.AddCommand(serveCMD(), submitCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
