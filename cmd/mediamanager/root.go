package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var log = logrus.WithField("component", "cmd")

var rootCmd = &cobra.Command{
	Use:   "mediamanager",
	Short: "Mirror files from watch-folder storages to their configured targets",
	Long: `mediamanager watches one or more source storages for added, changed, and
deleted files and drives a worker pool that copies, deletes, and
generates metadata/previews/thumbnails for their mirrors on other
configured storages.`,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file (default: ./mediamgr.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose (debug-level) logging")
	viper.BindPFlag("configFile", rootCmd.PersistentFlags().Lookup("config"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(storagesCmd)
}

// Execute runs the root command. It is called once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func configureLogging() {
	if viper.GetBool("verbose") {
		logrus.SetLevel(logrus.DebugLevel)
	}
}
