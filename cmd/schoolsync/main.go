package main

import (
	"os"

	"github.com/awnumar/memguard"

	"schoolsync/internal/cli"
	appLog "schoolsync/internal/log"

	// Zone data for hosts without /usr/share/zoneinfo.
	_ "time/tzdata"
)

func main() {
	code := run()
	memguard.Purge()
	os.Exit(code)
}

func run() int {
	if err := cli.NewRootCommand().Execute(); err != nil {
		appLog.Error("schoolsync failed", err)
		return cli.GetExitCode(err)
	}
	return cli.ExitSuccess
}
