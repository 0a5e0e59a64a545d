package main

import "github.com/parkflow/parking-booking-backend/internal/cli"

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	cli.Version = version
	cli.BuildTime = buildTime
	cli.Execute()
}
