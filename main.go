package main

import "infra-anomaly-alerts/internal/cli"

func main() {
	cli.Execute()
}
