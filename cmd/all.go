package cmd

import (
	_ "arc/cmd/logs"
	_ "arc/cmd/misc"
	_ "arc/cmd/root"
	_ "arc/cmd/server"
	_ "arc/cmd/service"
)
