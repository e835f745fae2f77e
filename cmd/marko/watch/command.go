package watch

import (
	"github.com/spf13/cobra"

	"github.com/marko-app/marko/internal/business"
	"github.com/marko-app/marko/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	return cmdutils.CobraCommand(
		"watch",
		"Follow group activity",
		"Keep the session fresh and print new notifications as JSON lines until interrupted",
		buildInfo,
		cmdutils.RunAsService,
		business.WatchMain,
	)
}
