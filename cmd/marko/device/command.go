package device

import (
	"github.com/spf13/cobra"

	"github.com/marko-app/marko/internal/business"
	"github.com/marko-app/marko/internal/cmdutils"
)

// Cmds returns the commands reporting device state to the backend.
func Cmds(buildInfo string) []*cobra.Command {
	push := &cobra.Command{
		Use:   "push",
		Short: "Manage push notifications",
	}
	push.AddCommand(cmdutils.CobraCommand(
		"register [token]",
		"Register the device push token",
		"Register the device push token, defaulting to the configured one",
		buildInfo,
		cmdutils.RunAsJob,
		business.PushRegisterMain,
	))

	return []*cobra.Command{
		cmdutils.CobraCommand(
			"location <arrived|left> [country-code]",
			"Report arriving in or leaving a country",
			"Report arriving in or leaving a country, defaulting to the configured country",
			buildInfo,
			cmdutils.RunAsJob,
			business.LocationMain,
		),
		push,
	}
}
