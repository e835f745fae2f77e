package auth

import (
	"github.com/spf13/cobra"

	"github.com/marko-app/marko/internal/business"
	"github.com/marko-app/marko/internal/cmdutils"
)

// Cmds returns the commands managing the session.
func Cmds(buildInfo string) []*cobra.Command {
	return []*cobra.Command{
		cmdutils.CobraCommand(
			"login <email> [password]",
			"Sign in",
			"Sign in with a password, or request a magic link and one-time code when no password is given",
			buildInfo,
			cmdutils.RunAsJob,
			business.LoginMain,
		),
		cmdutils.CobraCommand(
			"verify <email> <code>",
			"Complete a sign in with the one-time code",
			"Complete a sign in with the one-time code sent by login",
			buildInfo,
			cmdutils.RunAsJob,
			business.VerifyMain,
		),
		cmdutils.CobraCommand(
			"exchange <auth-code>",
			"Complete a sign in with the magic link code",
			"Complete a sign in with the code carried by the magic link redirect",
			buildInfo,
			cmdutils.RunAsJob,
			business.ExchangeMain,
		),
		cmdutils.CobraCommand(
			"signup <email> <password>",
			"Create an account",
			"Create an account. Depending on the provider the address must be confirmed before signing in",
			buildInfo,
			cmdutils.RunAsJob,
			business.SignUpMain,
		),
		cmdutils.CobraCommand(
			"logout",
			"Sign out",
			"Sign out and forget the stored session",
			buildInfo,
			cmdutils.RunAsJob,
			business.LogoutMain,
		),
		cmdutils.CobraCommand(
			"whoami",
			"Show the current session",
			"Show the signed-in user, refreshing the session when it is about to expire",
			buildInfo,
			cmdutils.RunAsJob,
			business.WhoAmIMain,
		),
	}
}
