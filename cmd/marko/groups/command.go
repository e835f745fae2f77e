package groups

import (
	"github.com/spf13/cobra"

	"github.com/marko-app/marko/internal/business"
	"github.com/marko-app/marko/internal/cmdutils"
)

func Cmd(buildInfo string) *cobra.Command {
	list := cmdutils.CobraCommand(
		"list",
		"List your groups",
		"List the groups you belong to",
		buildInfo,
		cmdutils.RunAsJob,
		business.GroupsMain,
	)

	cmd := &cobra.Command{
		Use:   "groups",
		Short: "Manage groups",
		RunE:  list.RunE,
	}

	cmd.AddCommand(
		list,
		cmdutils.CobraCommand(
			"create <name>",
			"Create a group",
			"Create a group owned by you",
			buildInfo,
			cmdutils.RunAsJob,
			business.CreateGroupMain,
		),
		cmdutils.CobraCommand(
			"join <group-id>",
			"Join a group",
			"Join a group by its identifier",
			buildInfo,
			cmdutils.RunAsJob,
			business.JoinGroupMain,
		),
		cmdutils.CobraCommand(
			"members <group-id>",
			"List group members",
			"List the members of a group",
			buildInfo,
			cmdutils.RunAsJob,
			business.GroupMembersMain,
		),
	)

	return cmd
}
