package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var projectFile string

var projectsCmd = &cobra.Command{
	Use:     "projects",
	Aliases: []string{"project"},
	Short:   "Manage projects",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the projects you can view",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Projects []map[string]any `json:"projects"`
		}
		if err := newClient().getJSON("/projects/", &resp); err != nil {
			return err
		}
		if structured() {
			return printOutput(resp)
		}
		rows := make([][]string, 0, len(resp.Projects))
		for _, p := range resp.Projects {
			rows = append(rows, []string{stringValue(p["name"]), stringValue(p["owner"]), stringValue(p["created"])})
		}
		printTable([]string{"Name", "Owner", "Created"}, rows)
		return nil
	},
}

var projectsGetCmd = &cobra.Command{
	Use:   "get <project>",
	Short: "Show a project with its documents and processes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var project map[string]any
		if err := newClient().getJSON(projectPath(args[0])+"/", &project); err != nil {
			return err
		}
		if structured() {
			return printOutput(project)
		}
		docs, _ := project["documents"].([]any)
		rows := make([][]string, 0, len(docs))
		for _, d := range docs {
			doc, _ := d.(map[string]any)
			rows = append(rows, []string{
				stringValue(doc["name"]),
				stringValue(doc["author"]),
				stringValue(doc["updated"]),
				fmt.Sprintf("%d", len(asSlice(doc["patches"]))),
			})
		}
		fmt.Fprintf(stdout, "Project %s (owner %s)\n", stringValue(project["name"]), stringValue(project["owner"]))
		printTable([]string{"Document", "Author", "Updated", "Revisions"}, rows)
		return nil
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <project>",
	Short: "Create a project, optionally with documents, processes and grants from a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]any{}
		if projectFile != "" {
			var err error
			if body, err = readObject(cmd, projectFile); err != nil {
				return err
			}
		}
		body["project_name"] = args[0]

		var project map[string]any
		if err := newClient().sendJSON(http.MethodPost, "/projects/", body, &project); err != nil {
			return err
		}
		if structured() {
			return printOutput(project)
		}
		fmt.Fprintf(stdout, "project %s created\n", args[0])
		return nil
	},
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete <project>",
	Short: "Delete a project and everything in it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().do(http.MethodDelete, projectPath(args[0])+"/", nil, "", nil); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "project %s deleted\n", args[0])
		return nil
	},
}

func init() {
	projectsCreateCmd.Flags().StringVarP(&projectFile, "file", "f", "", "JSON or YAML project definition (\"-\" for stdin)")

	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsGetCmd)
	projectsCmd.AddCommand(projectsCreateCmd)
	projectsCmd.AddCommand(projectsDeleteCmd)
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
