package main

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/cobra"
)

var importFile string

var importsCmd = &cobra.Command{
	Use:     "imports",
	Aliases: []string{"import"},
	Short:   "Manage imported schedule snapshots",
}

var importsPushCmd = &cobra.Command{
	Use:   "push <project> <import>",
	Short: "Upload a snapshot with tasks, resources and info sections",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, contentType, err := readInput(cmd, importFile)
		if err != nil {
			return err
		}
		var snap map[string]any
		if err := newClient().do(http.MethodPut, importPath(args[0], args[1]), data, contentType, &snap); err != nil {
			return err
		}
		if structured() {
			return printOutput(snap)
		}
		fmt.Fprintf(stdout, "import %s/%s stored\n", args[0], args[1])
		return nil
	},
}

var importsListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List the imports of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Imports []map[string]any `json:"imports"`
		}
		if err := newClient().getJSON(projectPath(args[0])+"/imports/", &resp); err != nil {
			return err
		}
		if structured() {
			return printOutput(resp)
		}
		rows := make([][]string, 0, len(resp.Imports))
		for _, imp := range resp.Imports {
			rows = append(rows, []string{
				stringValue(imp["name"]),
				stringValue(imp["author"]),
				stringValue(imp["update_author"]),
				stringValue(imp["updated"]),
			})
		}
		printTable([]string{"Name", "Author", "Update Author", "Updated"}, rows)
		return nil
	},
}

var importsDeleteCmd = &cobra.Command{
	Use:   "delete <project> <import>",
	Short: "Delete an import; fields reading it become empty",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().do(http.MethodDelete, importPath(args[0], args[1]), nil, "", nil); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "import %s/%s deleted\n", args[0], args[1])
		return nil
	},
}

func init() {
	importsPushCmd.Flags().StringVarP(&importFile, "file", "f", "", "JSON or YAML snapshot (\"-\" for stdin)")
	_ = importsPushCmd.MarkFlagRequired("file")

	importsCmd.AddCommand(importsPushCmd)
	importsCmd.AddCommand(importsListCmd)
	importsCmd.AddCommand(importsDeleteCmd)
}

func importPath(project, name string) string {
	return projectPath(project) + "/imports/" + url.PathEscape(name)
}
