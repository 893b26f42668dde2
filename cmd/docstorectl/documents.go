package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/spf13/cobra"
)

var (
	documentFile  string
	documentField string
	documentRev   int
	contentPath   string
)

var documentsCmd = &cobra.Command{
	Use:     "documents",
	Aliases: []string{"document", "doc"},
	Short:   "Read and write documents",
}

var documentsListCmd = &cobra.Command{
	Use:   "list <project>",
	Short: "List the documents you can view in a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Documents []string `json:"documents"`
		}
		if err := newClient().getJSON(projectPath(args[0])+"/documents/", &resp); err != nil {
			return err
		}
		if structured() {
			return printOutput(resp)
		}
		rows := make([][]string, 0, len(resp.Documents))
		for _, name := range resp.Documents {
			rows = append(rows, []string{name})
		}
		printTable([]string{"Document"}, rows)
		return nil
	},
}

var documentsGetCmd = &cobra.Command{
	Use:   "get <project> <document>",
	Short: "Show a document, one of its fields, or a past revision",
	Long: `get prints the whole document by default. --field selects first, last,
jsonschema or a computed field name, and --path descends into it with a
slash separated path. --revision reconstructs the content at a revision.`,
	Args: cobra.ExactArgs(2),
	RunE: runDocumentsGet,
}

var documentsCreateCmd = &cobra.Command{
	Use:   "create <project> <document>",
	Short: "Create a document from a definition file with jsonschema and computed fields",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		definition, err := readObject(cmd, documentFile)
		if err != nil {
			return err
		}
		body := map[string]any{args[1]: definition}
		var doc map[string]any
		if err := newClient().sendJSON(http.MethodPost, projectPath(args[0])+"/documents/", body, &doc); err != nil {
			return err
		}
		return printDocument(doc)
	},
}

var documentsPutCmd = &cobra.Command{
	Use:   "put <project> <document>",
	Short: "Replace the content of a document, or a value under --path",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendDocumentContent(cmd, args, http.MethodPut)
	},
}

var documentsPatchCmd = &cobra.Command{
	Use:   "patch <project> <document>",
	Short: "Merge an object into the content of a document",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return sendDocumentContent(cmd, args, http.MethodPatch)
	},
}

var documentsDeleteCmd = &cobra.Command{
	Use:   "delete <project> <document>",
	Short: "Delete a document with its history and computed fields",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().do(http.MethodDelete, documentPath(args[0], args[1])+"/", nil, "", nil); err != nil {
			return err
		}
		fmt.Fprintf(stdout, "document %s/%s deleted\n", args[0], args[1])
		return nil
	},
}

func init() {
	documentsGetCmd.Flags().StringVar(&documentField, "field", "", "Field to read: first, last, jsonschema or a computed field")
	documentsGetCmd.Flags().StringVar(&contentPath, "path", "", "Slash separated path inside the field")
	documentsGetCmd.Flags().IntVar(&documentRev, "revision", -1, "Revision to reconstruct (0 is the first write)")

	documentsCreateCmd.Flags().StringVarP(&documentFile, "file", "f", "", "JSON or YAML document definition (\"-\" for stdin)")
	_ = documentsCreateCmd.MarkFlagRequired("file")

	for _, c := range []*cobra.Command{documentsPutCmd, documentsPatchCmd} {
		c.Flags().StringVarP(&documentFile, "file", "f", "", "JSON or YAML content (\"-\" for stdin)")
		_ = c.MarkFlagRequired("file")
	}
	documentsPutCmd.Flags().StringVar(&contentPath, "path", "", "Write the content at this slash separated path of last")

	documentsCmd.AddCommand(documentsListCmd)
	documentsCmd.AddCommand(documentsGetCmd)
	documentsCmd.AddCommand(documentsCreateCmd)
	documentsCmd.AddCommand(documentsPutCmd)
	documentsCmd.AddCommand(documentsPatchCmd)
	documentsCmd.AddCommand(documentsDeleteCmd)
}

func runDocumentsGet(cmd *cobra.Command, args []string) error {
	client := newClient()
	base := documentPath(args[0], args[1])

	switch {
	case documentRev >= 0:
		var resp any
		if err := client.getJSON(fmt.Sprintf("%s/revisions/%d", base, documentRev), &resp); err != nil {
			return err
		}
		return printValue(resp)
	case documentField != "" || contentPath != "":
		field := documentField
		if field == "" {
			field = "last"
		}
		path := base + "/" + field
		if p := strings.Trim(contentPath, "/"); p != "" {
			path += "/" + p
		}
		var resp any
		if err := client.getJSON(path, &resp); err != nil {
			return err
		}
		return printValue(resp)
	}

	var doc map[string]any
	if err := client.getJSON(base+"/", &doc); err != nil {
		return err
	}
	return printDocument(doc)
}

func sendDocumentContent(cmd *cobra.Command, args []string, method string) error {
	data, contentType, err := readInput(cmd, documentFile)
	if err != nil {
		return err
	}
	path := documentPath(args[0], args[1]) + "/"
	if p := strings.Trim(contentPath, "/"); p != "" && method == http.MethodPut {
		method, path = http.MethodPost, documentPath(args[0], args[1])+"/last/"+p
	}
	var doc map[string]any
	if err := newClient().do(method, path, data, contentType, &doc); err != nil {
		return err
	}
	return printDocument(doc)
}

// printValue prints a partial read. Tables fall back to JSON.
func printValue(v any) error {
	if outputFormat() == "yaml" {
		return printYAML(v)
	}
	return printJSON(v)
}

func printDocument(doc map[string]any) error {
	if structured() {
		return printOutput(doc)
	}
	fmt.Fprintf(stdout, "Document %s/%s (author %s, %d revisions)\n",
		stringValue(doc["project"]), stringValue(doc["name"]),
		stringValue(doc["author"]), len(asSlice(doc["patches"])))
	fields := asSlice(doc["computed_fields"])
	if len(fields) == 0 {
		return nil
	}
	rows := make([][]string, 0, len(fields))
	for _, f := range fields {
		field, _ := f.(map[string]any)
		source := stringValue(field["reference_document"])
		if imp := stringValue(field["import_name"]); imp != "" {
			source = imp + ":" + stringValue(field["field_from"])
		}
		rows = append(rows, []string{
			stringValue(field["name"]),
			source,
			stringValue(field["jsonpath"]),
			truncate(stringValue(field["field_value"]), 60),
		})
	}
	printTable([]string{"Field", "Source", "JSONPath", "Value"}, rows)
	return nil
}
