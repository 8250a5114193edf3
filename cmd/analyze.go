package main

import (
	"encoding/json"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/metatrace/metascan/internal/pipeline"
)

var (
	analyzeNarrative   bool
	analyzeContentType string
	analyzeEmail       string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze <file>",
	Short: "Analyze a local file's metadata for tampering",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		env, err := initApp(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		contentType := analyzeContentType
		if contentType == "" {
			contentType = mime.TypeByExtension(filepath.Ext(path))
		}
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		req := pipeline.AnalyzeRequest{
			Path:          path,
			FileName:      filepath.Base(path),
			ContentType:   contentType,
			UploaderEmail: analyzeEmail,
		}

		analyze := env.Service.AnalyzeStatistical
		if analyzeNarrative {
			analyze = env.Service.AnalyzeNarrative
		}

		rec, err := analyze(cmd.Context(), req)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeNarrative, "narrative", false, "use the language-model narrative path instead of the classifier")
	analyzeCmd.Flags().StringVar(&analyzeContentType, "content-type", "", "override the file's MIME type (default inferred from extension)")
	analyzeCmd.Flags().StringVar(&analyzeEmail, "email", "", "uploader email recorded with the analysis")
	rootCmd.AddCommand(analyzeCmd)
}
