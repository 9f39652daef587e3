package cmd

import (
	"fmt"

	"github.com/apex/log"
	"github.com/charmbracelet/huh"
	"github.com/mitchellh/colorstring"
	"github.com/spf13/cobra"

	"github.com/reynalivan/emm-core/internal/diagnostics"
)

const DefaultLogLines = 200

var diagnosticsArgs struct {
	IncludeEndpoints   bool
	IncludeLogs        bool
	ReviewBeforeUpload bool
	MclogsURL          string
	LogLines           int
}

func newDiagnosticsCommand() *cobra.Command {
	command := &cobra.Command{
		Use:   "diagnostics",
		Short: "Collect and report information about this engine instance to assist in debugging.",
		PreRun: func(cmd *cobra.Command, args []string) {
			initConfig()
			initCliLogging()
		},
		Run: diagnosticsCmdRun,
	}

	command.Flags().StringVar(&diagnosticsArgs.MclogsURL, "mclogs-api-url", diagnostics.DefaultMclogsAPIURL, "the mclo.gs API endpoint to use for uploads")
	command.Flags().IntVar(&diagnosticsArgs.LogLines, "log-lines", DefaultLogLines, "the number of log lines to include in the report")

	return command
}

// confirmedByDefault builds an accessor preselecting "yes", huh confirms
// start on "no" otherwise.
func confirmedByDefault() huh.Accessor[bool] {
	a := huh.EmbeddedAccessor[bool]{}
	a.Set(true)
	return &a
}

func diagnosticsCmdRun(cmd *cobra.Command, _ []string) {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Do you want to include endpoints (i.e. the URL of your database mirror) and library paths?").
				Value(&diagnosticsArgs.IncludeEndpoints),
			huh.NewConfirm().
				Title("Do you want to include the latest logs?").
				Accessor(confirmedByDefault()).
				Value(&diagnosticsArgs.IncludeLogs),
			huh.NewConfirm().
				Title(fmt.Sprintf("Do you want to review the collected data before uploading to %s?", diagnosticsArgs.MclogsURL)).
				Description("The data, especially the logs, might contain sensitive information, so you should review it. You will be asked again if you want to upload.").
				Accessor(confirmedByDefault()).
				Value(&diagnosticsArgs.ReviewBeforeUpload),
		),
	)
	if err := form.Run(); err != nil {
		if err == huh.ErrUserAborted {
			return
		}
		log.WithField("error", err).Fatal("failed to run the diagnostics prompt")
	}

	report, err := diagnostics.GenerateDiagnosticsReport(
		diagnosticsArgs.IncludeEndpoints,
		diagnosticsArgs.IncludeLogs,
		diagnosticsArgs.LogLines,
	)
	if err != nil {
		log.WithField("error", err).Fatal("failed to generate the report")
	}

	colorstring.Println("\n[bold]---------------  generated report  ---------------[reset]")
	fmt.Println(report)
	colorstring.Println("[bold]---------------   end of report    ---------------[reset]")
	fmt.Println()

	if diagnosticsArgs.ReviewBeforeUpload {
		upload := false
		_ = huh.NewConfirm().Title("Upload to " + diagnosticsArgs.MclogsURL + "?").Value(&upload).Run()
		if !upload {
			return
		}
	}

	u, err := diagnostics.UploadReport(cmd.Context(), diagnosticsArgs.MclogsURL, report)
	if err != nil {
		log.WithField("error", err).Fatal("failed to upload the report")
	}
	colorstring.Println("[green]Your report is available here:[reset] " + u)
}
