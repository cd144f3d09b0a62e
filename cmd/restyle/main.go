package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"restyle-studio/internal/app"
	"restyle-studio/internal/config"
	"restyle-studio/internal/fusion"
	"restyle-studio/internal/logging"
	"restyle-studio/internal/pipeline"
)

var (
	referenceFlag   string
	subjectFlag     string
	aspectRatioFlag string
	outFlag         string
)

var rootCmd = &cobra.Command{
	Use:   "restyle",
	Short: "Redraw a subject photo in the style of a reference image",
	Long: `Restyle extracts the visual style of the reference image with Gemini and
generates four images of the subject in that style.

Examples:
  restyle --reference monet.jpg --subject me.png
  restyle -r poster.png -s dog.jpg --aspect-ratio 9:16 --out ./renders`,
	SilenceUsage: true,
	RunE:         runMain,
}

func init() {
	rootCmd.Flags().StringVarP(&referenceFlag, "reference", "r", "", "Style reference image")
	rootCmd.Flags().StringVarP(&subjectFlag, "subject", "s", "", "Subject image")
	rootCmd.Flags().StringVarP(&aspectRatioFlag, "aspect-ratio", "a", fusion.DefaultAspectRatio.String(), "Output aspect ratio (1:1, 4:3, 3:4, 16:9, 9:16)")
	rootCmd.Flags().StringVarP(&outFlag, "out", "o", ".", "Directory for the generated images")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel, "console", os.Stderr)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	p := a.NewPipeline(func(st pipeline.State) {
		if st.Phase.Active() {
			fmt.Fprintln(cmd.ErrOrStderr(), st.Progress)
		}
	})

	paths, err := generate(ctx, p, request{
		Reference:   referenceFlag,
		Subject:     subjectFlag,
		AspectRatio: aspectRatioFlag,
		OutDir:      outFlag,
	})
	if err != nil {
		return fmt.Errorf("%s (%w)", pipeline.Message(err), err)
	}

	for _, path := range paths {
		fmt.Fprintln(cmd.OutOrStdout(), path)
	}
	return nil
}

type request struct {
	Reference   string
	Subject     string
	AspectRatio string
	OutDir      string
}

// generate runs one pipeline pass and writes restyle-1 to restyle-4 into
// req.OutDir.
func generate(ctx context.Context, p *pipeline.Orchestrator, req request) ([]string, error) {
	ar, err := fusion.ParseAspectRatio(req.AspectRatio)
	if err != nil {
		return nil, err
	}
	if err := p.SetAspectRatio(ar); err != nil {
		return nil, err
	}
	if req.Reference != "" {
		p.SetReference(pipeline.FileUpload(req.Reference))
	}
	if req.Subject != "" {
		p.SetSubject(pipeline.FileUpload(req.Subject))
	}

	run, err := p.Start(ctx)
	if err != nil {
		return nil, err
	}
	images, err := run.Wait(ctx)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(req.OutDir, 0o755); err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(images))
	for i, img := range images {
		raw, err := img.Bytes()
		if err != nil {
			return nil, err
		}
		path := filepath.Join(req.OutDir, fmt.Sprintf("restyle-%d%s", i+1, img.Extension()))
		if err := os.WriteFile(path, raw, 0o644); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
