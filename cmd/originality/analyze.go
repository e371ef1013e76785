package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/palantir/compute-module-originality/internal/analysis"
	"github.com/palantir/compute-module-originality/internal/app"
	"github.com/palantir/compute-module-originality/internal/orchestrator"
)

func newAnalyzeCmd(c *cli) *cobra.Command {
	var (
		engine string
		file   string
	)
	cmd := &cobra.Command{
		Use:   "analyze [text...]",
		Short: "Check one text against the web (primary) or the external report service",
		Example: `  originality analyze "We hold these truths to be self-evident"
  originality analyze --engine external --file essay.txt
  cat essay.txt | originality analyze --file - -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := orchestrator.ParseEngine(engine)
			if err != nil {
				return err
			}
			text, err := readText(cmd.InOrStdin(), file, args)
			if err != nil {
				return err
			}
			o, err := buildOrchestrator(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			res, err := o.Analyze(cmd.Context(), orchestrator.Request{
				Mode:   orchestrator.ModeWeb,
				Engine: eng,
				Text:   text,
			})
			if err != nil {
				return err
			}
			return render(c.out, c.cfg.OutputForm, app.Summarize(res, c.cfg.Verdict))
		},
	}
	cmd.Flags().StringVarP(&engine, "engine", "e", string(orchestrator.EnginePrimary), "engine: primary or external")
	cmd.Flags().StringVarP(&file, "file", "f", "", "read the text from a file ('-' for stdin)")
	return cmd
}

func newCompareCmd(c *cli) *cobra.Command {
	var fileA, fileB string
	cmd := &cobra.Command{
		Use:   "compare <textA> <textB>",
		Short: "Score the semantic similarity of two texts",
		Example: `  originality compare "the cat sat on the mat" "a cat was sitting on a mat"
  originality compare --file-a draft.txt --file-b published.txt`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, b, err := compareTexts(args, fileA, fileB)
			if err != nil {
				return err
			}
			o, err := buildOrchestrator(cmd.Context(), c.cfg, c.logger)
			if err != nil {
				return err
			}
			res, err := o.Analyze(cmd.Context(), orchestrator.Request{
				Mode:        orchestrator.ModeCompare,
				Text:        a,
				CompareText: b,
			})
			if err != nil {
				return err
			}
			return render(c.out, c.cfg.OutputForm, app.Summarize(res, c.cfg.Verdict))
		},
	}
	cmd.Flags().StringVar(&fileA, "file-a", "", "read the first text from a file")
	cmd.Flags().StringVar(&fileB, "file-b", "", "read the second text from a file")
	return cmd
}

func compareTexts(args []string, fileA, fileB string) (string, string, error) {
	if fileA != "" || fileB != "" {
		if len(args) > 0 {
			return "", "", analysis.Invalidf("pass either two texts or --file-a/--file-b, not both")
		}
		a, err := readFile(fileA)
		if err != nil {
			return "", "", err
		}
		b, err := readFile(fileB)
		if err != nil {
			return "", "", err
		}
		return a, b, nil
	}
	var a, b string
	if len(args) > 0 {
		a = args[0]
	}
	if len(args) > 1 {
		b = args[1]
	}
	// Missing texts are left empty so the engine reports its own validation message.
	return a, b, nil
}

// readText resolves the analyze input from --file, stdin, or the positional args.
func readText(stdin io.Reader, file string, args []string) (string, error) {
	switch {
	case file != "" && len(args) > 0:
		return "", analysis.Invalidf("pass either text arguments or --file, not both")
	case file == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(b), nil
	case file != "":
		return readFile(file)
	default:
		return strings.Join(args, " "), nil
	}
}

func readFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func render(w io.Writer, format string, s app.Summary) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return err
		}
		return enc.Close()
	default:
		return renderText(w, s)
	}
}

func renderText(w io.Writer, s app.Summary) error {
	var b strings.Builder
	if s.Kind == analysis.KindCompare {
		fmt.Fprintf(&b, "Similarity:  %d%%\n", s.Score)
	} else {
		fmt.Fprintf(&b, "Originality: %d%%\n", s.Score)
	}
	fmt.Fprintf(&b, "Verdict:     %s\n", s.Verdict)
	fmt.Fprintf(&b, "\n%s\n", strings.TrimSpace(s.Narrative))
	if len(s.Sources) > 0 {
		b.WriteString("\nSources:\n")
		for i, src := range s.Sources {
			fmt.Fprintf(&b, "  %d. %s\n     %s\n", i+1, src.Title, src.URI)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}
