package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shuklalaw/sitecms/internal/session"
)

var editDryRun bool

// editCmd represents the edit command
var editCmd = &cobra.Command{
	Use:   "edit <section> <path>=<value>...",
	Short: "Edit fields of a section on a running server",
	Long: `Load a section, apply one or more assignments, and save it.

A path is a dotted list of object keys and array indexes. Values are parsed
as JSON when they are valid JSON and used as plain strings otherwise. An
index one past the end of an array appends.

Examples:
  # Change the hero title
  sitecms edit hero title="Trusted Legal Counsel"

  # Add a FAQ entry
  sitecms edit faq 'faqs.0={"question":"Do you offer consultations?","answer":"Yes"}'

  # Preview without saving
  sitecms edit about stats.years=20+ --dry-run`,
	Args: cobra.MinimumNArgs(2),
	RunE: editRun,
}

func init() {
	editCmd.Flags().BoolVar(&editDryRun, "dry-run", false, "print the edited document without saving")

	rootCmd.AddCommand(editCmd)
}

type assignment struct {
	path  string
	value any
}

func editRun(cmd *cobra.Command, args []string) error {
	assignments, err := parseAssignments(args[1:])
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}
	s, err := session.New(c, args[0])
	if err != nil {
		return err
	}
	if err := s.Load(cmd.Context()); err != nil {
		return fmt.Errorf("failed to load %s (%s): %w", args[0], session.FailureKind(err), err)
	}

	for _, a := range assignments {
		if err := s.Edit(a.path, a.value); err != nil {
			return err
		}
	}

	if editDryRun {
		out, err := json.MarshalIndent(s.Working(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if !s.Dirty() {
		PrintInfo("No changes")
		return nil
	}
	res, err := s.Commit(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to save %s (%s): %w", args[0], session.FailureKind(err), err)
	}
	PrintSuccess(fmt.Sprintf("Saved %s at %s", args[0], res.LastUpdated.Local().Format("2006-01-02 15:04:05")))
	return nil
}

// parseAssignments splits path=value arguments
func parseAssignments(args []string) ([]assignment, error) {
	out := make([]assignment, 0, len(args))
	for _, arg := range args {
		path, raw, ok := strings.Cut(arg, "=")
		if !ok || path == "" {
			return nil, fmt.Errorf("invalid assignment %q (expected path=value)", arg)
		}
		out = append(out, assignment{path: path, value: parseValue(raw)})
	}
	return out, nil
}

// parseValue decodes raw as JSON, falling back to the literal string
func parseValue(raw string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return raw
	}
	return v
}
