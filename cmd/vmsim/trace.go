package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/tracing"
)

var traceFlags struct {
	kind   string
	what   string
	failed bool
	limit  int
}

var traceCmd = &cobra.Command{
	Use:   "trace <file.sqlite3>",
	Short: "Show the tasks recorded by a run.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		return printTasks(cmd, reader)
	},
}

func init() {
	traceCmd.Flags().StringVar(&traceFlags.kind, "kind", "",
		"only show tasks of this kind, page_fault or evict")
	traceCmd.Flags().StringVar(&traceFlags.what, "what", "",
		"only show tasks of this subtype, such as lazy_load or cow")
	traceCmd.Flags().BoolVar(&traceFlags.failed, "failed", false,
		"only show tasks that failed")
	traceCmd.Flags().IntVar(&traceFlags.limit, "limit", 50,
		"maximum number of tasks to show, 0 for all")

	rootCmd.AddCommand(traceCmd)
}

func taskQuery() datarecording.QueryParams {
	var (
		where []string
		args  []any
	)

	if traceFlags.kind != "" {
		where = append(where, "Kind = ?")
		args = append(args, traceFlags.kind)
	}

	if traceFlags.what != "" {
		where = append(where, "What = ?")
		args = append(args, traceFlags.what)
	}

	if traceFlags.failed {
		where = append(where, "Steps LIKE ?")
		args = append(args, "%failed%")
	}

	return datarecording.QueryParams{
		Where:   strings.Join(where, " AND "),
		Args:    args,
		OrderBy: "StartTime",
		Limit:   traceFlags.limit,
	}
}

func printTasks(cmd *cobra.Command, reader datarecording.DataReader) error {
	reader.MapTable(tracing.TaskTableName, tracing.TaskEntry{})

	tasks, total, err := reader.Query(
		cmd.Context(), tracing.TaskTableName, taskQuery())
	if err != nil {
		return err
	}

	writeTasks(cmd.OutOrStdout(), tasks)
	fmt.Fprintf(cmd.OutOrStdout(), "%d of %d tasks\n", len(tasks), total)

	return nil
}

func writeTasks(out io.Writer, tasks []any) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPARENT\tKIND\tWHAT\tDURATION\tSTEPS")

	for _, t := range tasks {
		task := t.(*tracing.TaskEntry)
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.6fs\t%s\n",
			task.ID, task.ParentID, task.Kind, task.What,
			task.EndTime-task.StartTime, task.Steps)
	}

	w.Flush()
}
