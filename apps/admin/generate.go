package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/trezcool/somo/core/generation"
)

func (cli *commandLine) listTemplates() error {
	w := tabwriter.NewWriter(cli.output(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDIFFICULTY\tMODULES\tLESSONS")
	for _, t := range cli.catalog.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\n", t.ID, t.Name, t.Difficulty, len(t.Modules), t.LessonCount())
	}
	return w.Flush()
}

// generate runs the whole generation pipeline of a document in the foreground.
func (cli *commandLine) generate(documentID string, offline bool, nj generation.NewJob) error {
	svc, err := cli.genService(offline)
	if err != nil {
		return err
	}
	job, err := svc.GenerateSync(context.Background(), documentID, nj)
	if err != nil {
		return err
	}
	if job.Status != generation.StatusCompleted {
		return fmt.Errorf("generation %s: %s", job.Status, job.Error)
	}
	fmt.Fprintf(cli.output(), "job %s completed: course %s\n", job.ID, job.CourseID)
	return nil
}
