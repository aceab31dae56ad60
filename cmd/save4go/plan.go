package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/ammar0144/save4go/pkg/changeset"
	"github.com/ammar0144/save4go/pkg/db"
	"github.com/ammar0144/save4go/pkg/sqlrender"
	"github.com/ammar0144/save4go/pkg/update"
)

const deferredSQL = "(rendered once generated keys are known)"

type changesetArg struct {
	Changeset string `positional-arg-name:"changeset" required:"yes" description:"Changeset file (YAML)"`
}

type cmdPlan struct {
	Driver       string       `long:"driver" choice:"mysql" choice:"postgres" choice:"sqlite3" description:"Render for this driver instead of the configured one"`
	MaxBatchSize int          `long:"max-batch-size" description:"Commands per batch with --driver, 0 for the dialect default"`
	Args         changesetArg `positional-args:"yes"`
}

func (cmd *cmdPlan) Execute([]string) error {
	driver, maxBatchSize := cmd.Driver, cmd.MaxBatchSize
	if driver == "" {
		cfg, err := db.LoadConfig(base.Config)
		if err != nil {
			return err
		}
		driver, maxBatchSize = cfg.Driver, cfg.Update.MaxBatchSize
	}

	renderer, err := sqlrender.ForDriver(driver, maxBatchSize)
	if err != nil {
		return err
	}
	cs, err := changeset.Load(cmd.Args.Changeset)
	if err != nil {
		return err
	}
	batches, err := prepare(renderer, cs)
	if err != nil {
		return err
	}
	return writePlan(out, batches)
}

func prepare(renderer update.StatementRenderer, cs *changeset.Changeset) ([]update.CommandBatch, error) {
	factory := update.NewBatchFactory(renderer, renderer.Policy())
	return update.NewCommandBatchPreparer(factory).Prepare(cs.UpdateRecords())
}

func writePlan(w io.Writer, batches []update.CommandBatch) error {
	var table = tablewriter.NewWriter(w)
	table.Header("Batch", "Commands", "Args", "SQL")

	var commands int
	for i, b := range batches {
		var lines []string
		for _, cmd := range b.Commands() {
			lines = append(lines, cmd.String())
		}
		commands += len(lines)

		args, sql := "-", deferredSQL
		stmt, err := b.Render()
		switch {
		case errors.Is(err, update.ErrTemporaryValue):
		case err != nil:
			return err
		default:
			args, sql = humanize.Comma(int64(len(stmt.Args()))), stmt.Text()
		}
		if err := table.Append([]string{fmt.Sprint(i + 1), strings.Join(lines, "\n"), args, sql}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "%s commands in %s batches\n",
		humanize.Comma(int64(commands)), humanize.Comma(int64(len(batches))))
	return err
}
