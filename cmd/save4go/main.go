package main

import (
	"io"
	"os"

	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// out receives command output
var out io.Writer = os.Stdout

type logConfig struct {
	Level  string `long:"level" env:"LEVEL" default:"warn" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
	Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
}

type baseConfig struct {
	Config string    `long:"config" short:"c" env:"SAVE4GO_CONFIG" default:"save4go.yaml" description:"Database configuration file (YAML)"`
	Log    logConfig `group:"Logging" namespace:"log" env-namespace:"LOG"`
}

var base baseConfig

func newParser() *flags.Parser {
	parser := flags.NewParser(&base, flags.Default)
	parser.LongDescription = `save4go plans and applies changesets: YAML files describing tables and
the rows to insert, update or delete. Rows are ordered so that no foreign key
or unique constraint is violated mid-save, batched per the configured
dialect, and executed in one transaction with optimistic concurrency checks.
`
	parser.CommandHandler = func(cmd flags.Commander, args []string) error {
		initLog(base.Log)
		if cmd == nil {
			return nil
		}
		return cmd.Execute(args)
	}

	mustAddCmd(parser, "plan", "Print the batches a changeset is saved in", `
Print the ordered batches of a changeset and the SQL of each batch, without
connecting to the database. Batches waiting for keys the store generates in
earlier batches are rendered only once those keys are known.
`, &cmdPlan{})
	mustAddCmd(parser, "apply", "Save a changeset to the configured database", `
Execute the changeset in one transaction. On a concurrency conflict nothing is
saved and the conflicting rows are logged. With --cache, the cached copies of
every saved row are invalidated afterwards.
`, &cmdApply{})
	return parser
}

func mustAddCmd(parser *flags.Parser, name, short, long string, cfg interface{}) {
	_, err := parser.AddCommand(name, short, long, cfg)
	must(err, "failed to add command")
}

// initLog configures the logger
func initLog(cfg logConfig) {
	switch cfg.Format {
	case "json":
		log.SetFormatter(&log.JSONFormatter{})
	case "text":
		log.SetFormatter(&log.TextFormatter{})
	case "color":
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	}

	if lvl, err := log.ParseLevel(cfg.Level); err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
}

func must(err error, msg string) {
	if err != nil {
		log.WithField("err", err).Fatal(msg)
	}
}

func main() {
	if _, err := newParser().Parse(); err != nil {
		if flagErr, ok := err.(*flags.Error); ok && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}
