package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/push"
	log "github.com/sirupsen/logrus"

	"github.com/ammar0144/save4go/pkg/changeset"
	"github.com/ammar0144/save4go/pkg/db"
	"github.com/ammar0144/save4go/pkg/redis"
	"github.com/ammar0144/save4go/pkg/update"
)

type cmdApply struct {
	Cache       string        `long:"cache" description:"Redis cache configuration file (YAML). Saved rows are invalidated"`
	PushGateway string        `long:"push-gateway" env:"SAVE4GO_PUSH_GATEWAY" description:"Prometheus push gateway receiving the pipeline metrics"`
	Job         string        `long:"job" default:"save4go" description:"Job name of pushed metrics"`
	Timeout     time.Duration `long:"timeout" default:"5m" description:"Bound on the whole save"`
	Args        changesetArg  `positional-args:"yes"`
}

func (cmd *cmdApply) Execute([]string) error {
	cfg, err := db.LoadConfig(base.Config)
	if err != nil {
		return err
	}
	cs, err := changeset.Load(cmd.Args.Changeset)
	if err != nil {
		return err
	}

	manager, err := db.NewManager(cfg)
	if err != nil {
		return err
	}
	defer manager.Close()

	var cache *redis.Manager
	if cmd.Cache != "" {
		rc, err := redis.LoadConfig(cmd.Cache)
		if err != nil {
			return err
		}
		if cache, err = redis.NewManager(rc); err != nil {
			return err
		}
		defer cache.Close()
	}

	renderer, err := manager.Renderer()
	if err != nil {
		return err
	}
	batches, err := prepare(renderer, cs)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cmd.Timeout)
	defer cancel()

	var metrics = update.NewMetrics()
	var started = time.Now()
	rows, err := manager.NewExecutor(update.WithMetrics(metrics)).Execute(ctx, manager.NewConnection(), batches)
	cmd.pushMetrics()

	if err != nil {
		for _, r := range update.ConflictingRecords(err) {
			log.WithField("record", update.DescribeRecord(r)).Error("row changed or removed since it was read")
		}
		return err
	}
	if cache != nil {
		invalidate(ctx, cache, cfg.Database, cs)
	}
	return writeApplied(out, cs, rows, len(batches), metrics.GetSnapshot(), time.Since(started))
}

func (cmd *cmdApply) pushMetrics() {
	if cmd.PushGateway == "" {
		return
	}
	pusher := push.New(cmd.PushGateway, cmd.Job)
	for _, c := range append(update.Collectors(), redis.Collectors()...) {
		pusher = pusher.Collector(c)
	}
	if err := pusher.Push(); err != nil {
		log.WithError(err).WithField("gateway", cmd.PushGateway).Warn("failed to push metrics")
	}
}

// invalidate drops cached copies of saved rows. The save has committed, so
// failures are only logged.
func invalidate(ctx context.Context, cache *redis.Manager, database string, cs *changeset.Changeset) {
	for _, r := range cs.Records {
		key, ok := update.RowKey(r)
		if !ok {
			continue
		}
		table := r.EntityType().Table.String()
		if err := cache.InvalidateRow(ctx, database, table, key); err != nil && !redis.IsCacheDisabled(err) {
			log.WithError(err).WithFields(log.Fields{"table": table, "key": key}).Warn("failed to invalidate cached row")
		}
	}
}

func writeApplied(w io.Writer, cs *changeset.Changeset, rows, batches int, m update.MetricsSnapshot, took time.Duration) error {
	var table = tablewriter.NewWriter(w)
	table.Header("Operation", "Entity", "Values")
	for _, r := range cs.Records {
		if err := table.Append([]string{r.Operation().String(), r.EntityType().Name, formatValues(r.Values())}); err != nil {
			return err
		}
	}
	if err := table.Render(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "applied %s rows in %s batches (%s, %s per batch)\n",
		humanize.Comma(int64(rows)), humanize.Comma(int64(batches)),
		took.Round(time.Millisecond), m.AvgBatchLatency.Round(time.Microsecond))
	return err
}

func formatValues(values map[string]any) string {
	names := make([]string, 0, len(values))
	for n := range values {
		names = append(names, n)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = fmt.Sprintf("%s=%v", n, values[n])
	}
	return strings.Join(parts, " ")
}
