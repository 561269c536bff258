package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hankstore/ebms_backend/config"
	"github.com/hankstore/ebms_backend/models"
	"github.com/hankstore/ebms_backend/obr"
)

// obr-retry lists the records still owed to OBR and resubmits them in one
// bounded batch. Meant for operators catching up after an outage:
//
//	obr-retry -from 2026-08-01 -to 2026-08-31 -kind invoice -workers 8
func main() {
	var (
		fromFlag   = flag.String("from", "", "only records dated on or after this day (YYYY-MM-DD)")
		toFlag     = flag.String("to", "", "only records dated on or before this day (YYYY-MM-DD)")
		kindFlag   = flag.String("kind", "", "restrict to one record kind: movement or invoice")
		workers    = flag.Int("workers", 4, "max declarations in flight")
		withErrors = flag.Bool("include-client-errors", false, "also resubmit permanently rejected records")
		listOnly   = flag.Bool("list", false, "list retriable records without resubmitting")
	)
	flag.Parse()

	filter, err := buildFilter(*fromFlag, *toFlag, *kindFlag, *withErrors)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	notifier := obr.NewStatusNotifier()
	declarer := obr.NewDeclarer(db, obr.NewClient(), obr.NewEnvTokenProvider(), notifier)
	queue := obr.NewQueue(db, declarer)
	queue.Workers = *workers

	records, err := queue.ListRetriable(ctx, filter)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if len(records) == 0 {
		fmt.Println("nothing to declare")
		return
	}

	for _, record := range records {
		fmt.Printf("%-8s #%-6d %-20s %s attempts=%d status=%s\n",
			record.Kind, record.ID, record.Ref,
			record.RecordDate.Format("2006-01-02"), record.Attempts, record.Status)
	}
	if *listOnly {
		return
	}

	refs := make([]obr.RecordRef, 0, len(records))
	for _, record := range records {
		refs = append(refs, obr.RecordRef{Kind: record.Kind, ID: record.ID})
	}

	summary, err := queue.RetryBatch(ctx, refs)
	fmt.Printf("declared: %d success, %d rejected, %d still pending\n",
		summary.Success, summary.ClientError, summary.StillPending)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if summary.StillPending > 0 || summary.ClientError > 0 {
		os.Exit(1)
	}
}

func buildFilter(from, to, kind string, withErrors bool) (obr.Filter, error) {
	var filter obr.Filter
	if from != "" {
		t, err := time.ParseInLocation("2006-01-02", from, time.Local)
		if err != nil {
			return filter, fmt.Errorf("-from: %w", err)
		}
		filter.From = &t
	}
	if to != "" {
		t, err := time.ParseInLocation("2006-01-02", to, time.Local)
		if err != nil {
			return filter, fmt.Errorf("-to: %w", err)
		}
		end := t.AddDate(0, 0, 1)
		filter.To = &end
	}
	if kind != "" {
		parsed, err := models.ParseRecordKind(kind)
		if err != nil {
			return filter, err
		}
		filter.Kind = parsed
	}
	filter.IncludeClientErrors = withErrors
	return filter, nil
}
