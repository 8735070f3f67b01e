// Package main implements healthgen, a synthetic healthcare data
// generator and publisher for local load testing. It produces the same
// connected record shapes the ingestion pipeline consumes (hospitals,
// doctors, patients, diagnoses, medications, procedures) and publishes
// them to the intake JetStream subject, or writes them to stdout.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/c360/healthgraph/natsclient"
)

type genFlags struct {
	Mode      string
	NATSURL   string
	Subject   string
	Workers   int
	Seed      uint64
	DryRun    bool
	LogFormat string

	Doctors     int
	Patients    int
	Diagnoses   int
	Medications int
	Procedures  int
}

func parseGenFlags() *genFlags {
	f := &genFlags{}

	flag.StringVar(&f.Mode, "mode", "medium", "Dataset size: small, medium, large, massive")
	flag.StringVar(&f.NATSURL, "nats", envOr("HEALTHGRAPH_NATS_URLS", "nats://localhost:4222"),
		"NATS server URL (env: HEALTHGRAPH_NATS_URLS)")
	flag.StringVar(&f.Subject, "subject", "healthcare.records", "JetStream subject to publish to")
	flag.IntVar(&f.Workers, "workers", 8, "Concurrent publishers")
	flag.Uint64Var(&f.Seed, "seed", uint64(time.Now().UnixNano()), "Random seed (fixed seed reproduces a dataset)")
	flag.BoolVar(&f.DryRun, "dry-run", false, "Write records to stdout instead of publishing")
	flag.StringVar(&f.LogFormat, "log-format", "text", "Log format: json, text")

	flag.IntVar(&f.Doctors, "doctors", 0, "Override doctor count (0 uses mode default)")
	flag.IntVar(&f.Patients, "patients", 0, "Override patient count")
	flag.IntVar(&f.Diagnoses, "diagnoses", 0, "Override diagnosis count")
	flag.IntVar(&f.Medications, "medications", 0, "Override medication count")
	flag.IntVar(&f.Procedures, "procedures", 0, "Override procedure count")

	flag.Parse()
	return f
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	f := parseGenFlags()

	var handler slog.Handler
	if f.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, nil)
	} else {
		handler = slog.NewTextHandler(os.Stderr, nil)
	}
	slog.SetDefault(slog.New(handler).With("service", "healthgen"))

	if err := run(f); err != nil {
		slog.Error("healthgen failed", "error", err)
		os.Exit(1)
	}
}

func run(f *genFlags) error {
	counts, ok := modeCounts[f.Mode]
	if !ok {
		return fmt.Errorf("unknown mode %q (small, medium, large, massive)", f.Mode)
	}
	applyOverrides(&counts, f)

	gen := NewGenerator(f.Seed)
	records := gen.Dataset(counts)

	slog.Info("Dataset generated",
		"mode", f.Mode,
		"seed", f.Seed,
		"hospitals", len(hospitalSeeds),
		"doctors", counts.Doctors,
		"patients", counts.Patients,
		"diagnoses", counts.Diagnoses,
		"medications", counts.Medications,
		"procedures", counts.Procedures,
		"total", len(records))

	if f.DryRun {
		for _, r := range records {
			fmt.Println(string(r.Payload))
		}
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return publish(ctx, f, records)
}

func applyOverrides(counts *Counts, f *genFlags) {
	if f.Doctors > 0 {
		counts.Doctors = f.Doctors
	}
	if f.Patients > 0 {
		counts.Patients = f.Patients
	}
	if f.Diagnoses > 0 {
		counts.Diagnoses = f.Diagnoses
	}
	if f.Medications > 0 {
		counts.Medications = f.Medications
	}
	if f.Procedures > 0 {
		counts.Procedures = f.Procedures
	}
}

// publish sends every record to the intake subject with identifying
// headers, bounded by the worker count. Publish order within a kind is
// not guaranteed; the pipeline's upserts are designed to converge
// regardless.
func publish(ctx context.Context, f *genFlags, records []Record) error {
	client, err := natsclient.NewClient(f.NATSURL, natsclient.WithName("healthgen"))
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}

	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}
	defer func() {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		_ = client.Close(closeCtx)
	}()

	connCtx, connCancel := context.WithTimeout(ctx, 10*time.Second)
	defer connCancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}

	batchID := uuid.NewString()
	start := time.Now()

	var published, failed atomic.Int64

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(f.Workers)

	for _, rec := range records {
		rec := rec
		group.Go(func() error {
			msg := &nats.Msg{
				Subject: f.Subject,
				Data:    rec.Payload,
				Header: nats.Header{
					"Message-Type": []string{rec.Type},
					"Entity-Id":    []string{rec.EntityID},
					"Batch-Id":     []string{batchID},
				},
			}
			if err := client.PublishMsgToStream(groupCtx, msg); err != nil {
				failed.Add(1)
				slog.Warn("publish failed", "entity_id", rec.EntityID, "error", err)
				// Keep publishing the rest of the dataset.
				return nil
			}

			if n := published.Add(1); n%1000 == 0 {
				slog.Info("publishing progress", "published", n, "total", len(records))
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}

	elapsed := time.Since(start)
	rate := float64(published.Load()) / elapsed.Seconds()
	slog.Info("Publishing complete",
		"batch_id", batchID,
		"published", published.Load(),
		"failed", failed.Load(),
		"elapsed", elapsed.Round(time.Millisecond),
		"rate_per_sec", fmt.Sprintf("%.1f", rate))

	if failed.Load() > 0 {
		return fmt.Errorf("%d of %d records failed to publish", failed.Load(), len(records))
	}
	return nil
}
