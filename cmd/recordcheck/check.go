package main

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/JonMunkholm/recordcheck/internal/core"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a local CSV or XLSX file and print the final job snapshot",
	Long: `Decode a local file, submit its records to an in-process validation
service, poll until the job finishes, and print the terminal snapshot as JSON.

Exits non-zero if the file cannot be decoded or the job fails. Records that
fail validation are reported in failedRecords and do not change the exit code.`,
	Args: cobra.ExactArgs(1),
	RunE: runCheck,
}

var (
	checkPollInterval time.Duration
	checkTimeout      time.Duration
	checkConcurrency  int
	checkDelay        time.Duration
)

func init() {
	checkCmd.Flags().DurationVar(&checkPollInterval, "poll", 100*time.Millisecond, "Status poll interval")
	checkCmd.Flags().DurationVar(&checkTimeout, "timeout", 10*time.Minute, "Give up waiting after this long")
	checkCmd.Flags().IntVar(&checkConcurrency, "concurrency", 0, "Max in-flight validations (overrides VALIDATION_CONCURRENCY)")
	checkCmd.Flags().DurationVar(&checkDelay, "delay", -1, "Simulated validator latency (overrides VALIDATION_DELAY)")
}

func runCheck(cmd *cobra.Command, args []string) error {
	if checkConcurrency > 0 {
		cfg.Validation.Concurrency = checkConcurrency
	}
	if checkDelay >= 0 {
		cfg.Validation.Delay = checkDelay
	}

	records, err := readRecordsFile(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
	defer cancel()

	service, err := newService(core.NewMemoryStore(), cfg)
	if err != nil {
		return errors.Wrap(err, "create service")
	}

	result, err := service.Submit(ctx, records)
	if err != nil {
		return err
	}

	snap, err := pollUntilDone(ctx, service, result.UploadID, checkPollInterval)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		return errors.Wrap(err, "write snapshot")
	}

	if snap.Status == core.StatusFailed {
		return errors.Newf("validation job failed: %s", snap.Error)
	}
	return nil
}

// readRecordsFile sniffs and decodes path.
func readRecordsFile(path string) ([]core.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open input")
	}
	defer f.Close()

	head := make([]byte, 3072)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, errors.Wrap(err, "read input")
	}
	if n == 0 {
		return nil, errors.WithHint(errors.Wrapf(core.ErrEmptyBatch, "read %s", path), "The file is empty")
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "rewind input")
	}

	format, err := core.DetectFormat(head[:n], filepath.Base(path))
	if err != nil {
		return nil, err
	}
	return core.CollectRecords(core.Decode(f, format))
}

// pollUntilDone polls Status until the job is terminal or ctx is done.
func pollUntilDone(ctx context.Context, service *core.Service, id string, interval time.Duration) (core.Snapshot, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		snap, err := service.Status(ctx, id)
		if err != nil {
			return core.Snapshot{}, err
		}
		if snap.Status.Terminal() {
			return snap, nil
		}

		select {
		case <-ctx.Done():
			return snap, errors.Wrapf(ctx.Err(), "waiting for upload %s", id)
		case <-ticker.C:
		}
	}
}
