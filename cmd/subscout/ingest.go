package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/subscout/subscout/internal/cli"
	"github.com/subscout/subscout/internal/common"
	"github.com/subscout/subscout/internal/intake"
	"github.com/subscout/subscout/internal/model"
)

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <file.eml> [file.eml...]",
		Short: "Ingest saved email files",
		Long: `Ingest saved RFC 5322 email files (.eml) into the pipeline.

Messages are deduplicated against everything already ingested for the
account, so re-running on the same files is safe. Pass --process to run
the extraction pipeline immediately after ingesting.`,
		Args: cobra.MinimumNArgs(1),
		RunE: runIngest,
	}

	cmd.Flags().String("account", "", "address of the account to ingest into (required)")
	cmd.Flags().Bool("process", false, "process the ingested mail immediately")
	_ = cmd.MarkFlagRequired("account")

	return cmd
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	address, _ := cmd.Flags().GetString("account")
	process, _ := cmd.Flags().GetBool("process")

	store, err := initStorage(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}
	defer closeStore(store)

	account, err := store.GetAccountByAddress(ctx, address)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return fmt.Errorf("account %s is not registered; run 'subscout accounts add %s' first", address, address)
		}
		return fmt.Errorf("failed to look up account: %w", err)
	}

	gate, err := intake.New(store, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to create intake gate: %w", err)
	}

	slog.Info(cli.FormatTitle("Ingesting email files"))

	admitted := 0
	duplicates := 0
	for _, path := range args {
		msg, err := readEmailFile(path, account.ID)
		if err != nil {
			return err
		}

		_, fresh, err := gate.Admit(ctx, account.ID, msg)
		if err != nil {
			return fmt.Errorf("failed to ingest %s: %w", path, err)
		}
		if fresh {
			admitted++
		} else {
			duplicates++
			slog.Debug("Skipping duplicate message", "file", path)
		}
	}

	slog.Info(cli.FormatSuccess(fmt.Sprintf("Ingested %d messages (%d duplicates skipped)", admitted, duplicates)))

	if !process {
		slog.Info("Pass --process to extract subscriptions, or run 'subscout scan'")
		return nil
	}

	eng, err := createEngine(store, false)
	if err != nil {
		return err
	}

	stats, err := drainPending(ctx, eng, account.ID, nil)
	if err != nil {
		return fmt.Errorf("processing failed: %w", err)
	}

	printProcessSummary(stats)
	return nil
}

// readEmailFile parses one RFC 5322 message file into an inbound email.
// Messages without a Message-ID get a generated external ID, which means
// they cannot deduplicate across repeated ingests.
func readEmailFile(path, accountID string) (model.InboundEmail, error) {
	f, err := os.Open(path) // #nosec G304
	if err != nil {
		return model.InboundEmail{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	msg, err := mail.ReadMessage(f)
	if err != nil {
		return model.InboundEmail{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	body, err := io.ReadAll(msg.Body)
	if err != nil {
		return model.InboundEmail{}, fmt.Errorf("failed to read body of %s: %w", path, err)
	}

	receivedAt := time.Now().UTC()
	if date, dateErr := msg.Header.Date(); dateErr == nil {
		receivedAt = date.UTC()
	}

	externalID := strings.Trim(msg.Header.Get("Message-Id"), "<>")
	if externalID == "" {
		externalID = uuid.New().String()
	}

	return model.InboundEmail{
		ReceivedAt: receivedAt,
		AccountID:  accountID,
		ExternalID: externalID,
		Sender:     msg.Header.Get("From"),
		Subject:    msg.Header.Get("Subject"),
		Body:       string(body),
	}, nil
}
