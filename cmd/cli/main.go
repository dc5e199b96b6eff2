package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kurihiro0119/content-audit/internal/analysis"
	"github.com/kurihiro0119/content-audit/internal/config"
	"github.com/kurihiro0119/content-audit/internal/domain"
	"github.com/kurihiro0119/content-audit/internal/export"
	"github.com/kurihiro0119/content-audit/internal/logging"
	"github.com/kurihiro0119/content-audit/internal/orchestrator"
	"github.com/kurihiro0119/content-audit/internal/progress"
	"github.com/kurihiro0119/content-audit/internal/storage"
	"github.com/kurihiro0119/content-audit/internal/storage/memory"
	"github.com/kurihiro0119/content-audit/internal/storage/postgres"
	"github.com/kurihiro0119/content-audit/internal/storage/redis"
	"github.com/kurihiro0119/content-audit/internal/storage/sqlite"
	"github.com/kurihiro0119/content-audit/pkg/client"
)

var (
	outputJSON    bool
	remote        bool
	batchName     string
	targetKeyword string
	outputFile    string
	listLimit     int
)

var rootCmd = &cobra.Command{
	Use:   "content-audit",
	Short: "Batch content audit tool",
	Long: `A CLI tool for auditing many URLs or text snippets in one batch.

Each item is sent to the content analysis service in order; per-item
scores are stored and can be followed, listed and exported as CSV.`,
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Create a batch from a file and run it locally",
	Long:  `Read one URL or text per line, create a batch in the local store and analyze every item.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runRun,
}

var resumeCmd = &cobra.Command{
	Use:   "resume [batch-id]",
	Short: "Resume an interrupted batch locally",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var submitCmd = &cobra.Command{
	Use:   "submit [file]",
	Short: "Submit a batch to the API server",
	Long:  `Read one URL or text per line and create a batch on the API server, which runs it in the background.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var statusCmd = &cobra.Command{
	Use:   "status [batch-id]",
	Short: "Show batch progress",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var exportCmd = &cobra.Command{
	Use:   "export [batch-id]",
	Short: "Export a completed batch as CSV",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent batches",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel [batch-id]",
	Short: "Cancel a batch",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&remote, "remote", false, "talk to the API server (API_ENDPOINT) instead of the local store")

	for _, cmd := range []*cobra.Command{runCmd, submitCmd} {
		cmd.Flags().StringVar(&batchName, "name", "", "batch name (default is a timestamped name)")
		cmd.Flags().StringVar(&targetKeyword, "keyword", "", "target keyword applied to every item")
	}
	exportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "output file, - for stdout (default batch-analysis-<id>.csv)")
	listCmd.Flags().IntVar(&listLimit, "limit", 20, "number of batches to show")

	rootCmd.AddCommand(runCmd, resumeCmd, submitCmd, statusCmd, exportCmd, listCmd, cancelCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func getStorage(cfg *config.Config) (storage.BatchStore, error) {
	switch cfg.StorageType {
	case "postgres":
		return postgres.NewPostgresStorage(cfg.PostgresURL)
	case "redis":
		return redis.NewRedisStorage(cfg.RedisAddr, cfg.RedisPrefix)
	case "memory":
		return memory.NewMemoryStorage(), nil
	default:
		return sqlite.NewSQLiteStorage(cfg.SQLitePath)
	}
}

// readItems reads one item per line; blank lines and lines starting with # are skipped.
// A tab separates an optional per-item keyword from the URL or text.
func readItems(r io.Reader, keyword string) ([]domain.NewItem, error) {
	var items []domain.NewItem
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		item := domain.NewItem{URLOrText: line, TargetKeyword: keyword}
		if ref, kw, ok := strings.Cut(line, "\t"); ok {
			item.URLOrText = strings.TrimSpace(ref)
			if kw = strings.TrimSpace(kw); kw != "" {
				item.TargetKeyword = kw
			}
		}
		items = append(items, item)
	}
	return items, scanner.Err()
}

func readItemsFile(path string) ([]domain.NewItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readItems(f, targetKeyword)
}

// localRunner wires the orchestrator against the configured store
type localRunner struct {
	store  storage.BatchStore
	orch   *orchestrator.Orchestrator
	logger *zap.Logger
}

func newLocalRunner(cfg *config.Config) (*localRunner, error) {
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	store, err := getStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	client := analysis.NewHTTPClient(analysis.HTTPConfig{
		BaseURL:  cfg.AnalysisURL,
		Token:    cfg.AnalysisToken,
		Timeout:  cfg.AnalysisTimeout,
		MinDelay: cfg.AnalysisMinDelay,
	})

	orch := orchestrator.New(store, client, orchestrator.Options{
		ItemTimeout: cfg.AnalysisTimeout,
		Logger:      logger,
		OnProgress: func(done, total int, item domain.BatchItem) {
			if outputJSON {
				return
			}
			score := "-"
			if item.OverallScore != nil {
				score = strconv.Itoa(*item.OverallScore)
			}
			fmt.Printf("[%d/%d] %-9s %5s  %s\n", done, total, item.Status, score, truncate(item.URLOrText, 60))
		},
	})

	return &localRunner{store: store, orch: orch, logger: logger}, nil
}

func (r *localRunner) Close() {
	_ = r.logger.Sync()
	_ = r.store.Close()
}

func (r *localRunner) runToEnd(batchID string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := r.orch.Run(ctx, batchID); err != nil {
		if ctx.Err() != nil {
			fmt.Fprintf(os.Stderr, "Interrupted; resume with: content-audit resume %s\n", batchID)
		}
		return fmt.Errorf("batch run failed: %w", err)
	}

	summary, err := progress.NewReporter(r.store).Status(context.Background(), batchID)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	return printSummary(summary)
}

func runRun(cmd *cobra.Command, args []string) error {
	items, err := readItemsFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read items: %w", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	runner, err := newLocalRunner(cfg)
	if err != nil {
		return err
	}
	defer runner.Close()

	batch, err := runner.orch.Create(context.Background(), batchName, items)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	if !outputJSON {
		fmt.Printf("Batch %s (%s): %d items\n", batch.ID, batch.Name, len(batch.Items))
	}
	return runner.runToEnd(batch.ID)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	runner, err := newLocalRunner(cfg)
	if err != nil {
		return err
	}
	defer runner.Close()

	return runner.runToEnd(args[0])
}

func runSubmit(cmd *cobra.Command, args []string) error {
	items, err := readItemsFile(args[0])
	if err != nil {
		return fmt.Errorf("failed to read items: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	created, err := client.NewClient(cfg.APIEndpoint).CreateBatch(context.Background(), client.CreateBatchRequest{
		Name:  batchName,
		Items: items,
	})
	if err != nil {
		return fmt.Errorf("failed to submit batch: %w", err)
	}

	if outputJSON {
		return printJSON(created)
	}
	fmt.Printf("Submitted batch %s (%s)\n", created.BatchID, created.Name)
	return nil
}

// backend answers read and cancel commands either locally or through the API
type backend interface {
	Status(ctx context.Context, batchID string) (*domain.BatchSummary, error)
	List(ctx context.Context, limit int) ([]*domain.BatchSummary, error)
	Export(ctx context.Context, batchID string) ([]byte, error)
	Cancel(ctx context.Context, batchID string) (*domain.BatchSummary, error)
	Close()
}

type localBackend struct {
	runner   *localRunner
	reporter progress.Reporter
	exporter export.Exporter
}

func (b *localBackend) Status(ctx context.Context, id string) (*domain.BatchSummary, error) {
	return b.reporter.Status(ctx, id)
}

func (b *localBackend) List(ctx context.Context, limit int) ([]*domain.BatchSummary, error) {
	return b.reporter.List(ctx, limit)
}

func (b *localBackend) Export(ctx context.Context, id string) ([]byte, error) {
	return b.exporter.Export(ctx, id)
}

func (b *localBackend) Cancel(ctx context.Context, id string) (*domain.BatchSummary, error) {
	batch, err := b.runner.orch.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	return progress.Summarize(batch), nil
}

func (b *localBackend) Close() { b.runner.Close() }

type remoteBackend struct {
	client *client.Client
}

func (b *remoteBackend) Status(ctx context.Context, id string) (*domain.BatchSummary, error) {
	return b.client.GetStatus(ctx, id)
}

func (b *remoteBackend) List(ctx context.Context, limit int) ([]*domain.BatchSummary, error) {
	return b.client.ListBatches(ctx, limit)
}

func (b *remoteBackend) Export(ctx context.Context, id string) ([]byte, error) {
	return b.client.Export(ctx, id)
}

func (b *remoteBackend) Cancel(ctx context.Context, id string) (*domain.BatchSummary, error) {
	return b.client.CancelBatch(ctx, id)
}

func (b *remoteBackend) Close() {}

func getBackend() (backend, error) {
	if remote {
		cfg, err := config.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return &remoteBackend{client: client.NewClient(cfg.APIEndpoint)}, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	runner, err := newLocalRunner(cfg)
	if err != nil {
		return nil, err
	}
	reporter := progress.NewReporter(runner.store)
	return &localBackend{runner: runner, reporter: reporter, exporter: export.NewExporter(reporter)}, nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	b, err := getBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	summary, err := b.Status(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	return printSummary(summary)
}

func runList(cmd *cobra.Command, args []string) error {
	b, err := getBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	summaries, err := b.List(context.Background(), listLimit)
	if err != nil {
		return fmt.Errorf("failed to list batches: %w", err)
	}

	if outputJSON {
		return printJSON(summaries)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Name", "Status", "Progress", "Avg Score", "Created"})
	for _, s := range summaries {
		table.Append([]string{
			s.ID,
			s.Name,
			string(s.Status),
			fmt.Sprintf("%d/%d", s.CompletedItems, s.TotalItems),
			formatAverage(s.AverageScore),
			s.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	table.Render()
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	b, err := getBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	data, err := b.Export(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to export batch: %w", err)
	}

	path := outputFile
	if path == "" {
		path = export.Filename(args[0])
	}
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("Exported to %s\n", path)
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	b, err := getBackend()
	if err != nil {
		return err
	}
	defer b.Close()

	summary, err := b.Cancel(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to cancel batch: %w", err)
	}
	return printSummary(summary)
}

func printSummary(s *domain.BatchSummary) error {
	if outputJSON {
		return printJSON(s)
	}

	fmt.Printf("\nBatch: %s (%s)\n", s.Name, s.ID)
	fmt.Printf("Status: %s  %d/%d items (%.1f%%)  average score: %s\n\n",
		s.Status, s.CompletedItems, s.TotalItems, s.PercentComplete, formatAverage(s.AverageScore))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "URL / Text", "Status", "Score", "SEO", "SERP", "AEO", "Human", "Diff", "Error"})
	for _, item := range s.Items {
		row := []string{strconv.Itoa(item.Index + 1), truncate(item.URLOrText, 50), string(item.Status), "", "", "", "", "", "", item.Error}
		if item.OverallScore != nil {
			row[3] = strconv.Itoa(*item.OverallScore)
		}
		if d := item.Dimensions; d != nil {
			row[4] = strconv.Itoa(d.SEO)
			row[5] = strconv.Itoa(d.SERP)
			row[6] = strconv.Itoa(d.AEO)
			row[7] = strconv.Itoa(d.Humanization)
			row[8] = strconv.Itoa(d.Differentiation)
		}
		table.Append(row)
	}
	table.Render()
	return nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatAverage(avg *float64) string {
	if avg == nil {
		return "-"
	}
	return fmt.Sprintf("%.1f", *avg)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
