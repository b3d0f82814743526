package runner

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-runewidth"
	"golang.org/x/term"

	"github.com/gosom/exposure-monitor/fetcher"
	"github.com/gosom/exposure-monitor/s3uploader"
	"github.com/gosom/exposure-monitor/tlmt"
	"github.com/gosom/exposure-monitor/tlmt/gonoop"
	"github.com/gosom/exposure-monitor/tlmt/goposthog"
)

const (
	RunModeBatch = iota + 1
	RunModeSchedule
	RunModeInstallPlaywright
)

var (
	ErrInvalidRunMode = errors.New("invalid run mode")
)

type Runner interface {
	Run(context.Context) error
	Close(context.Context) error
}

type S3Uploader interface {
	Upload(ctx context.Context, bucketName, key string, body io.Reader) error
}

type Config struct {
	Concurrency      int
	InputFile        string
	AllowListFile    string
	CategoryFile     string
	Category         string
	InstantBrands    []string
	ResultsDir       string
	ReportFormat     string
	Dsn              string
	DataFolder       string
	Session          fetcher.Session
	ForceAnonymous   bool
	Permissive       bool
	MaxAttempts      int
	MaxPages         int
	Debug            bool
	QueryDelayMin    time.Duration
	QueryDelayMax    time.Duration
	CheckDelay       time.Duration
	MaxVendorChecks  int
	RateLimit        float64
	Timeout          time.Duration
	SearchURL        string
	Schedule         []string
	TimeZone         string
	PollInterval     time.Duration
	Webhook          string
	RunMode          int
	DisableTelemetry bool
	AwsAccessKey     string
	AwsSecretKey     string
	AwsRegion        string
	S3Uploader       S3Uploader
	S3Bucket         string
}

// Mode is the primary access mode of a batch. Without a complete session the
// batch can only run anonymously.
func (c *Config) Mode() fetcher.Mode {
	if c.ForceAnonymous || !c.Session.Valid() {
		return fetcher.ModeAnonymous
	}

	return fetcher.ModeAuthenticated
}

func ParseConfig() *Config {
	_ = godotenv.Load()

	cfg := Config{}

	if os.Getenv("PLAYWRIGHT_INSTALL_ONLY") == "1" {
		cfg.RunMode = RunModeInstallPlaywright

		return &cfg
	}

	var (
		schedule      string
		instantBrands string
	)

	flag.IntVar(&cfg.Concurrency, "c", 1, "number of distinct queries crawled in parallel [default: 1]")
	flag.StringVar(&cfg.InputFile, "input", "", "csv file with keywords (id,query,vendor,company,category) imported before the batch")
	flag.StringVar(&cfg.AllowListFile, "allow-list", "allowlist.txt", "file with one allow-listed publisher id per line")
	flag.StringVar(&cfg.CategoryFile, "categories", "", "csv file with per-category options (category,permissive,max_vendor_checks,check_delay)")
	flag.StringVar(&cfg.Category, "category", "", "only evaluate keywords of this category")
	flag.StringVar(&instantBrands, "instant-brands", "", "comma separated brands accepted without a content check")
	flag.StringVar(&cfg.ResultsDir, "results", "results", "directory for batch reports")
	flag.StringVar(&cfg.ReportFormat, "format", "csv", "report format: csv, json or xlsx")
	flag.StringVar(&cfg.Dsn, "dsn", "", "PostgreSQL connection string [default: sqlite in data folder]")
	flag.StringVar(&cfg.DataFolder, "data-folder", "data", "folder for the sqlite database")
	flag.BoolVar(&cfg.ForceAnonymous, "anonymous", false, "ignore the session and run anonymously")
	flag.BoolVar(&cfg.Permissive, "permissive", false, "accept any identifiable publisher for categories without options")
	flag.IntVar(&cfg.MaxAttempts, "retries", 3, "fetch attempts per search page")
	flag.IntVar(&cfg.MaxPages, "pages", 1, "result pages to paginate with a browser when the first page has no allow-listed publisher")
	flag.BoolVar(&cfg.Debug, "debug", false, "enable headful browser pagination")
	flag.DurationVar(&cfg.QueryDelayMin, "delay-min", 5*time.Second, "minimum pause after each fresh crawl")
	flag.DurationVar(&cfg.QueryDelayMax, "delay-max", 10*time.Second, "maximum pause after each fresh crawl")
	flag.DurationVar(&cfg.CheckDelay, "check-delay", 2*time.Second, "pause between vendor content checks")
	flag.IntVar(&cfg.MaxVendorChecks, "max-vendor-checks", 5, "vendor content checks per keyword (0 = whole queue)")
	flag.Float64Var(&cfg.RateLimit, "rps", 0, "maximum requests per second to the engine (0 = unlimited)")
	flag.DurationVar(&cfg.Timeout, "timeout", 20*time.Second, "timeout of a single request")
	flag.StringVar(&cfg.SearchURL, "search-url", fetcher.DefaultSearchURL, "search endpoint")
	flag.StringVar(&schedule, "schedule", "", "comma separated daily run times, e.g. 09:00,15:00 (enables the scheduler)")
	flag.StringVar(&cfg.TimeZone, "tz", "Asia/Seoul", "time zone of the schedule")
	flag.DurationVar(&cfg.PollInterval, "poll", 30*time.Second, "scheduler poll interval")
	flag.StringVar(&cfg.Webhook, "webhook", "", "webhook url for the batch summary")
	flag.StringVar(&cfg.AwsAccessKey, "aws-access-key", "", "AWS access key")
	flag.StringVar(&cfg.AwsSecretKey, "aws-secret-key", "", "AWS secret key")
	flag.StringVar(&cfg.AwsRegion, "aws-region", "", "AWS region")
	flag.StringVar(&cfg.S3Bucket, "s3-bucket", "", "S3 bucket for batch reports")

	flag.Parse()

	cfg.Session = fetcher.Session{
		Aut:   os.Getenv("SEARCH_SESSION_AUT"),
		Ses:   os.Getenv("SEARCH_SESSION_SES"),
		Extra: os.Getenv("SEARCH_SESSION_EXTRA"),
	}

	if cfg.Dsn == "" {
		cfg.Dsn = os.Getenv("DATABASE_URL")
	}

	if cfg.Webhook == "" {
		cfg.Webhook = os.Getenv("WEBHOOK_URL")
	}

	if cfg.AwsAccessKey == "" {
		cfg.AwsAccessKey = os.Getenv("MY_AWS_ACCESS_KEY")
	}

	if cfg.AwsSecretKey == "" {
		cfg.AwsSecretKey = os.Getenv("MY_AWS_SECRET_KEY")
	}

	if cfg.AwsRegion == "" {
		cfg.AwsRegion = os.Getenv("MY_AWS_REGION")
	}

	cfg.DisableTelemetry = os.Getenv("DISABLE_TELEMETRY") == "1"

	if instantBrands != "" {
		cfg.InstantBrands = splitList(instantBrands)
	}

	if schedule != "" {
		cfg.Schedule = splitList(schedule)
	}

	if cfg.Concurrency < 1 {
		panic("Concurrency must be greater than 0")
	}

	if cfg.MaxAttempts < 1 {
		panic("MaxAttempts must be greater than 0")
	}

	if cfg.MaxPages < 1 {
		panic("MaxPages must be greater than 0")
	}

	if cfg.QueryDelayMax < cfg.QueryDelayMin {
		panic("delay-max must not be lower than delay-min")
	}

	if cfg.Dsn == "" && cfg.DataFolder == "" {
		panic("either Dsn or DataFolder must be provided")
	}

	switch cfg.ReportFormat {
	case "csv", "json", "xlsx":
	default:
		panic("format must be one of csv, json, xlsx")
	}

	if len(cfg.Schedule) > 0 {
		if _, err := ParseSlots(cfg.Schedule); err != nil {
			panic(err)
		}

		if _, err := time.LoadLocation(cfg.TimeZone); err != nil {
			panic(err)
		}
	}

	if cfg.AwsAccessKey != "" && cfg.AwsSecretKey != "" && cfg.AwsRegion != "" {
		if u := s3uploader.New(cfg.AwsAccessKey, cfg.AwsSecretKey, cfg.AwsRegion); u != nil {
			cfg.S3Uploader = u
		}
	}

	switch {
	case len(cfg.Schedule) > 0:
		cfg.RunMode = RunModeSchedule
	default:
		cfg.RunMode = RunModeBatch
	}

	return &cfg
}

func splitList(s string) []string {
	var ans []string

	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			ans = append(ans, p)
		}
	}

	return ans
}

var (
	telemetryOnce sync.Once
	telemetry     tlmt.Telemetry
)

func Telemetry() tlmt.Telemetry {
	telemetryOnce.Do(func() {
		apiKey := os.Getenv("POSTHOG_API_KEY")

		if os.Getenv("DISABLE_TELEMETRY") == "1" || apiKey == "" {
			telemetry = gonoop.New()

			return
		}

		endpoint := os.Getenv("POSTHOG_ENDPOINT")
		if endpoint == "" {
			endpoint = "https://eu.i.posthog.com"
		}

		val, err := goposthog.New(apiKey, endpoint)
		if err != nil || val == nil {
			telemetry = gonoop.New()

			return
		}

		telemetry = val
	})

	return telemetry
}

func wrapText(text string, width int) []string {
	var lines []string

	currentLine := ""
	currentWidth := 0

	for _, r := range text {
		runeWidth := runewidth.RuneWidth(r)
		if currentWidth+runeWidth > width {
			lines = append(lines, currentLine)
			currentLine = string(r)
			currentWidth = runeWidth
		} else {
			currentLine += string(r)
			currentWidth += runeWidth
		}
	}

	if currentLine != "" {
		lines = append(lines, currentLine)
	}

	return lines
}

func banner(messages []string, width int) string {
	if width <= 0 {
		var err error

		width, _, err = term.GetSize(0)
		if err != nil {
			width = 80
		}
	}

	if width < 20 {
		width = 20
	}

	contentWidth := width - 4

	var wrappedLines []string
	for _, message := range messages {
		wrappedLines = append(wrappedLines, wrapText(message, contentWidth)...)
	}

	var builder strings.Builder

	builder.WriteString("╔" + strings.Repeat("═", width-2) + "╗\n")

	for _, line := range wrappedLines {
		lineWidth := runewidth.StringWidth(line)
		paddingRight := contentWidth - lineWidth

		if paddingRight < 0 {
			paddingRight = 0
		}

		builder.WriteString(fmt.Sprintf("║ %s%s ║\n", line, strings.Repeat(" ", paddingRight)))
	}

	builder.WriteString("╚" + strings.Repeat("═", width-2) + "╝\n")

	return builder.String()
}

func Banner() {
	fmt.Fprintln(os.Stderr, banner([]string{
		"🔎 Exposure Monitor",
		"Tracks where allow-listed posts rank for your keywords.",
	}, 0))
}
