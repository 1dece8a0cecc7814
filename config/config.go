// Package config loads and validates the process-wide pipeline
// configuration. Values come from a YAML file with ${VAR} expansion,
// from environment variables bound to CLI flags, or both; flags win.
// The loaded Config is immutable and passed by reference.
package config

import (
	"fmt"
	"time"

	"github.com/pithecene-io/smelter/types"
)

// Defaults applied by ApplyDefaults.
const (
	DefaultPort        = 8080
	DefaultMaxAttempts = 5
	DefaultAckDeadline = 540 * time.Second
	DefaultModel       = "gemini-2.0-flash"

	// The extractor serializes LLM calls; every other stage fans out.
	DefaultConcurrency          = 10
	DefaultExtractorConcurrency = 1
)

// Config is the root configuration for every stage host.
type Config struct {
	// Project is the cloud project identifier. Required for the gcs,
	// pubsub, and bigquery backends.
	Project string `yaml:"project"`
	// Region is the deployment region, attached to logs.
	Region string `yaml:"region"`

	Buckets   Buckets   `yaml:"buckets"`
	Topics    Topics    `yaml:"topics"`
	Warehouse Warehouse `yaml:"warehouse"`
	LLM       LLM       `yaml:"llm"`
	Runtime   Runtime   `yaml:"runtime"`
	Store     Store     `yaml:"store"`
	Bus       Bus       `yaml:"bus"`
}

// Buckets names the six storage areas.
type Buckets struct {
	Input      string `yaml:"input"`
	Processed  string `yaml:"processed"`
	Classified string `yaml:"classified"`
	Extracted  string `yaml:"extracted"`
	Archive    string `yaml:"archive"`
	Failed     string `yaml:"failed"`
}

// Topics names the five pipeline topics and the dead-letter twins of the
// four that stages consume. The loaded topic has no consumer and no twin.
type Topics struct {
	Uploaded   string `yaml:"uploaded"`
	Converted  string `yaml:"converted"`
	Classified string `yaml:"classified"`
	Extracted  string `yaml:"extracted"`
	Loaded     string `yaml:"loaded"`

	UploadedDLQ   string `yaml:"uploaded_dlq"`
	ConvertedDLQ  string `yaml:"converted_dlq"`
	ClassifiedDLQ string `yaml:"classified_dlq"`
	ExtractedDLQ  string `yaml:"extracted_dlq"`
}

// Warehouse selects and names the analytical sink.
type Warehouse struct {
	// Backend is "bigquery" or "memory".
	Backend        string `yaml:"backend"`
	Dataset        string `yaml:"dataset"`
	InvoicesTable  string `yaml:"invoices_table"`
	LineItemsTable string `yaml:"line_items_table"`
	MetricsTable   string `yaml:"metrics_table"`
}

// LLM configures the extraction model.
type LLM struct {
	Model string `yaml:"model"`
}

// Runtime configures the push host shared by all stages.
type Runtime struct {
	Port int `yaml:"port"`
	// MaxAttempts is the delivery budget before the bus dead-letters.
	MaxAttempts int `yaml:"max_attempts"`
	// AckDeadline is the subscription acknowledgement deadline. Handlers
	// get this minus a 10s publishing margin as their context deadline.
	AckDeadline Duration `yaml:"ack_deadline"`
	// Concurrency bounds in-flight deliveries per stage. Missing stages
	// fall back to the stage default.
	Concurrency map[string]int `yaml:"concurrency"`
}

// Store selects the object store backend.
type Store struct {
	// Backend is "gcs", "s3", or "memory".
	Backend string `yaml:"backend"`
	S3      S3     `yaml:"s3"`
}

// S3 holds the s3 backend options.
type S3 struct {
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// Bus selects the message bus backend.
type Bus struct {
	// Backend is "pubsub", "redis", or "local".
	Backend string `yaml:"backend"`
	// RedisAddr is the host:port of the redis backend.
	RedisAddr string `yaml:"redis_addr"`
	// RedisStreamMaxLen caps stream length per topic; 0 keeps everything.
	RedisStreamMaxLen int64 `yaml:"redis_stream_maxlen"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// ApplyDefaults fills unset fields. Call once after loading, before
// Validate.
func (c *Config) ApplyDefaults() {
	if c.Topics.Uploaded == "" {
		c.Topics.Uploaded = "invoice-uploaded"
	}
	if c.Topics.Converted == "" {
		c.Topics.Converted = "invoice-converted"
	}
	if c.Topics.Classified == "" {
		c.Topics.Classified = "invoice-classified"
	}
	if c.Topics.Extracted == "" {
		c.Topics.Extracted = "invoice-extracted"
	}
	if c.Topics.Loaded == "" {
		c.Topics.Loaded = "invoice-loaded"
	}
	if c.Topics.UploadedDLQ == "" {
		c.Topics.UploadedDLQ = c.Topics.Uploaded + "-dlq"
	}
	if c.Topics.ConvertedDLQ == "" {
		c.Topics.ConvertedDLQ = c.Topics.Converted + "-dlq"
	}
	if c.Topics.ClassifiedDLQ == "" {
		c.Topics.ClassifiedDLQ = c.Topics.Classified + "-dlq"
	}
	if c.Topics.ExtractedDLQ == "" {
		c.Topics.ExtractedDLQ = c.Topics.Extracted + "-dlq"
	}
	if c.Warehouse.Backend == "" {
		c.Warehouse.Backend = "bigquery"
	}
	if c.Warehouse.InvoicesTable == "" {
		c.Warehouse.InvoicesTable = "invoices"
	}
	if c.Warehouse.LineItemsTable == "" {
		c.Warehouse.LineItemsTable = "line_items"
	}
	if c.Warehouse.MetricsTable == "" {
		c.Warehouse.MetricsTable = "metrics"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = DefaultModel
	}
	if c.Runtime.Port == 0 {
		c.Runtime.Port = DefaultPort
	}
	if c.Runtime.MaxAttempts == 0 {
		c.Runtime.MaxAttempts = DefaultMaxAttempts
	}
	if c.Runtime.AckDeadline.Duration == 0 {
		c.Runtime.AckDeadline.Duration = DefaultAckDeadline
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "gcs"
	}
	if c.Bus.Backend == "" {
		c.Bus.Backend = "pubsub"
	}
}

// Validate checks the configuration for a given stage. Returns the first
// problem found; the caller treats any error as fatal at startup.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "gcs", "s3", "memory":
	default:
		return fmt.Errorf("store.backend %q is not gcs, s3, or memory", c.Store.Backend)
	}
	switch c.Bus.Backend {
	case "pubsub", "redis", "local":
	default:
		return fmt.Errorf("bus.backend %q is not pubsub, redis, or local", c.Bus.Backend)
	}
	switch c.Warehouse.Backend {
	case "bigquery", "memory":
	default:
		return fmt.Errorf("warehouse.backend %q is not bigquery or memory", c.Warehouse.Backend)
	}
	if c.Project == "" && (c.Store.Backend == "gcs" || c.Bus.Backend == "pubsub" || c.Warehouse.Backend == "bigquery") {
		return fmt.Errorf("project is required for the %s/%s/%s backends", c.Store.Backend, c.Bus.Backend, c.Warehouse.Backend)
	}
	if c.Bus.Backend == "redis" && c.Bus.RedisAddr == "" {
		return fmt.Errorf("bus.redis_addr is required for the redis backend")
	}
	if c.Warehouse.Backend == "bigquery" && c.Warehouse.Dataset == "" {
		return fmt.Errorf("warehouse.dataset is required for the bigquery backend")
	}

	for name, bucket := range map[string]string{
		"input":      c.Buckets.Input,
		"processed":  c.Buckets.Processed,
		"classified": c.Buckets.Classified,
		"extracted":  c.Buckets.Extracted,
		"archive":    c.Buckets.Archive,
		"failed":     c.Buckets.Failed,
	} {
		if bucket == "" {
			return fmt.Errorf("buckets.%s is required", name)
		}
	}

	if c.Runtime.Port < 1 || c.Runtime.Port > 65535 {
		return fmt.Errorf("runtime.port %d is out of range", c.Runtime.Port)
	}
	if c.Runtime.MaxAttempts < 2 {
		return fmt.Errorf("runtime.max_attempts %d must be at least 2", c.Runtime.MaxAttempts)
	}
	if c.Runtime.AckDeadline.Duration < 30*time.Second {
		return fmt.Errorf("runtime.ack_deadline %s must be at least 30s", c.Runtime.AckDeadline.Duration)
	}
	for stage, n := range c.Runtime.Concurrency {
		if !types.Stage(stage).Valid() {
			return fmt.Errorf("runtime.concurrency: unknown stage %q", stage)
		}
		if n < 1 {
			return fmt.Errorf("runtime.concurrency.%s %d must be at least 1", stage, n)
		}
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	return nil
}

// Concurrency returns the in-flight delivery bound for a stage.
func (c *Config) Concurrency(stage types.Stage) int {
	if n, ok := c.Runtime.Concurrency[string(stage)]; ok && n > 0 {
		return n
	}
	if stage == types.StageExtractor {
		return DefaultExtractorConcurrency
	}
	return DefaultConcurrency
}

// StageInput returns the topic a stage consumes, or "" for the dlq
// processor (it consumes the twin set, see DLQTopics).
func (t Topics) StageInput(s types.Stage) string {
	switch s {
	case types.StageNormalizer:
		return t.Uploaded
	case types.StageClassifier:
		return t.Converted
	case types.StageExtractor:
		return t.Classified
	case types.StageLoader:
		return t.Extracted
	default:
		return ""
	}
}

// StageOutput returns the topic a stage publishes to, or "" for the dlq
// processor and unknown stages.
func (t Topics) StageOutput(s types.Stage) string {
	switch s {
	case types.StageNormalizer:
		return t.Converted
	case types.StageClassifier:
		return t.Classified
	case types.StageExtractor:
		return t.Extracted
	case types.StageLoader:
		return t.Loaded
	default:
		return ""
	}
}

// DLQ returns the dead-letter twin of a consumed topic, or "" if the
// topic has none.
func (t Topics) DLQ(topic string) string {
	switch topic {
	case t.Uploaded:
		return t.UploadedDLQ
	case t.Converted:
		return t.ConvertedDLQ
	case t.Classified:
		return t.ClassifiedDLQ
	case t.Extracted:
		return t.ExtractedDLQ
	default:
		return ""
	}
}

// DLQTopics lists the four dead-letter topics the dlq processor drains.
func (t Topics) DLQTopics() []string {
	return []string{t.UploadedDLQ, t.ConvertedDLQ, t.ClassifiedDLQ, t.ExtractedDLQ}
}

// OriginStage resolves the stage that consumes a topic. Used by the dlq
// processor to attribute dead letters; unknown topics return "".
func (t Topics) OriginStage(topic string) types.Stage {
	switch topic {
	case t.Uploaded, t.UploadedDLQ:
		return types.StageNormalizer
	case t.Converted, t.ConvertedDLQ:
		return types.StageClassifier
	case t.Classified, t.ClassifiedDLQ:
		return types.StageExtractor
	case t.Extracted, t.ExtractedDLQ:
		return types.StageLoader
	default:
		return ""
	}
}
