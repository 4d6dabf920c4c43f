package scribe

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	clientv3 "go.etcd.io/etcd/client/v3"
	pb "go.gazette.dev/core/broker/protocol"
	"go.gazette.dev/core/consumer"
	"go.gazette.dev/core/consumer/recoverylog"
	"go.gazette.dev/core/mainboilerplate/runconsumer"
	"go.gazette.dev/core/message"

	"github.com/estuary/scribe/internal/checkpoint"
	"github.com/estuary/scribe/internal/labels"
	"github.com/estuary/scribe/internal/pendingops"
	"github.com/estuary/scribe/internal/summary"
	"github.com/estuary/scribe/internal/telemetry"
	"github.com/estuary/scribe/internal/tenantfilter"
)

// ScribeFlags is the scribe-worker process's namespaced CLI/env flag
// group, carrying every knob internal/scribe/config.go's Config exposes
// (spec.md §6 "Configuration options"), following the teacher's
// convention of one `group`-tagged struct per application concern
// (cmd/flow-consumer/main.go's config.Flow).
type ScribeFlags struct {
	CheckpointPrefix string `long:"checkpoint-prefix" env:"CHECKPOINT_PREFIX" default:"/scribe/documents/" description:"Etcd key prefix for the global checkpoint record"`
	SummaryBucket    string `long:"summary-bucket" env:"SUMMARY_BUCKET" required:"true" description:"GCS bucket storing content-addressed summary trees"`

	EnablePendingCheckpointMessages bool `long:"enable-pending-checkpoint-messages" env:"ENABLE_PENDING_CHECKPOINT_MESSAGES" default:"true" description:"Track ops since the last checkpoint for optimistic gap recovery"`
	GenerateServiceSummary          bool `long:"generate-service-summary" env:"GENERATE_SERVICE_SUMMARY" default:"true" description:"Write a service summary when a document's last client disconnects"`

	ScrubUserDataInSummaries         bool `long:"scrub-user-data-in-summaries" env:"SCRUB_USER_DATA_IN_SUMMARIES" description:"Redact member detail from the protocol state embedded in summaries"`
	ScrubUserDataInGlobalCheckpoints bool `long:"scrub-user-data-in-global-checkpoints" env:"SCRUB_USER_DATA_IN_GLOBAL_CHECKPOINTS" description:"Redact member detail from global (etcd) checkpoints"`
	ScrubUserDataInLocalCheckpoints  bool `long:"scrub-user-data-in-local-checkpoints" env:"SCRUB_USER_DATA_IN_LOCAL_CHECKPOINTS" description:"Redact member detail from local (sqlite) checkpoints"`

	ClearCacheAfterServiceSummary bool `long:"clear-cache-after-service-summary" env:"CLEAR_CACHE_AFTER_SERVICE_SUMMARY" description:"Ask clients to clear their cache after a service summary"`
	IgnoreStorageException        bool `long:"ignore-storage-exception" env:"IGNORE_STORAGE_EXCEPTION" description:"Nack a failed client summary write instead of failing the session"`

	MaxTrackedServiceSummaryVersionsSinceLastClientSummary int `long:"max-tracked-service-summary-versions" env:"MAX_TRACKED_SERVICE_SUMMARY_VERSIONS" default:"10" description:"Cap on validParentSummaries retained per document"`
	MaxPendingCheckpointMessagesLength                     int `long:"max-pending-checkpoint-messages-length" env:"MAX_PENDING_CHECKPOINT_MESSAGES_LENGTH" default:"100" description:"Cap on the Pending Checkpoint Messages buffer"`
	SummaryCacheSize                                       int `long:"summary-cache-size" env:"SUMMARY_CACHE_SIZE" default:"4096" description:"Worker-wide LRU size for recently checkpointed documents' validParentSummaries"`

	HeuristicsEnable      bool          `long:"heuristics-enable" env:"HEURISTICS_ENABLE" default:"true" description:"Enable the checkpoint frequency heuristics"`
	HeuristicsMaxMessages uint64        `long:"heuristics-max-messages" env:"HEURISTICS_MAX_MESSAGES" default:"1000" description:"Checkpoint after this many messages since the last checkpoint"`
	HeuristicsMaxTime     time.Duration `long:"heuristics-max-time" env:"HEURISTICS_MAX_TIME" default:"60s" description:"Checkpoint after this much time since the last checkpoint"`
	HeuristicsIdleTime    time.Duration `long:"heuristics-idle-time" env:"HEURISTICS_IDLE_TIME" default:"5s" description:"Checkpoint after this much idle time with no new messages"`

	KafkaCheckpointOnReprocessingOp bool `long:"kafka-checkpoint-on-reprocessing-op" env:"KAFKA_CHECKPOINT_ON_REPROCESSING_OP" description:"Ack reprocessed (duplicate) offsets directly rather than dropping them"`
	RestartOnCheckpointFailure      bool `long:"restart-on-checkpoint-failure" env:"RESTART_ON_CHECKPOINT_FAILURE" description:"Restart the shard if an offset acknowledgement fails"`
	LocalCheckpointEnabled          bool `long:"local-checkpoint-enabled" env:"LOCAL_CHECKPOINT_ENABLED" default:"true" description:"Use the partition-local sqlite checkpoint tier in addition to the global etcd tier"`

	DisableTransientTenantFiltering bool `long:"disable-transient-tenant-filtering" env:"DISABLE_TRANSIENT_TENANT_FILTERING" description:"Generate service summaries even for tenants marked transient"`
}

// toConfig converts the parsed CLI/env flags into the scribe.Config every
// Lambda is built from. Each flag's own `default` tag above is kept in
// sync with DefaultConfig's defaults, so a flag left unset on the
// command line produces the same Config DefaultConfig would.
func (f ScribeFlags) toConfig() (cfg Config) {
	cfg.EnablePendingCheckpointMessages = f.EnablePendingCheckpointMessages
	cfg.GenerateServiceSummary = f.GenerateServiceSummary
	cfg.ScrubUserDataInSummaries = f.ScrubUserDataInSummaries
	cfg.ScrubUserDataInGlobalCheckpoints = f.ScrubUserDataInGlobalCheckpoints
	cfg.ScrubUserDataInLocalCheckpoints = f.ScrubUserDataInLocalCheckpoints
	cfg.ClearCacheAfterServiceSummary = f.ClearCacheAfterServiceSummary
	cfg.IgnoreStorageException = f.IgnoreStorageException
	cfg.MaxTrackedServiceSummaryVersionsSinceLastClientSummary = f.MaxTrackedServiceSummaryVersionsSinceLastClientSummary
	cfg.MaxPendingCheckpointMessagesLength = f.MaxPendingCheckpointMessagesLength
	cfg.Heuristics = checkpoint.Heuristics{
		Enable:      f.HeuristicsEnable,
		MaxMessages: f.HeuristicsMaxMessages,
		MaxTime:     f.HeuristicsMaxTime,
		IdleTime:    f.HeuristicsIdleTime,
	}
	cfg.KafkaCheckpointOnReprocessingOp = f.KafkaCheckpointOnReprocessingOp
	cfg.RestartOnCheckpointFailure = f.RestartOnCheckpointFailure
	cfg.LocalCheckpointEnabled = f.LocalCheckpointEnabled
	cfg.DisableTransientTenantFiltering = f.DisableTransientTenantFiltering
	return cfg
}

// CLIConfig configures the scribe-worker application, following the
// teacher's convention of a BaseConfig embedding plus a namespaced flag
// group (cmd/flow-consumer/main.go's config).
type CLIConfig struct {
	runconsumer.BaseConfig

	Scribe ScribeFlags `group:"scribe" namespace:"scribe" env-namespace:"SCRIBE"`
}

// Application implements the Gazette consumer.Application for Scribe,
// grounded on the teacher's older, flat Flow application shape
// (cmd/flow-consumer/main.go: a single struct holding shared, process-wide
// collaborators, with per-document state held entirely by Store/Lambda).
type Application struct {
	cfg          CLIConfig
	etcd         *clientv3.Client
	content      *summary.ContentStore
	tenants      *tenantfilter.Filter
	metrics      *telemetry.Metrics
	summaryCache SummaryCache
}

var _ runconsumer.Application = (*Application)(nil)
var _ consumer.Application = (*Application)(nil)
var _ consumer.BeginFinisher = (*Application)(nil)

// NewStore constructs the per-shard Store and its Lambda, seeded from
// whichever tier (local, then global) already has a persisted checkpoint
// for the document, per spec.md's Lifecycle paragraph.
func (a *Application) NewStore(shard consumer.Shard, rec *recoverylog.Recorder) (consumer.Store, error) {
	var labeling, err = labels.Parse(shard.Spec().LabelSet)
	if err != nil {
		return nil, err
	}
	var cfg = a.cfg.Scribe.toConfig()

	delegate, err := consumer.NewJSONFileStore(rec, new(documentState))
	if err != nil {
		return nil, fmt.Errorf("consumer.NewJSONFileStore: %w", err)
	}

	ops, err := pendingops.OpenStore(filepath.Join(rec.Dir(), "pending-ops.rocksdb"), labeling.DocumentId)
	if err != nil {
		return nil, fmt.Errorf("opening pending-ops store: %w", err)
	}
	local, err := checkpoint.NewLocalStore(filepath.Join(rec.Dir(), "checkpoint.sqlite"))
	if err != nil {
		ops.Close()
		return nil, fmt.Errorf("opening local checkpoint store: %w", err)
	}

	var ctx = shard.Context()
	var global = checkpoint.NewGlobalStore(a.etcd, a.cfg.Scribe.CheckpointPrefix)

	var seed checkpoint.ScribeCheckpoint
	var ok bool
	if cfg.LocalCheckpointEnabled {
		seed, ok, err = local.ReadCheckpoint(ctx, labeling.DocumentId)
		if err != nil {
			ops.Close()
			_ = local.Close()
			return nil, fmt.Errorf("reading local checkpoint: %w", err)
		}
	}
	if !ok {
		seed, _, err = global.ReadCheckpoint(ctx, labeling.DocumentId)
		if err != nil {
			ops.Close()
			_ = local.Close()
			return nil, fmt.Errorf("reading global checkpoint: %w", err)
		}
		seed.LogOffset = -1
	}
	if len(seed.ValidParentSummaries) == 0 && a.summaryCache != nil {
		if cached, hit := a.summaryCache.Get(labeling.DocumentId); hit {
			seed.ValidParentSummaries = cached
		}
	}

	var publisher = telemetry.NewLocalPublisher(labeling)
	var localForManager checkpoint.DocumentStore = local
	if !cfg.LocalCheckpointEnabled {
		localForManager = nil
	}
	var manager = checkpoint.NewManager(global, localForManager, ops, noopAcker{}, cfg.RestartOnCheckpointFailure)
	var writer = summary.NewDocumentWriter(a.content, labeling.IsExternalWriter)

	var lambda = NewLambda(labeling.TenantId, labeling.DocumentId, labeling.IsEphemeral, seed, cfg, Collaborators{
		Checkpoints: manager,
		Writer:      writer,
		Reader:      ops,
		Producer:    nil,
		Tenants:     a.tenants,
		Publisher:   publisher,
		Metrics:     a.metrics,
		Cache:       a.summaryCache,
	})

	var journal pb.Journal
	if sources := shard.Spec().Sources; len(sources) != 0 {
		journal = sources[0].Journal
	}

	return &Store{
		delegate: delegate,
		lambda:   lambda,
		journal:  journal,
		labeling: labeling,
		ops:      ops,
		local:    local,
	}, nil
}

// NewMessage satisfies message.NewMessageFunc for the document op-stream
// journal.
func (a *Application) NewMessage(spec *pb.JournalSpec) (message.Message, error) {
	return NewMessage(spec)
}

// ConsumeMessage decodes one boxcar of ops and hands it to the document's
// Lambda, binding the transaction's Publisher so the Lambda can emit
// system ops inline (spec.md §4.F's dispatch of Summarize/NoClient/etc.).
func (a *Application) ConsumeMessage(shard consumer.Shard, store consumer.Store, env message.Envelope, pub *message.Publisher) error {
	var s = store.(*Store)
	var msg, ok = env.Message.(*Message)
	if !ok {
		return fmt.Errorf("unexpected message type %T", env.Message)
	}

	s.lambda.SetProducer(&journalProducer{journal: s.journal, pub: pub})

	var batch = msg.Batch
	batch.Offset = int64(env.End)
	if batch.Partition == "" {
		batch.Partition = string(s.journal)
	}

	return s.lambda.Handle(shard.Context(), batch)
}

// FinalizeTxn is a no-op: unlike the teacher's derive/materialize
// applications, Scribe needs no buffered flush step — every effect of
// handling a batch (summary writes, checkpoint writes, control-op
// publishes) already completed synchronously in ConsumeMessage.
func (a *Application) FinalizeTxn(consumer.Shard, consumer.Store, *message.Publisher) error { return nil }

// BeginTxn implements consumer.BeginFinisher; Scribe needs no
// per-transaction setup beyond what ConsumeMessage already does.
func (a *Application) BeginTxn(consumer.Shard, consumer.Store) error { return nil }

// FinishedTxn implements consumer.BeginFinisher.
func (a *Application) FinishedTxn(consumer.Shard, consumer.Store, consumer.OpFuture) {}

// NewConfig returns a new CLIConfig instance.
func (a *Application) NewConfig() runconsumer.Config { return new(CLIConfig) }

// InitApplication builds the process-wide collaborators shared by every
// document shard this worker hosts.
func (a *Application) InitApplication(args runconsumer.InitArgs) error {
	var cfg = *args.Config.(*CLIConfig)
	a.cfg = cfg
	a.etcd = args.Service.Etcd
	a.tenants = tenantfilter.New()
	a.metrics = telemetry.NewMetrics(prometheus.DefaultRegisterer)

	cache, err := NewSummaryCache(cfg.Scribe.SummaryCacheSize)
	if err != nil {
		return fmt.Errorf("constructing summary cache: %w", err)
	}
	a.summaryCache = cache

	content, err := summary.NewContentStore(args.Tasks.Context(), cfg.Scribe.SummaryBucket)
	if err != nil {
		return fmt.Errorf("opening summary content store: %w", err)
	}
	a.content = content

	return nil
}

// noopAcker implements checkpoint.OffsetAcker as a no-op: Gazette's own
// transaction commit already advances and durably persists the read
// offset of the source journal once StartCommit succeeds, so there is no
// separate "acknowledge offset o" RPC to issue the way routerlicious's
// Kafka consumer.commit() requires. The Checkpoint Manager's ordering
// guarantee (checkpoint before ack) is instead upheld by Handle returning
// an error — and so never reaching the transaction's commit — whenever
// the scribe checkpoint write itself fails.
type noopAcker struct{}

func (noopAcker) Checkpoint(offset int64, partition string, restartOnFailure bool) error { return nil }
