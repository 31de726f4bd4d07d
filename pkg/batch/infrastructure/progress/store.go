package progress

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

// Store opens file backed trackers.
type Store struct {
	opts []Option
}

var _ port.ProgressStore = (*Store)(nil)

// NewStore creates a Store whose trackers are built with opts.
func NewStore(opts ...Option) *Store {
	return &Store{opts: opts}
}

// NewStoreFromConfig honours promptbatch.batch.raw_response_log_enabled.
func NewStoreFromConfig(cfg *config.Config) port.ProgressStore {
	return NewStore(WithRawResponses(cfg.PromptBatch.Batch.RawResponseLogEnabled))
}

// Open creates the tracker of taskID.
func (s *Store) Open(taskID string, files model.OutputFiles) (port.ProgressTracker, error) {
	return NewTracker(taskID, files, s.opts...)
}

// Read loads files.ProgressFile.
func (s *Store) Read(files model.OutputFiles) (*model.Progress, error) {
	return ReadProgress(files.ProgressFile)
}

// Module provides the ProgressStore.
var Module = fx.Provide(NewStoreFromConfig)
