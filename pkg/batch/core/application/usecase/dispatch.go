package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/tigerroll/promptbatch/pkg/batch/component/prompt"
	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
)

// Row error messages recorded in the errors file.
const (
	MsgEmptyContent = "selected field content empty"
	MsgEmptyResult  = "API call failed or returned empty result"
)

// Row error reasons used as metric labels.
const (
	ReasonEmptyContent  = "empty_content"
	ReasonEmptyResult   = "empty_result"
	ReasonProviderError = "provider_error"
	ReasonBatchError    = "batch_error"
)

// dispatch sends every row of batch concurrently and waits for all of them.
// A panic in any row fails the whole batch.
func (o *Orchestrator) dispatch(ctx context.Context, exec *Execution, batch []model.RowRecord) ([]model.RowOutcome, error) {
	outcomes := make([]model.RowOutcome, len(batch))
	var g errgroup.Group
	for i, row := range batch {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic while processing row %d: %v", row.Index, r)
				}
			}()
			outcomes[i] = o.dispatchRow(ctx, exec, row)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	sort.SliceStable(outcomes, func(a, b int) bool { return outcomes[a].Index < outcomes[b].Index })
	return outcomes, nil
}

func (o *Orchestrator) dispatchRow(ctx context.Context, exec *Execution, row model.RowRecord) model.RowOutcome {
	out := model.RowOutcome{Index: row.Index, OriginalContent: strings.Join(row.OriginalData, ",")}

	if strings.TrimSpace(row.Content) == "" {
		if exec.options.SkipEmpty {
			out.Skipped = true
			return out
		}
		out.Error, out.Reason = MsgEmptyContent, ReasonEmptyContent
		return out
	}

	p := prompt.Build(exec.prompt, row.Content)
	result, err := exec.provider.MakeRequest(ctx, p.System, p.User)
	if err != nil {
		out.Error, out.Reason = err.Error(), ReasonProviderError
		var exhausted *port.RetriesExhaustedError
		if errors.As(err, &exhausted) {
			out.RetryCount = exhausted.Retries
		}
		return out
	}
	if result == nil {
		out.Error, out.Reason = MsgEmptyResult, ReasonEmptyResult
		return out
	}

	data, err := successRecord(row, result)
	if err != nil {
		out.Error, out.Reason = err.Error(), ReasonProviderError
		return out
	}
	out.Success = true
	out.Result = model.ResultRow{Position: row.Index + 1, Data: data, Raw: result.Value}
	return out
}

// successRecord builds {position, input, output, ...result fields}. Object fields of the
// result overwrite the leading keys in place.
func successRecord(row model.RowRecord, result *model.APIResult) (model.Record, error) {
	output, ok := result.Value.(string)
	if !ok {
		encoded, err := json.Marshal(result.Value)
		if err != nil {
			return nil, fmt.Errorf("cannot encode provider result: %w", err)
		}
		output = string(encoded)
	}
	rec := model.Record{
		{Key: "position", Value: row.Index + 1},
		{Key: "input", Value: row.Content},
		{Key: "output", Value: output},
	}
	rec.Merge(result.Fields())
	return rec, nil
}

// batchFailure marks every row of batch as failed with message.
func batchFailure(batch []model.RowRecord, message string) []model.RowOutcome {
	outcomes := make([]model.RowOutcome, len(batch))
	for i, row := range batch {
		outcomes[i] = model.RowOutcome{
			Index:           row.Index,
			OriginalContent: strings.Join(row.OriginalData, ","),
			Error:           message,
			Reason:          ReasonBatchError,
		}
	}
	return outcomes
}
