package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"inferd/pkg/types"
)

const defaultBatchWorkers = 8

// BatchPredict runs every item with per-item isolation: one failure never
// aborts the batch, it becomes an error-carrying entry instead. Items run
// on a bounded worker pool sized by the request's batch size.
func (e *Engine) BatchPredict(ctx context.Context, req types.BatchPredictRequest) (types.BatchPredictResponse, error) {
	if len(req.Items) == 0 {
		return types.BatchPredictResponse{}, validationError{msg: "empty batch"}
	}
	workers := req.BatchSize
	if workers <= 0 || workers > defaultBatchWorkers {
		workers = defaultBatchWorkers
	}
	if workers > len(req.Items) {
		workers = len(req.Items)
	}

	start := time.Now()
	results := make([]types.BatchItemResult, len(req.Items))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i, item := range req.Items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, input map[string]any) {
			defer wg.Done()
			defer func() { <-sem }()
			itemResp, err := e.Predict(ctx, types.PredictRequest{
				Task:     req.Task,
				Input:    input,
				Model:    req.Model,
				UseCache: req.UseCache,
			})
			if err != nil {
				results[i] = types.BatchItemResult{Index: i, Error: err.Error()}
				return
			}
			results[i] = types.BatchItemResult{Index: i, Response: &itemResp}
		}(i, item)
	}
	wg.Wait()

	resp := types.BatchPredictResponse{
		RequestID:           uuid.NewString(),
		Results:             results,
		TotalItems:          len(req.Items),
		BatchLatencySeconds: time.Since(start).Seconds(),
	}
	for _, r := range results {
		if r.Error == "" {
			resp.SuccessfulItems++
		} else {
			resp.FailedItems++
		}
	}
	return resp, nil
}
