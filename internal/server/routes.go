package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"outreach/internal/app"
	"outreach/internal/domain"
	"outreach/internal/repo"
)

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCurrent(api huma.API, l *app.Launcher) {
	huma.Register(api, huma.Operation{
		OperationID: "current-campaign",
		Method:      http.MethodGet,
		Path:        "/campaigns/current",
		Summary:     "Campaign in progress",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CurrentResponse `json:"body"`
	}, error) {
		resp := CurrentResponse{}
		if cur, ok := l.Current(); ok {
			resp.Active = true
			resp.Run = &cur
		}
		return &struct {
			Body CurrentResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func registerRuns(api huma.API, store *repo.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-runs",
		Method:      http.MethodGet,
		Path:        "/runs",
		Summary:     "List recent runs",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"20"`
	}) (*struct {
		Body RunListResponse `json:"body"`
	}, error) {
		runs, err := store.ListRuns(ctx, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body RunListResponse `json:"body"`
		}{Body: RunListResponse{Items: nonNilRuns(runs)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-run",
		Method:      http.MethodGet,
		Path:        "/runs/{id}",
		Summary:     "Run summary with outcome counts and lifecycle events",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body RunDetailResponse `json:"body"`
	}, error) {
		run, err := store.GetRun(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		counts, err := store.CountOutcomes(ctx, run.ID)
		if err != nil {
			return nil, handleError(err)
		}
		evts, err := store.LatestEvents(ctx, 50, run.ID, "")
		if err != nil {
			return nil, handleError(err)
		}
		if evts == nil {
			evts = []domain.Event{}
		}
		return &struct {
			Body RunDetailResponse `json:"body"`
		}{Body: RunDetailResponse{Run: run, Counts: counts, Events: evts}}, nil
	})
}

func registerOutcomes(api huma.API, store *repo.Store) {
	huma.Register(api, huma.Operation{
		OperationID: "list-outcomes",
		Method:      http.MethodGet,
		Path:        "/outcomes",
		Summary:     "List outcome records, newest first",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RunID     string `query:"run_id"`
		Recipient string `query:"recipient"`
		Action    string `query:"action" enum:"contacted,failed"`
		Cursor    int64  `query:"cursor" minimum:"0"`
		Limit     int    `query:"limit" default:"50"`
	}) (*struct {
		Body OutcomeListResponse `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		items, err := store.ListOutcomes(ctx, repo.OutcomeFilters{
			RunID:     input.RunID,
			Recipient: input.Recipient,
			Action:    input.Action,
			Cursor:    input.Cursor,
			Limit:     limit + 1,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := OutcomeListResponse{Items: []domain.OutcomeRecord{}}
		if len(items) > limit {
			resp.NextCursor = items[limit-1].ID
			items = items[:limit]
		}
		resp.Items = append(resp.Items, items...)
		return &struct {
			Body OutcomeListResponse `json:"body"`
		}{Body: resp}, nil
	})
}
