package server

import (
	"outreach/internal/app"
	"outreach/internal/domain"
)

type LaunchResponse struct {
	Run      domain.Run `json:"run"`
	Targets  int        `json:"targets"`
	Warnings []string   `json:"warnings,omitempty"`
}

type CurrentResponse struct {
	Active bool        `json:"active"`
	Run    *app.Active `json:"run,omitempty"`
}

type RunListResponse struct {
	Items []domain.Run `json:"items"`
}

type RunDetailResponse struct {
	Run    domain.Run     `json:"run"`
	Counts map[string]int `json:"counts"`
	Events []domain.Event `json:"events"`
}

type OutcomeListResponse struct {
	Items      []domain.OutcomeRecord `json:"items"`
	NextCursor int64                  `json:"next_cursor,omitempty"`
}

type DevLoginRequest struct {
	Subject string `json:"subject" minLength:"1"`
	// TTLSeconds defaults to one hour.
	TTLSeconds int `json:"ttl_seconds,omitempty" minimum:"0"`
}

type DevLoginResponse struct {
	Token     string `json:"token"`
	ExpiresAt string `json:"expires_at" format:"date-time"`
}

func nonNilRuns(items []domain.Run) []domain.Run {
	if items == nil {
		return []domain.Run{}
	}
	return items
}
