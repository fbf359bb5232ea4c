package models

import "encoding/json"

type TriggerRunRequest struct {
	PeriodStart         string `json:"period_start" binding:"required"`
	PeriodEnd           string `json:"period_end" binding:"required"`
	ParameterSetVersion *int   `json:"parameter_set_version"`
	// RuleSetVersion borrows the confidence rules from another parameter
	// set version without repinning the rest of the document.
	RuleSetVersion *int `json:"rule_set_version"`
	// ComputeDerived defaults to true; false skips trend comparison and
	// recommendation generation for the run.
	ComputeDerived *bool `json:"compute_derived"`
	Stream         bool  `json:"stream"`
}

type TriggerRunResponse struct {
	RunID               string `json:"run_id"`
	Status              string `json:"status"`
	ParameterSetVersion int    `json:"parameter_set_version"`
}

type ListRunsResponse struct {
	Runs     []ScoreRun `json:"runs"`
	Total    int64      `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

type CreateParameterSetRequest struct {
	BaseVersion *int            `json:"base_version"`
	Overrides   json.RawMessage `json:"overrides"`
	CreatedBy   string          `json:"created_by"`
}

type UpdateParameterSetRequest struct {
	Overrides json.RawMessage `json:"overrides" binding:"required"`
}

type ActivateParameterSetRequest struct {
	Actor string `json:"actor"`
}

// ChangeEntry is one leaf-level difference between two parameter sets.
type ChangeEntry struct {
	Path     string      `json:"path"`
	OldValue interface{} `json:"old_value"`
	NewValue interface{} `json:"new_value"`
}

type ParameterSetResponse struct {
	Set       *ParameterSet `json:"set"`
	Changelog []ChangeEntry `json:"changelog,omitempty"`
	Runs      []ScoreRun    `json:"runs,omitempty"`
}

type UpdateRecommendationStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type HealthResponse struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp string            `json:"timestamp"`
	Services  map[string]string `json:"services"`
}

// ServiceHealth is one dependency's health snapshot.
type ServiceHealth struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	ResponseTime int    `json:"response_time_ms"`
	Error        string `json:"error,omitempty"`
	LastChecked  string `json:"last_checked"`
}
