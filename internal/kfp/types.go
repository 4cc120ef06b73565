package kfp

import (
	"strings"
	"time"
)

type Experiment struct {
	ID          string    `json:"id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
}

type listExperimentsResponse struct {
	Experiments []Experiment `json:"experiments"`
	TotalSize   int          `json:"total_size"`
}

type ResourceKey struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type ResourceReference struct {
	Key          ResourceKey `json:"key"`
	Relationship string      `json:"relationship"`
}

func experimentOwner(id string) []ResourceReference {
	return []ResourceReference{{Key: ResourceKey{Type: "EXPERIMENT", ID: id}, Relationship: "OWNER"}}
}

type Parameter struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PipelineSpec carries the compiled workflow inline.
type PipelineSpec struct {
	WorkflowManifest string      `json:"workflow_manifest"`
	Parameters       []Parameter `json:"parameters,omitempty"`
}

type Run struct {
	ID                 string              `json:"id,omitempty"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	PipelineSpec       PipelineSpec        `json:"pipeline_spec"`
	ResourceReferences []ResourceReference `json:"resource_references,omitempty"`
	Status             string              `json:"status,omitempty"`
	Error              string              `json:"error,omitempty"`
}

// Finished reports whether the run reached a terminal status.
func (r Run) Finished() bool {
	switch strings.ToLower(r.Status) {
	case "succeeded", "failed", "skipped", "error":
		return true
	}
	return false
}

type runDetail struct {
	Run Run `json:"run"`
}

type PeriodicSchedule struct {
	StartTime      time.Time  `json:"start_time"`
	EndTime        *time.Time `json:"end_time,omitempty"`
	IntervalSecond int64      `json:"interval_second,string"`
}

type Trigger struct {
	PeriodicSchedule PeriodicSchedule `json:"periodic_schedule"`
}

// Job is a recurring run.
type Job struct {
	ID                 string              `json:"id,omitempty"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	PipelineSpec       PipelineSpec        `json:"pipeline_spec"`
	ResourceReferences []ResourceReference `json:"resource_references,omitempty"`
	MaxConcurrency     int64               `json:"max_concurrency,string"`
	Trigger            Trigger             `json:"trigger"`
	Enabled            bool                `json:"enabled"`
	NoCatchup          bool                `json:"no_catchup"`
}
